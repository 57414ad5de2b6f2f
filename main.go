package main

import (
	"os"

	"github.com/gregLibert/smart-pos/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
