package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var readJSON bool

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Wait for one card on the configured reader and print its data",
	RunE: func(cmd *cobra.Command, args []string) error {
		cardReader, closer, err := openReader(cfg, logger)
		if err != nil {
			return err
		}
		defer closer.Close()
		if cardReader == nil {
			return errors.New("no card reader configured (card.reader is none)")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Card.Timeout)
		defer cancel()
		fmt.Fprintln(cmd.ErrOrStderr(), "Tap a card...")
		card, err := cardReader.ReadCard(ctx)
		if err != nil {
			return err
		}

		if readJSON {
			out, err := json.MarshalIndent(card, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		}
		fmt.Fprint(cmd.OutOrStdout(), card.Describe())
		return nil
	},
}

func init() {
	readCmd.Flags().BoolVar(&readJSON, "json", false, "print the card as JSON")
	rootCmd.AddCommand(readCmd)
}
