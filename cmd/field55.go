package cmd

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gregLibert/smart-pos/pkg/emv"
	"github.com/gregLibert/smart-pos/pkg/tlv"
	"github.com/spf13/cobra"
)

var field55Cmd = &cobra.Command{
	Use:   "field55",
	Short: "Build or decode ISO 8583 Field 55",
}

var field55Flags struct {
	tags     string
	cardJSON string
	ndef     string
	amount   float64
	tip      float64
	currency string
	txnType  string
	terminal string
	at       string
	json     bool
}

var field55BuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build Field 55 from card tags and transaction details",
	Example: `  smartpos field55 build --tags 5A0847617390010100105F24032712319F36020001 --amount 150000
  smartpos field55 build --card-json '{"emvTags":{"5A":"4761739001010010"}}' --type REFUND --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := field55Flags
		card, err := field55Card(f.tags, f.cardJSON, f.ndef)
		if err != nil {
			return err
		}

		when := time.Now()
		if f.at != "" {
			if when, err = time.Parse(time.RFC3339, f.at); err != nil {
				return fmt.Errorf("--at: %w", err)
			}
		}
		terminal := f.terminal
		if terminal == "" {
			terminal = cfg.Terminal.ID
		}

		doc, err := emv.BuildDE55(card, emv.Field55Request{
			Amount:          f.amount,
			Tip:             f.tip,
			Currency:        f.currency,
			TransactionType: strings.ToUpper(f.txnType),
			TerminalID:      terminal,
			Time:            when,
		})
		if err != nil {
			return err
		}
		if f.json {
			out, err := doc.JSON()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), doc.DE55)
		return nil
	},
}

var field55ParseCmd = &cobra.Command{
	Use:   "parse <hex>",
	Short: "List the tags of an encoded Field 55",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tags, err := emv.ParseField55(args[0])
		if err != nil {
			return err
		}
		tags.Range(func(tag, value string) bool {
			fmt.Fprintf(cmd.OutOrStdout(), "%-5s %s\n", tag, value)
			return true
		})
		return nil
	},
}

// field55Card reads the card tags from exactly one of the three sources.
func field55Card(tagsHex, cardJSON, ndefHex string) (*emv.CardData, error) {
	set := 0
	for _, s := range []string{tagsHex, cardJSON, ndefHex} {
		if s != "" {
			set++
		}
	}
	if set != 1 {
		return nil, errors.New("exactly one of --tags, --card-json or --ndef is required")
	}

	switch {
	case tagsHex != "":
		tags, err := tlv.ParseHex(tagsHex)
		if err != nil {
			return nil, fmt.Errorf("--tags: %w", err)
		}
		return emv.NewCardData(tags), nil
	case cardJSON != "":
		return emv.CardDataFromJSON(cardJSON)
	default:
		raw, err := hex.DecodeString(ndefHex)
		if err != nil {
			return nil, fmt.Errorf("--ndef: %w", err)
		}
		return emv.CardDataFromNDEF(raw)
	}
}

func init() {
	fl := field55BuildCmd.Flags()
	fl.StringVar(&field55Flags.tags, "tags", "", "card tags as hex TLV")
	fl.StringVar(&field55Flags.cardJSON, "card-json", "", `card tags as {"emvTags": {...}}`)
	fl.StringVar(&field55Flags.ndef, "ndef", "", "NDEF message (hex) whose text record holds the card JSON")
	fl.Float64Var(&field55Flags.amount, "amount", 0, "transaction amount")
	fl.Float64Var(&field55Flags.tip, "tip", 0, "tip amount")
	fl.StringVar(&field55Flags.currency, "currency", "VND", "ISO 4217 alphabetic currency")
	fl.StringVar(&field55Flags.txnType, "type", "SALE", "SALE, CASH, VOID or REFUND")
	fl.StringVar(&field55Flags.terminal, "terminal", "", "terminal id (default terminal.id)")
	fl.StringVar(&field55Flags.at, "at", "", "transaction time, RFC 3339 (default now)")
	fl.BoolVar(&field55Flags.json, "json", false, "print the DE55 JSON document instead of the hex")

	field55Cmd.AddCommand(field55BuildCmd, field55ParseCmd)
	rootCmd.AddCommand(field55Cmd)
}
