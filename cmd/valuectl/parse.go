package main

import (
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vehicle-valuation/internal/api"
	"github.com/vehicle-valuation/internal/parser"
)

// newParseCmd creates the parse subcommand.
func newParseCmd() *cobra.Command {
	var condition string

	cmd := &cobra.Command{
		Use:   `parse ["listing text" | -]`,
		Short: "Print the facts extracted from listing text",
		Long: `parse runs the fact parser, the brand/model normalizer and the business
rules on the given text, or on stdin when the argument is "-", and prints the
result as JSON. Nothing is stored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := args[0]
			if text == "-" {
				raw, err := io.ReadAll(os.Stdin)
				if err != nil {
					return err
				}
				text = string(raw)
			}

			bounds := parser.PriceBounds{Min: cfg.Valuation.MinPrice, Max: cfg.Valuation.MaxPrice}
			h := api.NewExtractionHandler(parser.NewFactParser(bounds), parser.NewNormalizer(nil), nil)
			resp, err := h.Extract(cmd.Context(), api.ExtractionRequest{
				Text:      strings.TrimSpace(text),
				Condition: condition,
			})
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}

	cmd.Flags().StringVar(&condition, "condition", "", `condition wording, e.g. "nuevo" or "segunda mano"`)
	return cmd
}
