package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/dubedad/jobforge/internal/model"
)

var unitsDetail string

var unitsCmd = &cobra.Command{
	Use:   "units",
	Short: "Summarise the loaded taxonomy",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("units"); err != nil {
			return err
		}
		tax, err := loadTaxonomy(ctx, cfg.Data)
		if err != nil {
			return eris.Wrap(err, "load taxonomy")
		}

		if unitsDetail == "" {
			return writeJSON(os.Stdout, tax.Stats())
		}

		unit, err := tax.Unit(ctx, unitsDetail)
		if err != nil {
			return err
		}
		labels, err := tax.Labels(ctx, unitsDetail)
		if err != nil {
			return err
		}
		examples, err := tax.Examples(ctx, unitsDetail)
		if err != nil {
			return err
		}
		return writeJSON(os.Stdout, struct {
			Unit     model.CoarseUnit     `json:"unit"`
			Labels   []model.Label        `json:"labels"`
			Examples []model.ExampleTitle `json:"examples"`
		}{unit, labels, examples})
	},
}

func init() {
	unitsCmd.Flags().StringVar(&unitsDetail, "unit", "", "show one unit with its labels and example titles")
	rootCmd.AddCommand(unitsCmd)
}
