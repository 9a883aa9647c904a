package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/dubedad/jobforge/internal/model"
)

var (
	resolveTitle  string
	resolveUnit   string
	resolveFamily string
	resolveEnrich bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve one job title within a unit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("resolve"); err != nil {
			return err
		}

		if !resolveEnrich {
			_, engine, err := initResolver(ctx)
			if err != nil {
				return err
			}
			res, err := engine.Resolve(ctx, resolveTitle, resolveUnit)
			if err != nil {
				return eris.Wrap(err, "resolve")
			}
			return writeJSON(os.Stdout, res)
		}

		env, err := initCascade(ctx)
		if err != nil {
			return err
		}
		result := env.Cascade.Process(ctx, model.EntityInput{
			ID:     resolveUnit + ":" + resolveTitle,
			Title:  resolveTitle,
			UnitID: resolveUnit,
			Family: resolveFamily,
		})
		if err := writeJSON(os.Stdout, result); err != nil {
			return err
		}
		if result.Status == model.StatusFailed {
			return eris.Errorf("resolve: %s", result.Error)
		}
		return nil
	},
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	resolveCmd.Flags().StringVar(&resolveTitle, "title", "", "job title to resolve")
	resolveCmd.Flags().StringVar(&resolveUnit, "unit", "", "unit id the title belongs to")
	resolveCmd.Flags().StringVar(&resolveFamily, "family", "", "occupational family (used by the generative tier)")
	resolveCmd.Flags().BoolVar(&resolveEnrich, "enrich", false, "run the full attribute cascade, not just resolution")
	_ = resolveCmd.MarkFlagRequired("unit")
	rootCmd.AddCommand(resolveCmd)
}
