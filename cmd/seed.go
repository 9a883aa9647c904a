package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/dubedad/jobforge/internal/taxonomy"
)

var seedDatabaseURL string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the taxonomy files into PostgreSQL",
	Long:  "Reads the configured units, labels and example title files and upserts them into the taxonomy schema read by the postgres data driver.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		dsn := seedDatabaseURL
		if dsn == "" {
			dsn = cfg.Data.DatabaseURL
		}
		if dsn == "" {
			return eris.New("seed: database url is required (--database-url or data.database_url)")
		}

		files := cfg.Data
		files.Driver = "files"
		tax, err := loadTaxonomy(ctx, files)
		if err != nil {
			return eris.Wrap(err, "seed: load taxonomy files")
		}

		pool, err := taxonomy.Connect(ctx, dsn)
		if err != nil {
			return err
		}
		defer pool.Close()

		counts, err := taxonomy.Seed(ctx, pool, tax)
		if err != nil {
			return err
		}
		return writeJSON(os.Stdout, counts)
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedDatabaseURL, "database-url", "", "PostgreSQL DSN (default data.database_url)")
	rootCmd.AddCommand(seedCmd)
}
