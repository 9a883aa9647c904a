package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dubedad/jobforge/internal/cascade"
	"github.com/dubedad/jobforge/internal/model"
	"github.com/dubedad/jobforge/internal/store"
)

var (
	batchInput       string
	batchOutput      string
	batchPersist     bool
	batchConcurrency int
	batchMetricsAddr string
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Resolve and enrich a file of job titles",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("batch"); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		addr := batchMetricsAddr
		if addr == "" {
			addr = cfg.Metrics.Addr
		}
		if addr != "" {
			stopMetrics := startMetrics(addr)
			defer stopMetrics()
		}

		env, err := initCascade(ctx)
		if err != nil {
			return err
		}

		out := io.Writer(os.Stdout)
		if batchOutput != "" && batchOutput != "-" {
			f, err := os.Create(batchOutput)
			if err != nil {
				return eris.Wrap(err, "create output")
			}
			defer f.Close() //nolint:errcheck
			out = f
		}

		concurrency := batchConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Batch.Concurrency
		}

		var st store.Store
		if batchPersist {
			if st, err = initStore(); err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
			if err := st.Migrate(ctx); err != nil {
				return eris.Wrap(err, "migrate store")
			}
		}

		_, err = processBatch(ctx, env, batchInput, concurrency, out, st)
		return err
	},
}

// processBatch reads inputs, runs the cascade, writes JSON lines to out and
// persists the run when st is non-nil. Per-entity failures are reported in
// the results, not as an error.
func processBatch(ctx context.Context, env *cascadeEnv, input string, concurrency int, out io.Writer, st store.Store) ([]model.EntityResult, error) {
	inputs, err := cascade.ReadInputs(ctx, input)
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		zap.L().Info("no inputs found", zap.String("input", input))
		return nil, nil
	}

	results := env.Cascade.RunBatch(ctx, inputs, concurrency)

	if err := cascade.WriteJSONL(out, results); err != nil {
		return results, err
	}

	if st != nil {
		// Persist what finished even when the batch was interrupted.
		run, err := store.SaveBatch(context.WithoutCancel(ctx), st, env.Taxonomy.Version(), results)
		if err != nil {
			return results, eris.Wrap(err, "persist batch")
		}
		zap.L().Info("batch persisted", zap.String("run_id", run.ID))
	}
	return results, nil
}

func init() {
	batchCmd.Flags().StringVar(&batchInput, "input", "", "CSV or XLSX of entity_id, title, unit_id[, family]")
	batchCmd.Flags().StringVar(&batchOutput, "output", "", "JSON lines output path (default stdout)")
	batchCmd.Flags().BoolVar(&batchPersist, "persist", false, "store the run in the results database")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "entities processed in parallel (default from config)")
	batchCmd.Flags().StringVar(&batchMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	_ = batchCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(batchCmd)
}
