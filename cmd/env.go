package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dubedad/jobforge/internal/cascade"
	"github.com/dubedad/jobforge/internal/config"
	"github.com/dubedad/jobforge/internal/crosswalk"
	"github.com/dubedad/jobforge/internal/impute"
	"github.com/dubedad/jobforge/internal/inherit"
	"github.com/dubedad/jobforge/internal/merge"
	"github.com/dubedad/jobforge/internal/metrics"
	"github.com/dubedad/jobforge/internal/resilience"
	"github.com/dubedad/jobforge/internal/resolve"
	"github.com/dubedad/jobforge/internal/store"
	"github.com/dubedad/jobforge/internal/taxonomy"
	anthropicpkg "github.com/dubedad/jobforge/pkg/anthropic"
	"github.com/dubedad/jobforge/pkg/onet"
)

// cascadeEnv holds the loaded taxonomy and the components built on it.
type cascadeEnv struct {
	Taxonomy *taxonomy.MemoryStore
	Resolver *resolve.Engine
	Cascade  *cascade.Cascade
	Catalog  *cascade.Catalog
}

// loadTaxonomy reads the taxonomy from files or PostgreSQL. Failures wrap
// model.ErrDataUnavailable and are fatal to the command.
func loadTaxonomy(ctx context.Context, dc config.DataConfig) (*taxonomy.MemoryStore, error) {
	switch dc.Driver {
	case "postgres":
		pool, err := taxonomy.Connect(ctx, dc.DatabaseURL)
		if err != nil {
			return nil, err
		}
		defer pool.Close()
		return taxonomy.LoadPostgres(ctx, pool)
	case "files", "":
		return taxonomy.LoadFiles(ctx, taxonomy.FileSources{
			Units:    dc.UnitsPath,
			Labels:   dc.LabelsPath,
			Examples: dc.ExamplesPath,
		})
	default:
		return nil, eris.Errorf("unsupported data driver: %s", dc.Driver)
	}
}

// initResolver loads the taxonomy and builds the resolution engine.
func initResolver(ctx context.Context) (*taxonomy.MemoryStore, *resolve.Engine, error) {
	tax, err := loadTaxonomy(ctx, cfg.Data)
	if err != nil {
		return nil, nil, eris.Wrap(err, "load taxonomy")
	}
	engine := resolve.NewEngine(resolve.NewIndex(tax), resolve.WithThreshold(cfg.Resolution.FuzzyThreshold))
	return tax, engine, nil
}

// initCascade builds the full tier cascade. The crosswalk and generative
// tiers are only wired when configured.
func initCascade(ctx context.Context) (*cascadeEnv, error) {
	tax, engine, err := initResolver(ctx)
	if err != nil {
		return nil, err
	}

	catalog := cascade.NewCatalog()
	if cfg.Data.CatalogPath != "" {
		if catalog, err = cascade.LoadCatalog(cfg.Data.CatalogPath); err != nil {
			return nil, err
		}
	}

	tables := make([]*inherit.AttributeTable, 0, len(cfg.Data.Attributes))
	for _, tc := range cfg.Data.Attributes {
		key := tc.KeyColumn
		if key == "" {
			key = "unit_id"
		}
		t, err := inherit.LoadTable(ctx, tc.Path, tc.Name, key, tc.Columns...)
		if err != nil {
			return nil, eris.Wrapf(err, "load attribute table %s", tc.Name)
		}
		tables = append(tables, t)
	}

	var natives *inherit.NativeIndex
	if cfg.Data.NativesPath != "" {
		if natives, err = inherit.LoadNatives(ctx, cfg.Data.NativesPath); err != nil {
			return nil, eris.Wrap(err, "load native values")
		}
	}

	policy := resilience.NewPolicy(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs,
		cfg.Retry.Multiplier, cfg.Retry.Jitter)
	breakerCfg := resilience.NewBreakerConfig(cfg.Circuit.FailureThreshold, cfg.Circuit.ResetTimeoutSecs)

	opts := []cascade.Option{
		cascade.WithInheritance(inherit.NewEngine(inherit.WithNatives(natives)), tables...),
		cascade.WithMerger(merge.New(cfg.Merge.RetainLosers)),
	}

	if cfg.Crosswalk.Enabled && cfg.Data.CrosswalkPath != "" {
		table, err := crosswalk.LoadTable(ctx, cfg.Data.CrosswalkPath)
		if err != nil {
			return nil, eris.Wrap(err, "load crosswalk")
		}
		onetOpts := []onet.Option{
			onet.WithRateLimit(cfg.ONET.RequestsPerSecond, cfg.ONET.Burst),
			onet.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.ONET.TimeoutSecs) * time.Second}),
		}
		if cfg.ONET.BaseURL != "" {
			onetOpts = append(onetOpts, onet.WithBaseURL(cfg.ONET.BaseURL))
		}
		lookup := crosswalk.New(table, onet.NewClient(cfg.ONET.Username, cfg.ONET.Key, onetOpts...),
			crosswalk.WithPolicy(policy),
			crosswalk.WithBreaker(resilience.NewBreaker("onet", breakerCfg)),
			crosswalk.WithCategories(catalog.Categories()),
			crosswalk.WithConfidence(cfg.Crosswalk.Confidence),
			crosswalk.WithMaxElements(cfg.Crosswalk.MaxElements),
			crosswalk.WithConcurrency(cfg.Crosswalk.Concurrency),
		)
		opts = append(opts, cascade.WithExternalLookup(lookup))
		zap.L().Info("crosswalk tier enabled", zap.Int("units", table.Units()))
	} else {
		zap.L().Debug("crosswalk tier disabled")
	}

	if cfg.Imputation.Enabled && cfg.Anthropic.Key != "" {
		var aiOpts []anthropicpkg.Option
		if cfg.Anthropic.BaseURL != "" {
			aiOpts = append(aiOpts, anthropicpkg.WithBaseURL(cfg.Anthropic.BaseURL))
		}
		svc := impute.New(anthropicpkg.NewClient(cfg.Anthropic.Key, aiOpts...),
			impute.WithModel(cfg.Anthropic.Model),
			impute.WithMaxTokens(cfg.Anthropic.MaxTokens),
			impute.WithMaxKnown(cfg.Imputation.MaxKnown),
			impute.WithPolicy(policy),
			impute.WithBreaker(resilience.NewBreaker("anthropic", breakerCfg)),
		)
		opts = append(opts, cascade.WithImputer(svc))
		zap.L().Info("generative tier enabled", zap.String("model", cfg.Anthropic.Model))
	} else {
		zap.L().Debug("generative tier disabled")
	}

	return &cascadeEnv{
		Taxonomy: tax,
		Resolver: engine,
		Cascade:  cascade.New(engine, tax, catalog, opts...),
		Catalog:  catalog,
	}, nil
}

func initStore() (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "jobforge.db"
		}
		return store.NewSQLite(dsn)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// startMetrics serves /metrics on addr until the returned stop func is
// called.
func startMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		zap.L().Info("metrics listener starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.L().Error("metrics listener failed", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
