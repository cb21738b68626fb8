package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/ahrav/go-assay/infrastructure/engines/distributed"
	"github.com/ahrav/go-assay/infrastructure/engines/sqlengine"
	"github.com/ahrav/go-assay/infrastructure/engines/tabular"
	"github.com/ahrav/go-assay/infrastructure/expectations"
	"github.com/ahrav/go-assay/infrastructure/metrics"
	"github.com/ahrav/go-assay/infrastructure/middleware"
	"github.com/ahrav/go-assay/infrastructure/query"
	"github.com/ahrav/go-assay/infrastructure/store"
	"github.com/ahrav/go-assay/internal/application"
	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

type options struct {
	configPath string
	suitePath  string
	logger     *slog.Logger
	stdout     io.Writer
}

// run executes one validation and reports whether the suite succeeded.
func run(ctx context.Context, opts options) (bool, error) {
	logger := opts.logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := application.LoadRunConfig(opts.configPath)
	if err != nil {
		return false, fmt.Errorf("load run config: %w", err)
	}
	runtime, err := cfg.RuntimeConfiguration()
	if err != nil {
		return false, err
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	reg := prometheus.NewRegistry()
	collector := middleware.NewPrometheusMetrics(reg)
	if cfg.MetricsAddr != "" {
		_, shutdown, err := serveMetrics(cfg.MetricsAddr, reg, logger)
		if err != nil {
			return false, err
		}
		defer shutdown()
	}

	metricRegistry := application.NewDefaultMetricRegistry(logger)
	metrics.RegisterBuiltins(metricRegistry)
	expectationRegistry := application.NewDefaultExpectationRegistry(logger)
	expectations.RegisterBuiltins(expectationRegistry)

	loader, err := application.NewSuiteLoader(expectationRegistry, logger)
	if err != nil {
		return false, err
	}
	suite, err := loader.LoadFromFile(ctx, opts.suitePath)
	if err != nil {
		return false, fmt.Errorf("load suite: %w", err)
	}

	engine, err := buildEngine(ctx, cfg, collector, logger)
	if err != nil {
		return false, err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Warn("closing engine", slog.Any("error", err))
		}
	}()

	validator := application.NewValidator(metricRegistry, expectationRegistry,
		application.WithValidatorLogger(logger),
		application.WithMetricConcurrency(cfg.Concurrency),
		application.WithObserver(middleware.NewOTelRunObserver(collector)),
	)
	result, runErr := validator.Validate(ctx, engine, suite, runtime)
	if result == nil {
		return false, runErr
	}
	if runErr != nil {
		// A cancelled run still reports what it computed.
		logger.Warn("validation run interrupted, emitting partial result", slog.Any("error", runErr))
		ctx = context.WithoutCancel(ctx)
	}
	if err := report(ctx, cfg.Store, result, logger, opts.stdout); err != nil {
		return false, errors.Join(runErr, err)
	}
	if runErr != nil {
		return false, runErr
	}
	return result.Success(), nil
}

// report persists result when a store is configured and writes it to w as
// indented JSON.
func report(
	ctx context.Context,
	storeCfg application.StoreConfig,
	result *domain.ExpectationSuiteValidationResult,
	logger *slog.Logger,
	w io.Writer,
) error {
	if storeCfg.Kind != "" {
		resultStore, err := buildStore(ctx, storeCfg, logger)
		if err != nil {
			return err
		}
		_, url, err := resultStore.Put(ctx, result)
		if err != nil {
			return fmt.Errorf("store result: %w", err)
		}
		result = result.WithResultURL(url)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// queryMiddleware builds the chain wrapped around every backend query,
// outermost first.
func queryMiddleware(cfg application.QueryConfig, collector ports.MetricsCollector, backend string) []query.Middleware {
	mws := []query.Middleware{
		query.TracingMiddleware("assay." + backend),
		query.MetricsMiddleware(collector, backend),
	}
	if cfg.BreakerFailures > 0 {
		mws = append(mws, query.CircuitBreakerMiddlewareWithMetrics(cfg.BreakerFailures, cfg.BreakerCooldown, collector))
	}
	if cfg.MaxRetries != nil && *cfg.MaxRetries > 0 {
		mws = append(mws, query.RetryMiddleware(*cfg.MaxRetries, cfg.BaseDelay, cfg.MaxDelay))
	}
	if cfg.RateLimit > 0 {
		mws = append(mws, query.RateLimitMiddleware(rate.Limit(cfg.RateLimit), cfg.Burst))
	}
	if cfg.Timeout > 0 {
		mws = append(mws, query.TimeoutMiddleware(cfg.Timeout))
	}
	return mws
}

// buildEngine connects the configured backend and loads the batch, which
// becomes the active batch.
func buildEngine(
	ctx context.Context,
	cfg *application.RunConfig,
	collector ports.MetricsCollector,
	logger *slog.Logger,
) (ports.ExecutionEngine, error) {
	backend, err := ports.ParseBackend(cfg.Engine.Kind)
	if err != nil {
		return nil, err
	}
	mws := queryMiddleware(cfg.Query, collector, cfg.Engine.Kind)

	var (
		engine ports.ExecutionEngine
		data   any
	)
	switch backend {
	case ports.BackendSQL:
		sqlOpts := []sqlengine.Option{sqlengine.WithQueryMiddleware(mws...), sqlengine.WithLogger(logger)}
		var opened []io.Closer
		for name, ds := range cfg.Engine.DataSources {
			dialect, q, err := sqlengine.OpenQueryer(ctx, ds.Kind, ds.DSN)
			if err != nil {
				closeAll(opened)
				return nil, fmt.Errorf("open data source %s: %w", name, err)
			}
			opened = append(opened, q)
			sqlOpts = append(sqlOpts, sqlengine.WithDataSource(name, dialect, q))
		}
		e, err := sqlengine.Open(ctx, cfg.Engine.Kind, cfg.Engine.DSN, sqlOpts...)
		if err != nil {
			closeAll(opened)
			return nil, err
		}
		engine = e
		batch := sqlengine.Batch{Table: cfg.Engine.Table}
		if cfg.Engine.Query != "" {
			batch = sqlengine.Batch{Query: cfg.Engine.Query}
		}
		data = batch
	case ports.BackendDistributed:
		engine = distributed.NewEngine(
			distributed.WithPartitions(cfg.Engine.Partitions),
			distributed.WithQueryMiddleware(mws...),
			distributed.WithLogger(logger),
		)
		data = cfg.Engine.CSVPath
	default:
		engine = tabular.NewEngine(tabular.WithQueryMiddleware(mws...), tabular.WithLogger(logger))
		data = cfg.Engine.CSVPath
	}

	if err := engine.Ping(ctx); err != nil {
		return nil, errors.Join(err, engine.Close())
	}
	batchID := cfg.Engine.ResolvedBatchID()
	if err := engine.LoadBatch(ctx, batchID, data); err != nil {
		return nil, errors.Join(err, engine.Close())
	}
	if err := engine.SetActiveBatch(batchID); err != nil {
		return nil, errors.Join(err, engine.Close())
	}
	return engine, nil
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		_ = c.Close()
	}
}

// buildStore returns the local store, wired to an uploader for remote kinds.
func buildStore(ctx context.Context, cfg application.StoreConfig, logger *slog.Logger) (*store.LocalStore, error) {
	var uploader ports.Uploader
	switch cfg.Kind {
	case "s3":
		u, err := store.NewS3(ctx, store.S3Config{
			Enabled:         true,
			Bucket:          cfg.Bucket,
			Prefix:          cfg.Prefix,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			SessionToken:    cfg.SessionToken,
			UsePathStyle:    cfg.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		uploader = u
	case "gcs":
		u, err := store.NewGCS(ctx, store.GCSConfig{
			Enabled:         true,
			Bucket:          cfg.Bucket,
			Prefix:          cfg.Prefix,
			CredentialsFile: cfg.CredentialsFile,
		})
		if err != nil {
			return nil, err
		}
		uploader = u
	}
	return store.NewLocalStore(cfg.Dir, uploader, logger)
}

// serveMetrics exposes reg on addr until the returned function is called.
// It returns the address actually bound.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) (string, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("listen on metrics address: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", slog.Any("error", err))
		}
	}()
	logger.Info("serving metrics", slog.String("addr", ln.Addr().String()))

	return ln.Addr().String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
