// Command assay validates a batch of data against an expectation suite.
//
//	assay -config run.yaml -suite orders.yaml
//
// The suite result is printed as JSON on stdout. The exit status is 0 when
// the suite succeeded, 1 when it failed and 2 when the run could not
// complete.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

func main() {
	var (
		configPath = flag.String("config", "assay.yaml", "path to the run configuration")
		suitePath  = flag.String("suite", "", "path to the expectation suite")
		logFormat  = flag.String("log-format", "text", "log output format: text or json")
		logLevel   = flag.String("log-level", "info", "minimum log level: debug, info, warn or error")
	)
	flag.Parse()

	if *suitePath == "" {
		flag.Usage()
		os.Exit(2)
	}

	logger, err := newLogger(*logFormat, *logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	success, err := run(ctx, options{
		configPath: *configPath,
		suitePath:  *suitePath,
		logger:     logger,
		stdout:     os.Stdout,
	})
	stop()

	switch {
	case err != nil:
		logger.Error("validation run failed", slog.Any("error", err))
		os.Exit(2)
	case !success:
		os.Exit(1)
	}
}

func newLogger(format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid -log-level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid -log-format %q: want text or json", format)
	}
}
