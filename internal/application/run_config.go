package application

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-assay/internal/ports"
)

// LoadRunConfig reads a run configuration file, applies defaults and
// validates it.
func LoadRunConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, ports.NewConfigError(path, fmt.Errorf("failed to read file: %w", err))
	}
	return ParseRunConfig(bytes.NewReader(data))
}

// ParseRunConfig decodes a run configuration strictly, applies defaults
// and validates the result.
func ParseRunConfig(r io.Reader) (*RunConfig, error) {
	var cfg RunConfig
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("YAML decode failed: %w", err)
	}

	cfg.applyDefaults()

	v := validator.New()
	if err := RegisterConfigValidators(v, nil); err != nil {
		return nil, fmt.Errorf("failed to register validators: %w", err)
	}
	if err := v.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("struct validation failed: %w", err)
	}
	if err := cfg.validateSemantics(); err != nil {
		return nil, fmt.Errorf("semantic validation failed: %w", err)
	}
	return &cfg, nil
}

// validateSemantics checks the backend-dependent requirements that struct
// tags cannot express.
func (c *RunConfig) validateSemantics() error {
	backend, err := ports.ParseBackend(c.Engine.Kind)
	if err != nil {
		return err
	}

	switch backend {
	case ports.BackendSQL:
		if c.Engine.DSN == "" {
			return ports.NewConfigError("engine.dsn", fmt.Errorf("required for %s: %w", c.Engine.Kind, ports.ErrConfigNotFound))
		}
		if c.Engine.Table == "" && c.Engine.Query == "" {
			return ports.NewConfigError("engine.table", fmt.Errorf("table or query required for %s: %w", c.Engine.Kind, ports.ErrConfigNotFound))
		}
	default:
		if c.Engine.CSVPath == "" {
			return ports.NewConfigError("engine.csv_path", fmt.Errorf("required for %s: %w", c.Engine.Kind, ports.ErrConfigNotFound))
		}
		if len(c.Engine.DataSources) > 0 {
			return ports.NewConfigError("engine.data_sources", fmt.Errorf("only supported by SQL backends: %w", ports.ErrInvalidBackend))
		}
	}

	if c.Query.MaxDelay < c.Query.BaseDelay {
		return ports.NewConfigError("query.max_delay", fmt.Errorf("must not be below base_delay %s", c.Query.BaseDelay))
	}
	return nil
}

// RuntimeConfiguration converts the run options to the validator's form.
func (c *RunConfig) RuntimeConfiguration() (ports.RuntimeConfiguration, error) {
	format, err := ports.ParseResultFormat(c.ResultFormat)
	if err != nil {
		return ports.RuntimeConfiguration{}, err
	}
	catch := true
	if c.CatchExceptions != nil {
		catch = *c.CatchExceptions
	}
	return ports.RuntimeConfiguration{ResultFormat: format, CatchExceptions: catch}, nil
}

// ResolvedBatchID returns the configured batch id, falling back to the table name
// or the CSV file name without extension.
func (e EngineConfig) ResolvedBatchID() string {
	switch {
	case e.BatchID != "":
		return e.BatchID
	case e.Table != "":
		return e.Table
	case e.CSVPath != "":
		base := filepath.Base(e.CSVPath)
		return strings.TrimSuffix(base, filepath.Ext(base))
	default:
		return "query"
	}
}
