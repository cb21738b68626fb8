package application

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

// SuiteLoader provides YAML parsing, validation, and caching for expectation
// suites, turning declarative suite files into domain.ExpectationSuite values.
// Use SuiteLoader to load suites from files or readers while benefiting
// from SHA256-based caching and validation against the registered
// expectations.
type SuiteLoader struct {
	// validator performs struct field validation and the custom tags
	// registered by RegisterConfigValidators.
	validator *validator.Validate
	// registry resolves expectation types so their kwargs can be checked
	// at load time instead of at run time.
	registry ports.ExpectationRegistry
	// cache stores built suites indexed by SHA256 hash of the normalized
	// YAML so that formatting differences share an entry.
	cache map[string]domain.ExpectationSuite
	// cacheMu provides thread-safe access to the cache map.
	cacheMu sync.RWMutex
	// sf prevents duplicate suite builds when multiple goroutines request
	// the same suite simultaneously.
	sf     singleflight.Group
	logger *slog.Logger
}

// NewSuiteLoader creates a suite loader with validation capabilities and an
// empty cache.
// NewSuiteLoader returns an error if validator registration fails.
func NewSuiteLoader(registry ports.ExpectationRegistry, logger *slog.Logger) (*SuiteLoader, error) {
	v := validator.New()

	if err := RegisterConfigValidators(v, registry); err != nil {
		return nil, fmt.Errorf("failed to register validators: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &SuiteLoader{
		validator: v,
		registry:  registry,
		cache:     make(map[string]domain.ExpectationSuite),
		logger:    logger,
	}, nil
}

// load is the common implementation for loading suites from byte data,
// utilizing singleflight to prevent duplicate builds and SHA256-based
// caching for efficiency.
func (sl *SuiteLoader) load(ctx context.Context, data []byte) (domain.ExpectationSuite, error) {
	config, err := sl.parseYAML(data)
	if err != nil {
		return domain.ExpectationSuite{}, fmt.Errorf("failed to parse YAML: %w", err)
	}

	hash, err := sl.calculateConfigHash(config)
	if err != nil {
		return domain.ExpectationSuite{}, fmt.Errorf("failed to calculate hash: %w", err)
	}

	v, err, shared := sl.sf.Do(hash, func() (any, error) {
		if suite, ok := sl.getCachedSuite(hash); ok {
			return suite, nil
		}

		if err := sl.validateConfig(config); err != nil {
			return nil, fmt.Errorf("validation failed: %w", err)
		}

		suite, err := sl.buildSuite(ctx, config)
		if err != nil {
			return nil, fmt.Errorf("failed to build suite: %w", err)
		}

		sl.cacheSuite(hash, suite)
		sl.logger.Debug("suite loaded",
			slog.String("suite", suite.Name),
			slog.Int("expectations", len(suite.Expectations)),
			slog.String("hash", hash[:12]))
		return suite, nil
	})
	if err != nil {
		return domain.ExpectationSuite{}, err
	}
	if shared {
		sl.logger.Debug("suite load shared", slog.String("hash", hash[:12]))
	}

	return copySuite(v.(domain.ExpectationSuite)), nil
}

// LoadFromFile loads a suite from a YAML file.
// LoadFromFile returns an error if reading, parsing, validation or building
// fails.
func (sl *SuiteLoader) LoadFromFile(ctx context.Context, path string) (domain.ExpectationSuite, error) {
	cleanPath := filepath.Clean(path)

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return domain.ExpectationSuite{}, fmt.Errorf("failed to read file: %w", err)
	}

	return sl.load(ctx, data)
}

// LoadFromReader loads a suite from any io.Reader, reading it fully into
// memory first.
func (sl *SuiteLoader) LoadFromReader(ctx context.Context, r io.Reader) (domain.ExpectationSuite, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return domain.ExpectationSuite{}, fmt.Errorf("failed to read data: %w", err)
	}

	return sl.load(ctx, data)
}

// ClearCache drops every cached suite.
func (sl *SuiteLoader) ClearCache() {
	sl.cacheMu.Lock()
	defer sl.cacheMu.Unlock()

	sl.cache = make(map[string]domain.ExpectationSuite)
}

// parseYAML decodes strictly so that misspelled fields are reported rather
// than silently ignored.
func (sl *SuiteLoader) parseYAML(data []byte) (*SuiteConfig, error) {
	var config SuiteConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&config); err != nil {
		return nil, fmt.Errorf("YAML decode failed: %w", err)
	}
	return &config, nil
}

// calculateConfigHash hashes the re-encoded configuration, so comments,
// key order within the document and indentation do not affect caching.
func (sl *SuiteLoader) calculateConfigHash(config *SuiteConfig) (string, error) {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)

	if err := encoder.Encode(config); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return "", fmt.Errorf("failed to close encoder: %w", err)
	}

	hash := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(hash[:]), nil
}

// validateConfig performs struct validation followed by the semantic checks
// that need the expectation implementations.
func (sl *SuiteLoader) validateConfig(config *SuiteConfig) error {
	if err := sl.validator.Struct(config); err != nil {
		return sl.explainStructError(err)
	}

	if err := sl.validateSemantics(config); err != nil {
		return fmt.Errorf("semantic validation failed: %w", err)
	}

	return nil
}

// explainStructError replaces a failed expectationtype tag with the
// registry's own error, which carries a "did you mean" suggestion.
func (sl *SuiteLoader) explainStructError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && sl.registry != nil {
		for _, fe := range verrs {
			if fe.Tag() != "expectationtype" {
				continue
			}
			typ, _ := fe.Value().(string)
			if _, rerr := sl.registry.Resolve(typ); rerr != nil {
				return fmt.Errorf("struct validation failed: %w", rerr)
			}
		}
	}
	return fmt.Errorf("struct validation failed: %w", err)
}

// validateSemantics checks each expectation's kwargs with the expectation's
// own ValidateConfiguration after suite parameters are substituted.
func (sl *SuiteLoader) validateSemantics(config *SuiteConfig) error {
	if sl.registry == nil {
		return nil
	}

	for i, ec := range config.Expectations {
		expectation, err := sl.registry.Resolve(ec.Type)
		if err != nil {
			return fmt.Errorf("expectation %d: %w", i, err)
		}

		kwargs, err := substituteParameters(ec.Type, ec.Kwargs, config.Parameters)
		if err != nil {
			return fmt.Errorf("expectation %d: %w", i, err)
		}

		cfg, err := domain.NewExpectationConfiguration(ec.Type, kwargs, ec.Meta)
		if err != nil {
			return fmt.Errorf("expectation %d: %w", i, err)
		}
		if err := expectation.ValidateConfiguration(cfg); err != nil {
			return fmt.Errorf("expectation %d (%s): %w", i, ec.Type, err)
		}
	}

	return nil
}

// buildSuite converts a validated configuration into domain values. Kwargs
// keep their parameter references; the validator substitutes them per run.
func (sl *SuiteLoader) buildSuite(ctx context.Context, config *SuiteConfig) (domain.ExpectationSuite, error) {
	suite := domain.ExpectationSuite{
		Name:         config.Name,
		Parameters:   config.Parameters,
		Meta:         config.Meta,
		Expectations: make([]domain.ExpectationConfiguration, 0, len(config.Expectations)),
	}

	for i, ec := range config.Expectations {
		if err := ctx.Err(); err != nil {
			return domain.ExpectationSuite{}, err
		}
		cfg, err := domain.NewExpectationConfiguration(ec.Type, ec.Kwargs, ec.Meta)
		if err != nil {
			return domain.ExpectationSuite{}, fmt.Errorf("expectation %d: %w", i, err)
		}
		suite.Expectations = append(suite.Expectations, cfg.WithNotes(ec.Notes))
	}

	return suite, nil
}

func (sl *SuiteLoader) getCachedSuite(hash string) (domain.ExpectationSuite, bool) {
	sl.cacheMu.RLock()
	defer sl.cacheMu.RUnlock()

	suite, ok := sl.cache[hash]
	return suite, ok
}

func (sl *SuiteLoader) cacheSuite(hash string, suite domain.ExpectationSuite) {
	sl.cacheMu.Lock()
	defer sl.cacheMu.Unlock()

	sl.cache[hash] = suite
}

// copySuite returns a suite whose slices and maps are not shared with the
// cached instance.
func copySuite(s domain.ExpectationSuite) domain.ExpectationSuite {
	return domain.ExpectationSuite{
		Name:         s.Name,
		Expectations: slices.Clone(s.Expectations),
		Parameters:   domain.Kwargs(s.Parameters).Clone(),
		Meta:         domain.Kwargs(s.Meta).Clone(),
	}
}
