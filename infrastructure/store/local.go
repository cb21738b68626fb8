// Package store persists suite validation results as zstd-compressed JSON
// and optionally copies them to S3 or GCS.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

// Extension is appended to every stored result key.
const Extension = ".json.zst"

var (
	_ ports.ResultStore = (*LocalStore)(nil)

	unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)
)

// LocalStore writes each result to its own file under a directory. When an
// uploader is enabled the file is copied to object storage after it is
// written and the remote URL becomes the result URL.
type LocalStore struct {
	dir      string
	uploader ports.Uploader
	logger   *slog.Logger
}

// NewLocalStore creates dir if needed. uploader and logger may be nil.
func NewLocalStore(dir string, uploader ports.Uploader, logger *slog.Logger) (*LocalStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("store dir: %w", domain.ErrEmptyValue)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalStore{dir: filepath.Clean(dir), uploader: uploader, logger: logger}, nil
}

// Put writes result and returns its key and URL. Keys combine the suite
// name with a time-ordered uuid, so listing the directory sorts results by
// creation time within a suite.
func (s *LocalStore) Put(ctx context.Context, result *domain.ExpectationSuiteValidationResult) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	if result == nil {
		return "", "", fmt.Errorf("put result: %w", domain.ErrEmptyValue)
	}

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	key := unsafeKeyChars.ReplaceAllString(result.SuiteName(), "_") + "_" + id.String()

	data, err := json.Marshal(result)
	if err != nil {
		return "", "", fmt.Errorf("encode result: %w: %w", domain.ErrNotSerializable, err)
	}
	path := s.path(key)
	if err := writeCompressed(path, data); err != nil {
		return "", "", err
	}

	url := "file://" + path
	if abs, err := filepath.Abs(path); err == nil {
		url = "file://" + abs
	}
	if s.uploader != nil && s.uploader.Enabled() {
		remote, err := s.uploader.UploadFile(ctx, path, key+Extension)
		if err != nil {
			return key, url, fmt.Errorf("upload result %s: %w", key, err)
		}
		url = remote
	}

	s.logger.Info("stored validation result",
		slog.String("suite", result.SuiteName()),
		slog.String("key", key),
		slog.String("url", url),
	)
	return key, url, nil
}

// Get reads and reconstructs the result stored under key.
func (s *LocalStore) Get(ctx context.Context, key string) (*domain.ExpectationSuiteValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if key == "" || unsafeKeyChars.MatchString(key) || strings.HasPrefix(key, ".") {
		return nil, fmt.Errorf("result %q: %w", key, domain.ErrKeyNotFound)
	}

	data, err := readCompressed(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("result %q: %w", key, domain.ErrKeyNotFound)
	}
	if err != nil {
		return nil, err
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode result %q: %w", key, err)
	}
	return domain.ExpectationSuiteValidationResultFromMap(m)
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.dir, key+Extension)
}

func writeCompressed(path string, data []byte) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create result file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); err == nil && closeErr != nil {
			err = closeErr
		}
	}()

	zw, err := zstd.NewWriter(file)
	if err != nil {
		return err
	}
	if _, err := zw.Write(data); err != nil {
		_ = zw.Close()
		return fmt.Errorf("write result file: %w", err)
	}
	return zw.Close()
}

func readCompressed(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	zr, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("read result file: %w", err)
	}
	return data, nil
}
