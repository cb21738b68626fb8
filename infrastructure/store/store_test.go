package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-assay/internal/domain"
)

type stubUploader struct {
	enabled bool
	err     error
	calls   []string
}

func (u *stubUploader) Enabled() bool { return u.enabled }

func (u *stubUploader) UploadFile(_ context.Context, localPath, objectName string) (string, error) {
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	u.calls = append(u.calls, objectName)
	if u.err != nil {
		return "", u.err
	}
	return "mem://bucket/" + objectName, nil
}

func sampleResult(t *testing.T, suite string) *domain.ExpectationSuiteValidationResult {
	t.Helper()
	cfg, err := domain.NewExpectationConfiguration("expect_table_row_count_to_be_between",
		domain.Kwargs{"min_value": 1.0}, nil)
	require.NoError(t, err)
	er, err := domain.NewExpectationValidationResult(domain.ExpectationValidationResultParams{
		Success:           domain.Bool(true),
		ExpectationConfig: &cfg,
		Result:            map[string]any{"observed_value": 4.0},
	})
	require.NoError(t, err)
	res, err := domain.NewExpectationSuiteValidationResult(domain.SuiteValidationResultParams{
		Success:   true,
		SuiteName: suite,
		Results:   []*domain.ExpectationValidationResult{er},
		Meta:      map[string]any{"owner": "data-eng"},
	})
	require.NoError(t, err)
	return res
}

func TestLocalStore_PutGet(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewLocalStore(dir, nil, nil)
	require.NoError(t, err)

	result := sampleResult(t, "orders daily/v2")
	key, url, err := s.Put(ctx, result)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(key, "orders_daily_v2_"), key)
	assert.True(t, strings.HasPrefix(url, "file://"), url)
	assert.FileExists(t, filepath.Join(dir, key+Extension))

	back, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, result.Equal(back))
	assert.Equal(t, "orders daily/v2", back.SuiteName())
}

func TestLocalStore_KeysAreUnique(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), nil, nil)
	require.NoError(t, err)

	seen := map[string]bool{}
	for range 5 {
		key, _, err := s.Put(context.Background(), sampleResult(t, "orders"))
		require.NoError(t, err)
		assert.False(t, seen[key])
		seen[key] = true
	}
}

func TestLocalStore_Get_Errors(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir, nil, nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "garbage"+Extension), []byte("not zstd"), 0o600))

	tests := []struct {
		name     string
		key      string
		notFound bool
	}{
		{name: "missing", key: "orders_missing", notFound: true},
		{name: "empty key", key: "", notFound: true},
		{name: "path traversal", key: "../etc/passwd", notFound: true},
		{name: "hidden", key: ".x", notFound: true},
		{name: "corrupt file", key: "garbage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Get(context.Background(), tt.key)
			require.Error(t, err)
			assert.Equal(t, tt.notFound, errors.Is(err, domain.ErrKeyNotFound))
		})
	}
}

func TestLocalStore_Upload(t *testing.T) {
	tests := []struct {
		name      string
		uploader  *stubUploader
		wantURL   string
		wantErr   bool
		wantCalls int
	}{
		{name: "disabled", uploader: &stubUploader{}, wantURL: "file://"},
		{name: "enabled", uploader: &stubUploader{enabled: true}, wantURL: "mem://bucket/orders_", wantCalls: 1},
		{name: "failure", uploader: &stubUploader{enabled: true, err: errors.New("denied")}, wantErr: true, wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewLocalStore(t.TempDir(), tt.uploader, nil)
			require.NoError(t, err)

			key, url, err := s.Put(context.Background(), sampleResult(t, "orders"))
			assert.Len(t, tt.uploader.calls, tt.wantCalls)
			if tt.wantErr {
				require.Error(t, err)
				// The local copy is still readable.
				_, getErr := s.Get(context.Background(), key)
				assert.NoError(t, getErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(url, tt.wantURL), url)
			if tt.wantCalls > 0 {
				assert.Equal(t, key+Extension, tt.uploader.calls[0])
			}
		})
	}
}

func TestLocalStore_Put_Errors(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), nil, nil)
	require.NoError(t, err)

	_, _, err = s.Put(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrEmptyValue)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = s.Put(ctx, sampleResult(t, "orders"))
	assert.ErrorIs(t, err, context.Canceled)

	_, err = NewLocalStore(" ", nil, nil)
	assert.ErrorIs(t, err, domain.ErrEmptyValue)
}

func TestUploaders_Disabled(t *testing.T) {
	ctx := context.Background()
	s3u, err := NewS3(ctx, S3Config{Bucket: "b"})
	require.NoError(t, err)
	gcsu, err := NewGCS(ctx, GCSConfig{Bucket: "b"})
	require.NoError(t, err)

	for name, u := range map[string]interface {
		Enabled() bool
		UploadFile(context.Context, string, string) (string, error)
	}{"s3": s3u, "gcs": gcsu} {
		t.Run(name, func(t *testing.T) {
			assert.False(t, u.Enabled())
			url, err := u.UploadFile(ctx, "/does/not/exist", "x")
			require.NoError(t, err)
			assert.Empty(t, url)
		})
	}
	assert.NoError(t, gcsu.Close())
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "a.json.zst", objectKey("", "a.json.zst"))
	assert.Equal(t, "results/daily/a.json.zst", objectKey("/results/daily/", "a.json.zst"))
}
