package application

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

const ordersSuiteYAML = `
name: orders
meta:
  owner: data-eng
parameters:
  floor: 3
expectations:
  - type: expect_min_set
    kwargs:
      min_value: {$PARAMETER: floor}
    notes: prices are never below the floor
  - type: expect_mean_above_5
    kwargs:
      column: price
`

func newTestLoader(t *testing.T) *SuiteLoader {
	t.Helper()
	fx := newValidatorFixture(t)
	loader, err := NewSuiteLoader(fx.expectations, nil)
	require.NoError(t, err)
	return loader
}

func TestSuiteLoader_LoadFromReader(t *testing.T) {
	loader := newTestLoader(t)

	suite, err := loader.LoadFromReader(context.Background(), strings.NewReader(ordersSuiteYAML))
	require.NoError(t, err)

	assert.Equal(t, "orders", suite.Name)
	assert.Equal(t, map[string]any{"owner": "data-eng"}, suite.Meta)
	assert.Equal(t, map[string]any{"floor": 3}, suite.Parameters)
	require.Len(t, suite.Expectations, 2)

	first := suite.Expectations[0]
	assert.Equal(t, "expect_min_set", first.Type())
	assert.Equal(t, "prices are never below the floor", first.Notes())
	assert.Equal(t, map[string]any{"$PARAMETER": "floor"}, first.Kwargs()["min_value"],
		"parameter references are substituted per run, not at load time")
	assert.Equal(t, "price", suite.Expectations[1].Kwargs()["column"])
}

func TestSuiteLoader_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantIs  error
		wantMsg string
	}{
		{
			name:    "unknown field",
			yaml:    "name: s\nexpectatons: []\n",
			wantMsg: "expectatons",
		},
		{
			name:    "no expectations",
			yaml:    "name: s\nexpectations: []\n",
			wantMsg: "struct validation failed",
		},
		{
			name:    "missing name",
			yaml:    "expectations:\n  - type: expect_mean_above_5\n",
			wantMsg: "Name",
		},
		{
			name:    "unregistered expectation type",
			yaml:    "name: s\nexpectations:\n  - type: expect_mean_abve_5\n",
			wantIs:  ports.ErrUnregisteredExpectation,
			wantMsg: `did you mean "expect_mean_above_5"`,
		},
		{
			name:    "expectation rejects its kwargs",
			yaml:    "name: s\nexpectations:\n  - type: expect_min_set\n",
			wantIs:  ports.ErrMissingParameter,
			wantMsg: "min_value",
		},
		{
			name:    "undefined suite parameter",
			yaml:    "name: s\nexpectations:\n  - type: expect_min_set\n    kwargs:\n      min_value: {$PARAMETER: nope}\n",
			wantIs:  ports.ErrMissingParameter,
			wantMsg: `"nope"`,
		},
		{
			name:    "malformed yaml",
			yaml:    "name: [unterminated\n",
			wantMsg: "failed to parse YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := newTestLoader(t)

			_, err := loader.LoadFromReader(context.Background(), strings.NewReader(tt.yaml))
			require.Error(t, err)
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestSuiteLoader_Cache(t *testing.T) {
	loader := newTestLoader(t)
	ctx := context.Background()

	first, err := loader.LoadFromReader(ctx, strings.NewReader(ordersSuiteYAML))
	require.NoError(t, err)

	reformatted := "# reformatted copy\n" +
		strings.Replace(ordersSuiteYAML, "{$PARAMETER: floor}", "{ $PARAMETER:   floor }", 1) +
		"\n\n# trailing comment\n"
	second, err := loader.LoadFromReader(ctx, strings.NewReader(reformatted))
	require.NoError(t, err)

	assert.Equal(t, first.Name, second.Name)
	assert.Len(t, loader.cache, 1, "formatting differences share a cache entry")

	second.Expectations[0] = expConfig(t, "mutated", nil)
	third, err := loader.LoadFromReader(ctx, strings.NewReader(ordersSuiteYAML))
	require.NoError(t, err)
	assert.Equal(t, "expect_min_set", third.Expectations[0].Type(), "callers receive copies")

	loader.ClearCache()
	assert.Empty(t, loader.cache)
}

func TestSuiteLoader_ConcurrentLoads(t *testing.T) {
	loader := newTestLoader(t)

	var wg sync.WaitGroup
	suites := make([]domain.ExpectationSuite, 16)
	for i := range suites {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := loader.LoadFromReader(context.Background(), strings.NewReader(ordersSuiteYAML))
			assert.NoError(t, err)
			suites[i] = s
		}()
	}
	wg.Wait()

	for _, s := range suites {
		assert.Equal(t, "orders", s.Name)
	}
	assert.Len(t, loader.cache, 1)
}

func TestSuiteLoader_LoadFromFile(t *testing.T) {
	loader := newTestLoader(t)
	path := filepath.Join(t.TempDir(), "orders.yaml")
	require.NoError(t, os.WriteFile(path, []byte(ordersSuiteYAML), 0o600))

	suite, err := loader.LoadFromFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "orders", suite.Name)

	_, err = loader.LoadFromFile(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read file")
}

func TestSuiteLoader_LoadedSuiteValidates(t *testing.T) {
	fx := newValidatorFixture(t)
	loader, err := NewSuiteLoader(fx.expectations, nil)
	require.NoError(t, err)

	suite, err := loader.LoadFromReader(context.Background(), strings.NewReader(ordersSuiteYAML))
	require.NoError(t, err)

	result, err := fx.validator.Validate(context.Background(), newMockEngine(), suite, ports.DefaultRuntimeConfiguration())
	require.NoError(t, err)
	assert.True(t, result.Success())
	assert.Equal(t, 3, result.Results()[0].ExpectationConfig().Kwargs()["min_value"])
}
