package tabular

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-assay/infrastructure/query"
	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

const ordersCSV = `id,price,region,paid,note
1,9.5,eu,true,
2,12,us,false,rush
3,,eu,true,
4,30.25,apac,,gift
`

func loadOrders(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e := NewEngine(opts...)
	require.NoError(t, e.LoadBatch(context.Background(), "orders", strings.NewReader(ordersCSV)))
	return e
}

func TestReadCSV_InfersTypes(t *testing.T) {
	frame, err := ReadCSV(strings.NewReader(ordersCSV))
	require.NoError(t, err)

	assert.Equal(t, 4, frame.Len())
	assert.Equal(t, []string{"id", "price", "region", "paid", "note"}, frame.Columns())

	types := map[string]string{}
	for _, ct := range frame.Types() {
		types[ct.Name] = ct.Type
	}
	assert.Equal(t, map[string]string{
		"id":     domain.TypeInteger,
		"price":  domain.TypeFloat,
		"region": domain.TypeString,
		"paid":   domain.TypeBoolean,
		"note":   domain.TypeString,
	}, types)

	v, ok := frame.Value(0, "id")
	assert.True(t, ok)
	assert.Equal(t, int64(1), v)

	v, ok = frame.Value(1, "price")
	assert.True(t, ok)
	assert.Equal(t, 12.0, v, "integers in a float column are floats")

	v, ok = frame.Value(2, "price")
	assert.True(t, ok)
	assert.Nil(t, v, "empty cells are null")

	_, ok = frame.Value(0, "missing")
	assert.False(t, ok)
}

func TestReadCSV_Errors(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""))
	assert.ErrorIs(t, err, domain.ErrEmptyValue)

	_, err = ReadCSV(strings.NewReader("a,b\n1,2,3\n"))
	assert.ErrorContains(t, err, "row 2")

	_, err = ReadCSV(strings.NewReader("a,a\n1,2\n"))
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestNewFrame_MixedTypes(t *testing.T) {
	frame, err := NewFrame([]string{"n", "mixed", "empty"}, [][]any{
		{int64(1), "x", nil},
		{2.5, int64(3), nil},
	})
	require.NoError(t, err)

	types := frame.Types()
	assert.Equal(t, domain.TypeFloat, types[0].Type)
	assert.Equal(t, domain.TypeUnknown, types[1].Type)
	assert.Equal(t, domain.TypeUnknown, types[2].Type)

	_, err = NewFrame([]string{"a"}, [][]any{{1, 2}})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestEngine_LoadBatchVariants(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "orders.csv")
	require.NoError(t, os.WriteFile(path, []byte(ordersCSV), 0o600))

	frame, err := ReadCSV(strings.NewReader(ordersCSV))
	require.NoError(t, err)

	tests := []struct {
		name string
		data any
	}{
		{name: "frame", data: frame},
		{name: "table", data: domain.Table{Columns: []string{"id"}, Rows: [][]any{{int64(1)}}}},
		{name: "reader", data: strings.NewReader(ordersCSV)},
		{name: "path", data: path},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine()
			require.NoError(t, e.LoadBatch(ctx, tt.name, tt.data))
			assert.Equal(t, tt.name, e.ActiveBatchID())

			got, err := e.GetBatch(tt.name)
			require.NoError(t, err)
			assert.IsType(t, &Frame{}, got)
		})
	}

	e := NewEngine()
	err = e.LoadBatch(ctx, "bad", 42)
	var engErr *ports.ExecutionEngineError
	require.True(t, errors.As(err, &engErr))
	assert.ErrorIs(t, err, domain.ErrTypeMismatch)

	err = e.LoadBatch(ctx, "missing", filepath.Join(dir, "nope.csv"))
	assert.ErrorContains(t, err, "failed to open CSV file")
}

func TestEngine_GetComputeDomain(t *testing.T) {
	e := loadOrders(t)
	ctx := context.Background()

	cd, err := e.GetComputeDomain(ctx, domain.Kwargs{"column": "price", "row_condition": "region == 'eu'"}, ports.DomainColumn)
	require.NoError(t, err)
	assert.Equal(t, "price", cd.Column())
	assert.Equal(t, "orders", cd.ComputeKwargs[domain.KwargBatchID], "resolved batch is recorded")

	view, err := e.View(cd)
	require.NoError(t, err)
	assert.Equal(t, 2, view.Len())

	_, err = e.GetComputeDomain(ctx, domain.Kwargs{"column": "discount"}, ports.DomainColumn)
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)

	_, err = e.GetComputeDomain(ctx, domain.Kwargs{"batch_id": "returns"}, ports.DomainTable)
	assert.ErrorIs(t, err, ports.ErrBatchNotLoaded)

	_, err = e.GetComputeDomain(ctx, domain.Kwargs{}, ports.DomainColumn)
	assert.ErrorIs(t, err, ports.ErrMissingParameter)

	_, err = e.View(ports.ComputeDomain{Selectable: "orders"})
	assert.ErrorIs(t, err, domain.ErrTypeMismatch)
}

func TestEngine_ExecuteQuery(t *testing.T) {
	e := loadOrders(t)
	ctx := context.Background()

	cond, err := domain.ParseRowCondition("price > 10")
	require.NoError(t, err)

	table, err := e.ExecuteQuery(ctx, ports.FrameQuery{Columns: []string{"id", "region"}, Condition: cond})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "region"}, table.Columns)
	assert.Equal(t, [][]any{{int64(2), "us"}, {int64(4), "apac"}}, table.Rows)

	table, err = e.ExecuteQuery(ctx, ports.FrameQuery{BatchID: "orders", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, table.Len())
	assert.Len(t, table.Columns, 5)

	_, err = e.ExecuteQuery(ctx, ports.SQLQuery{Text: "SELECT 1"})
	assert.ErrorIs(t, err, ports.ErrUnsupportedQuery)

	_, err = e.ExecuteQuery(ctx, ports.FrameQuery{Columns: []string{"nope"}})
	var engErr *ports.ExecutionEngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, ports.BackendTabular, engErr.Backend)
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)
}

func TestEngine_QueryMiddleware(t *testing.T) {
	var seen []string
	spy := func(next query.Runner) query.Runner {
		return query.RunnerFunc(func(ctx context.Context, q ports.Query) (domain.Table, error) {
			seen = append(seen, q.Describe())
			return next.Run(ctx, q)
		})
	}
	e := loadOrders(t, WithQueryMiddleware(spy))

	_, err := e.ExecuteQuery(context.Background(), ports.FrameQuery{Columns: []string{"id"}, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"select id limit 2"}, seen)
}

func TestEngine_ColumnTypesAndLifecycle(t *testing.T) {
	e := loadOrders(t)
	ctx := context.Background()

	cd, err := e.GetComputeDomain(ctx, domain.Kwargs{}, ports.DomainTable)
	require.NoError(t, err)
	types, err := e.ColumnTypes(ctx, cd)
	require.NoError(t, err)
	require.Len(t, types, 5)
	assert.Equal(t, "int64", types[0].Native)

	require.NoError(t, e.Ping(ctx))
	require.NoError(t, e.Close())
	err = e.Ping(ctx)
	assert.True(t, ports.IsResourceError(err))
}
