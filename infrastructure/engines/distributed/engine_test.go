package distributed

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-assay/infrastructure/engines/tabular"
	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

const eventsCSV = `id,amount,kind,ok
1,10.5,click,true
2,,view,false
3,7,click,
4,1.5,view,true
5,2,click,true
`

func loadEvents(t *testing.T, mem memory.Allocator, opts ...Option) *Engine {
	t.Helper()
	e := NewEngine(append([]Option{WithAllocator(mem), WithPartitions(2)}, opts...)...)
	require.NoError(t, e.LoadBatch(context.Background(), "events", strings.NewReader(eventsCSV)))
	return e
}

func sumAmount(ctx context.Context, rows ports.RowView) (any, error) {
	total := 0.0
	for i := range rows.Len() {
		v, _ := rows.Value(i, "amount")
		if f, ok := domain.ToFloat64(v); ok {
			total += f
		}
	}
	return total, nil
}

func TestFrameToRecords_Partitions(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	frame, err := tabular.ReadCSV(strings.NewReader(eventsCSV))
	require.NoError(t, err)

	tests := []struct {
		n    int
		want []int64
	}{
		{n: 1, want: []int64{5}},
		{n: 2, want: []int64{3, 2}},
		{n: 4, want: []int64{2, 2, 1}},
		{n: 10, want: []int64{1, 1, 1, 1, 1}},
		{n: 0, want: []int64{5}},
	}
	for _, tt := range tests {
		recs, err := FrameToRecords(mem, frame, tt.n)
		require.NoError(t, err)
		var sizes []int64
		for _, r := range recs {
			sizes = append(sizes, r.NumRows())
		}
		assert.Equal(t, tt.want, sizes, "n=%d", tt.n)
		releaseAll(recs)
	}

	empty, err := tabular.NewFrame([]string{"a"}, nil)
	require.NoError(t, err)
	recs, err := FrameToRecords(mem, empty, 3)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(0), recs[0].NumRows())
	releaseAll(recs)
}

func TestEngine_LoadCSVAndMapPartitions(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)
	e := loadEvents(t, mem)
	defer func() { require.NoError(t, e.Close()) }()
	ctx := context.Background()

	got, err := e.GetBatch("events")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	cd, err := e.GetComputeDomain(ctx, domain.Kwargs{"column": "amount"}, ports.DomainColumn)
	require.NoError(t, err)
	assert.Equal(t, "events", cd.ComputeKwargs[domain.KwargBatchID])

	partials, err := e.MapPartitions(ctx, cd, sumAmount)
	require.NoError(t, err)
	assert.Equal(t, []any{17.5, 3.5}, partials, "results keep partition order")

	cd, err = e.GetComputeDomain(ctx, domain.Kwargs{"column": "amount", "row_condition": "kind == 'click'"}, ports.DomainColumn)
	require.NoError(t, err)
	partials, err = e.MapPartitions(ctx, cd, sumAmount)
	require.NoError(t, err)
	assert.Equal(t, []any{17.5, 2.0}, partials)
}

func TestEngine_MapPartitionsFirstErrorCancels(t *testing.T) {
	mem := memory.NewGoAllocator()
	e := NewEngine(WithAllocator(mem), WithPartitions(5), WithParallelism(1))
	defer func() { _ = e.Close() }()
	ctx := context.Background()
	require.NoError(t, e.LoadBatch(ctx, "events", strings.NewReader(eventsCSV)))

	cd, err := e.GetComputeDomain(ctx, domain.Kwargs{}, ports.DomainTable)
	require.NoError(t, err)

	var calls atomic.Int32
	boom := errors.New("boom")
	_, err = e.MapPartitions(ctx, cd, func(ctx context.Context, rows ports.RowView) (any, error) {
		if calls.Add(1) == 1 {
			return nil, boom
		}
		return rows.Len(), nil
	})
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "partition 0")
	assert.Equal(t, int32(1), calls.Load(), "remaining partitions are skipped after the first error")

	_, err = e.MapPartitions(ctx, ports.ComputeDomain{Selectable: "x"}, sumAmount)
	assert.ErrorIs(t, err, domain.ErrTypeMismatch)
}

func TestEngine_MapPartitionsRespectsParallelism(t *testing.T) {
	e := NewEngine(WithPartitions(5), WithParallelism(2))
	defer func() { _ = e.Close() }()
	ctx := context.Background()
	require.NoError(t, e.LoadBatch(ctx, "events", strings.NewReader(eventsCSV)))
	cd, err := e.GetComputeDomain(ctx, domain.Kwargs{}, ports.DomainTable)
	require.NoError(t, err)

	var active, peak atomic.Int32
	_, err = e.MapPartitions(ctx, cd, func(context.Context, ports.RowView) (any, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		active.Add(-1)
		return nil, nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestEngine_LoadRecords(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "n", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
		{Name: "label", Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil)
	b := array.NewRecordBuilder(mem, schema)
	b.Field(0).(*array.Int32Builder).AppendValues([]int32{1, 2}, []bool{true, false})
	b.Field(1).(*array.StringBuilder).AppendValues([]string{"a", "b"}, nil)
	rec := b.NewRecord()
	b.Release()

	e := NewEngine(WithAllocator(mem))
	require.NoError(t, e.LoadBatch(context.Background(), "raw", rec))
	rec.Release()

	cd, err := e.GetComputeDomain(context.Background(), domain.Kwargs{}, ports.DomainTable)
	require.NoError(t, err)
	vals, err := e.MapPartitions(context.Background(), cd, func(_ context.Context, rows ports.RowView) (any, error) {
		a, _ := rows.Value(0, "n")
		n, _ := rows.Value(1, "n")
		l, _ := rows.Value(1, "label")
		return []any{a, n, l}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []any{[]any{int64(1), nil, "b"}}, vals)

	types, err := e.ColumnTypes(context.Background(), cd)
	require.NoError(t, err)
	require.Len(t, types, 2)
	assert.Equal(t, domain.TypeInteger, types[0].Type)
	assert.Equal(t, "int32", types[0].Extras["arrow_type"])
	assert.Equal(t, domain.TypeString, types[1].Type)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close(), "close is idempotent")
	assert.True(t, ports.IsResourceError(e.Ping(context.Background())))
}

func TestEngine_ExecuteQuery(t *testing.T) {
	e := loadEvents(t, memory.NewGoAllocator())
	defer func() { _ = e.Close() }()
	ctx := context.Background()

	cond, err := domain.ParseRowCondition("kind == 'click'")
	require.NoError(t, err)

	table, err := e.ExecuteQuery(ctx, ports.FrameQuery{Columns: []string{"id"}, Condition: cond})
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(1)}, {int64(3)}, {int64(5)}}, table.Rows, "partitions are concatenated in order")

	table, err = e.ExecuteQuery(ctx, ports.FrameQuery{Columns: []string{"id"}, Limit: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, table.Len())

	_, err = e.ExecuteQuery(ctx, ports.SQLQuery{Text: "SELECT 1"})
	assert.ErrorIs(t, err, ports.ErrUnsupportedQuery)

	_, err = e.ExecuteQuery(ctx, ports.FrameQuery{BatchID: "other"})
	assert.ErrorIs(t, err, ports.ErrBatchNotLoaded)
}

func TestEngine_LoadBatchErrors(t *testing.T) {
	e := NewEngine()
	ctx := context.Background()

	err := e.LoadBatch(ctx, "x", 3.14)
	assert.ErrorIs(t, err, domain.ErrTypeMismatch)

	err = e.LoadBatch(ctx, "x", []arrow.Record{})
	assert.ErrorIs(t, err, domain.ErrEmptyValue)

	mem := memory.NewGoAllocator()
	r1 := array.NewRecord(arrow.NewSchema([]arrow.Field{{Name: "a", Type: arrow.PrimitiveTypes.Int64}}, nil), []arrow.Array{emptyInt64(mem)}, 0)
	r2 := array.NewRecord(arrow.NewSchema([]arrow.Field{{Name: "b", Type: arrow.PrimitiveTypes.Int64}}, nil), []arrow.Array{emptyInt64(mem)}, 0)
	err = e.LoadBatch(ctx, "x", []arrow.Record{r1, r2})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	assert.Empty(t, e.ActiveBatchID())
}

func emptyInt64(mem memory.Allocator) arrow.Array {
	b := array.NewInt64Builder(mem)
	defer b.Release()
	return b.NewArray()
}
