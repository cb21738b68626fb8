// Package distributed implements the partitioned-frame execution engine.
// A batch is a list of Arrow record batches sharing one schema; metrics
// are computed per partition in parallel and merged by the caller.
package distributed

import (
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/ahrav/go-assay/infrastructure/engines/tabular"
	"github.com/ahrav/go-assay/internal/domain"
)

// recordView exposes one record batch as a ports.RowView.
type recordView struct {
	rec     arrow.Record
	columns []string
	index   map[string]int
}

func newRecordView(rec arrow.Record) *recordView {
	schema := rec.Schema()
	v := &recordView{
		rec:     rec,
		columns: make([]string, schema.NumFields()),
		index:   make(map[string]int, schema.NumFields()),
	}
	for i, f := range schema.Fields() {
		v.columns[i] = f.Name
		v.index[f.Name] = i
	}
	return v
}

func (v *recordView) Len() int { return int(v.rec.NumRows()) }

func (v *recordView) Columns() []string { return v.columns }

func (v *recordView) Value(row int, column string) (any, bool) {
	i, ok := v.index[column]
	if !ok || row < 0 || row >= v.Len() {
		return nil, false
	}
	return arrowValue(v.rec.Column(i), row), true
}

// arrowValue converts one array slot to the Go value the metric code
// expects: int64, float64, bool, string, time.Time or nil.
func arrowValue(arr arrow.Array, i int) any {
	if arr.IsNull(i) {
		return nil
	}
	switch a := arr.(type) {
	case *array.Int64:
		return a.Value(i)
	case *array.Int32:
		return int64(a.Value(i))
	case *array.Float64:
		return a.Value(i)
	case *array.Float32:
		return float64(a.Value(i))
	case *array.Boolean:
		return a.Value(i)
	case *array.String:
		return a.Value(i)
	case *array.LargeString:
		return a.Value(i)
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return a.Value(i).ToTime(unit)
	case *array.Date32:
		return a.Value(i).ToTime()
	}
	return arr.GetOneForMarshal(i)
}

// arrowType maps an inferred frame column type to an Arrow data type.
func arrowType(ct domain.ColumnType) arrow.DataType {
	switch ct.Type {
	case domain.TypeInteger:
		return arrow.PrimitiveTypes.Int64
	case domain.TypeFloat:
		return arrow.PrimitiveTypes.Float64
	case domain.TypeBoolean:
		return arrow.FixedWidthTypes.Boolean
	case domain.TypeDatetime:
		return arrow.FixedWidthTypes.Timestamp_us
	}
	return arrow.BinaryTypes.String
}

// FrameToRecords splits a frame into at most n record batches of near
// equal size. A frame with no rows yields one empty record.
func FrameToRecords(mem memory.Allocator, frame *tabular.Frame, n int) ([]arrow.Record, error) {
	types := frame.Types()
	fields := make([]arrow.Field, len(types))
	for i, ct := range types {
		fields[i] = arrow.Field{Name: ct.Name, Type: arrowType(ct), Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	if n < 1 {
		n = 1
	}
	rows := frame.Len()
	size := (rows + n - 1) / n
	if size == 0 {
		size = 1
	}

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	var recs []arrow.Record
	for start := 0; start < rows || len(recs) == 0; start += size {
		end := min(start+size, rows)
		for row := start; row < end; row++ {
			for col, f := range fields {
				v, _ := frame.Value(row, f.Name)
				if err := appendValue(b.Field(col), v); err != nil {
					releaseAll(recs)
					return nil, fmt.Errorf("row %d column %q: %w", row, f.Name, err)
				}
			}
		}
		recs = append(recs, b.NewRecord())
	}
	return recs, nil
}

func appendValue(b array.Builder, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch fb := b.(type) {
	case *array.Int64Builder:
		f, ok := domain.ToFloat64(v)
		if !ok {
			return fmt.Errorf("%T into int64: %w", v, domain.ErrTypeMismatch)
		}
		fb.Append(int64(f))
	case *array.Float64Builder:
		f, ok := domain.ToFloat64(v)
		if !ok {
			return fmt.Errorf("%T into float64: %w", v, domain.ErrTypeMismatch)
		}
		fb.Append(f)
	case *array.BooleanBuilder:
		bv, ok := v.(bool)
		if !ok {
			return fmt.Errorf("%T into bool: %w", v, domain.ErrTypeMismatch)
		}
		fb.Append(bv)
	case *array.TimestampBuilder:
		t, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("%T into timestamp: %w", v, domain.ErrTypeMismatch)
		}
		fb.Append(arrow.Timestamp(t.UnixMicro()))
	case *array.StringBuilder:
		if s, ok := v.(string); ok {
			fb.Append(s)
		} else {
			fb.Append(fmt.Sprint(v))
		}
	default:
		return fmt.Errorf("builder %T: %w", b, domain.ErrTypeMismatch)
	}
	return nil
}

// normalizeArrowType maps an Arrow type onto the common type catalogue.
func normalizeArrowType(dt arrow.DataType) string {
	switch dt.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return domain.TypeInteger
	case arrow.FLOAT16, arrow.FLOAT32, arrow.FLOAT64:
		return domain.TypeFloat
	case arrow.DECIMAL128, arrow.DECIMAL256:
		return domain.TypeDecimal
	case arrow.STRING, arrow.LARGE_STRING:
		return domain.TypeString
	case arrow.BOOL:
		return domain.TypeBoolean
	case arrow.DATE32, arrow.DATE64:
		return domain.TypeDate
	case arrow.TIMESTAMP:
		return domain.TypeDatetime
	case arrow.BINARY, arrow.LARGE_BINARY, arrow.FIXED_SIZE_BINARY:
		return domain.TypeBinary
	}
	return domain.TypeUnknown
}

func releaseAll(recs []arrow.Record) {
	for _, r := range recs {
		r.Release()
	}
}
