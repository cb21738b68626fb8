package engines

import (
	"fmt"
	"slices"

	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

// Row-skipping modes for multi-column domains.
const (
	IgnoreBothMissing   = "both_values_are_missing"
	IgnoreEitherMissing = "either_value_is_missing"
	IgnoreAllMissing    = "all_values_are_missing"
	IgnoreAnyMissing    = "any_value_is_missing"
	IgnoreNever         = "never"
	ignoreNeither       = "neither"
)

// DomainSpec is the backend-independent reading of a set of domain kwargs.
type DomainSpec struct {
	// Type is the requested domain type.
	Type ports.DomainType

	// Compute holds the kwargs that shape the selection: batch_id,
	// row_condition, condition_parser and ignore_row_if.
	Compute domain.Kwargs

	// Accessor holds the kwargs used to read values out of the selection.
	Accessor domain.Kwargs

	// Condition is the parsed row_condition, zero when absent.
	Condition domain.RowCondition

	// Columns lists the accessor columns in domain order: one for a
	// column domain, two for a pair, the list for a multicolumn domain.
	Columns []string

	// IgnoreRowIf is the resolved skipping mode for pair and multicolumn
	// domains, empty otherwise.
	IgnoreRowIf string
}

// SplitDomainKwargs separates kwargs into compute and accessor kwargs for
// domainType and checks that the keys the domain requires are present.
// Unknown keys stay with the compute kwargs.
func SplitDomainKwargs(kwargs domain.Kwargs, domainType ports.DomainType) (DomainSpec, error) {
	owner := string(domainType) + " domain"
	spec := DomainSpec{Type: domainType}

	var accessorKeys []string
	switch domainType {
	case ports.DomainTable:
	case ports.DomainColumn:
		col, ok := kwargs.String(domain.KwargColumn)
		if !ok || col == "" {
			return DomainSpec{}, &ports.MissingParameterError{Owner: owner, Parameter: domain.KwargColumn}
		}
		spec.Columns = []string{col}
		accessorKeys = []string{domain.KwargColumn}
	case ports.DomainColumnPair:
		for _, key := range []string{domain.KwargColumnA, domain.KwargColumnB} {
			col, ok := kwargs.String(key)
			if !ok || col == "" {
				return DomainSpec{}, &ports.MissingParameterError{Owner: owner, Parameter: key}
			}
			spec.Columns = append(spec.Columns, col)
		}
		accessorKeys = []string{domain.KwargColumnA, domain.KwargColumnB}
	case ports.DomainMulticolumn:
		cols, err := columnList(kwargs[domain.KwargColumnList])
		if err != nil {
			return DomainSpec{}, err
		}
		if len(cols) == 0 {
			return DomainSpec{}, &ports.MissingParameterError{Owner: owner, Parameter: domain.KwargColumnList}
		}
		spec.Columns = cols
		accessorKeys = []string{domain.KwargColumnList}
	default:
		return DomainSpec{}, fmt.Errorf("domain type %q: %w", domainType, domain.ErrInvalidConfiguration)
	}

	spec.Accessor = kwargs.Only(accessorKeys...)
	spec.Compute = kwargs.Without(accessorKeys...)

	cond, err := conditionFrom(kwargs[domain.KwargRowCondition])
	if err != nil {
		return DomainSpec{}, err
	}
	spec.Condition = cond

	mode, err := ignoreMode(kwargs, domainType)
	if err != nil {
		return DomainSpec{}, err
	}
	spec.IgnoreRowIf = mode
	return spec, nil
}

func conditionFrom(v any) (domain.RowCondition, error) {
	switch c := v.(type) {
	case nil:
		return domain.RowCondition{}, nil
	case string:
		return domain.ParseRowCondition(c)
	case domain.RowCondition:
		return c, nil
	}
	return domain.RowCondition{}, fmt.Errorf("row_condition must be a string, got %T: %w", v, domain.ErrTypeMismatch)
}

func columnList(v any) ([]string, error) {
	switch cols := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return slices.Clone(cols), nil
	case []any:
		out := make([]string, 0, len(cols))
		for _, c := range cols {
			s, ok := c.(string)
			if !ok {
				return nil, fmt.Errorf("column_list entry %v: %w", c, domain.ErrTypeMismatch)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("column_list must be a list, got %T: %w", v, domain.ErrTypeMismatch)
}

func ignoreMode(kwargs domain.Kwargs, domainType ports.DomainType) (string, error) {
	mode, _ := kwargs.String(domain.KwargIgnoreRowIf)
	switch domainType {
	case ports.DomainColumnPair:
		switch mode {
		case "":
			return IgnoreBothMissing, nil
		case ignoreNeither:
			return IgnoreNever, nil
		case IgnoreBothMissing, IgnoreEitherMissing, IgnoreNever:
			return mode, nil
		}
	case ports.DomainMulticolumn:
		switch mode {
		case "":
			return IgnoreAllMissing, nil
		case IgnoreAllMissing, IgnoreAnyMissing, IgnoreNever:
			return mode, nil
		}
	default:
		return "", nil
	}
	return "", fmt.Errorf("ignore_row_if %q for %s domain: %w", mode, domainType, domain.ErrInvalidConfiguration)
}

// skipRow reports whether a row is dropped by the ignore_row_if mode given
// the null-ness of each accessor column.
func skipRow(mode string, nulls []bool) bool {
	missing := 0
	for _, n := range nulls {
		if n {
			missing++
		}
	}
	switch mode {
	case IgnoreBothMissing, IgnoreAllMissing:
		return len(nulls) > 0 && missing == len(nulls)
	case IgnoreEitherMissing, IgnoreAnyMissing:
		return missing > 0
	}
	return false
}
