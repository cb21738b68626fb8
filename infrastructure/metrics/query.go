package metrics

import (
	"context"
	"fmt"
	"strings"

	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

// BatchPlaceholder is replaced by the active batch in query metrics.
const BatchPlaceholder = "{batch}"

// queryParam reads a required string value kwarg.
func queryParam(owner string, kw domain.Kwargs, key string) (string, error) {
	raw, ok := kw[key]
	if !ok || raw == nil {
		return "", &ports.MissingParameterError{Owner: owner, Parameter: key}
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s parameter %s must be a string, got %T: %w", owner, key, raw, domain.ErrTypeMismatch)
	}
	if strings.TrimSpace(s) == "" {
		return "", &ports.MissingParameterError{Owner: owner, Parameter: key}
	}
	return s, nil
}

// substituteBatch replaces every {batch} in text with the domain's
// selectable. A filtered domain becomes a subselect, aliased unless the
// query joins, and its arguments are repeated for every occurrence when
// the dialect binds positionally.
func substituteBatch(text string, d ports.Dialect, sel ports.SQLSelectable) (string, []any) {
	n := strings.Count(text, BatchPlaceholder)
	if n == 0 {
		return text, nil
	}
	if sel.Where == "" {
		return strings.ReplaceAll(text, BatchPlaceholder, sel.From), nil
	}
	sub := "(SELECT * FROM " + sel.From + " WHERE " + sel.Where + ")"
	if !strings.Contains(strings.ToUpper(text), "JOIN") {
		sub += " AS subselect"
	}
	text = strings.ReplaceAll(text, BatchPlaceholder, sub)
	if d.Placeholder(1) != d.Placeholder(2) {
		return text, sel.Args
	}
	args := make([]any, 0, n*len(sel.Args))
	for range n {
		args = append(args, sel.Args...)
	}
	return text, args
}

// queryTable runs the query in value kwarg param against the batch. The
// result is capped at MaxResultRecords rows.
func queryTable(name, param string) *provider {
	return &provider{
		name:       name,
		domainType: ports.DomainTable,
		valueKeys:  []string{param},
		sql: func(ctx context.Context, e ports.SQLEngine, call ports.MetricCall) (any, error) {
			text, err := queryParam(name, call.ValueKwargs, param)
			if err != nil {
				return nil, err
			}
			cd, err := e.GetComputeDomain(ctx, call.DomainKwargs, ports.DomainTable)
			if err != nil {
				return nil, err
			}
			sel, err := e.Selectable(cd)
			if err != nil {
				return nil, err
			}
			text, args := substituteBatch(text, e.Dialect(), sel)
			t, err := e.ExecuteQuery(ctx, ports.SQLQuery{Text: text, Args: args, MaxRows: MaxResultRecords})
			if err != nil {
				return nil, err
			}
			return t, nil
		},
	}
}

// queryDataSourceTable runs the query in value kwarg queryKey on the named
// secondary data source from dsKey. The batch is not substituted and the
// result is capped at MaxResultRecords rows.
func queryDataSourceTable(name, queryKey, dsKey string) *provider {
	return &provider{
		name:       name,
		domainType: ports.DomainTable,
		valueKeys:  []string{queryKey, dsKey},
		sql: func(ctx context.Context, e ports.SQLEngine, call ports.MetricCall) (any, error) {
			text, err := queryParam(name, call.ValueKwargs, queryKey)
			if err != nil {
				return nil, err
			}
			ds, err := queryParam(name, call.ValueKwargs, dsKey)
			if err != nil {
				return nil, err
			}
			t, err := e.ExecuteQuery(ctx, ports.SQLQuery{Text: text, DataSource: ds, MaxRows: MaxResultRecords})
			if err != nil {
				return nil, err
			}
			return t, nil
		},
	}
}
