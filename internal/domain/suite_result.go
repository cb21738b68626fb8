package domain

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// SuiteStatistics summarizes a set of expectation results.
// SuccessPercent is nil when nothing was evaluated. Success is only set on
// derived views such as GetFailedValidationResults.
type SuiteStatistics struct {
	EvaluatedExpectations    int      `json:"evaluated_expectations"`
	SuccessfulExpectations   int      `json:"successful_expectations"`
	UnsuccessfulExpectations int      `json:"unsuccessful_expectations"`
	SuccessPercent           *float64 `json:"success_percent"`
	Success                  *bool    `json:"success,omitempty"`
}

// ComputeStatistics folds results into statistics. An undetermined success
// counts as unsuccessful.
func ComputeStatistics(results []*ExpectationValidationResult) SuiteStatistics {
	stats := SuiteStatistics{EvaluatedExpectations: len(results)}
	for _, r := range results {
		if r.Succeeded() {
			stats.SuccessfulExpectations++
		}
	}
	stats.UnsuccessfulExpectations = stats.EvaluatedExpectations - stats.SuccessfulExpectations
	if stats.EvaluatedExpectations > 0 {
		pct := float64(stats.SuccessfulExpectations) / float64(stats.EvaluatedExpectations) * 100
		stats.SuccessPercent = &pct
	}
	return stats
}

// Get returns a statistic by its wire name.
func (s SuiteStatistics) Get(name string) (any, bool) {
	switch name {
	case "evaluated_expectations":
		return s.EvaluatedExpectations, true
	case "successful_expectations":
		return s.SuccessfulExpectations, true
	case "unsuccessful_expectations":
		return s.UnsuccessfulExpectations, true
	case "success_percent":
		if s.SuccessPercent == nil {
			return nil, true
		}
		return *s.SuccessPercent, true
	case "success":
		if s.Success == nil {
			return nil, false
		}
		return *s.Success, true
	}
	return nil, false
}

func (s SuiteStatistics) toMap() map[string]any {
	m := map[string]any{
		"evaluated_expectations":    s.EvaluatedExpectations,
		"successful_expectations":   s.SuccessfulExpectations,
		"unsuccessful_expectations": s.UnsuccessfulExpectations,
		"success_percent":           nil,
	}
	if s.SuccessPercent != nil {
		m["success_percent"] = *s.SuccessPercent
	}
	if s.Success != nil {
		m["success"] = *s.Success
	}
	return m
}

func (s SuiteStatistics) equal(o SuiteStatistics) bool {
	if s.EvaluatedExpectations != o.EvaluatedExpectations ||
		s.SuccessfulExpectations != o.SuccessfulExpectations ||
		s.UnsuccessfulExpectations != o.UnsuccessfulExpectations {
		return false
	}
	if (s.SuccessPercent == nil) != (o.SuccessPercent == nil) {
		return false
	}
	if s.SuccessPercent != nil && *s.SuccessPercent != *o.SuccessPercent {
		return false
	}
	return boolPtrEqual(s.Success, o.Success)
}

func statisticsFromMap(m map[string]any) SuiteStatistics {
	var s SuiteStatistics
	if f, ok := ToFloat64(m["evaluated_expectations"]); ok {
		s.EvaluatedExpectations = int(f)
	}
	if f, ok := ToFloat64(m["successful_expectations"]); ok {
		s.SuccessfulExpectations = int(f)
	}
	if f, ok := ToFloat64(m["unsuccessful_expectations"]); ok {
		s.UnsuccessfulExpectations = int(f)
	}
	if f, ok := ToFloat64(m["success_percent"]); ok {
		s.SuccessPercent = &f
	}
	if b, ok := m["success"].(bool); ok {
		s.Success = Bool(b)
	}
	return s
}

// SuiteValidationResultParams carries the inputs to
// NewExpectationSuiteValidationResult. A nil Statistics is computed from
// Results.
type SuiteValidationResultParams struct {
	Success         bool
	Results         []*ExpectationValidationResult
	SuiteName       string
	SuiteParameters map[string]any
	Statistics      *SuiteStatistics
	Meta            map[string]any
	BatchID         string
	ResultURL       string
	ID              string
}

type metricCacheKey struct {
	name     string
	kwargsID string
}

// ExpectationSuiteValidationResult aggregates the results of one suite run.
type ExpectationSuiteValidationResult struct {
	success         bool
	results         []*ExpectationValidationResult
	suiteName       string
	suiteParameters map[string]any
	statistics      SuiteStatistics
	meta            map[string]any
	batchID         string
	resultURL       string
	id              string

	mu      sync.Mutex
	metrics map[metricCacheKey]any
}

// NewExpectationSuiteValidationResult requires a suite name and JSON
// serializable meta and suite parameters.
func NewExpectationSuiteValidationResult(p SuiteValidationResultParams) (*ExpectationSuiteValidationResult, error) {
	if strings.TrimSpace(p.SuiteName) == "" {
		return nil, fmt.Errorf("suite name: %w", ErrEmptyValue)
	}
	if err := EnsureJSONSerializable(p.Meta); err != nil {
		return nil, fmt.Errorf("suite %s meta: %w", p.SuiteName, err)
	}
	if err := EnsureJSONSerializable(p.SuiteParameters); err != nil {
		return nil, fmt.Errorf("suite %s parameters: %w", p.SuiteName, err)
	}
	stats := ComputeStatistics(p.Results)
	if p.Statistics != nil {
		stats = *p.Statistics
	}
	return &ExpectationSuiteValidationResult{
		success:         p.Success,
		results:         slices.Clone(p.Results),
		suiteName:       p.SuiteName,
		suiteParameters: Kwargs(p.SuiteParameters).Clone(),
		statistics:      stats,
		meta:            Kwargs(p.Meta).Clone(),
		batchID:         p.BatchID,
		resultURL:       p.ResultURL,
		id:              p.ID,
		metrics:         make(map[metricCacheKey]any),
	}, nil
}

func (r *ExpectationSuiteValidationResult) Success() bool     { return r.success }
func (r *ExpectationSuiteValidationResult) SuiteName() string { return r.suiteName }
func (r *ExpectationSuiteValidationResult) BatchID() string   { return r.batchID }
func (r *ExpectationSuiteValidationResult) ResultURL() string { return r.resultURL }
func (r *ExpectationSuiteValidationResult) ID() string        { return r.id }

// Results returns the per-expectation results in evaluation order.
func (r *ExpectationSuiteValidationResult) Results() []*ExpectationValidationResult {
	return slices.Clone(r.results)
}

func (r *ExpectationSuiteValidationResult) Statistics() SuiteStatistics { return r.statistics }

func (r *ExpectationSuiteValidationResult) SuiteParameters() map[string]any {
	return Kwargs(r.suiteParameters).Clone()
}

func (r *ExpectationSuiteValidationResult) Meta() map[string]any { return Kwargs(r.meta).Clone() }

// WithResultURL returns a copy pointing at the stored location.
func (r *ExpectationSuiteValidationResult) WithResultURL(url string) *ExpectationSuiteValidationResult {
	out, _ := NewExpectationSuiteValidationResult(r.params())
	out.resultURL = url
	return out
}

func (r *ExpectationSuiteValidationResult) params() SuiteValidationResultParams {
	stats := r.statistics
	return SuiteValidationResultParams{
		Success:         r.success,
		Results:         r.results,
		SuiteName:       r.suiteName,
		SuiteParameters: r.suiteParameters,
		Statistics:      &stats,
		Meta:            r.meta,
		BatchID:         r.batchID,
		ResultURL:       r.resultURL,
		ID:              r.id,
	}
}

// GetMetric exposes "statistics.<name>" and expectation metrics of the form
// "expect_<...>.success" or "expect_<...>.result[.details].<key>". The first
// result whose type and kwargs match metricKwargs and which holds a non-nil
// value answers the lookup; answers are cached per (name, kwargs id).
func (r *ExpectationSuiteValidationResult) GetMetric(metricName string, metricKwargs Kwargs) (any, error) {
	parts := strings.Split(metricName, ".")
	if parts[0] == "statistics" {
		if len(parts) == 2 {
			if v, ok := r.statistics.Get(parts[1]); ok {
				return v, nil
			}
		}
		return nil, &UnavailableMetricError{MetricName: metricName}
	}
	if !strings.HasPrefix(strings.ToLower(parts[0]), "expect_") {
		return nil, &UnavailableMetricError{MetricName: metricName}
	}

	key := metricCacheKey{name: metricName, kwargsID: MetricKwargsID(metricKwargs)}
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.metrics[key]; ok {
		return v, nil
	}
	for _, res := range r.results {
		if res.config == nil || res.config.Type() != parts[0] {
			continue
		}
		v, err := res.GetMetric(metricName, metricKwargs)
		if err != nil {
			continue
		}
		if v != nil {
			r.metrics[key] = v
			return v, nil
		}
	}
	return nil, &UnavailableMetricError{MetricName: metricName}
}

// GetFailedValidationResults returns a view over the results that did not
// succeed, with statistics recomputed over that subset. The view succeeds
// only when the subset is empty.
func (r *ExpectationSuiteValidationResult) GetFailedValidationResults() *ExpectationSuiteValidationResult {
	var failed []*ExpectationValidationResult
	for _, res := range r.results {
		if !res.Succeeded() {
			failed = append(failed, res)
		}
	}
	stats := ComputeStatistics(failed)
	success := stats.SuccessfulExpectations == stats.EvaluatedExpectations
	stats.Success = Bool(success)

	out, _ := NewExpectationSuiteValidationResult(SuiteValidationResultParams{
		Success:         success,
		Results:         failed,
		SuiteName:       r.suiteName,
		SuiteParameters: r.suiteParameters,
		Statistics:      &stats,
		Meta:            r.meta,
	})
	return out
}

// DescribeDict is the summary consumed by renderers.
func (r *ExpectationSuiteValidationResult) DescribeDict() map[string]any {
	expectations := make([]any, len(r.results))
	for i, res := range r.results {
		expectations[i] = res.DescribeDict()
	}
	var url any
	if r.resultURL != "" {
		url = r.resultURL
	}
	return map[string]any{
		"success":      r.success,
		"statistics":   r.statistics.toMap(),
		"expectations": expectations,
		"result_url":   url,
	}
}

// ToJSONDict returns the wire form consumed by stores.
func (r *ExpectationSuiteValidationResult) ToJSONDict() map[string]any {
	results := make([]any, len(r.results))
	for i, res := range r.results {
		results[i] = res.ToJSONDict()
	}
	d := map[string]any{
		"success":          r.success,
		"results":          results,
		"suite_name":       r.suiteName,
		"suite_parameters": map[string]any(Kwargs(r.suiteParameters).Clone()),
		"statistics":       r.statistics.toMap(),
		"meta":             map[string]any(Kwargs(r.meta).Clone()),
		"id":               nil,
	}
	if r.id != "" {
		d["id"] = r.id
	}
	if r.batchID != "" {
		d["batch_id"] = r.batchID
	}
	if r.resultURL != "" {
		d["result_url"] = r.resultURL
	}
	return d
}

// MarshalJSON encodes ToJSONDict.
func (r *ExpectationSuiteValidationResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ToJSONDict())
}

// Equal compares success, results pairwise, suite parameters, statistics and
// meta. Identity fields (id, batch id, result url) are ignored.
func (r *ExpectationSuiteValidationResult) Equal(o *ExpectationSuiteValidationResult) bool {
	if r == nil || o == nil {
		return r == o
	}
	if r.success != o.success || len(r.results) != len(o.results) {
		return false
	}
	for i := range r.results {
		if !r.results[i].Equal(o.results[i]) {
			return false
		}
	}
	return Kwargs(r.suiteParameters).Equal(o.suiteParameters) &&
		r.statistics.equal(o.statistics) &&
		Kwargs(r.meta).Equal(o.meta)
}

// ExpectationSuiteValidationResultFromMap rebuilds a suite result from its
// wire form.
func ExpectationSuiteValidationResultFromMap(m map[string]any) (*ExpectationSuiteValidationResult, error) {
	p := SuiteValidationResultParams{}
	p.Success, _ = m["success"].(bool)
	p.SuiteName, _ = m["suite_name"].(string)
	p.SuiteParameters, _ = m["suite_parameters"].(map[string]any)
	p.Meta, _ = m["meta"].(map[string]any)
	p.ID, _ = m["id"].(string)
	p.BatchID, _ = m["batch_id"].(string)
	p.ResultURL, _ = m["result_url"].(string)
	if raw, ok := m["results"].([]any); ok {
		for i, item := range raw {
			rm, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("results[%d]: %w", i, ErrTypeMismatch)
			}
			res, err := ExpectationValidationResultFromMap(rm)
			if err != nil {
				return nil, fmt.Errorf("results[%d]: %w", i, err)
			}
			p.Results = append(p.Results, res)
		}
	}
	if sm, ok := m["statistics"].(map[string]any); ok {
		stats := statisticsFromMap(sm)
		p.Statistics = &stats
	}
	return NewExpectationSuiteValidationResult(p)
}
