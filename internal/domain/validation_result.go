package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Result dict keys with construction-time invariants.
var (
	nonNegativeCountKeys = []string{"unexpected_count", "missing_count"}
	percentKeys          = []string{"unexpected_percent", "missing_percent", "unexpected_percent_nonmissing"}
)

// Bool returns a pointer to b, for optional success flags.
func Bool(b bool) *bool { return &b }

// ExceptionInfo records whether evaluation raised, and with what message.
// The zero value means "no exception".
type ExceptionInfo struct {
	RaisedException    bool    `json:"raised_exception"`
	ExceptionTraceback *string `json:"exception_traceback"`
	ExceptionMessage   *string `json:"exception_message"`
}

// NewExceptionInfo builds the info for an errored evaluation. An empty
// traceback is recorded as null.
func NewExceptionInfo(err error, traceback string) ExceptionInfo {
	msg := err.Error()
	info := ExceptionInfo{RaisedException: true, ExceptionMessage: &msg}
	if traceback != "" {
		info.ExceptionTraceback = &traceback
	}
	return info
}

// Equal compares field by field, dereferencing the optional strings.
func (e ExceptionInfo) Equal(o ExceptionInfo) bool {
	return e.RaisedException == o.RaisedException &&
		strPtrEqual(e.ExceptionTraceback, o.ExceptionTraceback) &&
		strPtrEqual(e.ExceptionMessage, o.ExceptionMessage)
}

func (e ExceptionInfo) toMap() map[string]any {
	m := map[string]any{
		"raised_exception":    e.RaisedException,
		"exception_traceback": nil,
		"exception_message":   nil,
	}
	if e.ExceptionTraceback != nil {
		m["exception_traceback"] = *e.ExceptionTraceback
	}
	if e.ExceptionMessage != nil {
		m["exception_message"] = *e.ExceptionMessage
	}
	return m
}

func exceptionInfoFromMap(m map[string]any) ExceptionInfo {
	var info ExceptionInfo
	info.RaisedException, _ = m["raised_exception"].(bool)
	if s, ok := m["exception_traceback"].(string); ok {
		info.ExceptionTraceback = &s
	}
	if s, ok := m["exception_message"].(string); ok {
		info.ExceptionMessage = &s
	}
	return info
}

// ExpectationValidationResultParams carries the inputs to
// NewExpectationValidationResult.
type ExpectationValidationResultParams struct {
	Success           *bool
	ExpectationConfig *ExpectationConfiguration
	Result            map[string]any
	Meta              map[string]any
	ExceptionInfo     *ExceptionInfo
	RenderedContent   []map[string]any
}

// ExpectationValidationResult is the outcome of validating one expectation.
// It has no setters; build a new one instead.
type ExpectationValidationResult struct {
	success         *bool
	config          *ExpectationConfiguration
	result          map[string]any
	meta            map[string]any
	exceptionInfo   ExceptionInfo
	renderedContent []map[string]any
}

// NewExpectationValidationResult validates the result dict bounds and meta
// serializability and fails fast on violation.
func NewExpectationValidationResult(p ExpectationValidationResultParams) (*ExpectationValidationResult, error) {
	if err := ValidateResultDict(p.Result); err != nil {
		return nil, err
	}
	if err := EnsureJSONSerializable(p.Meta); err != nil {
		return nil, fmt.Errorf("validation result meta: %w", err)
	}
	r := &ExpectationValidationResult{
		result: Kwargs(p.Result).Clone(),
		meta:   Kwargs(p.Meta).Clone(),
	}
	if p.Success != nil {
		r.success = Bool(*p.Success)
	}
	if p.ExpectationConfig != nil {
		cfg := *p.ExpectationConfig
		r.config = &cfg
	}
	if p.ExceptionInfo != nil {
		r.exceptionInfo = *p.ExceptionInfo
	}
	if p.RenderedContent != nil {
		r.renderedContent = make([]map[string]any, len(p.RenderedContent))
		for i, rc := range p.RenderedContent {
			r.renderedContent[i] = Kwargs(rc).Clone()
		}
	}
	return r, nil
}

// ValidateResultDict rejects negative counts and percentages outside [0, 100].
// Absent or nil keys are not checked.
func ValidateResultDict(result map[string]any) error {
	for _, key := range nonNegativeCountKeys {
		v, ok := result[key]
		if !ok || v == nil {
			continue
		}
		f, ok := ToFloat64(v)
		if !ok {
			return &InvalidResultError{Field: key, Value: v, Reason: "must be numeric"}
		}
		if f < 0 {
			return &InvalidResultError{Field: key, Value: v, Reason: "must be non-negative"}
		}
	}
	for _, key := range percentKeys {
		v, ok := result[key]
		if !ok || v == nil {
			continue
		}
		f, ok := ToFloat64(v)
		if !ok {
			return &InvalidResultError{Field: key, Value: v, Reason: "must be numeric"}
		}
		if math.IsNaN(f) || f < 0 || f > 100 {
			return &InvalidResultError{Field: key, Value: v, Reason: "must be within [0, 100]"}
		}
	}
	return nil
}

// Success returns the success flag; nil means undetermined.
func (r *ExpectationValidationResult) Success() *bool {
	if r.success == nil {
		return nil
	}
	return Bool(*r.success)
}

// Succeeded is Success with nil treated as false.
func (r *ExpectationValidationResult) Succeeded() bool {
	return r.success != nil && *r.success
}

// ExpectationConfig returns the configuration the result was produced for.
func (r *ExpectationValidationResult) ExpectationConfig() *ExpectationConfiguration {
	if r.config == nil {
		return nil
	}
	cfg := *r.config
	return &cfg
}

// Result returns a copy of the result payload.
func (r *ExpectationValidationResult) Result() map[string]any { return Kwargs(r.result).Clone() }

// Meta returns a copy of the meta map.
func (r *ExpectationValidationResult) Meta() map[string]any { return Kwargs(r.meta).Clone() }

// ExceptionInfo returns the exception info.
func (r *ExpectationValidationResult) ExceptionInfo() ExceptionInfo { return r.exceptionInfo }

// Errored reports whether evaluation raised rather than returning a verdict.
func (r *ExpectationValidationResult) Errored() bool { return r.exceptionInfo.RaisedException }

// Equal implements the relaxed equality contract: success, equivalent
// configurations, equal values on the intersection of result keys, equal
// meta and equal exception info. Two results where exactly one has an empty
// result dict are never equal.
//
// Comparing only shared result keys tolerates backend-specific extra fields
// but can hide regressions in those fields.
func (r *ExpectationValidationResult) Equal(o *ExpectationValidationResult) bool {
	if r == nil || o == nil {
		return r == o
	}
	if !boolPtrEqual(r.success, o.success) {
		return false
	}
	switch {
	case r.config == nil && o.config == nil:
	case r.config == nil || o.config == nil:
		return false
	case !r.config.IsEquivalentTo(*o.config):
		return false
	}
	if !resultContentsEqual(r.result, o.result) {
		return false
	}
	if !Kwargs(r.meta).Equal(o.meta) {
		return false
	}
	return r.exceptionInfo.Equal(o.exceptionInfo)
}

func resultContentsEqual(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			continue
		}
		if !valuesEqual(av, bv) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	ja, errA := canonicalJSON(a)
	jb, errB := canonicalJSON(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ja) == string(jb)
}

// Hash is consistent with Equal for results with identical result key sets.
// It covers the full result dict while Equal only looks at shared keys, so
// two equal results with different extra keys may hash differently.
func (r *ExpectationValidationResult) Hash() uint64 {
	var cfgType string
	var kwargs Kwargs
	if r.config != nil {
		cfgType = r.config.Type()
		kwargs = r.config.kwargs
	}
	payload := []any{r.success, cfgType, map[string]any(kwargs), r.result, r.meta, r.exceptionInfo.toMap()}
	b, err := canonicalJSON(payload)
	if err != nil {
		b = []byte(fmt.Sprintf("%v", payload))
	}
	return xxhash.Sum64(b)
}

// DescribeDict is the flat summary handed to renderers.
func (r *ExpectationValidationResult) DescribeDict() map[string]any {
	d := map[string]any{
		"expectation_type": nil,
		"success":          boolOrNil(r.success),
		"kwargs":           nil,
		"result":           map[string]any(Kwargs(r.result).Clone()),
	}
	if r.config != nil {
		d["expectation_type"] = r.config.Type()
		d["kwargs"] = map[string]any(r.config.Kwargs())
	}
	if r.exceptionInfo.RaisedException {
		d["exception_info"] = r.exceptionInfo.toMap()
	}
	return d
}

// ToJSONDict returns the wire form. rendered_content is omitted when absent.
func (r *ExpectationValidationResult) ToJSONDict() map[string]any {
	d := map[string]any{
		"success":            boolOrNil(r.success),
		"expectation_config": nil,
		"result":             map[string]any(Kwargs(r.result).Clone()),
		"meta":               map[string]any(Kwargs(r.meta).Clone()),
		"exception_info":     r.exceptionInfo.toMap(),
	}
	if r.config != nil {
		d["expectation_config"] = r.config.ToJSONDict()
	}
	if r.renderedContent != nil {
		rc := make([]any, len(r.renderedContent))
		for i, c := range r.renderedContent {
			rc[i] = map[string]any(Kwargs(c).Clone())
		}
		d["rendered_content"] = rc
	}
	return d
}

// MarshalJSON encodes ToJSONDict.
func (r *ExpectationValidationResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ToJSONDict())
}

// GetMetric resolves dotted paths against this result:
//
//	<type>.success
//	<type>.result.<key>
//	<type>.result.details.<key>
//
// metricKwargs narrows the lookup to the result whose configuration targets
// the same column (or carries the same explicit metric_kwargs_id).
func (r *ExpectationValidationResult) GetMetric(metricName string, metricKwargs Kwargs) (any, error) {
	parts := strings.Split(metricName, ".")
	if r.config == nil || len(parts) < 2 || parts[0] != r.config.Type() {
		return nil, &UnavailableMetricError{MetricName: metricName}
	}
	if MetricKwargsID(metricKwargs) != MetricKwargsID(r.config.kwargs) {
		return nil, &UnavailableMetricError{MetricName: metricName}
	}
	switch {
	case parts[1] == "success" && len(parts) == 2:
		return boolOrNil(r.success), nil
	case parts[1] == "result" && len(parts) == 3:
		if v, ok := r.result[parts[2]]; ok {
			return v, nil
		}
	case parts[1] == "result" && len(parts) == 4 && parts[2] == "details":
		if details, ok := r.result["details"].(map[string]any); ok {
			if v, ok := details[parts[3]]; ok {
				return v, nil
			}
		}
	}
	return nil, &UnavailableMetricError{MetricName: metricName}
}

// MetricKwargsID is the short key used to address expectation metrics:
// an explicit metric_kwargs_id, else "column=<name>", else empty.
func MetricKwargsID(k Kwargs) string {
	if id, ok := k.String("metric_kwargs_id"); ok {
		return id
	}
	if col, ok := k[KwargColumn]; ok && col != nil {
		return fmt.Sprintf("column=%v", col)
	}
	return ""
}

// ExpectationValidationResultFromMap rebuilds a result from its wire form,
// re-running the construction-time checks.
func ExpectationValidationResultFromMap(m map[string]any) (*ExpectationValidationResult, error) {
	p := ExpectationValidationResultParams{}
	if s, ok := m["success"].(bool); ok {
		p.Success = Bool(s)
	}
	if cm, ok := m["expectation_config"].(map[string]any); ok {
		cfg, err := ExpectationConfigurationFromMap(cm)
		if err != nil {
			return nil, err
		}
		p.ExpectationConfig = &cfg
	}
	p.Result, _ = m["result"].(map[string]any)
	p.Meta, _ = m["meta"].(map[string]any)
	if em, ok := m["exception_info"].(map[string]any); ok {
		info := exceptionInfoFromMap(em)
		p.ExceptionInfo = &info
	}
	if rc, ok := m["rendered_content"].([]any); ok {
		p.RenderedContent = make([]map[string]any, 0, len(rc))
		for _, c := range rc {
			if cm, ok := c.(map[string]any); ok {
				p.RenderedContent = append(p.RenderedContent, cm)
			}
		}
	}
	return NewExpectationValidationResult(p)
}

func boolOrNil(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}

func boolPtrEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
