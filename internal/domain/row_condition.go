package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Operator is a comparison in a row condition predicate.
type Operator string

const (
	OpEq        Operator = "=="
	OpNe        Operator = "!="
	OpGt        Operator = ">"
	OpGe        Operator = ">="
	OpLt        Operator = "<"
	OpLe        Operator = "<="
	OpIsNull    Operator = "is null"
	OpIsNotNull Operator = "is not null"
)

// Predicate is one "column op literal" clause.
type Predicate struct {
	Column string
	Op     Operator
	Value  any
}

// RowCondition is a conjunction of predicates filtering the rows of a domain.
//
// Grammar:
//
//	condition := predicate { "and" predicate }
//	predicate := column op literal | column "is" ["not"] "null"
//	op        := "==" | "=" | "!=" | "<>" | ">" | ">=" | "<" | "<="
//	literal   := number | 'string' | "string" | true | false | null
//
// Columns may be bare identifiers or backtick quoted.
type RowCondition struct {
	Raw        string
	Predicates []Predicate
}

// IsZero reports whether the condition filters nothing.
func (c RowCondition) IsZero() bool { return len(c.Predicates) == 0 }

// Columns returns the referenced columns in predicate order.
func (c RowCondition) Columns() []string {
	cols := make([]string, 0, len(c.Predicates))
	for _, p := range c.Predicates {
		cols = append(cols, p.Column)
	}
	return cols
}

// Match evaluates the condition against one row. get returns the value of a
// column and whether the column exists. A null value only satisfies the
// null checks, mirroring SQL three-valued logic.
func (c RowCondition) Match(get func(column string) (any, bool)) (bool, error) {
	for _, p := range c.Predicates {
		v, ok := get(p.Column)
		if !ok {
			return false, fmt.Errorf("row condition column %q: %w", p.Column, ErrKeyNotFound)
		}
		matched, err := p.match(v)
		if err != nil {
			return false, err
		}
		if !matched {
			return false, nil
		}
	}
	return true, nil
}

func (p Predicate) match(v any) (bool, error) {
	switch p.Op {
	case OpIsNull:
		return v == nil, nil
	case OpIsNotNull:
		return v != nil, nil
	}
	if v == nil || p.Value == nil {
		return false, nil
	}
	cmp, err := CompareValues(v, p.Value)
	if err != nil {
		return false, fmt.Errorf("row condition %s %s: %w", p.Column, p.Op, err)
	}
	switch p.Op {
	case OpEq:
		return cmp == 0, nil
	case OpNe:
		return cmp != 0, nil
	case OpGt:
		return cmp > 0, nil
	case OpGe:
		return cmp >= 0, nil
	case OpLt:
		return cmp < 0, nil
	case OpLe:
		return cmp <= 0, nil
	}
	return false, fmt.Errorf("operator %q: %w", p.Op, ErrInvalidConfiguration)
}

// CompareValues orders numbers numerically, strings lexically, times
// chronologically and booleans with false < true. Mixed kinds are a type
// mismatch.
func CompareValues(a, b any) (int, error) {
	if fa, ok := ToFloat64(a); ok {
		fb, ok := ToFloat64(b)
		if !ok {
			return 0, fmt.Errorf("compare %T with %T: %w", a, b, ErrTypeMismatch)
		}
		switch {
		case fa < fb:
			return -1, nil
		case fa > fb:
			return 1, nil
		}
		return 0, nil
	}
	switch av := a.(type) {
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, fmt.Errorf("compare %T with %T: %w", a, b, ErrTypeMismatch)
		}
		return av.Compare(bv), nil
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, fmt.Errorf("compare %T with %T: %w", a, b, ErrTypeMismatch)
		}
		return strings.Compare(av, bv), nil
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, fmt.Errorf("compare %T with %T: %w", a, b, ErrTypeMismatch)
		}
		switch {
		case av == bv:
			return 0, nil
		case !av:
			return -1, nil
		}
		return 1, nil
	}
	return 0, fmt.Errorf("compare %T: %w", a, ErrTypeMismatch)
}

// ParseRowCondition parses s. An empty string yields the zero condition.
func ParseRowCondition(s string) (RowCondition, error) {
	cond := RowCondition{Raw: s}
	if strings.TrimSpace(s) == "" {
		return cond, nil
	}
	toks, err := tokenizeCondition(s)
	if err != nil {
		return RowCondition{}, fmt.Errorf("row condition %q: %w", s, err)
	}
	p := &conditionParser{toks: toks}
	for {
		pred, err := p.predicate()
		if err != nil {
			return RowCondition{}, fmt.Errorf("row condition %q: %w", s, err)
		}
		cond.Predicates = append(cond.Predicates, pred)
		if p.done() {
			return cond, nil
		}
		if !p.keyword("and") {
			return RowCondition{}, fmt.Errorf("row condition %q: expected 'and' at %q: %w",
				s, p.peek().text, ErrInvalidConfiguration)
		}
	}
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokNumber
	tokString
	tokOp
)

type token struct {
	kind tokenKind
	text string
}

func tokenizeCondition(s string) ([]token, error) {
	var toks []token
	rs := []rune(s)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '\'' || r == '"' || r == '`':
			j := i + 1
			for j < len(rs) && rs[j] != r {
				j++
			}
			if j >= len(rs) {
				return nil, fmt.Errorf("unterminated quote at %d: %w", i, ErrInvalidConfiguration)
			}
			kind := tokString
			if r == '`' {
				kind = tokIdent
			}
			toks = append(toks, token{kind: kind, text: string(rs[i+1 : j])})
			i = j + 1
		case strings.ContainsRune("=!<>", r):
			j := i + 1
			if j < len(rs) && strings.ContainsRune("=>", rs[j]) {
				j++
			}
			op := string(rs[i:j])
			switch op {
			case "=", "==":
				op = string(OpEq)
			case "!=", "<>":
				op = string(OpNe)
			case ">", ">=", "<", "<=":
			default:
				return nil, fmt.Errorf("unknown operator %q: %w", op, ErrInvalidConfiguration)
			}
			toks = append(toks, token{kind: tokOp, text: op})
			i = j
		case unicode.IsDigit(r) || ((r == '-' || r == '.') && i+1 < len(rs) && (unicode.IsDigit(rs[i+1]) || rs[i+1] == '.')):
			j := i + 1
			for j < len(rs) && (unicode.IsDigit(rs[j]) || strings.ContainsRune(".eE+-", rs[j])) {
				if (rs[j] == '+' || rs[j] == '-') && rs[j-1] != 'e' && rs[j-1] != 'E' {
					break
				}
				j++
			}
			toks = append(toks, token{kind: tokNumber, text: string(rs[i:j])})
			i = j
		case unicode.IsLetter(r) || r == '_':
			j := i + 1
			for j < len(rs) && (unicode.IsLetter(rs[j]) || unicode.IsDigit(rs[j]) || rs[j] == '_' || rs[j] == '.') {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: string(rs[i:j])})
			i = j
		default:
			return nil, fmt.Errorf("unexpected %q at %d: %w", r, i, ErrInvalidConfiguration)
		}
	}
	return toks, nil
}

type conditionParser struct {
	toks []token
	pos  int
}

func (p *conditionParser) done() bool { return p.pos >= len(p.toks) }

func (p *conditionParser) peek() token {
	if p.done() {
		return token{text: "<end>"}
	}
	return p.toks[p.pos]
}

func (p *conditionParser) keyword(kw string) bool {
	t := p.peek()
	if !p.done() && t.kind == tokIdent && strings.EqualFold(t.text, kw) {
		p.pos++
		return true
	}
	return false
}

func (p *conditionParser) predicate() (Predicate, error) {
	col := p.peek()
	if p.done() || col.kind != tokIdent {
		return Predicate{}, fmt.Errorf("expected column at %q: %w", col.text, ErrInvalidConfiguration)
	}
	p.pos++
	pred := Predicate{Column: col.text}

	if p.keyword("is") {
		pred.Op = OpIsNull
		if p.keyword("not") {
			pred.Op = OpIsNotNull
		}
		if !p.keyword("null") {
			return Predicate{}, fmt.Errorf("expected 'null' after 'is': %w", ErrInvalidConfiguration)
		}
		return pred, nil
	}

	op := p.peek()
	if p.done() || op.kind != tokOp {
		return Predicate{}, fmt.Errorf("expected operator after %q: %w", col.text, ErrInvalidConfiguration)
	}
	p.pos++
	pred.Op = Operator(op.text)

	lit := p.peek()
	if p.done() {
		return Predicate{}, fmt.Errorf("expected literal after %q: %w", op.text, ErrInvalidConfiguration)
	}
	p.pos++
	switch lit.kind {
	case tokString:
		pred.Value = lit.text
	case tokNumber:
		if n, err := strconv.ParseInt(lit.text, 10, 64); err == nil {
			pred.Value = n
			break
		}
		f, err := strconv.ParseFloat(lit.text, 64)
		if err != nil {
			return Predicate{}, fmt.Errorf("number %q: %w", lit.text, ErrInvalidConfiguration)
		}
		pred.Value = f
	case tokIdent:
		switch strings.ToLower(lit.text) {
		case "true":
			pred.Value = true
		case "false":
			pred.Value = false
		case "null":
			pred.Value = nil
		default:
			return Predicate{}, fmt.Errorf("unexpected literal %q: %w", lit.text, ErrInvalidConfiguration)
		}
	default:
		return Predicate{}, fmt.Errorf("unexpected literal %q: %w", lit.text, ErrInvalidConfiguration)
	}
	return pred, nil
}
