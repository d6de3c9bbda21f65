package repository

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/okian/classboard/internal/domain/model"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Op is a predicate operator.
type Op string

// Supported operators.
const (
	OpEq  Op = "eq"
	OpIn  Op = "in"
	OpGte Op = "gte"
	OpLte Op = "lte"
)

// Predicate is a simple field condition. In takes a []string value.
type Predicate struct {
	Field string
	Op    Op
	Value any
}

// Eq matches documents whose field equals v.
func Eq(field string, v any) Predicate { return Predicate{Field: field, Op: OpEq, Value: v} }

// In matches documents whose field is one of vs.
func In(field string, vs []string) Predicate {
	cp := append([]string(nil), vs...)
	sort.Strings(cp)
	return Predicate{Field: field, Op: OpIn, Value: cp}
}

// Gte matches documents whose field is at least v.
func Gte(field string, v any) Predicate { return Predicate{Field: field, Op: OpGte, Value: v} }

// Lte matches documents whose field is at most v.
func Lte(field string, v any) Predicate { return Predicate{Field: field, Op: OpLte, Value: v} }

func (p Predicate) String() string {
	return fmt.Sprintf("%s %s %v", p.Field, p.Op, p.Value)
}

// Query is a collection plus the predicates a subscription filters on.
type Query struct {
	Collection Collection
	Predicates []Predicate
}

// NewQuery builds a query.
func NewQuery(c Collection, preds ...Predicate) Query {
	return Query{Collection: c, Predicates: preds}
}

// Key returns a canonical string for the query; equal queries share a key
// regardless of predicate order.
func (q Query) Key() string {
	parts := make([]string, len(q.Predicates))
	for i, p := range q.Predicates {
		parts[i] = p.String()
	}
	sort.Strings(parts)
	return string(q.Collection) + "?" + strings.Join(parts, "&")
}

// FieldGetter resolves a document field by name.
type FieldGetter func(field string) (any, bool)

// Match reports whether every predicate holds for the document.
// An empty predicate list matches everything.
func Match(preds []Predicate, get FieldGetter) bool {
	for _, p := range preds {
		v, ok := get(p.Field)
		if !ok {
			return false
		}
		if !matchOne(p, v) {
			return false
		}
	}
	return true
}

func matchOne(p Predicate, v any) bool {
	switch p.Op {
	case OpEq:
		c, ok := compare(v, p.Value)
		return ok && c == 0
	case OpIn:
		s, ok := asString(v)
		if !ok {
			return false
		}
		vs, _ := p.Value.([]string)
		i := sort.SearchStrings(vs, s)
		return i < len(vs) && vs[i] == s
	case OpGte:
		c, ok := compare(v, p.Value)
		return ok && c >= 0
	case OpLte:
		c, ok := compare(v, p.Value)
		return ok && c <= 0
	default:
		return false
	}
}

// compare orders a against b when both are of a comparable kind.
func compare(a, b any) (int, bool) {
	if ta, ok := asTime(a); ok {
		tb, ok := asTime(b)
		if !ok {
			return 0, false
		}
		return ta.Compare(tb), true
	}
	if fa, ok := asFloat(a); ok {
		fb, ok := asFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		default:
			return 0, true
		}
	}
	sa, ok := asString(a)
	if !ok {
		return 0, false
	}
	sb, ok := asString(b)
	if !ok {
		return 0, false
	}
	return strings.Compare(sa, sb), true
}

func asString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case model.Date:
		return string(x), true
	case fmt.Stringer:
		return x.String(), true
	default:
		return "", false
	}
}

func asTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case primitive.DateTime:
		return x.Time(), true
	default:
		return time.Time{}, false
	}
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}
