package ports

import (
	"fmt"
	"strings"

	"github.com/justineapere-tech/KabSulit-main-sub000/domain/core/entities"
	"github.com/justineapere-tech/KabSulit-main-sub000/pkg/errors"
	"github.com/justineapere-tech/KabSulit-main-sub000/pkg/utils"
)

// FilterOp is a comparison operator understood by every backend.
type FilterOp string

const (
	OpEq  FilterOp = "eq"
	OpNeq FilterOp = "neq"
	OpGt  FilterOp = "gt"
	OpGte FilterOp = "gte"
	OpLt  FilterOp = "lt"
	OpLte FilterOp = "lte"
	OpIn  FilterOp = "in"
	OpIs  FilterOp = "is"
)

// Filter is a single column predicate.
type Filter struct {
	Column string   `json:"column" validate:"required"`
	Op     FilterOp `json:"op" validate:"required,oneof=eq neq gt gte lt lte in is"`
	Value  string   `json:"value,omitempty"`
	Values []string `json:"values,omitempty" validate:"required_if=Op in"`
}

// Eq builds an equality filter
func Eq(column, value string) Filter {
	return Filter{Column: column, Op: OpEq, Value: value}
}

// In builds a set membership filter
func In(column string, values ...string) Filter {
	return Filter{Column: column, Op: OpIn, Values: values}
}

// Validate checks a standalone filter, such as a subscription filter.
func (f Filter) Validate() error {
	if err := utils.ValidateStruct(f); err != nil {
		return errors.NewValidationError(fmt.Sprintf("invalid filter: %v", err))
	}
	return nil
}

// String renders the filter in PostgREST "column=op.value" form.
func (f Filter) String() string {
	return f.Column + "=" + f.Expr()
}

// Expr renders the right hand side of the filter, "op.value".
func (f Filter) Expr() string {
	if f.Op == OpIn {
		return fmt.Sprintf("in.(%s)", strings.Join(f.Values, ","))
	}
	return string(f.Op) + "." + f.Value
}

// Order is the sort of a query.
type Order struct {
	Column    string `json:"column" validate:"required"`
	Ascending bool   `json:"ascending"`
}

// Query is a full read against one table. Filters are ANDed; AnyOf, when set, adds a
// disjunction of conjunctions (used for the two directions of a chat thread).
type Query struct {
	Table   string     `json:"table" validate:"required"`
	Columns string     `json:"columns,omitempty"`
	Filters []Filter   `json:"filters,omitempty" validate:"dive"`
	AnyOf   [][]Filter `json:"any_of,omitempty" validate:"dive,dive"`
	Order   Order      `json:"order"`
	Limit   int        `json:"limit" validate:"gte=0"`
}

// Validate checks the query shape.
func (q Query) Validate() error {
	if err := utils.ValidateStruct(q); err != nil {
		return errors.NewValidationError(fmt.Sprintf("invalid query on '%s': %v", q.Table, err))
	}
	return nil
}

// SelectColumns returns the column list, defaulting to everything.
func (q Query) SelectColumns() string {
	if q.Columns == "" {
		return "*"
	}
	return q.Columns
}

// RenderAnyOf renders AnyOf as the body of a PostgREST or=(...) parameter.
func (q Query) RenderAnyOf() string {
	if len(q.AnyOf) == 0 {
		return ""
	}
	groups := make([]string, 0, len(q.AnyOf))
	for _, conj := range q.AnyOf {
		parts := make([]string, 0, len(conj))
		for _, f := range conj {
			parts = append(parts, f.Column+"."+f.Expr())
		}
		if len(parts) == 1 {
			groups = append(groups, parts[0])
			continue
		}
		groups = append(groups, "and("+strings.Join(parts, ",")+")")
	}
	return strings.Join(groups, ",")
}

// Matches evaluates the query's filters against a record. Ordering and limit are ignored.
func (q Query) Matches(rec entities.Record) bool {
	if !MatchAll(q.Filters, rec) {
		return false
	}
	if len(q.AnyOf) == 0 {
		return true
	}
	for _, conj := range q.AnyOf {
		if MatchAll(conj, rec) {
			return true
		}
	}
	return false
}

// MatchAll reports whether every filter accepts the record.
func MatchAll(filters []Filter, rec entities.Record) bool {
	for _, f := range filters {
		if !f.Matches(rec) {
			return false
		}
	}
	return true
}

// Matches evaluates a filter against a record using string comparison, which is what
// PostgREST sees for the text and uuid keys these filters are written against.
func (f Filter) Matches(rec entities.Record) bool {
	got := rec.String(f.Column)
	switch f.Op {
	case OpEq:
		return got == f.Value
	case OpNeq:
		return got != f.Value
	case OpGt:
		return got > f.Value
	case OpGte:
		return got >= f.Value
	case OpLt:
		return got < f.Value
	case OpLte:
		return got <= f.Value
	case OpIn:
		for _, v := range f.Values {
			if got == v {
				return true
			}
		}
		return false
	case OpIs:
		if f.Value == "null" {
			return rec.Field(f.Column) == nil
		}
		return strings.EqualFold(got, f.Value)
	default:
		return false
	}
}
