// Package filter translates user-facing filter triples (field, operator,
// value) into querylang expressions and back.
//
// The grammar is fixed: every operator tag below is persisted verbatim in URL
// and saved-view state, so tags must never be renamed.
//
// Round-trip guarantee: Decompile(Compile(fs)) == fs for filters that use
// contains, notContains, equals, notEquals, the numeric comparisons, isEmpty
// and isNotEmpty with string or float64 values. Boolean and date filters are
// lossy by construction: booleans travel as string equality, and dates become
// epoch-second comparisons that only decompile back to dates for the
// started_at field.
package filter

import "strings"

// Operator is a closed set of filter operator tags.
type Operator string

const (
	OpContains    Operator = "(string): contains"
	OpNotContains Operator = "(string): notContains"
	OpEquals      Operator = "(string): equals"
	OpNotEquals   Operator = "(string): notEquals"
	OpIn          Operator = "(string): in"

	OpNumEq  Operator = "(number): ="
	OpNumNeq Operator = "(number): !="
	OpNumLt  Operator = "(number): <"
	OpNumLte Operator = "(number): <="
	OpNumGt  Operator = "(number): >"
	OpNumGte Operator = "(number): >="

	OpBoolIs Operator = "(bool): is"

	OpDateAfter  Operator = "(date): after"
	OpDateBefore Operator = "(date): before"

	OpIsEmpty    Operator = "(any): isEmpty"
	OpIsNotEmpty Operator = "(any): isNotEmpty"
)

// Category groups operators by the runtime type of value they expect.
type Category string

const (
	CategoryString Category = "string"
	CategoryNumber Category = "number"
	CategoryBool   Category = "bool"
	CategoryDate   Category = "date"
	CategoryAny    Category = "any"
)

var operators = []Operator{
	OpContains, OpNotContains, OpEquals, OpNotEquals, OpIn,
	OpNumEq, OpNumNeq, OpNumLt, OpNumLte, OpNumGt, OpNumGte,
	OpBoolIs,
	OpDateAfter, OpDateBefore,
	OpIsEmpty, OpIsNotEmpty,
}

// Operators returns every supported operator in display order.
func Operators() []Operator {
	out := make([]Operator, len(operators))
	copy(out, operators)
	return out
}

// Valid reports whether op is a supported operator.
func (op Operator) Valid() bool {
	for _, o := range operators {
		if o == op {
			return true
		}
	}
	return false
}

// Category returns the category prefix of the operator tag, e.g. "number"
// for "(number): >". Unknown tags return "".
func (op Operator) Category() Category {
	s := string(op)
	if !strings.HasPrefix(s, "(") {
		return ""
	}
	end := strings.Index(s, ")")
	if end < 0 {
		return ""
	}
	return Category(s[1:end])
}

// Symbol returns the operator name without its category, e.g. ">".
func (op Operator) Symbol() string {
	_, sym, ok := strings.Cut(string(op), ": ")
	if !ok {
		return string(op)
	}
	return sym
}

// Filter is a single user-facing condition.
// Value holds a string, float64, bool or nil; (string): in also accepts a
// []any of strings.
type Filter struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// UIFilter is a Filter with a stable identity used by filter-list editors for
// diffing. The ID has no effect on compilation.
type UIFilter struct {
	Filter
	ID string `json:"id"`
}

// inversions maps each operator to its logical negation. The table is
// symmetric.
var inversions = map[Operator]Operator{
	OpNumGte:      OpNumLt,
	OpNumLt:       OpNumGte,
	OpNumGt:       OpNumLte,
	OpNumLte:      OpNumGt,
	OpNumEq:       OpNumNeq,
	OpNumNeq:      OpNumEq,
	OpEquals:      OpNotEquals,
	OpNotEquals:   OpEquals,
	OpContains:    OpNotContains,
	OpNotContains: OpContains,
	OpDateAfter:   OpDateBefore,
	OpDateBefore:  OpDateAfter,
	OpIsEmpty:     OpIsNotEmpty,
	OpIsNotEmpty:  OpIsEmpty,
}

// Invert returns the negation of op. ok is false for operators without an
// inverse, such as (string): in and (bool): is.
func Invert(op Operator) (inv Operator, ok bool) {
	inv, ok = inversions[op]
	return inv, ok
}
