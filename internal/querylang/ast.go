// Package querylang models the trace server's structured query expression.
//
// A Query wraps a single root Expr. Expr is a closed sum type: the marker
// method keeps other packages from adding node kinds, so every consumer can
// switch exhaustively over the node types declared here.
//
// This package only describes, encodes and evaluates expressions. It MUST NOT:
//   - Know about user-facing filter operators (see package filter)
//   - Issue requests to a trace server
//   - Handle sorting or pagination
package querylang

import (
	"fmt"
	"strconv"
	"strings"
)

// Expr is the interface for all AST nodes.
type Expr interface {
	expr()
	// String returns a human-readable representation of the expression.
	String() string
}

// Query is the root of a structured query. It encodes as {"$expr": ...}.
type Query struct {
	Expr Expr
}

func (q *Query) String() string {
	if q == nil || q.Expr == nil {
		return "<empty>"
	}
	return q.Expr.String()
}

// ConvertType is the target type of a $convert node.
type ConvertType string

const (
	ConvertDouble ConvertType = "double"
	ConvertInt    ConvertType = "int"
)

// EqExpr compares two operands for equality.
type EqExpr struct {
	Left, Right Expr
}

func (EqExpr) expr() {}

func (e *EqExpr) String() string {
	return fmt.Sprintf("%s == %s", e.Left, e.Right)
}

// GtExpr is Left > Right.
type GtExpr struct {
	Left, Right Expr
}

func (GtExpr) expr() {}

func (e *GtExpr) String() string {
	return fmt.Sprintf("%s > %s", e.Left, e.Right)
}

// GteExpr is Left >= Right.
type GteExpr struct {
	Left, Right Expr
}

func (GteExpr) expr() {}

func (e *GteExpr) String() string {
	return fmt.Sprintf("%s >= %s", e.Left, e.Right)
}

// ContainsExpr is a substring test of Substr within Input.
type ContainsExpr struct {
	Input           Expr
	Substr          Expr
	CaseInsensitive bool
}

func (ContainsExpr) expr() {}

func (e *ContainsExpr) String() string {
	if e.CaseInsensitive {
		return fmt.Sprintf("icontains(%s, %s)", e.Input, e.Substr)
	}
	return fmt.Sprintf("contains(%s, %s)", e.Input, e.Substr)
}

// NotExpr represents logical negation.
type NotExpr struct {
	Term Expr
}

func (NotExpr) expr() {}

func (e *NotExpr) String() string {
	return "NOT " + e.Term.String()
}

// AndExpr represents logical AND of its terms. An empty AndExpr matches everything.
type AndExpr struct {
	Terms []Expr
}

func (AndExpr) expr() {}

func (e *AndExpr) String() string {
	return joinTerms(e.Terms, " AND ")
}

// OrExpr represents logical OR of its terms. An empty OrExpr matches nothing.
type OrExpr struct {
	Terms []Expr
}

func (OrExpr) expr() {}

func (e *OrExpr) String() string {
	return joinTerms(e.Terms, " OR ")
}

// GetFieldExpr reads a dotted field path from the row, e.g. "inputs.model".
type GetFieldExpr struct {
	Path string
}

func (GetFieldExpr) expr() {}

func (e *GetFieldExpr) String() string {
	return "." + e.Path
}

// LiteralExpr is a constant. Value is string, float64, bool or nil.
type LiteralExpr struct {
	Value any
}

func (LiteralExpr) expr() {}

func (e *LiteralExpr) String() string {
	switch v := e.Value.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// ConvertExpr casts Input to a numeric type before comparison.
type ConvertExpr struct {
	Input Expr
	To    ConvertType
}

func (ConvertExpr) expr() {}

func (e *ConvertExpr) String() string {
	return fmt.Sprintf("%s(%s)", e.To, e.Input)
}

func joinTerms(terms []Expr, sep string) string {
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = t.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// Constructors. These keep compiler code close to the shape of the wire format.

// Field returns a $getField node.
func Field(path string) *GetFieldExpr { return &GetFieldExpr{Path: path} }

// Lit returns a $literal node.
func Lit(v any) *LiteralExpr { return &LiteralExpr{Value: v} }

// Eq returns a $eq node.
func Eq(left, right Expr) *EqExpr { return &EqExpr{Left: left, Right: right} }

// Gt returns a $gt node.
func Gt(left, right Expr) *GtExpr { return &GtExpr{Left: left, Right: right} }

// Gte returns a $gte node.
func Gte(left, right Expr) *GteExpr { return &GteExpr{Left: left, Right: right} }

// Not returns a $not node.
func Not(term Expr) *NotExpr { return &NotExpr{Term: term} }

// Contains returns a case-sensitive $contains node.
func Contains(input, substr Expr) *ContainsExpr {
	return &ContainsExpr{Input: input, Substr: substr}
}

// Convert returns a $convert node.
func Convert(input Expr, to ConvertType) *ConvertExpr {
	return &ConvertExpr{Input: input, To: to}
}

// And returns a $and node over terms.
func And(terms ...Expr) *AndExpr { return &AndExpr{Terms: terms} }

// Or returns a $or node over terms.
func Or(terms ...Expr) *OrExpr { return &OrExpr{Terms: terms} }
