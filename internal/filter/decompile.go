package filter

import (
	"strings"

	"weavequery/internal/querylang"
)

// dateField is the only field whose $gt/$gte comparisons decompile back to
// date filters. Other date-typed fields decompile as plain numeric filters.
const dateField = "started_at"

// Decompile is the left inverse of Compile. A nil query and an empty $and
// both decompile to nil.
func Decompile(q *querylang.Query) ([]Filter, error) {
	if q == nil || q.Expr == nil {
		return nil, nil
	}

	and, ok := q.Expr.(*querylang.AndExpr)
	if !ok {
		f, err := DecompileOne(q.Expr)
		if err != nil {
			return nil, err
		}
		return []Filter{f}, nil
	}

	if len(and.Terms) == 0 {
		return nil, nil
	}
	filters := make([]Filter, 0, len(and.Terms))
	for _, term := range and.Terms {
		f, err := DecompileOne(term)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, nil
}

// DecompileOne translates a single clause back into a filter.
func DecompileOne(e querylang.Expr) (Filter, error) {
	switch n := e.(type) {
	case *querylang.EqExpr:
		field, lit, ok := fieldAndLiteral(n.Left, n.Right)
		if !ok {
			return Filter{}, shapeError(e)
		}
		switch v := lit.(type) {
		case float64:
			return Filter{Field: field, Operator: OpNumEq, Value: v}, nil
		case string:
			// isEmpty compiles to the same shape as equals "".
			if v == "" {
				return Filter{Field: field, Operator: OpIsEmpty}, nil
			}
			return Filter{Field: field, Operator: OpEquals, Value: v}, nil
		case bool:
			return Filter{Field: field, Operator: OpBoolIs, Value: v}, nil
		default:
			return Filter{}, shapeError(e)
		}

	case *querylang.ContainsExpr:
		field, lit, ok := fieldAndLiteral(n.Input, n.Substr)
		if !ok {
			return Filter{}, shapeError(e)
		}
		return Filter{Field: field, Operator: OpContains, Value: lit}, nil

	case *querylang.GtExpr:
		return decompileOrdered(e, n.Left, n.Right, OpNumGt)

	case *querylang.GteExpr:
		return decompileOrdered(e, n.Left, n.Right, OpNumGte)

	case *querylang.NotExpr:
		inner, err := DecompileOne(n.Term)
		if err != nil {
			return Filter{}, err
		}
		inv, ok := Invert(inner.Operator)
		if !ok {
			return Filter{}, newError(inner.Field, inner.Operator, ErrUnsupportedInversion, "cannot negate operator")
		}
		inner.Operator = inv
		return inner, nil

	case *querylang.OrExpr:
		return decompileIn(n)

	default:
		return Filter{}, shapeError(e)
	}
}

func decompileOrdered(e querylang.Expr, left, right querylang.Expr, op Operator) (Filter, error) {
	field, lit, ok := fieldAndLiteral(left, right)
	if !ok {
		return Filter{}, shapeError(e)
	}
	n, ok := lit.(float64)
	if !ok {
		return Filter{}, shapeError(e)
	}
	if field == dateField {
		return Filter{Field: field, Operator: OpDateAfter, Value: FromSeconds(n)}, nil
	}
	return Filter{Field: field, Operator: op, Value: n}, nil
}

// decompileIn collapses an $or of string equalities on one field into a
// single (string): in filter.
func decompileIn(or *querylang.OrExpr) (Filter, error) {
	if len(or.Terms) == 0 {
		return Filter{}, newError("", OpIn, ErrUnsupportedOrShape, "empty $or")
	}

	var field string
	values := make([]string, 0, len(or.Terms))
	for i, term := range or.Terms {
		eq, ok := term.(*querylang.EqExpr)
		if !ok {
			return Filter{}, newError(field, OpIn, ErrUnsupportedOrShape, "$or term %d is %s, want an equality", i, term)
		}
		f, lit, ok := fieldAndLiteral(eq.Left, eq.Right)
		if !ok {
			return Filter{}, newError(field, OpIn, ErrUnsupportedOrShape, "$or term %d is not field == literal", i)
		}
		s, ok := lit.(string)
		if !ok {
			return Filter{}, newError(f, OpIn, ErrUnsupportedOrShape, "$or term %d compares a non-string literal", i)
		}
		if i == 0 {
			field = f
		} else if f != field {
			return Filter{}, newError(field, OpIn, ErrUnsupportedOrShape, "$or mixes fields %q and %q", field, f)
		}
		values = append(values, s)
	}
	return Filter{Field: field, Operator: OpIn, Value: strings.Join(values, ",")}, nil
}

// fieldAndLiteral matches (GetField | Convert(GetField), Literal).
func fieldAndLiteral(left, right querylang.Expr) (string, any, bool) {
	field, ok := fieldPath(left)
	if !ok {
		return "", nil, false
	}
	lit, ok := right.(*querylang.LiteralExpr)
	if !ok {
		return "", nil, false
	}
	return field, lit.Value, true
}

func fieldPath(e querylang.Expr) (string, bool) {
	switch n := e.(type) {
	case *querylang.GetFieldExpr:
		return n.Path, true
	case *querylang.ConvertExpr:
		return fieldPath(n.Input)
	default:
		return "", false
	}
}

// shapeError quotes the node in its wire form so the caller can find it in
// the query they sent.
func shapeError(e querylang.Expr) *Error {
	if wire, err := querylang.MarshalExpr(e); err == nil {
		return newError("", "", ErrUnsupportedShape, "cannot decompile %s", wire)
	}
	return newError("", "", ErrUnsupportedShape, "cannot decompile %s", e)
}
