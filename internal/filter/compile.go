package filter

import (
	"fmt"
	"strconv"
	"strings"

	"weavequery/internal/querylang"
)

// Compile translates filters into a query. An empty list compiles to nil:
// callers must omit the query from the request rather than send an empty
// expression. Several filters are joined with $and in input order.
func Compile(filters []Filter) (*querylang.Query, error) {
	if len(filters) == 0 {
		return nil, nil
	}

	clauses := make([]querylang.Expr, 0, len(filters))
	for _, f := range filters {
		c, err := CompileOne(f)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, c)
	}

	if len(clauses) == 1 {
		return &querylang.Query{Expr: clauses[0]}, nil
	}
	return &querylang.Query{Expr: querylang.And(clauses...)}, nil
}

// CompileOne translates a single filter into an expression.
func CompileOne(f Filter) (querylang.Expr, error) {
	field := querylang.Field(f.Field)

	switch f.Operator {
	case OpContains:
		return querylang.Contains(field, querylang.Lit(f.Value)), nil
	case OpNotContains:
		return querylang.Not(querylang.Contains(field, querylang.Lit(f.Value))), nil

	case OpEquals:
		return querylang.Eq(field, querylang.Lit(f.Value)), nil
	case OpNotEquals:
		return querylang.Not(querylang.Eq(field, querylang.Lit(f.Value))), nil

	case OpIn:
		values, err := splitInValues(f)
		if err != nil {
			return nil, err
		}
		terms := make([]querylang.Expr, len(values))
		for i, v := range values {
			terms[i] = querylang.Eq(querylang.Field(f.Field), querylang.Lit(v))
		}
		return querylang.Or(terms...), nil

	case OpNumEq, OpNumNeq:
		n, err := parseNumber(f)
		if err != nil {
			return nil, err
		}
		eq := querylang.Eq(querylang.Convert(field, querylang.ConvertDouble), querylang.Lit(n))
		if f.Operator == OpNumNeq {
			return querylang.Not(eq), nil
		}
		return eq, nil

	// The backend only has > and >= primitives; < and <= are their negations.
	case OpNumGt, OpNumGte, OpNumLt, OpNumLte:
		n, err := parseNumber(f)
		if err != nil {
			return nil, err
		}
		switch f.Operator {
		case OpNumGt:
			return querylang.Gt(field, querylang.Lit(n)), nil
		case OpNumGte:
			return querylang.Gte(field, querylang.Lit(n)), nil
		case OpNumLt:
			return querylang.Not(querylang.Gte(field, querylang.Lit(n))), nil
		default:
			return querylang.Not(querylang.Gt(field, querylang.Lit(n))), nil
		}

	// Booleans are compared as their string form on the wire.
	case OpBoolIs:
		return querylang.Eq(field, querylang.Lit(boolString(f.Value))), nil

	case OpDateAfter, OpDateBefore:
		sec, ok := ToSeconds(f.Value)
		if !ok {
			return nil, newError(f.Field, f.Operator, ErrInvalidValue, "cannot interpret %v as a date", f.Value)
		}
		gt := querylang.Gt(field, querylang.Lit(sec))
		if f.Operator == OpDateBefore {
			return querylang.Not(gt), nil
		}
		return gt, nil

	case OpIsEmpty:
		return querylang.Eq(field, querylang.Lit("")), nil
	case OpIsNotEmpty:
		return querylang.Not(querylang.Eq(field, querylang.Lit(""))), nil

	default:
		return nil, newError(f.Field, f.Operator, ErrUnsupportedOperator, "unsupported operator")
	}
}

func parseNumber(f Filter) (float64, error) {
	switch v := f.Value.(type) {
	case float64:
		if finite(v) {
			return v, nil
		}
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err == nil && finite(n) {
			return n, nil
		}
	}
	return 0, newError(f.Field, f.Operator, ErrInvalidValue, "cannot interpret %v as a number", f.Value)
}

// splitInValues accepts a comma-joined string or an array of strings.
func splitInValues(f Filter) ([]string, error) {
	var raw []string
	switch v := f.Value.(type) {
	case string:
		raw = strings.Split(v, ",")
	case []string:
		raw = v
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, newError(f.Field, f.Operator, ErrInvalidValue, "list element %v is not a string", item)
			}
			raw = append(raw, s)
		}
	default:
		return nil, newError(f.Field, f.Operator, ErrInvalidValue, "expected a comma-separated string or a list, got %T", f.Value)
	}

	values := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			values = append(values, s)
		}
	}
	return values, nil
}

func boolString(v any) string {
	switch b := v.(type) {
	case bool:
		return strconv.FormatBool(b)
	case string:
		return strings.ToLower(strings.TrimSpace(b))
	default:
		return fmt.Sprint(v)
	}
}
