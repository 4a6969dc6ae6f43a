package querylang

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Eval reports whether row satisfies the predicate expression e.
//
// Rows are JSON-like values: map[string]any, []any, string, float64, bool, nil.
// $getField paths are dotted; numeric segments index into arrays. A missing
// field evaluates to nil, which compares equal to "" so that the isEmpty
// encoding (field == "") matches absent fields too.
func Eval(e Expr, row any) (bool, error) {
	v, err := evalNode(e, row)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s is not a predicate", ErrMalformed, e)
	}
	return b, nil
}

func evalNode(e Expr, row any) (any, error) {
	switch n := e.(type) {
	case *GetFieldExpr:
		return Lookup(row, n.Path), nil

	case *LiteralExpr:
		return n.Value, nil

	case *ConvertExpr:
		v, err := evalNode(n.Input, row)
		if err != nil {
			return nil, err
		}
		f, ok := toNumber(v)
		if !ok {
			return nil, nil
		}
		if n.To == ConvertInt {
			return math.Trunc(f), nil
		}
		return f, nil

	case *EqExpr:
		l, r, err := evalPair(n.Left, n.Right, row)
		if err != nil {
			return nil, err
		}
		return equal(l, r), nil

	case *GtExpr:
		l, r, err := evalPair(n.Left, n.Right, row)
		if err != nil {
			return nil, err
		}
		c, ok := compare(l, r)
		return ok && c > 0, nil

	case *GteExpr:
		l, r, err := evalPair(n.Left, n.Right, row)
		if err != nil {
			return nil, err
		}
		c, ok := compare(l, r)
		return ok && c >= 0, nil

	case *ContainsExpr:
		in, sub, err := evalPair(n.Input, n.Substr, row)
		if err != nil {
			return nil, err
		}
		s, needle := stringOf(in), stringOf(sub)
		if n.CaseInsensitive {
			s, needle = strings.ToLower(s), strings.ToLower(needle)
		}
		return strings.Contains(s, needle), nil

	case *NotExpr:
		b, err := Eval(n.Term, row)
		if err != nil {
			return nil, err
		}
		return !b, nil

	case *AndExpr:
		for _, t := range n.Terms {
			b, err := Eval(t, row)
			if err != nil {
				return nil, err
			}
			if !b {
				return false, nil
			}
		}
		return true, nil

	case *OrExpr:
		for _, t := range n.Terms {
			b, err := Eval(t, row)
			if err != nil {
				return nil, err
			}
			if b {
				return true, nil
			}
		}
		return false, nil

	default:
		return nil, fmt.Errorf("%w: unsupported node type %T", ErrMalformed, e)
	}
}

func evalPair(left, right Expr, row any) (any, any, error) {
	l, err := evalNode(left, row)
	if err != nil {
		return nil, nil, err
	}
	r, err := evalNode(right, row)
	if err != nil {
		return nil, nil, err
	}
	return l, r, nil
}

// Lookup resolves a dotted path against a JSON-like value. Returns nil when
// any segment is missing.
func Lookup(v any, path string) any {
	if path == "" {
		return v
	}
	for _, seg := range strings.Split(path, ".") {
		switch node := v.(type) {
		case map[string]any:
			v = node[seg]
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil
			}
			v = node[i]
		default:
			return nil
		}
	}
	return v
}

func equal(l, r any) bool {
	lf, lnum := l.(float64)
	rf, rnum := r.(float64)
	if lnum && rnum {
		return lf == rf
	}
	return stringOf(l) == stringOf(r)
}

// Compare orders two row values for sorting. Missing values sort before
// present ones.
func Compare(l, r any) int {
	switch {
	case l == nil && r == nil:
		return 0
	case l == nil:
		return -1
	case r == nil:
		return 1
	}
	c, _ := compare(l, r)
	return c
}

// compare orders two values numerically when both are numeric (or numeric
// strings), otherwise lexically. The bool result is false when either side is
// missing.
func compare(l, r any) (int, bool) {
	if l == nil || r == nil {
		return 0, false
	}
	lf, lok := toNumber(l)
	rf, rok := toNumber(r)
	if lok && rok {
		switch {
		case lf < rf:
			return -1, true
		case lf > rf:
			return 1, true
		default:
			return 0, true
		}
	}
	return strings.Compare(stringOf(l), stringOf(r)), true
}

func toNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		x = strings.TrimSpace(x)
		if f, err := strconv.ParseFloat(x, 64); err == nil {
			return f, true
		}
		// Timestamps compare as epoch seconds, matching date filter literals.
		if t, err := time.Parse(time.RFC3339Nano, x); err == nil {
			return float64(t.UnixNano()) / 1e9, true
		}
		return 0, false
	default:
		return 0, false
	}
}

func stringOf(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
