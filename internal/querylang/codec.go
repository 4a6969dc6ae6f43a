package querylang

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Wire operator keys.
const (
	keyExpr     = "$expr"
	keyEq       = "$eq"
	keyGt       = "$gt"
	keyGte      = "$gte"
	keyContains = "$contains"
	keyNot      = "$not"
	keyAnd      = "$and"
	keyOr       = "$or"
	keyGetField = "$getField"
	keyLiteral  = "$literal"
	keyConvert  = "$convert"
)

type containsWire struct {
	Input           json.RawMessage `json:"input"`
	Substr          json.RawMessage `json:"substr"`
	CaseInsensitive bool            `json:"case_insensitive"`
}

type convertWire struct {
	Input json.RawMessage `json:"input"`
	To    ConvertType     `json:"to"`
}

// MarshalJSON encodes the query as {"$expr": <node>}.
func (q Query) MarshalJSON() ([]byte, error) {
	if q.Expr == nil {
		return nil, fmt.Errorf("%w: query has no root expression", ErrMalformed)
	}
	node, err := encodeExpr(q.Expr)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{keyExpr: node})
}

// UnmarshalJSON decodes {"$expr": <node>}.
func (q *Query) UnmarshalJSON(data []byte) error {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(data, &root); err != nil {
		return newDecodeError("$", ErrMalformed, "query must be an object: %v", err)
	}
	raw, ok := root[keyExpr]
	if !ok || len(root) != 1 {
		return newDecodeError("$", ErrMalformed, "query must have exactly one key %q", keyExpr)
	}
	expr, err := decodeExpr(raw, keyExpr)
	if err != nil {
		return err
	}
	q.Expr = expr
	return nil
}

// MarshalExpr encodes a single expression node.
func MarshalExpr(e Expr) ([]byte, error) {
	node, err := encodeExpr(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(node)
}

// UnmarshalExpr decodes a single expression node.
func UnmarshalExpr(data []byte) (Expr, error) {
	return decodeExpr(data, "$")
}

func encodeExpr(e Expr) (map[string]any, error) {
	switch n := e.(type) {
	case *EqExpr:
		return encodeBinary(keyEq, n.Left, n.Right)
	case *GtExpr:
		return encodeBinary(keyGt, n.Left, n.Right)
	case *GteExpr:
		return encodeBinary(keyGte, n.Left, n.Right)
	case *ContainsExpr:
		input, err := encodeExpr(n.Input)
		if err != nil {
			return nil, err
		}
		substr, err := encodeExpr(n.Substr)
		if err != nil {
			return nil, err
		}
		return map[string]any{keyContains: map[string]any{
			"input":            input,
			"substr":           substr,
			"case_insensitive": n.CaseInsensitive,
		}}, nil
	case *NotExpr:
		term, err := encodeExpr(n.Term)
		if err != nil {
			return nil, err
		}
		return map[string]any{keyNot: []any{term}}, nil
	case *AndExpr:
		return encodeList(keyAnd, n.Terms)
	case *OrExpr:
		return encodeList(keyOr, n.Terms)
	case *GetFieldExpr:
		return map[string]any{keyGetField: n.Path}, nil
	case *LiteralExpr:
		return map[string]any{keyLiteral: n.Value}, nil
	case *ConvertExpr:
		input, err := encodeExpr(n.Input)
		if err != nil {
			return nil, err
		}
		return map[string]any{keyConvert: map[string]any{"input": input, "to": n.To}}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported node type %T", ErrMalformed, e)
	}
}

func encodeBinary(key string, left, right Expr) (map[string]any, error) {
	l, err := encodeExpr(left)
	if err != nil {
		return nil, err
	}
	r, err := encodeExpr(right)
	if err != nil {
		return nil, err
	}
	return map[string]any{key: []any{l, r}}, nil
}

func encodeList(key string, terms []Expr) (map[string]any, error) {
	out := make([]any, len(terms))
	for i, t := range terms {
		node, err := encodeExpr(t)
		if err != nil {
			return nil, err
		}
		out[i] = node
	}
	return map[string]any{key: out}, nil
}

func decodeExpr(data json.RawMessage, path string) (Expr, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, newDecodeError(path, ErrMalformed, "node must be an object")
	}
	if len(obj) != 1 {
		return nil, newDecodeError(path, ErrMalformed, "node must have exactly one operator key, got %d", len(obj))
	}

	var key string
	var raw json.RawMessage
	for k, v := range obj {
		key, raw = k, v
	}

	sub := path + "." + key
	switch key {
	case keyEq, keyGt, keyGte:
		operands, err := decodeList(raw, sub, 2)
		if err != nil {
			return nil, err
		}
		switch key {
		case keyEq:
			return &EqExpr{Left: operands[0], Right: operands[1]}, nil
		case keyGt:
			return &GtExpr{Left: operands[0], Right: operands[1]}, nil
		default:
			return &GteExpr{Left: operands[0], Right: operands[1]}, nil
		}

	case keyNot:
		operands, err := decodeList(raw, sub, 1)
		if err != nil {
			return nil, err
		}
		return &NotExpr{Term: operands[0]}, nil

	case keyAnd, keyOr:
		terms, err := decodeList(raw, sub, -1)
		if err != nil {
			return nil, err
		}
		if key == keyAnd {
			return &AndExpr{Terms: terms}, nil
		}
		return &OrExpr{Terms: terms}, nil

	case keyContains:
		var w containsWire
		if err := strictUnmarshal(raw, &w); err != nil {
			return nil, newDecodeError(sub, ErrMalformed, "invalid $contains body: %v", err)
		}
		input, err := decodeExpr(w.Input, sub+".input")
		if err != nil {
			return nil, err
		}
		substr, err := decodeExpr(w.Substr, sub+".substr")
		if err != nil {
			return nil, err
		}
		return &ContainsExpr{Input: input, Substr: substr, CaseInsensitive: w.CaseInsensitive}, nil

	case keyGetField:
		var p string
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, newDecodeError(sub, ErrMalformed, "$getField takes a string path")
		}
		return &GetFieldExpr{Path: p}, nil

	case keyLiteral:
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, newDecodeError(sub, ErrMalformed, "invalid literal: %v", err)
		}
		return &LiteralExpr{Value: v}, nil

	case keyConvert:
		var w convertWire
		if err := strictUnmarshal(raw, &w); err != nil {
			return nil, newDecodeError(sub, ErrMalformed, "invalid $convert body: %v", err)
		}
		if w.To != ConvertDouble && w.To != ConvertInt {
			return nil, newDecodeError(sub, ErrMalformed, "unsupported conversion target %q", w.To)
		}
		input, err := decodeExpr(w.Input, sub+".input")
		if err != nil {
			return nil, err
		}
		return &ConvertExpr{Input: input, To: w.To}, nil

	default:
		return nil, newDecodeError(path, ErrUnknownOperator, "unknown operator %q", key)
	}
}

// decodeList decodes an array of nodes. want < 0 accepts any length.
func decodeList(raw json.RawMessage, path string, want int) ([]Expr, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, newDecodeError(path, ErrMalformed, "operands must be an array")
	}
	if want >= 0 && len(items) != want {
		return nil, newDecodeError(path, ErrMalformed, "expected %d operands, got %d", want, len(items))
	}
	out := make([]Expr, len(items))
	for i, item := range items {
		e, err := decodeExpr(item, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
