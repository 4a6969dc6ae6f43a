package querylang

import "testing"

func TestEval(t *testing.T) {
	row := map[string]any{
		"op_name":    "weave:///e/p/op/predict:v1",
		"started_at": 1740873600.0,
		"ended_at":   "2025-03-02T00:00:01Z",
		"inputs": map[string]any{
			"model":  "gpt",
			"tokens": "42",
			"tags":   []any{"a", "b"},
		},
		"output": map[string]any{"ok": true},
	}

	tests := []struct {
		name string
		expr Expr
		want bool
	}{
		{"eq string", Eq(Field("inputs.model"), Lit("gpt")), true},
		{"eq string miss", Eq(Field("inputs.model"), Lit("claude")), false},
		{"eq converted numeric string", Eq(Convert(Field("inputs.tokens"), ConvertDouble), Lit(42.0)), true},
		{"eq bool as string", Eq(Field("output.ok"), Lit("true")), true},
		{"missing equals empty", Eq(Field("inputs.nope"), Lit("")), true},
		{"array index", Eq(Field("inputs.tags.1"), Lit("b")), true},
		{"gt number", Gt(Field("started_at"), Lit(1740873599.0)), true},
		{"gt equal is false", Gt(Field("started_at"), Lit(1740873600.0)), false},
		{"gte equal", Gte(Field("started_at"), Lit(1740873600.0)), true},
		{"gt timestamp string", Gt(Field("ended_at"), Lit(1740873600.0)), true},
		{"not gt timestamp string", Gt(Field("ended_at"), Lit(1740873601.0)), false},
		{"gt missing is false", Gt(Field("nope"), Lit(0.0)), false},
		{"not gt missing is true", Not(Gt(Field("nope"), Lit(0.0))), true},
		{"contains", Contains(Field("op_name"), Lit("predict")), true},
		{"contains case sensitive", Contains(Field("op_name"), Lit("PREDICT")), false},
		{"contains case insensitive", &ContainsExpr{Input: Field("op_name"), Substr: Lit("PREDICT"), CaseInsensitive: true}, true},
		{"and", And(Eq(Field("inputs.model"), Lit("gpt")), Gt(Field("started_at"), Lit(0.0))), true},
		{"and short circuit", And(Eq(Field("inputs.model"), Lit("x")), Gt(Field("started_at"), Lit(0.0))), false},
		{"or", Or(Eq(Field("inputs.model"), Lit("x")), Eq(Field("inputs.model"), Lit("gpt"))), true},
		{"empty and", And(), true},
		{"empty or", Or(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Eval(tt.expr, row)
			if err != nil {
				t.Fatalf("Eval(%s): %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("Eval(%s) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvalNonPredicate(t *testing.T) {
	if _, err := Eval(Field("a"), map[string]any{"a": "x"}); err == nil {
		t.Error("expected error evaluating a bare field as a predicate")
	}
}

func TestLookup(t *testing.T) {
	v := map[string]any{"a": []any{map[string]any{"b": "c"}}}
	if got := Lookup(v, "a.0.b"); got != "c" {
		t.Errorf("Lookup = %v, want c", got)
	}
	if got := Lookup(v, "a.5.b"); got != nil {
		t.Errorf("Lookup out of range = %v, want nil", got)
	}
	if got := Lookup(v, ""); got == nil {
		t.Error("Lookup with empty path should return the value itself")
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		l, r any
		want int
	}{
		{nil, nil, 0},
		{nil, 1.0, -1},
		{"a", nil, 1},
		{2.0, 10.0, -1},
		{"10", 9.0, 1},
		{"b", "a", 1},
		{"2025-03-02T00:00:00Z", "2025-03-01T23:59:59.5Z", 1},
	}
	for _, tt := range tests {
		if got := Compare(tt.l, tt.r); got != tt.want {
			t.Errorf("Compare(%v, %v) = %d, want %d", tt.l, tt.r, got, tt.want)
		}
	}
}
