package condition

import "testing"

func TestEvaluateBasicComparisons(t *testing.T) {
	e := New(nil)
	cases := []struct {
		name      string
		condition string
		context   map[string]any
		want      bool
	}{
		{
			name:      "membership via stateData",
			condition: "carrier_id in stateData",
			context:   map[string]any{"stateData": map[string]any{"carrier_id": "telcel"}},
			want:      true,
		},
		{
			name:      "and composition true",
			condition: "amount >= 200 and amount <= max_amount",
			context:   map[string]any{"amount": 250.0, "max_amount": 600.0},
			want:      true,
		},
		{
			name:      "and composition false",
			condition: "amount >= 200 and amount <= max_amount",
			context:   map[string]any{"amount": 700.0, "max_amount": 600.0},
			want:      false,
		},
		{
			name:      "missing path is falsy",
			condition: "user.age > 18",
			context:   map[string]any{},
			want:      false,
		},
		{
			name:      "string equality",
			condition: "status == 'confirmed'",
			context:   map[string]any{"status": "confirmed"},
			want:      true,
		},
		{
			name:      "camel/snake fallback",
			condition: "carrierId == 'telcel'",
			context:   map[string]any{"carrier_id": "telcel"},
			want:      true,
		},
		{
			name:      "not operator",
			condition: "not confirmed",
			context:   map[string]any{"confirmed": false},
			want:      true,
		},
		{
			name:      "or composition",
			condition: "a == 1 or b == 2",
			context:   map[string]any{"a": 0.0, "b": 2.0},
			want:      true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := e.Evaluate(tc.condition, tc.context)
			if got != tc.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tc.condition, got, tc.want)
			}
		})
	}
}

func TestEvaluateNeverErrors(t *testing.T) {
	e := New(nil)
	badConditions := []string{
		"",
		"   ",
		"((( )))",
		"1 +",
		"a.b.c.d.e.f",
		"[1,2][5]",
	}
	for _, c := range badConditions {
		if got := e.Evaluate(c, map[string]any{}); got {
			t.Errorf("Evaluate(%q) = true, want false for malformed/empty condition", c)
		}
	}
}

func TestMissingSentinel(t *testing.T) {
	e := New(nil)
	if e.Evaluate("missing_key == 'x'", map[string]any{}) {
		t.Error("Missing should never equal a concrete value")
	}
	if !e.Evaluate("missing_key != 'x'", map[string]any{}) {
		t.Error("Missing should always compare unequal")
	}
}
