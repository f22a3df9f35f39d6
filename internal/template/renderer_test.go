package template

import "testing"

func TestRenderStripsUnresolved(t *testing.T) {
	r := New(nil)
	got := r.Render("Hello {{name}}, balance is {{missing.path}}.", map[string]any{"name": "Ana"})
	want := "Hello Ana, balance is ."
	if got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestRenderSupportsLegacyStyles(t *testing.T) {
	r := New(nil)
	data := map[string]any{"amount": 200.0, "recipient": map[string]any{"name": "Luis"}}

	if got := r.Render("${amount}", data); got != "200" {
		t.Errorf("${} style: got %q", got)
	}
	if got := r.Render("{amount}", data); got != "200" {
		t.Errorf("{} style: got %q", got)
	}
	if got := r.Render("{{recipient.name}}", data); got != "Luis" {
		t.Errorf("nested path: got %q", got)
	}
}

func TestFindUnresolvedPlaceholders(t *testing.T) {
	r := New(nil)
	got := r.FindUnresolvedPlaceholders("{{a}} {{b}} {{a}}", map[string]any{"a": 1.0})
	if len(got) != 1 || got[0] != "b" {
		t.Errorf("FindUnresolvedPlaceholders() = %v, want [b]", got)
	}
}

func TestIdempotentReapplication(t *testing.T) {
	r := New(nil)
	data := map[string]any{"amount": 200.0}
	first := r.Render("Sent {{amount}}", data)
	second := r.Render(first, data)
	if first != second {
		t.Errorf("rendering is not idempotent: %q != %q", first, second)
	}
}
