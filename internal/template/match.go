package template

import (
	"fmt"
	"strings"

	"github.com/conversa/engine/internal/registry"
	"go.uber.org/zap"
)

// MatchQuery is the lookup key used to select a ResponseTemplateConfig,
// grounded on original_source/backend/app/core/template_renderer.py's
// find_matching_template.
type MatchQuery struct {
	Type      registry.TriggerType
	ToolName  string
	StateName string
	ErrorCode string
}

// FindMatchingTemplate returns the first template whose trigger matches
// query, or nil. Templates are matched in declaration order; an empty
// trigger field in the config is a wildcard for that dimension.
func FindMatchingTemplate(templates []registry.ResponseTemplateConfig, q MatchQuery) *registry.ResponseTemplateConfig {
	for i := range templates {
		t := &templates[i]
		if t.Trigger.Type != q.Type {
			continue
		}
		switch q.Type {
		case registry.TriggerToolSuccess, registry.TriggerToolError:
			if t.Trigger.ToolName != "" && t.Trigger.ToolName != q.ToolName {
				continue
			}
		}
		if q.Type == registry.TriggerToolError {
			if t.Trigger.ErrorCode != "" && t.Trigger.ErrorCode != q.ErrorCode {
				continue
			}
		}
		if q.Type == registry.TriggerStateEntry {
			if t.Trigger.StateName != "" && t.Trigger.StateName != q.StateName {
				continue
			}
		}
		return t
	}
	return nil
}

// Apply renders tmpl against data, after verifying that every required
// field resolves. Returns ok=false (and logs nothing itself — the
// orchestrator decides whether to fall back) when a required field is
// missing.
func (r *Renderer) Apply(tmpl *registry.ResponseTemplateConfig, data map[string]any) (string, bool) {
	for _, field := range tmpl.RequiredFields {
		if _, found := lookupPath(data, field); !found {
			r.log.Warn("response template missing required field", zap.String("template", tmpl.Name), zap.String("field", field))
			return "", false
		}
	}
	return r.Render(tmpl.Template, data), true
}

// FormatList renders items as a 1-indexed newline-separated list using
// formatter, or fmt.Sprint when formatter is nil. Grounded on
// template_renderer.py's format_list/format_recipient_list/
// format_phone_list family, generalised to one helper over any slice.
func FormatList(items []any, formatter func(any) string) string {
	if len(items) == 0 {
		return ""
	}
	if formatter == nil {
		formatter = func(v any) string { return fmt.Sprint(v) }
	}
	lines := make([]string, 0, len(items))
	for i, item := range items {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, formatter(item)))
	}
	return strings.Join(lines, "\n")
}

// FormatRecipientList renders recipient maps in the original system's
// "name - country (method)" shape.
func FormatRecipientList(recipients []map[string]any) string {
	items := make([]any, len(recipients))
	for i, r := range recipients {
		items[i] = r
	}
	return FormatList(items, func(v any) string {
		m := v.(map[string]any)
		return fmt.Sprintf("%v - %v (%v)", m["name"], m["country_name"], m["default_delivery_method"])
	})
}

// FormatPhoneList renders phone-number maps in the original system's
// "nickname: number (carrier)" shape.
func FormatPhoneList(numbers []map[string]any) string {
	items := make([]any, len(numbers))
	for i, n := range numbers {
		items[i] = n
	}
	return FormatList(items, func(v any) string {
		m := v.(map[string]any)
		carrier := fmt.Sprint(m["carrier"])
		if carrier != "" {
			carrier = strings.ToUpper(carrier[:1]) + carrier[1:]
		}
		return fmt.Sprintf("%v: %v (%s)", m["nickname"], m["phoneNumber"], carrier)
	})
}
