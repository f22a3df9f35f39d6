// Package template implements the response/confirmation template
// renderer used throughout the engine: `{{dotted.path}}` substitution
// over a context map, with two legacy placeholder styles recognised for
// compatibility with older agent configs.
//
// Unlike the system this was distilled from, unresolved placeholders are
// stripped rather than left in the output (spec.md §4.D, a deliberate
// redesign over original_source/backend/app/core/template_renderer.py,
// which returns the literal `{{key}}` text when a path does not
// resolve).
package template

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// placeholderPattern matches any of the three supported placeholder
// styles and captures the dotted path in a single group regardless of
// which delimiter pair was used.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([\w.]+)\s*\}\}|\$\{\s*([\w.]+)\s*\}|\{\s*([\w.]+)\s*\}`)

// Renderer substitutes placeholders with values resolved from a context
// map. It is stateless and safe for concurrent use.
type Renderer struct {
	log *zap.Logger
}

// New returns a Renderer that logs unresolved placeholders at Warn.
func New(log *zap.Logger) *Renderer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Renderer{log: log}
}

// Render substitutes every placeholder in template with its resolved
// value from data, stripping any placeholder that cannot be resolved.
func (r *Renderer) Render(tpl string, data map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(tpl, func(match string) string {
		path := extractPath(match)
		val, found := lookupPath(data, path)
		if !found {
			r.log.Warn("template placeholder did not resolve, stripping", zap.String("path", path))
			return ""
		}
		return stringify(val)
	})
}

// FindUnresolvedPlaceholders returns every placeholder path in tpl that
// would not resolve against data, without rendering the template. Used
// by the config loader to warn about confirmation templates that
// reference unknown fields.
func (r *Renderer) FindUnresolvedPlaceholders(tpl string, data map[string]any) []string {
	var unresolved []string
	seen := make(map[string]bool)
	for _, match := range placeholderPattern.FindAllString(tpl, -1) {
		path := extractPath(match)
		if seen[path] {
			continue
		}
		if _, found := lookupPath(data, path); !found {
			unresolved = append(unresolved, path)
			seen[path] = true
		}
	}
	return unresolved
}

func extractPath(match string) string {
	sub := placeholderPattern.FindStringSubmatch(match)
	for _, g := range sub[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}

// lookupPath performs plain dotted-path map traversal: exact key match
// only, no snake/camel fallback (that normalisation is specific to the
// condition evaluator's identifier resolution, spec.md §4.C).
func lookupPath(data map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var current any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		current = v
	}
	return current, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(t)
	}
}
