package condition

import "strings"

// Missing is the sentinel returned for an unresolved identifier or
// attribute/key access. It compares unequal to every concrete value, is
// always falsy, and has special `in`-membership semantics (§4.C): a
// Missing(path) is considered "in" a map iff path names one of its keys
// under snake/camel/normalised-key resolution.
type Missing struct{ Path string }

func (m Missing) String() string { return "<missing:" + m.Path + ">" }

// camelToSnake converts camelCase/PascalCase to snake_case, matching the
// `_CAMEL_BOUNDARY` regex behaviour of the source evaluator: a boundary is
// inserted before every uppercase letter that is not the first rune.
func camelToSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		if r >= 'A' && r <= 'Z' {
			b.WriteRune(r - 'A' + 'a')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// snakeToCamel converts snake_case to camelCase.
func snakeToCamel(s string) string {
	parts := strings.Split(s, "_")
	if len(parts) == 0 {
		return s
	}
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

// resolveKey resolves a key within a map[string]any using exact match
// first, then snake_case, camelCase, and finally an underscore/case
// insensitive normalised scan over the map's actual keys.
func resolveKey(m map[string]any, key string) (string, bool) {
	if _, ok := m[key]; ok {
		return key, true
	}
	for _, candidate := range []string{camelToSnake(key), snakeToCamel(key), strings.ToLower(key)} {
		if _, ok := m[candidate]; ok {
			return candidate, true
		}
	}
	normalizedTarget := strings.ToLower(strings.ReplaceAll(key, "_", ""))
	for existing := range m {
		if strings.ToLower(strings.ReplaceAll(existing, "_", "")) == normalizedTarget {
			return existing, true
		}
	}
	return key, false
}

// containsKey reports whether key names a key of m under resolveKey's
// normalisation rules.
func containsKey(m map[string]any, key string) bool {
	_, found := resolveKey(m, key)
	return found
}

// resolvePath walks a dotted path ("a.b.c") against root, applying
// resolveKey normalisation at every map level.
func resolvePath(data any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	current := data
	for _, part := range strings.Split(path, ".") {
		if _, isMissing := current.(Missing); isMissing {
			return current, false
		}
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		key, found := resolveKey(m, part)
		if !found {
			return nil, false
		}
		current = m[key]
	}
	return current, true
}
