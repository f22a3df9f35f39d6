package condition

import (
	"fmt"

	"go.uber.org/zap"
)

// Evaluator evaluates condition strings against a context map. It is
// stateless and safe for concurrent use; construct one per process and
// share it, same as the registry and template renderer.
type Evaluator struct {
	log *zap.Logger
}

// New returns an Evaluator that logs parse/eval failures at Warn (they
// never propagate as errors — Evaluate is total, per spec.md P5).
func New(log *zap.Logger) *Evaluator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Evaluator{log: log}
}

// Evaluate parses and evaluates condition against context. Any parse or
// evaluation failure results in false, with a warning logged; Evaluate
// itself never returns an error because the contract (spec.md §4.C) is
// that condition evaluation is total.
func (e *Evaluator) Evaluate(condition string, context map[string]any) bool {
	if condition == "" {
		return false
	}
	tree, err := parse(condition)
	if err != nil {
		e.log.Warn("condition parse failed", zap.String("condition", condition), zap.Error(err))
		return false
	}
	result, err := safeEval(tree, context)
	if err != nil {
		e.log.Warn("condition eval failed", zap.String("condition", condition), zap.Error(err))
		return false
	}
	return truthy(result)
}

// safeEval recovers from any panic raised while walking the AST (e.g. a
// type assertion on a hostile subscript) and turns it into an error, so
// Evaluate's totality guarantee holds even for interpreter bugs.
func safeEval(n node, root map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("condition: panic during evaluation: %v", r)
		}
	}()
	return evalNode(n, root), nil
}

func truthy(v any) bool {
	if _, ok := v.(Missing); ok {
		return false
	}
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

func evalNode(n node, root map[string]any) any {
	switch v := n.(type) {
	case boolOp:
		if v.and {
			for _, sub := range v.values {
				if !truthy(evalNode(sub, root)) {
					return false
				}
			}
			return true
		}
		for _, sub := range v.values {
			if truthy(evalNode(sub, root)) {
				return true
			}
		}
		return false

	case notOp:
		return !truthy(evalNode(v.operand, root))

	case compareChain:
		return evalCompareChain(v, root)

	case identNode:
		if v.name == "context" {
			return any(root)
		}
		if v.name == "stateData" {
			if nested, ok := root["stateData"].(map[string]any); ok {
				return any(nested)
			}
			return any(root)
		}
		val, found := resolvePath(root, v.name)
		if !found {
			return Missing{Path: v.name}
		}
		return val

	case attrNode:
		base := evalNode(v.base, root)
		if m, ok := base.(Missing); ok {
			candidate := m.Path + "." + v.attr
			val, found := resolvePath(root, candidate)
			if !found {
				return Missing{Path: candidate}
			}
			return val
		}
		if m, ok := base.(map[string]any); ok {
			key, found := resolveKey(m, v.attr)
			if found {
				return m[key]
			}
		}
		return Missing{Path: v.attr}

	case subscriptNode:
		base := evalNode(v.base, root)
		key := evalNode(v.key, root)
		if m, ok := base.(Missing); ok {
			return m
		}
		if m, ok := key.(Missing); ok {
			return m
		}
		switch container := base.(type) {
		case map[string]any:
			keyStr := fmt.Sprint(key)
			k, found := resolveKey(container, keyStr)
			if !found {
				return Missing{Path: keyStr}
			}
			return container[k]
		case []any:
			idx, ok := key.(float64)
			if !ok || int(idx) < 0 || int(idx) >= len(container) {
				return Missing{Path: fmt.Sprint(key)}
			}
			return container[int(idx)]
		default:
			return Missing{Path: fmt.Sprint(key)}
		}

	case literalNode:
		return v.value

	case listNode:
		items := make([]any, len(v.items))
		for i, item := range v.items {
			items[i] = evalNode(item, root)
		}
		return items

	case dictNode:
		m := make(map[string]any, len(v.keys))
		for i := range v.keys {
			k := fmt.Sprint(evalNode(v.keys[i], root))
			m[k] = evalNode(v.values[i], root)
		}
		return m
	}
	return Missing{Path: ""}
}

func evalCompareChain(c compareChain, root map[string]any) any {
	left := evalNode(c.left, root)
	for _, link := range c.links {
		right := evalNode(link.right, root)
		if !compareValues(left, right, link.op) {
			return false
		}
		left = right
	}
	return true
}

func compareValues(left, right any, op compareOp) bool {
	// `Missing(k) in map` / `not in` — consult key-presence, not value
	// equality, matching the source's special-case for unresolved names.
	if (op == opIn || op == opNotIn) {
		if m, ok := left.(Missing); ok {
			if rm, ok := right.(map[string]any); ok {
				contains := containsKey(rm, m.Path)
				if op == opIn {
					return contains
				}
				return !contains
			}
		}
	}

	leftVal := normalizeMissing(left)
	rightVal := normalizeMissing(right)

	switch op {
	case opEq:
		return equalValues(leftVal, rightVal)
	case opNotEq:
		return !equalValues(leftVal, rightVal)
	case opIs:
		return equalValues(leftVal, rightVal)
	case opIsNot:
		return !equalValues(leftVal, rightVal)
	case opLt, opLte, opGt, opGte:
		return compareOrdered(leftVal, rightVal, op)
	case opIn:
		return inContainer(leftVal, rightVal)
	case opNotIn:
		return !inContainer(leftVal, rightVal)
	}
	return false
}

// normalizeMissing maps the Missing sentinel to missingMarker for
// comparison purposes once the special `in`-over-Missing case above has
// already been handled; this makes Missing compare unequal to every
// value, nil and another Missing included.
func normalizeMissing(v any) any {
	if _, ok := v.(Missing); ok {
		return missingMarker{}
	}
	return v
}

// missingMarker never equals anything, including another missingMarker,
// matching MissingValue's dataclass identity semantics in the source
// (two distinct MissingValue("x") instances are not compared by the
// evaluator — only by path string there — but here we conservatively
// treat any unresolved value as unequal to everything, including another
// unresolved value, since no caller relies on Missing==Missing).
type missingMarker struct{}

func equalValues(a, b any) bool {
	if _, ok := a.(missingMarker); ok {
		return false
	}
	if _, ok := b.(missingMarker); ok {
		return false
	}
	af, aIsNum := toFloat(a)
	bf, bIsNum := toFloat(b)
	if aIsNum && bIsNum {
		return af == bf
	}
	return fmt.Sprint(a) == fmt.Sprint(b) && sameKind(a, b)
}

func sameKind(a, b any) bool {
	switch a.(type) {
	case nil:
		return b == nil
	case bool:
		_, ok := b.(bool)
		return ok
	case string:
		_, ok := b.(string)
		return ok
	}
	return true
}

func toFloat(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

func compareOrdered(a, b any, op compareOp) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch op {
		case opLt:
			return af < bf
		case opLte:
			return af <= bf
		case opGt:
			return af > bf
		case opGte:
			return af >= bf
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch op {
		case opLt:
			return as < bs
		case opLte:
			return as <= bs
		case opGt:
			return as > bs
		case opGte:
			return as >= bs
		}
	}
	return false
}

func inContainer(needle, haystack any) bool {
	switch h := haystack.(type) {
	case []any:
		for _, item := range h {
			if equalValues(needle, item) {
				return true
			}
		}
		return false
	case string:
		s, ok := needle.(string)
		return ok && containsSubstring(h, s)
	case map[string]any:
		s := fmt.Sprint(needle)
		return containsKey(h, s)
	}
	return false
}

func containsSubstring(haystack, needle string) bool {
	return len(needle) == 0 || indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	n, m := len(haystack), len(needle)
	if m > n {
		return -1
	}
	for i := 0; i+m <= n; i++ {
		if haystack[i:i+m] == needle {
			return i
		}
	}
	return -1
}
