package toolexec

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/conversa/engine/internal/registry"
	"github.com/conversa/engine/internal/session"
	"github.com/conversa/engine/internal/template"
)

// maxSanitizedStringLen caps an individual string parameter to prevent a
// pathological payload from ballooning downstream prompts or requests.
const maxSanitizedStringLen = 10000

// Result is the outcome of one tool execution.
type Result struct {
	Success               bool
	Data                  any
	Error                 string
	RequiresConfirmation  bool
	ConfirmationMessage   string
}

// Executor runs registry-declared tools against the services gateway,
// grounded on original_source/backend/app/core/tool_executor.py.
type Executor struct {
	gateway  *GatewayClient
	renderer *template.Renderer
	log      *zap.Logger
}

// New constructs an Executor.
func New(gateway *GatewayClient, renderer *template.Renderer, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	if renderer == nil {
		renderer = template.New(log)
	}
	return &Executor{gateway: gateway, renderer: renderer, log: log}
}

// Execute runs tool with params against s's user, matching
// ToolExecutor.execute: a tool requiring confirmation short-circuits
// into a confirmation prompt unless skipConfirmation is set (the second
// turn of the confirm/deny dance).
func (e *Executor) Execute(ctx context.Context, tool *registry.ToolConfig, params map[string]any, s *session.Session, language string, skipConfirmation bool) Result {
	if tool.RequiresConfirmation && !skipConfirmation {
		return Result{
			Success:              true,
			RequiresConfirmation: true,
			ConfirmationMessage:  e.renderConfirmation(tool, params, s),
		}
	}

	validated, err := e.validateParams(params, tool.Parameters)
	if err != nil {
		e.log.Error("parameter validation failed", zap.String("tool", tool.Name), zap.Error(err))
		return Result{Success: false, Error: "invalid parameters", Data: map[string]any{"error": "INVALID_PARAMETERS", "details": err.Error()}}
	}
	validated = sanitizeParams(validated)

	if s.UserID == "" {
		return Result{Success: false, Error: "invalid user_id in session"}
	}

	mapping, ok := ServiceMapping[tool.Name]
	if !ok {
		return Result{Success: false, Error: fmt.Sprintf("no handler found for tool: %s", tool.Name)}
	}

	endpoint, query, body := substitutePathParams(mapping.Endpoint, validated)

	var result ServiceResult
	if mapping.Method == "GET" {
		result = e.gateway.CallService(ctx, mapping.Method, endpoint, query, nil, s.UserID, language)
	} else {
		result = e.gateway.CallService(ctx, mapping.Method, endpoint, nil, body, s.UserID, language)
	}

	if !result.Success {
		return Result{Success: false, Error: result.Error, Data: map[string]any{"error": firstNonEmpty(result.ErrorCode, "SERVICE_ERROR"), "message": result.Error}}
	}

	normalized := normalizeResultPayload(tool.Name, result.Data)
	return Result{Success: true, Data: normalized}
}

// renderConfirmation builds the confirmation prompt for a gated tool
// call, merging the active flow's state data with the call params so a
// template can reference either (original_source renders
// {**flow_data, **params}).
func (e *Executor) renderConfirmation(tool *registry.ToolConfig, params map[string]any, s *session.Session) string {
	tmpl := tool.ConfirmationTemplate
	if tmpl == "" {
		tmpl = fmt.Sprintf("Confirm running %s?", tool.Name)
	}

	renderData := map[string]any{}
	if s != nil && s.CurrentFlow != nil {
		for k, v := range s.CurrentFlow.StateData {
			renderData[k] = v
		}
	}
	for k, v := range params {
		renderData[k] = v
	}

	rendered := e.renderer.Render(tmpl, renderData)
	if unresolved := e.renderer.FindUnresolvedPlaceholders(tmpl, renderData); len(unresolved) > 0 {
		e.log.Warn("confirmation template has unresolved placeholders",
			zap.String("tool", tool.Name), zap.Strings("placeholders", unresolved))
	}
	return rendered
}

// substitutePathParams fills {param} placeholders in endpoint from
// params, returning the substituted endpoint plus the remaining
// params split by method shape (query is used verbatim by GET callers,
// body by everyone else — the caller picks which to send).
func substitutePathParams(endpoint string, params map[string]any) (string, map[string]any, map[string]any) {
	used := map[string]bool{}
	for key, value := range params {
		placeholder := "{" + key + "}"
		if strings.Contains(endpoint, placeholder) {
			endpoint = strings.ReplaceAll(endpoint, placeholder, fmt.Sprintf("%v", value))
			used[key] = true
		}
	}
	remaining := map[string]any{}
	for k, v := range params {
		if !used[k] {
			remaining[k] = v
		}
	}
	return endpoint, remaining, remaining
}

// validateParams enforces required/typed parameters against schema,
// coercing types, matching ToolExecutor._validate_params /
// _coerce_type.
func (e *Executor) validateParams(params map[string]any, schema []registry.ParamConfig) (map[string]any, error) {
	if len(schema) == 0 {
		return params, nil
	}
	validated := map[string]any{}
	for _, def := range schema {
		if def.Name == "" {
			continue
		}
		value, present := params[def.Name]
		if def.Required && !present {
			return nil, fmt.Errorf("missing required parameter: %s", def.Name)
		}
		if !present {
			continue
		}
		coerced, err := coerceType(value, def.Type)
		if err != nil {
			return nil, fmt.Errorf("invalid type for parameter '%s': %w", def.Name, err)
		}
		validated[def.Name] = coerced
	}
	return validated, nil
}

func coerceType(value any, expected registry.ParamType) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch expected {
	case registry.ParamNumber:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %v to number: %w", value, err)
			}
			return f, nil
		default:
			return nil, fmt.Errorf("cannot coerce %v to number", value)
		}
	case registry.ParamInteger:
		switch v := value.(type) {
		case bool:
			return nil, fmt.Errorf("cannot coerce boolean to integer")
		case float64:
			return int(v), nil
		case int:
			return v, nil
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %v to integer: %w", value, err)
			}
			return int(f), nil
		default:
			return nil, fmt.Errorf("cannot coerce %v to integer", value)
		}
	case registry.ParamBoolean:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			switch strings.ToLower(v) {
			case "true", "1", "yes", "y":
				return true, nil
			case "false", "0", "no", "n":
				return false, nil
			default:
				return nil, fmt.Errorf("cannot coerce string '%s' to boolean", v)
			}
		default:
			return nil, fmt.Errorf("cannot coerce %v to boolean", value)
		}
	case registry.ParamObject:
		if _, ok := value.(map[string]any); !ok {
			return nil, fmt.Errorf("expected object, got %T", value)
		}
		return value, nil
	case registry.ParamArray:
		if _, ok := value.([]any); !ok {
			return nil, fmt.Errorf("expected array, got %T", value)
		}
		return value, nil
	case registry.ParamString:
		if s, ok := value.(string); ok {
			return s, nil
		}
		return fmt.Sprintf("%v", value), nil
	default:
		return value, nil
	}
}

// sanitizeParams strips null bytes and non-printable control characters
// from string parameters, trims whitespace, and truncates overlong
// values, matching ToolExecutor._sanitize_params. Recurses into nested
// maps and slices.
func sanitizeParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case string:
		return sanitizeString(val)
	case map[string]any:
		return sanitizeParams(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			switch item := item.(type) {
			case map[string]any:
				out[i] = sanitizeParams(item)
			case string:
				out[i] = strings.ReplaceAll(item, "\x00", "")
			default:
				out[i] = item
			}
		}
		return out
	default:
		return v
	}
}

func sanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\t' || unicode.IsPrint(r) {
			b.WriteRune(r)
		}
	}
	s = strings.TrimSpace(b.String())
	if len(s) > maxSanitizedStringLen {
		s = s[:maxSanitizedStringLen]
	}
	return s
}

// normalizeResultPayload fills deterministic transaction_id/reference/
// amount/currency/timestamp/status fields from the many shapes
// upstream services return, matching
// ToolExecutor._normalize_result_payload.
func normalizeResultPayload(toolName string, payload any) any {
	m, ok := payload.(map[string]any)
	if !ok {
		return payload
	}
	normalized := make(map[string]any, len(m)+2)
	for k, v := range m {
		normalized[k] = v
	}

	status := strings.ToLower(fmt.Sprintf("%v", firstPresent(normalized, "status")))
	if status == "<nil>" || status == "" {
		status = "success"
	}

	transactionID := firstPresent(normalized, "transaction_id", "transactionId", "transfer_id", "transferId", "topupId", "paymentId", "loan_id")
	reference := firstPresent(normalized, "reference", "confirmationNumber", "confirmation_number")
	if reference == nil {
		reference = transactionID
	}
	amount := firstPresent(normalized, "amount", "amount_usd", "amountUsd", "usdCharged", "totalUsd", "amountPaid")
	currency := firstPresent(normalized, "currency", "localCurrency", "from_currency")
	if currency == nil && amount != nil {
		currency = "USD"
	}
	timestamp := firstPresent(normalized, "timestamp", "processedAt", "created_at", "createdAt")

	if transactionID != nil {
		normalized["transaction_id"] = transactionID
	}
	if reference != nil {
		normalized["reference"] = reference
	}
	if amount != nil {
		normalized["amount"] = amount
	}
	if currency != nil {
		normalized["currency"] = currency
	}
	if timestamp != nil {
		normalized["timestamp"] = timestamp
	}
	normalized["status"] = status
	normalized["_tool_name"] = toolName

	return normalized
}

func firstPresent(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			if s, isStr := v.(string); isStr && s == "" {
				continue
			}
			return v
		}
	}
	return nil
}

var (
	positivePatterns = compileAll(
		`^s[íi]$`, `^si$`, `^yes$`, `^confirmo$`, `^confirmar$`, `^dale$`,
		`^ok$`, `^okay$`, `^hazlo$`, `^adelante$`, `^procede$`, `^claro$`,
		`^por supuesto$`, `^está bien$`, `^esta bien$`,
	)
	negativePatterns = compileAll(
		`^no$`, `^nop$`, `^nope$`, `^cancel`, `^cancela`, `^no quiero$`,
		`^mejor no$`, `^dejalo$`, `^déjalo$`, `^olvidalo$`, `^olvídalo$`,
	)
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// ClassifyUserConfirmation reports whether a free-text reply to a
// pending confirmation reads as affirmative (true), a denial (false),
// or is unclear (nil), matching
// ToolExecutor.classify_user_confirmation.
func ClassifyUserConfirmation(message string) *bool {
	lower := strings.ToLower(strings.TrimSpace(message))
	for _, p := range positivePatterns {
		if p.MatchString(lower) {
			v := true
			return &v
		}
	}
	for _, p := range negativePatterns {
		if p.MatchString(lower) {
			v := false
			return &v
		}
	}
	return nil
}
