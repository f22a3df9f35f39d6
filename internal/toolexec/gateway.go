// Package toolexec executes tool calls against the services gateway,
// grounded on original_source/backend/app/core/tool_executor.py and its
// HTTP collaborator original_source/backend/app/clients/service_client.py.
package toolexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ServiceMapping maps a tool name to the HTTP method and endpoint
// template used to execute it against the services gateway, grounded on
// original_source/backend/app/clients/service_mapping.py. Path
// parameters are written as {param_name} and substituted from the call's
// parameters before query/body assembly.
var ServiceMapping = map[string]endpointMapping{
	// Remittances
	"get_corridors":          {"GET", "/api/v1/remittances/corridors"},
	"get_exchange_rate":      {"GET", "/api/v1/remittances/exchange-rate"},
	"create_quote":           {"POST", "/api/v1/remittances/quotes"},
	"list_recipients":        {"GET", "/api/v1/remittances/recipients"},
	"get_recipient":          {"GET", "/api/v1/remittances/recipients/{recipient_id}"},
	"add_recipient":          {"POST", "/api/v1/remittances/recipients"},
	"save_recipient":         {"POST", "/api/v1/remittances/recipients"},
	"add_delivery_method":    {"POST", "/api/v1/remittances/recipients/{recipient_id}/delivery-methods"},
	"save_delivery_method":   {"POST", "/api/v1/remittances/recipients/{recipient_id}/delivery-methods"},
	"delete_recipient":       {"DELETE", "/api/v1/remittances/recipients/{recipient_id}"},
	"get_delivery_methods":   {"GET", "/api/v1/remittances/delivery-methods"},
	"get_user_limits":        {"GET", "/api/v1/remittances/limits"},
	"create_transfer":        {"POST", "/api/v1/remittances/transfers"},
	"get_transfer_status":    {"GET", "/api/v1/remittances/transfers/{transfer_id}"},
	"list_transfers":         {"GET", "/api/v1/remittances/transfers"},
	"cancel_transfer":        {"POST", "/api/v1/remittances/transfers/{transfer_id}/cancel"},
	"create_snpl_transfer":   {"POST", "/api/v1/remittances/snpl-transfers"},
	"get_quick_send_options": {"GET", "/api/v1/remittances/quick-send"},
	"get_recipients":         {"GET", "/api/v1/remittances/recipients"},
	"calculate_transfer":     {"POST", "/api/v1/remittances/quotes"},
	"get_recent_transfers":   {"GET", "/api/v1/remittances/transfers"},

	// SNPL (credit)
	"get_snpl_eligibility":      {"GET", "/api/v1/snpl/eligibility"},
	"get_eligibility":           {"GET", "/api/v1/snpl/eligibility"},
	"calculate_terms":           {"POST", "/api/v1/snpl/calculate"},
	"submit_snpl_application":   {"POST", "/api/v1/snpl/applications"},
	"apply_for_snpl":            {"POST", "/api/v1/snpl/applications"},
	"get_snpl_overview":         {"GET", "/api/v1/snpl/overview"},
	"get_overview":              {"GET", "/api/v1/snpl/overview"},
	"get_loan_details":          {"GET", "/api/v1/snpl/loans/{loan_id}"},
	"list_loans":                {"GET", "/api/v1/snpl/loans"},
	"get_payment_schedule":      {"GET", "/api/v1/snpl/loans/{loan_id}/schedule"},
	"get_payment_history":       {"GET", "/api/v1/snpl/payments"},
	"make_snpl_payment":         {"POST", "/api/v1/snpl/payments"},
	"make_payment":              {"POST", "/api/v1/snpl/payments"},
	"use_credit_for_remittance": {"POST", "/api/v1/snpl/loans/{loan_id}/use-for-remittance"},

	// TopUps
	"get_carriers":         {"GET", "/api/v1/topups/carriers"},
	"get_carrier":          {"GET", "/api/v1/topups/carriers/{carrier_id}"},
	"get_frequent_numbers": {"GET", "/api/v1/topups/frequent-numbers"},
	"detect_carrier":       {"POST", "/api/v1/topups/detect-carrier"},
	"get_carrier_plans":    {"GET", "/api/v1/topups/carriers/{carrier_id}/plans"},
	"get_topup_price":      {"GET", "/api/v1/topups/price"},
	"send_topup":           {"POST", "/api/v1/topups"},
	"get_topup_history":    {"GET", "/api/v1/topups/history"},

	// BillPay
	"get_billers":       {"GET", "/api/v1/billpay/billers"},
	"get_biller":        {"GET", "/api/v1/billpay/billers/{biller_id}"},
	"get_saved_billers": {"GET", "/api/v1/billpay/saved"},
	"get_bill_details":  {"GET", "/api/v1/billpay/billers/{biller_id}/details"},
	"calculate_payment": {"POST", "/api/v1/billpay/calculate"},
	"pay_bill":          {"POST", "/api/v1/billpay/payments"},
	"save_biller":       {"POST", "/api/v1/billpay/saved"},

	// Wallet
	"get_balance":            {"GET", "/api/v1/wallet/balance"},
	"get_payment_methods":    {"GET", "/api/v1/wallet/payment-methods"},
	"add_funds":              {"POST", "/api/v1/wallet/add-funds"},
	"get_transactions":       {"GET", "/api/v1/wallet/transactions"},
	"add_payment_method":     {"POST", "/api/v1/wallet/payment-methods"},
	"remove_payment_method":  {"DELETE", "/api/v1/wallet/payment-methods/{payment_method_id}"},

	// Financial data
	"get_user_financial_summary":  {"GET", "/api/v1/financial-data/summary"},
	"get_rate_trends":             {"GET", "/api/v1/financial-data/rate-trends"},
	"get_fee_optimization_tips":   {"GET", "/api/v1/financial-data/optimization-tips"},
	"get_spending_analysis":       {"GET", "/api/v1/financial-data/spending-analysis"},
	"get_savings_recommendations": {"GET", "/api/v1/financial-data/savings-recommendations"},

	// Campaigns
	"get_active_campaigns":       {"GET", "/api/v1/campaigns/active"},
	"get_campaign_by_id":         {"GET", "/api/v1/campaigns/{campaign_id}"},
	"check_user_eligibility":     {"GET", "/api/v1/campaigns/{campaign_id}/eligibility"},
	"record_campaign_impression": {"POST", "/api/v1/campaigns/impressions"},
	"get_campaigns_for_context":  {"GET", "/api/v1/campaigns/by-context"},
	"get_user_campaign_history":  {"GET", "/api/v1/campaigns/history"},
}

type endpointMapping struct {
	Method   string
	Endpoint string
}

// ServiceResult is the outcome of one services-gateway HTTP call.
type ServiceResult struct {
	Success   bool
	Data      any
	Error     string
	ErrorCode string
}

// GatewayClient calls the services gateway over HTTP, grounded on
// original_source/backend/app/clients/service_client.py. Unlike that
// source it is a plain synchronous *http.Client wrapper (Go has no
// async/await distinction to mirror).
type GatewayClient struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// NewGatewayClient constructs a client against baseURL with the given
// per-request timeout.
func NewGatewayClient(baseURL string, timeout time.Duration, log *zap.Logger) *GatewayClient {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GatewayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// CallService issues one HTTP request to the gateway and decodes its
// envelope, matching ServiceClient.call_service's response contract:
// a JSON body of shape {"success": bool, "data": ..., "error": ...,
// "error_code": ...}, with "success" defaulting to true when absent.
func (c *GatewayClient) CallService(ctx context.Context, method, endpoint string, query, body map[string]any, userID, language string) ServiceResult {
	fullURL := c.baseURL + endpoint
	if method == http.MethodGet && len(query) > 0 {
		q := url.Values{}
		for k, v := range query {
			q.Set(k, fmt.Sprintf("%v", v))
		}
		fullURL += "?" + q.Encode()
	}

	var bodyReader io.Reader
	if method != http.MethodGet && body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return ServiceResult{Success: false, Error: err.Error(), ErrorCode: "UNKNOWN_ERROR"}
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return ServiceResult{Success: false, Error: err.Error(), ErrorCode: "UNKNOWN_ERROR"}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Language", language)
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ServiceResult{Success: false, Error: "service timeout", ErrorCode: "TIMEOUT"}
		}
		c.log.Error("gateway connection error", zap.String("endpoint", endpoint), zap.Error(err))
		return ServiceResult{Success: false, Error: "service unavailable", ErrorCode: "CONNECTION_ERROR"}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return ServiceResult{Success: false, Error: err.Error(), ErrorCode: "UNKNOWN_ERROR"}
	}

	if resp.StatusCode >= 400 {
		var envelope struct {
			Detail json.RawMessage `json:"detail"`
		}
		if json.Unmarshal(raw, &envelope) == nil && len(envelope.Detail) > 0 {
			var detail struct {
				Error     string `json:"error"`
				ErrorCode string `json:"error_code"`
			}
			if json.Unmarshal(envelope.Detail, &detail) == nil && detail.Error != "" {
				return ServiceResult{Success: false, Error: detail.Error, ErrorCode: firstNonEmpty(detail.ErrorCode, "HTTP_ERROR")}
			}
		}
		return ServiceResult{Success: false, Error: fmt.Sprintf("HTTP %d", resp.StatusCode), ErrorCode: "HTTP_ERROR"}
	}

	var envelope struct {
		Success   *bool  `json:"success"`
		Data      any    `json:"data"`
		Error     string `json:"error"`
		ErrorCode string `json:"error_code"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return ServiceResult{Success: false, Error: "malformed service response", ErrorCode: "UNKNOWN_ERROR"}
	}
	if envelope.Success == nil || *envelope.Success {
		return ServiceResult{Success: true, Data: envelope.Data}
	}
	return ServiceResult{Success: false, Error: envelope.Error, ErrorCode: envelope.ErrorCode}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
