package web

import (
	"net/http"
	"time"
)

// HealthInfo holds runtime status the health endpoint reports, gathered
// from the collaborators cmd/engine wires up.
type HealthInfo struct {
	LLMModel       string     // configured model name
	GatewayBaseURL string     // services gateway this deployment calls
	AgentCount     int        // registry.Registry agent count
	SessionCount   func() int // callback into the session store
}

// HealthHandler serves GET /health.
type HealthHandler struct {
	info      HealthInfo
	startTime time.Time
}

func NewHealthHandler(info HealthInfo) *HealthHandler {
	return &HealthHandler{info: info, startTime: time.Now()}
}

type healthResponse struct {
	Status     string           `json:"status"`
	UptimeSecs int64            `json:"uptime_seconds"`
	Components healthComponents `json:"components"`
}

type healthComponents struct {
	LLM      healthLLM      `json:"llm"`
	Gateway  healthGateway  `json:"gateway"`
	Agents   healthAgents   `json:"agents"`
	Sessions healthSessions `json:"sessions"`
}

type healthLLM struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}
type healthGateway struct {
	Status  string `json:"status"`
	BaseURL string `json:"base_url"`
}
type healthAgents struct {
	Registered int `json:"registered"`
}
type healthSessions struct {
	Active int `json:"active"`
}

// ServeHTTP handles GET /health.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	llmStatus := "ok"
	if h.info.LLMModel == "" {
		llmStatus = "degraded"
	}
	gatewayStatus := "ok"
	if h.info.GatewayBaseURL == "" {
		gatewayStatus = "degraded"
	}
	agentStatus := "ok"
	if h.info.AgentCount == 0 {
		agentStatus = "degraded"
	}

	status := "ok"
	if llmStatus == "degraded" || gatewayStatus == "degraded" || agentStatus == "degraded" {
		status = "degraded"
	}

	sessionCount := 0
	if h.info.SessionCount != nil {
		sessionCount = h.info.SessionCount()
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:     status,
		UptimeSecs: int64(time.Since(h.startTime).Seconds()),
		Components: healthComponents{
			LLM:      healthLLM{Status: llmStatus, Model: h.info.LLMModel},
			Gateway:  healthGateway{Status: gatewayStatus, BaseURL: h.info.GatewayBaseURL},
			Agents:   healthAgents{Registered: h.info.AgentCount},
			Sessions: healthSessions{Active: sessionCount},
		},
	})
}
