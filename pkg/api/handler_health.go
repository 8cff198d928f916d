package api

import (
	"net/http"
	"os"
	"os/exec"
	"strings"

	echo "github.com/labstack/echo/v5"
)

// HealthResponse is the live environment check returned by /api/health.
type HealthResponse struct {
	Status      string `json:"status"` // ready | degraded | offline
	APIKey      string `json:"apiKey"` // valid | invalid | missing
	APIKeyError string `json:"apiKeyError,omitempty"`
	AgentSDK    string `json:"agentSdk"` // found | not_found
}

// healthHandler handles GET /api/health. The environment is re-checked on
// every call so a key exported after startup is picked up.
func (s *Server) healthHandler(c *echo.Context) error {
	resp := HealthResponse{Status: "ready", APIKey: "valid", AgentSDK: "found"}

	key := os.Getenv("OPENAI_API_KEY")
	switch {
	case key == "":
		resp.APIKey = "missing"
		resp.APIKeyError = "OPENAI_API_KEY is not set"
		resp.Status = "offline"
	case !plausibleKey(key):
		resp.APIKey = "invalid"
		resp.APIKeyError = "OPENAI_API_KEY does not look like an API key"
		resp.Status = "degraded"
	}

	// Generated projects are run and tested through the Python toolchain.
	if _, err := exec.LookPath("python3"); err != nil {
		resp.AgentSDK = "not_found"
		if resp.Status == "ready" {
			resp.Status = "degraded"
		}
	}

	return c.JSON(http.StatusOK, &resp)
}

func plausibleKey(key string) bool {
	key = strings.TrimSpace(key)
	return len(key) >= 20 && !strings.ContainsAny(key, " \t\n")
}

// DevConfigRequest sets the API key at runtime (dev mode only).
type DevConfigRequest struct {
	APIKey string `json:"apiKey"`
}

// devConfigHandler handles POST /api/internal/config.
func (s *Server) devConfigHandler(c *echo.Context) error {
	var req DevConfigRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.APIKey) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "apiKey is required")
	}
	if err := os.Setenv("OPENAI_API_KEY", req.APIKey); err != nil {
		return mapServiceError(err)
	}
	s.cfg.OpenAIAPIKey = req.APIKey

	status := "valid"
	if !plausibleKey(req.APIKey) {
		status = "invalid"
	}
	return c.JSON(http.StatusOK, map[string]string{"apiKey": status})
}
