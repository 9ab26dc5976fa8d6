package handlers

import (
	"net/http"

	"github.com/vango-go/partyline/pkg/gateway/config"
	"github.com/vango-go/partyline/pkg/gateway/live/sessions"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports 503 while draining so load balancers stop routing
// new calls here.
type ReadyHandler struct {
	Config config.Config
	Calls  *sessions.Manager
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK           bool     `json:"ok"`
		Draining     bool     `json:"draining"`
		AuthMode     string   `json:"auth_mode"`
		LLMProvider  string   `json:"llm_provider"`
		TTSProvider  string   `json:"tts_provider"`
		PersonaStore string   `json:"persona_store"`
		OpenCalls    int      `json:"open_calls"`
		Issues       []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeOptional, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}
	if h.Config.MaxBodyBytes <= 0 {
		issues = append(issues, "max_body_bytes must be > 0")
	}
	if h.Config.WSMaxMessageBytes <= 0 {
		issues = append(issues, "ws max message bytes must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ReadTimeout <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}

	draining, openCalls := false, 0
	if h.Calls != nil {
		draining = h.Calls.Draining()
		openCalls = h.Calls.Count()
	}

	ok := len(issues) == 0 && !draining
	status := http.StatusOK
	switch {
	case len(issues) > 0:
		status = http.StatusInternalServerError
	case draining:
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, readyResp{
		OK:           ok,
		Draining:     draining,
		AuthMode:     string(h.Config.AuthMode),
		LLMProvider:  h.Config.LLMProvider,
		TTSProvider:  h.Config.TTSProvider,
		PersonaStore: h.Config.PersonaStore,
		OpenCalls:    openCalls,
		Issues:       issues,
	})
}
