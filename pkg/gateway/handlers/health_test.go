package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vango-go/partyline/pkg/gateway/config"
	"github.com/vango-go/partyline/pkg/gateway/live/sessions"
)

func readyConfig(mode config.AuthMode) config.Config {
	return config.Config{
		AuthMode:          mode,
		APIKeys:           map[string]struct{}{},
		MaxBodyBytes:      1,
		WSMaxMessageBytes: 1,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       time.Second,
		LLMProvider:       config.LLMProviderNone,
		TTSProvider:       config.TTSProviderTone,
		PersonaStore:      config.PersonaStoreFile,
	}
}

func serveReady(t *testing.T, h ReadyHandler) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v body=%q", err, rr.Body.String())
	}
	return rr, resp
}

func TestHealthHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	HealthHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok\n" {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestReadyHandler_RequiredAuthEmptyKeys_NotReady(t *testing.T) {
	rr, resp := serveReady(t, ReadyHandler{Config: readyConfig(config.AuthModeRequired)})

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ok, _ := resp["ok"].(bool); ok {
		t.Fatalf("expected ok=false, got ok=true")
	}
	if issues, _ := resp["issues"].([]any); len(issues) != 1 {
		t.Fatalf("issues=%v", resp["issues"])
	}
}

func TestReadyHandler_OptionalAuth_Ready(t *testing.T) {
	calls := sessions.NewManager(sessions.Options{})
	rr, resp := serveReady(t, ReadyHandler{Config: readyConfig(config.AuthModeOptional), Calls: calls})

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ok, _ := resp["ok"].(bool); !ok {
		t.Fatalf("expected ok=true: %v", resp)
	}
	if resp["tts_provider"] != "tone" || resp["persona_store"] != "file" {
		t.Fatalf("unexpected providers: %v", resp)
	}
	if resp["open_calls"].(float64) != 0 {
		t.Fatalf("open_calls=%v", resp["open_calls"])
	}
}

func TestReadyHandler_Draining(t *testing.T) {
	calls := sessions.NewManager(sessions.Options{})
	calls.SetDraining(true)

	rr, resp := serveReady(t, ReadyHandler{Config: readyConfig(config.AuthModeDisabled), Calls: calls})
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if resp["draining"] != true || resp["ok"] != false {
		t.Fatalf("unexpected body: %v", resp)
	}
}

func TestReadyHandler_InvalidTimeouts(t *testing.T) {
	cfg := readyConfig(config.AuthModeDisabled)
	cfg.ReadTimeout = 0
	cfg.WSMaxMessageBytes = 0

	rr, resp := serveReady(t, ReadyHandler{Config: cfg})
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", rr.Code)
	}
	if issues, _ := resp["issues"].([]any); len(issues) != 2 {
		t.Fatalf("issues=%v", resp["issues"])
	}
}
