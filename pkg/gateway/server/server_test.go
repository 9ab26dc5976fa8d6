package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vango-go/partyline/pkg/call/director"
	"github.com/vango-go/partyline/pkg/call/persona"
	"github.com/vango-go/partyline/pkg/call/scene"
	"github.com/vango-go/partyline/pkg/core/audio"
	"github.com/vango-go/partyline/pkg/core/textgen"
	"github.com/vango-go/partyline/pkg/gateway/config"
	"github.com/vango-go/partyline/pkg/observability"
)

func testConfig() config.Config {
	return config.Config{
		AuthMode:             config.AuthModeDisabled,
		APIKeys:              map[string]struct{}{},
		CORSAllowedOrigins:   map[string]struct{}{},
		MaxCallsPerPrincipal: 2,
		CallIdleTimeout:      time.Minute,
		WSPingInterval:       time.Hour,
		WSWriteTimeout:       time.Second,
		WSMaxMessageBytes:    64 * 1024,
		MaxBodyBytes:         64 * 1024,
		GenerationTimeout:    time.Second,
		SynthesisTimeout:     time.Second,
		ReadHeaderTimeout:    time.Second,
		ReadTimeout:          time.Second,
	}
}

func sceneLoader(t *testing.T) func() (*scene.Scene, error) {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("runtime.Caller failed")
	}
	path := filepath.Join(filepath.Dir(file), "..", "..", "..", "scenes", "family_party.yaml")
	return func() (*scene.Scene, error) { return scene.Load(path) }
}

func newTestServer(t *testing.T, cfg config.Config) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	clips, err := audio.NewCache(8, "")
	if err != nil {
		t.Fatalf("audio.NewCache: %v", err)
	}
	mother := persona.FromScaffold(persona.ScaffoldEntry{ID: "mother", Vibe: "warm"})
	brother := persona.FromScaffold(persona.ScaffoldEntry{ID: "brother", Vibe: "teasing"})
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return New(cfg, logger, Runtime{
		Scene: sceneLoader(t),
		Director: director.Deps{
			Generator: &textgen.Static{Replies: []string{"Hi honey!"}},
			Personas:  persona.NewMemoryStore(mother, brother),
		},
		Clips:    clips,
		Metrics:  observability.MustNewMetrics(reg),
		Gatherer: reg,
	}), reg
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.10:4000"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var out map[string]any
	if strings.Contains(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s: %v body=%q", method, path, err, rr.Body.String())
		}
	}
	return rr, out
}

func TestServer_UnknownRoute_ReturnsJSON404(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	rr, body := doJSON(t, s.Handler(), http.MethodGet, "/does-not-exist", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if body["error"].(map[string]any)["type"] != "not_found_error" {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
}

func TestServer_RESTCallLifecycle(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	h := s.Handler()

	rr, hello := doJSON(t, h, http.MethodPost, "/v1/calls", "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%q", rr.Code, rr.Body.String())
	}
	id, _ := hello["session_id"].(string)
	if id == "" || hello["scene_id"] != "family_party" {
		t.Fatalf("unexpected hello: %+v", hello)
	}

	rr, frame := doJSON(t, h, http.MethodPost, "/v1/calls/"+id+"/turns", `{"text":"hi there"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("turn status=%d body=%q", rr.Code, rr.Body.String())
	}
	fg := frame["data"].(map[string]any)["foreground"].(map[string]any)
	if fg["speaker"] != "mother" || fg["transcript"] != "Hi honey!" {
		t.Fatalf("unexpected foreground: %+v", fg)
	}

	rr, ack := doJSON(t, h, http.MethodPost, "/v1/calls/"+id+"/energy", `{"value":0.1}`)
	if rr.Code != http.StatusOK || ack["ok"] != true {
		t.Fatalf("energy status=%d body=%q", rr.Code, rr.Body.String())
	}

	rr, snap := doJSON(t, h, http.MethodGet, "/v1/calls/"+id, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get status=%d", rr.Code)
	}
	if snap["intensity"] != 0.1 || len(snap["transcript"].([]any)) != 2 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	rr, end := doJSON(t, h, http.MethodDelete, "/v1/calls/"+id, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status=%d", rr.Code)
	}
	if end["data"].(map[string]any)["controls"].(map[string]any)["end_call"] != true {
		t.Fatalf("unexpected end frame: %+v", end)
	}

	rr, _ = doJSON(t, h, http.MethodGet, "/v1/calls/"+id, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete status=%d", rr.Code)
	}
}

func TestServer_StopWordClosesRESTCall(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	h := s.Handler()

	_, hello := doJSON(t, h, http.MethodPost, "/v1/calls", "")
	id := hello["session_id"].(string)

	_, frame := doJSON(t, h, http.MethodPost, "/v1/calls/"+id+"/turns", `{"text":"ok bye, end call"}`)
	if frame["data"].(map[string]any)["controls"].(map[string]any)["end_call"] != true {
		t.Fatalf("expected terminal plan: %+v", frame)
	}
	if s.Calls().Count() != 0 {
		t.Fatalf("call should be closed, count=%d", s.Calls().Count())
	}
}

func TestServer_CallLimitPerPrincipal(t *testing.T) {
	cfg := testConfig()
	cfg.MaxCallsPerPrincipal = 1
	s, _ := newTestServer(t, cfg)
	h := s.Handler()

	rr, hello := doJSON(t, h, http.MethodPost, "/v1/calls", "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("first create status=%d", rr.Code)
	}
	rr, _ = doJSON(t, h, http.MethodPost, "/v1/calls", "")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second create status=%d body=%q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After")
	}

	doJSON(t, h, http.MethodDelete, "/v1/calls/"+hello["session_id"].(string), "")
	rr, _ = doJSON(t, h, http.MethodPost, "/v1/calls", "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("create after delete status=%d", rr.Code)
	}
}

func TestServer_TurnValidation(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	h := s.Handler()
	_, hello := doJSON(t, h, http.MethodPost, "/v1/calls", "")
	id := hello["session_id"].(string)

	cases := []struct {
		path string
		body string
	}{
		{"/v1/calls/" + id + "/turns", `{"text":`},
		{"/v1/calls/" + id + "/turns", `{"text":"hi","extra":1}`},
		{"/v1/calls/" + id + "/turns", `{"text":"` + strings.Repeat("a", 5000) + `"}`},
		{"/v1/calls/" + id + "/energy", `{}`},
	}
	for _, tc := range cases {
		rr, body := doJSON(t, h, http.MethodPost, tc.path, tc.body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s %q status=%d", tc.path, tc.body, rr.Code)
		}
		if body["error"].(map[string]any)["type"] != "invalid_request_error" {
			t.Fatalf("unexpected body: %q", rr.Body.String())
		}
	}
}

func TestServer_CallsArePrivateToPrincipal(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	h := s.Handler()
	_, hello := doJSON(t, h, http.MethodPost, "/v1/calls", "")
	id := hello["session_id"].(string)

	req := httptest.NewRequest(http.MethodGet, "/v1/calls/"+id, nil)
	req.RemoteAddr = "198.51.100.1:4000"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("foreign principal status=%d", rr.Code)
	}
}

func TestServer_SceneLoadFailure(t *testing.T) {
	cfg := testConfig()
	s := New(cfg, nil, Runtime{
		Scene: func() (*scene.Scene, error) { return scene.Load("/nonexistent/scene.yaml") },
	})
	rr, body := doJSON(t, s.Handler(), http.MethodPost, "/v1/calls", "")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", rr.Code)
	}
	if body["error"].(map[string]any)["type"] != "config_error" {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}

	// The failed open must hand its slot back.
	for i := 0; i < 3; i++ {
		if rr, _ := doJSON(t, s.Handler(), http.MethodPost, "/v1/calls", ""); rr.Code == http.StatusTooManyRequests {
			t.Fatalf("slot leaked on attempt %d", i)
		}
	}
}

func TestServer_ReadyzDraining(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	h := s.Handler()

	rr, body := doJSON(t, h, http.MethodGet, "/readyz", "")
	if rr.Code != http.StatusOK || body["ok"] != true {
		t.Fatalf("ready status=%d body=%q", rr.Code, rr.Body.String())
	}

	s.SetDraining()
	rr, body = doJSON(t, h, http.MethodGet, "/readyz", "")
	if rr.Code != http.StatusServiceUnavailable || body["draining"] != true {
		t.Fatalf("draining status=%d body=%q", rr.Code, rr.Body.String())
	}
	rr, _ = doJSON(t, h, http.MethodPost, "/v1/calls", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("create while draining status=%d", rr.Code)
	}
}

func TestServer_MetricsExposed(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	h := s.Handler()
	doJSON(t, h, http.MethodPost, "/v1/calls", "")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "partyline_active_calls 1") {
		t.Fatalf("active_calls gauge missing: %q", rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `partyline_http_requests_total{method="POST",route="POST /v1/calls",status="201"} 1`) {
		t.Fatalf("request counter missing: %q", rr.Body.String())
	}
}

func TestServer_AudioRoute(t *testing.T) {
	clips, _ := audio.NewCache(4, "")
	ref := clips.Put("mother", "audio/wav", []byte("RIFF"))
	s := New(testConfig(), nil, Runtime{Scene: sceneLoader(t), Clips: clips})

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, ref, nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "RIFF" || rr.Header().Get("Content-Type") != "audio/wav" {
		t.Fatalf("status=%d ct=%q body=%q", rr.Code, rr.Header().Get("Content-Type"), rr.Body.String())
	}

	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/audio/missing", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing clip status=%d", rr.Code)
	}
}

func TestServer_WebSocketCallAndDrain(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/call"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	read := func() map[string]any {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var out map[string]any
		if err := conn.ReadJSON(&out); err != nil {
			t.Fatalf("read: %v", err)
		}
		return out
	}

	if hello := read(); hello["type"] != "hello" {
		t.Fatalf("unexpected hello: %+v", hello)
	}
	if err := conn.WriteJSON(map[string]string{"type": "user_transcript", "text": "hello?"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if frame := read(); frame["type"] != "plan" {
		t.Fatalf("unexpected frame: %+v", frame)
	}
	if s.Calls().Count() != 1 {
		t.Fatalf("count=%d, want 1", s.Calls().Count())
	}

	s.SetDraining()
	if n := s.WarnLiveSessionsDraining(); n != 1 {
		t.Fatalf("warned=%d, want 1", n)
	}
	if warn := read(); warn["code"] != "draining" {
		t.Fatalf("unexpected warning: %+v", warn)
	}

	s.CancelLiveSessions()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if !s.WaitLiveSessions(ctx) {
		t.Fatalf("live sessions did not drain")
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.Calls().Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.Calls().Count() != 0 {
		t.Fatalf("socket-owned call not closed")
	}
}

func TestServer_UnsupportedProtocolVersionOpensNoCall(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	h := s.Handler()

	req := httptest.NewRequest(http.MethodPost, "/v1/calls", nil)
	req.Header.Set("X-Partyline-Version", "2")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "unsupported_version") {
		t.Fatalf("body=%q", rr.Body.String())
	}

	rr, hello := doJSON(t, h, http.MethodPost, "/v1/calls", "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%q", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("X-Partyline-Version"); got != "1" || hello["protocol_version"] != "1" {
		t.Fatalf("header=%q hello=%v", got, hello["protocol_version"])
	}
}
