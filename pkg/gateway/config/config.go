package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

const (
	PersonaStoreFile     = "file"
	PersonaStorePostgres = "postgres"

	LLMProviderNone   = "none"
	LLMProviderGemini = "gemini"
	LLMProviderOpenAI = "openai"

	TTSProviderNone     = "none"
	TTSProviderCartesia = "cartesia"
	TTSProviderService  = "service"
	TTSProviderTone     = "tone"
)

type Config struct {
	Addr string

	// Scene and personas.
	ScenePath        string
	AgentsDir        string
	PromptsDir       string
	PersonaStore     string
	DatabaseURL      string
	PersonaCacheSize int

	// Text generation.
	LLMProvider       string
	LLMModel          string
	LLMBaseURL        string
	LLMAPIKey         string
	LLMTemperature    float64
	GenerationTimeout time.Duration

	// Speech synthesis.
	TTSProvider      string
	TTSBaseURL       string
	TTSAPIKey        string
	SynthesisTimeout time.Duration
	AudioCacheSize   int

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	CORSAllowedOrigins map[string]struct{} // empty => disabled
	TrustProxyHeaders  bool

	// Calls.
	MaxCallsPerPrincipal int
	CallIdleTimeout      time.Duration
	WSPingInterval       time.Duration
	WSWriteTimeout       time.Duration
	WSMaxMessageBytes    int64
	MaxBodyBytes         int64

	// In-memory request limits (per principal).
	LimitRPS   float64
	LimitBurst int

	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                 envOr("PARTYLINE_ADDR", ":8080"),
		ScenePath:            envOr("PARTYLINE_SCENE_PATH", "scenes/family_party.yaml"),
		AgentsDir:            envOr("PARTYLINE_AGENTS_DIR", "agents"),
		PromptsDir:           envOr("PARTYLINE_PROMPTS_DIR", "prompts"),
		PersonaStore:         strings.ToLower(envOr("PARTYLINE_PERSONA_STORE", PersonaStoreFile)),
		DatabaseURL:          envOr("PARTYLINE_DATABASE_URL", ""),
		PersonaCacheSize:     envIntOr("PARTYLINE_PERSONA_CACHE_SIZE", 128),
		LLMProvider:          strings.ToLower(envOr("PARTYLINE_LLM_PROVIDER", LLMProviderNone)),
		LLMModel:             envOr("PARTYLINE_LLM_MODEL", ""),
		LLMBaseURL:           envOr("PARTYLINE_LLM_BASE_URL", ""),
		LLMAPIKey:            envOr("PARTYLINE_LLM_API_KEY", ""),
		LLMTemperature:       envFloat64Or("PARTYLINE_LLM_TEMPERATURE", 0.7),
		GenerationTimeout:    envDurationOr("PARTYLINE_GENERATION_TIMEOUT", 8*time.Second),
		TTSProvider:          strings.ToLower(envOr("PARTYLINE_TTS_PROVIDER", TTSProviderNone)),
		TTSBaseURL:           envOr("PARTYLINE_TTS_BASE_URL", ""),
		TTSAPIKey:            envOr("PARTYLINE_TTS_API_KEY", ""),
		SynthesisTimeout:     envDurationOr("PARTYLINE_SYNTHESIS_TIMEOUT", 5*time.Second),
		AudioCacheSize:       envIntOr("PARTYLINE_AUDIO_CACHE_SIZE", 256),
		AuthMode:             AuthMode(envOr("PARTYLINE_AUTH_MODE", string(AuthModeDisabled))),
		APIKeys:              make(map[string]struct{}),
		CORSAllowedOrigins:   make(map[string]struct{}),
		TrustProxyHeaders:    envBoolOr("PARTYLINE_TRUST_PROXY_HEADERS", false),
		MaxCallsPerPrincipal: envIntOr("PARTYLINE_MAX_CALLS_PER_PRINCIPAL", 2),
		CallIdleTimeout:      envDurationOr("PARTYLINE_CALL_IDLE_TIMEOUT", 10*time.Minute),
		WSPingInterval:       envDurationOr("PARTYLINE_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:       envDurationOr("PARTYLINE_WS_WRITE_TIMEOUT", 5*time.Second),
		WSMaxMessageBytes:    envInt64Or("PARTYLINE_WS_MAX_MESSAGE_BYTES", 64*1024),
		MaxBodyBytes:         envInt64Or("PARTYLINE_MAX_BODY_BYTES", 64*1024),
		LimitRPS:             envFloat64Or("PARTYLINE_RATE_LIMIT_RPS", 5.0),
		LimitBurst:           envIntOr("PARTYLINE_RATE_LIMIT_BURST", 10),
		ReadHeaderTimeout:    envDurationOr("PARTYLINE_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:          envDurationOr("PARTYLINE_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:  envDurationOr("PARTYLINE_SHUTDOWN_GRACE_PERIOD", 15*time.Second),
	}

	if cfg.LLMProvider == LLMProviderGemini && cfg.LLMAPIKey == "" {
		cfg.LLMAPIKey = envOr("GOOGLE_API_KEY", "")
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("PARTYLINE_AUTH_MODE must be one of required|optional|disabled")
	}
	for _, key := range splitCSV(os.Getenv("PARTYLINE_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}
	for _, origin := range splitCSV(os.Getenv("PARTYLINE_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}
	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("PARTYLINE_API_KEYS must be set when PARTYLINE_AUTH_MODE=required")
	}

	if strings.TrimSpace(cfg.ScenePath) == "" {
		return Config{}, fmt.Errorf("PARTYLINE_SCENE_PATH must not be empty")
	}
	switch cfg.PersonaStore {
	case PersonaStoreFile:
		if cfg.AgentsDir == "" {
			return Config{}, fmt.Errorf("PARTYLINE_AGENTS_DIR must not be empty")
		}
	case PersonaStorePostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("PARTYLINE_DATABASE_URL must be set when PARTYLINE_PERSONA_STORE=postgres")
		}
	default:
		return Config{}, fmt.Errorf("PARTYLINE_PERSONA_STORE must be one of file|postgres")
	}
	if cfg.PersonaCacheSize <= 0 {
		return Config{}, fmt.Errorf("PARTYLINE_PERSONA_CACHE_SIZE must be > 0")
	}

	switch cfg.LLMProvider {
	case LLMProviderNone, LLMProviderOpenAI:
	case LLMProviderGemini:
		if cfg.LLMAPIKey == "" {
			return Config{}, fmt.Errorf("PARTYLINE_LLM_API_KEY (or GOOGLE_API_KEY) must be set when PARTYLINE_LLM_PROVIDER=gemini")
		}
	default:
		return Config{}, fmt.Errorf("PARTYLINE_LLM_PROVIDER must be one of none|gemini|openai")
	}
	if cfg.LLMTemperature < 0 || cfg.LLMTemperature > 2 {
		return Config{}, fmt.Errorf("PARTYLINE_LLM_TEMPERATURE must be within [0, 2]")
	}
	if cfg.GenerationTimeout <= 0 {
		return Config{}, fmt.Errorf("PARTYLINE_GENERATION_TIMEOUT must be > 0")
	}

	switch cfg.TTSProvider {
	case TTSProviderNone, TTSProviderTone:
	case TTSProviderCartesia:
		if cfg.TTSAPIKey == "" {
			return Config{}, fmt.Errorf("PARTYLINE_TTS_API_KEY must be set when PARTYLINE_TTS_PROVIDER=cartesia")
		}
	case TTSProviderService:
		if cfg.TTSBaseURL == "" {
			return Config{}, fmt.Errorf("PARTYLINE_TTS_BASE_URL must be set when PARTYLINE_TTS_PROVIDER=service")
		}
	default:
		return Config{}, fmt.Errorf("PARTYLINE_TTS_PROVIDER must be one of none|cartesia|service|tone")
	}
	if cfg.SynthesisTimeout <= 0 {
		return Config{}, fmt.Errorf("PARTYLINE_SYNTHESIS_TIMEOUT must be > 0")
	}
	if cfg.AudioCacheSize <= 0 {
		return Config{}, fmt.Errorf("PARTYLINE_AUDIO_CACHE_SIZE must be > 0")
	}

	if cfg.MaxCallsPerPrincipal < 0 {
		return Config{}, fmt.Errorf("PARTYLINE_MAX_CALLS_PER_PRINCIPAL must be >= 0")
	}
	if cfg.CallIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("PARTYLINE_CALL_IDLE_TIMEOUT must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("PARTYLINE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("PARTYLINE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("PARTYLINE_WS_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("PARTYLINE_MAX_BODY_BYTES must be > 0")
	}
	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("PARTYLINE_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("PARTYLINE_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("PARTYLINE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("PARTYLINE_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("PARTYLINE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
