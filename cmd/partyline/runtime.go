package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/vango-go/partyline/pkg/call/compose"
	"github.com/vango-go/partyline/pkg/call/director"
	"github.com/vango-go/partyline/pkg/call/persona"
	"github.com/vango-go/partyline/pkg/call/scene"
	"github.com/vango-go/partyline/pkg/core/audio"
	"github.com/vango-go/partyline/pkg/core/textgen"
	"github.com/vango-go/partyline/pkg/core/voice/tts"
	"github.com/vango-go/partyline/pkg/gateway/config"
	gatewayserver "github.com/vango-go/partyline/pkg/gateway/server"
	"github.com/vango-go/partyline/pkg/observability"
)

const (
	characterPromptFile = "character.system.md"
	directorPromptFile  = "director.system.md"
)

// stack is everything a call needs, built once per process from config.
type stack struct {
	runtime gatewayserver.Runtime
	store   persona.Store
	builder *persona.Builder
	close   func()
}

func buildStack(ctx context.Context, cfg config.Config, logger *slog.Logger, reg *prometheus.Registry) (*stack, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := observability.NewMetrics(reg)
	if err != nil {
		return nil, err
	}

	store, closeStore, err := openPersonaStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	gen, builderGen, err := newGenerators(ctx, cfg)
	if err != nil {
		closeStore()
		return nil, err
	}
	clips, err := audio.NewCache(cfg.AudioCacheSize, "")
	if err != nil {
		closeStore()
		return nil, err
	}
	preamble, err := loadPrompt(cfg.PromptsDir, characterPromptFile)
	if err != nil {
		closeStore()
		return nil, err
	}

	builder := persona.NewBuilder(builderGen, store, logger).WithTimeout(cfg.GenerationTimeout)
	builder.OnCreate = func(string) { metrics.PersonaCreated() }

	composer := compose.New(compose.Config{
		TTS:              newSynthesizer(cfg),
		Clips:            clips,
		SynthesisTimeout: cfg.SynthesisTimeout,
		Logger:           logger,
		Metrics:          metrics,
	})

	scenePath := cfg.ScenePath
	return &stack{
		runtime: gatewayserver.Runtime{
			Scene: func() (*scene.Scene, error) { return scene.Load(scenePath) },
			Director: director.Deps{
				Generator:         gen,
				Personas:          store,
				Builder:           builder,
				Composer:          composer,
				CharacterPreamble: preamble,
				GenerationTimeout: cfg.GenerationTimeout,
				Logger:            logger,
				Metrics:           metrics,
			},
			Clips:    clips,
			Metrics:  metrics,
			Gatherer: reg,
		},
		store:   store,
		builder: builder,
		close:   closeStore,
	}, nil
}

// openPersonaStore returns the configured store behind an LRU cache.
func openPersonaStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (persona.Store, func(), error) {
	var (
		next    persona.Store
		closeFn = func() {}
	)
	switch cfg.PersonaStore {
	case config.PersonaStorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect persona database: %w", err)
		}
		if err := persona.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		pg, err := persona.NewPostgresStore(pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		next, closeFn = pg, pool.Close
	default:
		fs, err := persona.NewFileStore(cfg.AgentsDir)
		if err != nil {
			return nil, nil, err
		}
		next = fs
	}

	cached, err := persona.NewCachedStore(next, cfg.PersonaCacheSize)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	logger.Info("persona store ready", "kind", cfg.PersonaStore, "cache_size", cfg.PersonaCacheSize)
	return cached, closeFn, nil
}

// newGenerators returns the line generator and the one the persona builder
// uses. For Gemini the builder asks for JSON output.
func newGenerators(ctx context.Context, cfg config.Config) (textgen.Generator, textgen.Generator, error) {
	switch cfg.LLMProvider {
	case config.LLMProviderGemini:
		g, err := textgen.NewGemini(ctx, textgen.GeminiConfig{
			APIKey:      cfg.LLMAPIKey,
			Model:       cfg.LLMModel,
			Temperature: cfg.LLMTemperature,
		})
		if err != nil {
			return nil, nil, err
		}
		return g, g.WithJSON(), nil
	case config.LLMProviderOpenAI:
		opts := []textgen.OpenAIOption{textgen.WithTemperature(cfg.LLMTemperature)}
		if cfg.LLMBaseURL != "" {
			opts = append(opts, textgen.WithBaseURL(cfg.LLMBaseURL))
		}
		if cfg.LLMAPIKey != "" {
			opts = append(opts, textgen.WithAPIKey(cfg.LLMAPIKey))
		}
		g := textgen.NewOpenAICompat(cfg.LLMModel, opts...)
		return g, g, nil
	default:
		return nil, nil, nil
	}
}

func newSynthesizer(cfg config.Config) tts.Provider {
	client := &http.Client{Timeout: cfg.SynthesisTimeout}
	switch cfg.TTSProvider {
	case config.TTSProviderCartesia:
		return tts.NewCartesiaWithClient(cfg.TTSAPIKey, cfg.TTSBaseURL, client)
	case config.TTSProviderService:
		return tts.NewService(cfg.TTSBaseURL, client)
	case config.TTSProviderTone:
		return tts.Tone{}
	default:
		return nil
	}
}

// loadPrompt reads a prompt override. A missing file means "use the
// built-in prompt".
func loadPrompt(dir, name string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", nil
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read prompt %s: %w", name, err)
	}
	return strings.TrimSpace(string(data)), nil
}
