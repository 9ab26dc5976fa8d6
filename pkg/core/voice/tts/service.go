package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/vango-go/partyline/pkg/core"
)

// ServiceProvider calls a standalone TTS service that accepts
// POST /tts {"text","voice"} and answers with audio/wav.
type ServiceProvider struct {
	baseURL    string
	httpClient *http.Client
}

func NewService(baseURL string, client *http.Client) *ServiceProvider {
	if client == nil {
		client = &http.Client{}
	}
	return &ServiceProvider{baseURL: strings.TrimRight(baseURL, "/"), httpClient: client}
}

func (s *ServiceProvider) Name() string { return "service" }

type serviceRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

func (s *ServiceProvider) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error) {
	body, err := json.Marshal(serviceRequest{Text: text, Voice: opts.Voice})
	if err != nil {
		return nil, core.NewSynthesisError(s.Name(), err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/tts", bytes.NewReader(body))
	if err != nil {
		return nil, core.NewSynthesisError(s.Name(), err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, core.NewSynthesisError(s.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, core.NewSynthesisError(s.Name(), fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewSynthesisError(s.Name(), err)
	}
	if len(audio) == 0 {
		return nil, core.NewSynthesisError(s.Name(), fmt.Errorf("empty audio"))
	}

	format := "wav"
	if strings.Contains(resp.Header.Get("Content-Type"), "mpeg") {
		format = "mp3"
	}
	return &Synthesis{Audio: audio, Format: format}, nil
}
