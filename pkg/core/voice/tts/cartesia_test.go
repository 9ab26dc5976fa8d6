package tts

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vango-go/partyline/pkg/core"
)

func TestNewCartesia_ConstructorsAndName(t *testing.T) {
	client := &http.Client{}
	p := NewCartesiaWithClient("api-key", "", client)
	if p.httpClient != client {
		t.Fatal("expected custom http client to be set")
	}
	if p.baseURL != cartesiaBaseURL {
		t.Fatalf("baseURL = %q, want %q", p.baseURL, cartesiaBaseURL)
	}
	if p.Name() != "cartesia" {
		t.Fatalf("name = %q, want cartesia", p.Name())
	}

	defaultProvider := NewCartesia("api-key")
	if defaultProvider.httpClient == nil {
		t.Fatal("default provider should initialize http client")
	}
}

func TestBuildOutputFormat(t *testing.T) {
	p := &CartesiaProvider{}

	mp3 := p.buildOutputFormat(SynthesizeOptions{Format: "mp3", SampleRate: 44100})
	if mp3.Container != "mp3" || mp3.SampleRate != 44100 || mp3.BitRate == 0 {
		t.Fatalf("mp3 format = %#v, want mp3/44100/non-zero bitrate", mp3)
	}

	pcm := p.buildOutputFormat(SynthesizeOptions{Format: "pcm", SampleRate: 16000})
	if pcm.Container != "raw" || pcm.Encoding != "pcm_s16le" || pcm.SampleRate != 16000 {
		t.Fatalf("pcm format = %#v, want raw/pcm_s16le/16000", pcm)
	}

	wavDefault := p.buildOutputFormat(SynthesizeOptions{})
	if wavDefault.Container != "wav" || wavDefault.Encoding != "pcm_s16le" || wavDefault.SampleRate != 24000 {
		t.Fatalf("default format = %#v, want wav/pcm_s16le/24000", wavDefault)
	}
}

func TestCartesiaSynthesize(t *testing.T) {
	var got cartesiaTTSRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tts/bytes" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" || r.Header.Get("Cartesia-Version") != cartesiaVersion {
			t.Errorf("headers = %v", r.Header)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = w.Write([]byte("RIFFaudio"))
	}))
	defer srv.Close()

	p := NewCartesiaWithClient("key", srv.URL, srv.Client())
	syn, err := p.Synthesize(context.Background(), "Hi sweetie", SynthesizeOptions{Voice: "voice_mom_a"})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if string(syn.Audio) != "RIFFaudio" || syn.Format != "wav" || syn.ContentType() != "audio/wav" {
		t.Fatalf("synthesis = %+v", syn)
	}
	if got.Transcript != "Hi sweetie" || got.Voice.ID != "voice_mom_a" || got.ModelID != cartesiaModel {
		t.Fatalf("request = %+v", got)
	}
}

func TestCartesiaSynthesize_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad voice", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewCartesiaWithClient("key", srv.URL, nil).Synthesize(context.Background(), "x", SynthesizeOptions{})
	if !core.IsType(err, core.ErrSynthesis) {
		t.Fatalf("err = %v, want synthesis error", err)
	}
}

func TestGetFormat(t *testing.T) {
	if got := getFormat("mp3"); got != "mp3" {
		t.Fatalf("getFormat(mp3) = %q, want mp3", got)
	}
	if got := getFormat("unknown"); got != "wav" {
		t.Fatalf("getFormat(unknown) = %q, want wav", got)
	}
}
