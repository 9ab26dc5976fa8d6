// Package tts provides text-to-speech backends for character lines.
package tts

import "context"

// Provider is the interface for text-to-speech services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Synthesize converts text to audio.
	Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error)
}

// SynthesizeOptions configures synthesis.
type SynthesizeOptions struct {
	Voice      string  // Voice identifier, from the scene voice map
	Speed      float64 // Speed multiplier (0.6-1.5, default 1.0)
	Format     string  // Output format: "wav", "mp3", or "pcm"
	SampleRate int     // Sample rate: 8000, 16000, 22050, 24000, 44100, 48000
}

// Synthesis is the result of synthesis.
type Synthesis struct {
	Audio  []byte // Audio data
	Format string // Audio format
}

// ContentType returns the MIME type for the audio format.
func (s *Synthesis) ContentType() string {
	switch s.Format {
	case "mp3":
		return "audio/mpeg"
	case "pcm", "raw":
		return "audio/pcm"
	default:
		return "audio/wav"
	}
}

func getFormat(format string) string {
	switch format {
	case "mp3", "pcm", "raw", "wav":
		return format
	default:
		return "wav"
	}
}
