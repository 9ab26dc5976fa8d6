package tts

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
)

const toneSampleRate = 22050

// Tone renders a short two-tone placeholder clip whose length follows the
// text. It needs no network and is meant for local runs and demos.
type Tone struct{}

func (Tone) Name() string { return "tone" }

func (Tone) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sr := opts.SampleRate
	if sr <= 0 {
		sr = toneSampleRate
	}
	seconds := min(2.0+0.025*float64(len(text)), 6.0)
	n := int(float64(sr) * seconds)
	head := int(0.05 * float64(sr))
	tail := int(0.08 * float64(sr))

	pcm := make([]int16, n)
	for i := range pcm {
		t := float64(i) / float64(sr)
		v := 0.25*math.Sin(2*math.Pi*190*t) + 0.18*math.Sin(2*math.Pi*310*t)
		gain := 1.0
		if i < head {
			gain = 0.2 + 0.8*float64(i)/float64(head)
		}
		if rem := n - i; rem < tail {
			gain = min(gain, float64(rem)/float64(tail))
		}
		pcm[i] = int16(v * gain * 0.6 * math.MaxInt16)
	}
	return &Synthesis{Audio: encodeWAV(pcm, sr), Format: "wav"}, nil
}

// encodeWAV writes mono 16-bit PCM with a RIFF header.
func encodeWAV(pcm []int16, sampleRate int) []byte {
	dataSize := uint32(len(pcm) * 2)
	var buf bytes.Buffer
	buf.Grow(44 + int(dataSize))
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, 36+dataSize)
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(&buf, binary.LittleEndian, struct {
		ChunkSize     uint32
		AudioFormat   uint16
		Channels      uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
	}{16, 1, 1, uint32(sampleRate), uint32(sampleRate * 2), 2, 16})
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataSize)
	_ = binary.Write(&buf, binary.LittleEndian, pcm)
	return buf.Bytes()
}
