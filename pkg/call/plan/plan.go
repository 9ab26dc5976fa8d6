// Package plan defines the per-turn output handed to the playback layer.
package plan

import "encoding/json"

// NoHandoff is the handoff_to sentinel for turns that keep the current speaker.
const NoHandoff = "none"

// Proximity values for background asides.
const (
	ProximityNear = "near"
	ProximityFar  = "far"
)

// Plan is the structured result of one orchestration step.
type Plan struct {
	Foreground *Foreground
	Background []Aside
	Controls   Controls
}

// Foreground is the line addressed to the user. Line carries an audio
// reference when synthesis succeeded, otherwise the sanitized text itself.
type Foreground struct {
	Speaker    string `json:"speaker"`
	Line       string `json:"line"`
	Transcript string `json:"transcript"`
}

// Aside is a short ambient line that is not directed at the user.
type Aside struct {
	Speaker   string `json:"speaker"`
	Line      string `json:"line"`
	Proximity string `json:"proximity"`
}

// Controls carries audio and handoff metadata.
type Controls struct {
	DuckingDB int    `json:"ducking_db"`
	OverlapMS int    `json:"overlap_ms"`
	HandoffTo string `json:"handoff_to"`
	EndCall   bool   `json:"end_call,omitempty"`
}

// EndCall returns the terminal plan.
func EndCall() Plan {
	return Plan{Controls: Controls{EndCall: true}}
}

// Terminal reports whether p ends the call.
func (p Plan) Terminal() bool {
	return p.Controls.EndCall
}

// HandoffTarget returns the new foreground speaker, or "" when the turn keeps
// the current one.
func (p Plan) HandoffTarget() string {
	if p.Controls.HandoffTo == "" || p.Controls.HandoffTo == NoHandoff {
		return ""
	}
	return p.Controls.HandoffTo
}

type terminalWire struct {
	Controls struct {
		EndCall bool `json:"end_call"`
	} `json:"controls"`
}

type planWire struct {
	Foreground *Foreground `json:"foreground"`
	Background []Aside     `json:"background"`
	Controls   Controls    `json:"controls"`
}

// MarshalJSON emits {"controls":{"end_call":true}} for the terminal plan and
// the full foreground/background/controls shape otherwise.
func (p Plan) MarshalJSON() ([]byte, error) {
	if p.Terminal() {
		var w terminalWire
		w.Controls.EndCall = true
		return json.Marshal(w)
	}
	bg := p.Background
	if bg == nil {
		bg = []Aside{}
	}
	handoff := p.Controls
	if handoff.HandoffTo == "" {
		handoff.HandoffTo = NoHandoff
	}
	return json.Marshal(planWire{
		Foreground: p.Foreground,
		Background: bg,
		Controls:   handoff,
	})
}

// UnmarshalJSON accepts both wire shapes.
func (p *Plan) UnmarshalJSON(data []byte) error {
	var w planWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p.Foreground = w.Foreground
	p.Background = w.Background
	p.Controls = w.Controls
	return nil
}
