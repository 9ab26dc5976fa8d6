package scene

import "slices"

// Stage is where the call is in its lifecycle.
type Stage string

const (
	StageGreeting       Stage = "greeting"
	StageForegroundTalk Stage = "foreground_talk"
	StageHandoff        Stage = "handoff"
)

// Background ducking never goes below this.
const minDuckingDB = -40

// Cursor is the mutable part of a call.
type Cursor struct {
	Stage        Stage
	Foreground   string
	LastUserText string
	// Memory is scratch space for the director, e.g. delivered must-hit lines.
	Memory map[string]any

	Intensity       float64
	DuckingOverride *int
	OverlapOverride *int
}

// State pairs a session-owned scene with its cursor. It is not safe for
// concurrent use; callers serialise access per call.
type State struct {
	Scene  *Scene
	Cursor Cursor
}

// NewState clones sc so the returned state can be mutated freely.
func NewState(sc *Scene) *State {
	own := sc.Clone()
	return &State{
		Scene: own,
		Cursor: Cursor{
			Stage:      StageGreeting,
			Foreground: own.DefaultForeground(),
			Memory:     map[string]any{},
			Intensity:  own.Intensity,
		},
	}
}

// RegisterBackground adds id to the background group. It reports whether
// the id was new to the scene.
func (s *State) RegisterBackground(id string) bool {
	if id == "" || s.Known(id) {
		return false
	}
	s.Scene.Characters.Background = append(s.Scene.Characters.Background, id)
	return true
}

// Known reports whether id belongs to any character group.
func (s *State) Known(id string) bool {
	c := s.Scene.Characters
	return slices.Contains(c.Foreground, id) ||
		slices.Contains(c.Nearby, id) ||
		slices.Contains(c.Background, id)
}

// Nearby reports whether id is in the nearby group.
func (s *State) Nearby(id string) bool {
	return slices.Contains(s.Scene.Characters.Nearby, id)
}

// AllCharacters returns every character id in foreground, nearby, background
// order without duplicates.
func (s *State) AllCharacters() []string {
	c := s.Scene.Characters
	out := make([]string, 0, len(c.Foreground)+len(c.Nearby)+len(c.Background))
	seen := make(map[string]struct{}, cap(out))
	for _, group := range [][]string{c.Foreground, c.Nearby, c.Background} {
		for _, id := range group {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// SetIntensity sets background energy, clamped to [0, 1].
func (s *State) SetIntensity(v float64) {
	s.Cursor.Intensity = clamp01(v)
}

// LowerBackground drops intensity by a quarter and ducks the background a
// further 6 dB.
func (s *State) LowerBackground() {
	s.SetIntensity(s.Cursor.Intensity - 0.25)
	db := max(s.DuckingDB()-6, minDuckingDB)
	s.Cursor.DuckingOverride = &db
}

// DuckingDB returns the effective ducking level.
func (s *State) DuckingDB() int {
	if s.Cursor.DuckingOverride != nil {
		return *s.Cursor.DuckingOverride
	}
	return s.Scene.DuckingDB
}

// OverlapMS returns the effective overlap window.
func (s *State) OverlapMS() int {
	if s.Cursor.OverlapOverride != nil {
		return *s.Cursor.OverlapOverride
	}
	return s.Scene.OverlapMS
}

// Remember records a flag in cursor memory.
func (s *State) Remember(key string) {
	s.Note(key, true)
}

// Note stores value under key in cursor memory.
func (s *State) Note(key string, value any) {
	if s.Cursor.Memory == nil {
		s.Cursor.Memory = map[string]any{}
	}
	s.Cursor.Memory[key] = value
}

// NotedString returns the string stored under key, or "".
func (s *State) NotedString(key string) string {
	v, _ := s.Cursor.Memory[key].(string)
	return v
}

// Remembers reports whether key was recorded.
func (s *State) Remembers(key string) bool {
	v, ok := s.Cursor.Memory[key].(bool)
	return ok && v
}
