// Package scene loads the static call configuration and holds the per-call
// runtime cursor.
package scene

import (
	"bytes"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vango-go/partyline/pkg/core"
)

// Defaults applied when a scene document omits a field.
const (
	DefaultIntensity   = 0.5
	DefaultDuckingDB   = -14
	DefaultOverlapMS   = 350
	DefaultHandoffMinS = 4
	DefaultHandoffMaxS = 8
)

// DefaultStopWords is used when the scene does not list stop_words.
var DefaultStopWords = []string{"end call"}

// Scene is the static configuration of one call. Treat it as read-only
// except through State, which owns a private copy per session.
type Scene struct {
	ID        string
	Title     string
	Roomtone  string
	WallaBeds []string
	Intensity float64

	Characters Characters
	// Aliases maps a character id to the nicknames the user may call them by.
	Aliases map[string][]string

	HandoffTriggers []Trigger
	MustHitLines    []MustHitLine

	Timing    Timing
	OverlapMS int
	DuckingDB int
	VoiceMap  map[string]string

	BackgroundAsides []AsideSet
	Safety           Safety
	StopWords        []string
}

// Characters groups persona ids by how close they are to the phone.
type Characters struct {
	Foreground []string `yaml:"foreground"`
	Nearby     []string `yaml:"nearby"`
	Background []string `yaml:"background"`
}

// Trigger hands the call from one character to another when the user
// mentions any of the keywords.
type Trigger struct {
	From             string   `yaml:"from"`
	To               string   `yaml:"to"`
	WhenUserMentions []string `yaml:"when_user_mentions"`
}

// MustHitLine is a beat a character should work into the conversation.
type MustHitLine struct {
	Character     string `yaml:"character"`
	LineHint      string `yaml:"line_hint"`
	WithinSeconds int    `yaml:"within_seconds"`
}

// Timing bounds how long a handed-off character may take to speak.
type Timing struct {
	HandoffMinS float64
	HandoffMaxS float64
}

// HandoffMin returns the lower bound as a duration.
func (t Timing) HandoffMin() time.Duration {
	return time.Duration(t.HandoffMinS * float64(time.Second))
}

// HandoffMax returns the upper bound as a duration.
func (t Timing) HandoffMax() time.Duration {
	return time.Duration(t.HandoffMaxS * float64(time.Second))
}

// AsideSet is the pool of ambient lines for one speaker.
type AsideSet struct {
	Speaker   string   `yaml:"speaker"`
	Lines     []string `yaml:"lines"`
	Proximity string   `yaml:"proximity"`
}

// Safety is the content policy folded into every character prompt.
type Safety struct {
	PG13          bool
	BlockedTopics []string
}

type rawScene struct {
	SceneID    string              `yaml:"scene_id"`
	Title      string              `yaml:"title"`
	Roomtone   string              `yaml:"roomtone"`
	WallaBeds  []string            `yaml:"walla_beds"`
	Intensity  *float64            `yaml:"intensity"`
	Characters Characters          `yaml:"characters"`
	Aliases    map[string][]string `yaml:"aliases"`

	HandoffTriggers []Trigger `yaml:"handoff_triggers"`
	Rules           struct {
		HandoffTriggers []Trigger     `yaml:"handoff_triggers"`
		MustHitLines    []MustHitLine `yaml:"must_hit_lines"`
	} `yaml:"rules"`

	Timing struct {
		HandoffMinS *float64 `yaml:"handoff_min_s"`
		HandoffMaxS *float64 `yaml:"handoff_max_s"`
	} `yaml:"timing"`
	Overlap struct {
		MaxMS *int `yaml:"max_ms"`
	} `yaml:"overlap"`
	DuckingDB *int `yaml:"ducking_db"`
	TTS       struct {
		VoiceMap map[string]string `yaml:"voice_map"`
	} `yaml:"tts"`

	BackgroundAsides asideSets `yaml:"background_asides"`
	Safety           struct {
		PG13          *bool    `yaml:"pg13"`
		BlockedTopics []string `yaml:"blocked_topics"`
	} `yaml:"safety"`
	StopWords *[]string `yaml:"stop_words"`
}

// asideSets accepts either the list form
//
//	- speaker: uncle
//	  lines: ["save me a plate!"]
//
// or the mapping form
//
//	uncle: ["save me a plate!"]
type asideSets []AsideSet

func (a *asideSets) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var list []AsideSet
		if err := node.Decode(&list); err != nil {
			return err
		}
		*a = list
		return nil
	case yaml.MappingNode:
		out := make([]AsideSet, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			var lines []string
			if err := node.Content[i+1].Decode(&lines); err != nil {
				return fmt.Errorf("background_asides.%s: %w", node.Content[i].Value, err)
			}
			out = append(out, AsideSet{Speaker: node.Content[i].Value, Lines: lines})
		}
		*a = out
		return nil
	default:
		return fmt.Errorf("background_asides must be a list or a mapping")
	}
}

// Load reads and parses a scene file.
func Load(path string) (*Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.NewConfigError(fmt.Sprintf("read scene %q: %v", path, err), "scene_path")
	}
	return Parse(data)
}

// Parse decodes a YAML scene document and applies defaults. A missing
// scene_id or an empty foreground group is a config error.
func Parse(data []byte) (*Scene, error) {
	var raw rawScene
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return nil, core.NewConfigError(fmt.Sprintf("decode scene: %v", err), "")
	}

	id := strings.TrimSpace(raw.SceneID)
	if id == "" {
		return nil, core.NewConfigError("scene_id is required", "scene_id")
	}

	sc := &Scene{
		ID:         id,
		Title:      strings.TrimSpace(raw.Title),
		Roomtone:   raw.Roomtone,
		WallaBeds:  raw.WallaBeds,
		Intensity:  DefaultIntensity,
		Characters: normalizeCharacters(raw.Characters),
		Aliases:    make(map[string][]string, len(raw.Aliases)),
		Timing:     Timing{HandoffMinS: DefaultHandoffMinS, HandoffMaxS: DefaultHandoffMaxS},
		OverlapMS:  DefaultOverlapMS,
		DuckingDB:  DefaultDuckingDB,
		VoiceMap:   make(map[string]string, len(raw.TTS.VoiceMap)),
		Safety:     Safety{PG13: true, BlockedTopics: raw.Safety.BlockedTopics},
		StopWords:  slices.Clone(DefaultStopWords),
	}
	if sc.Title == "" {
		sc.Title = sc.ID
	}
	if len(sc.Characters.Foreground) == 0 {
		return nil, core.NewConfigError("characters.foreground must name at least one character", "characters.foreground")
	}
	if raw.Intensity != nil {
		sc.Intensity = clamp01(*raw.Intensity)
	}
	if raw.Timing.HandoffMinS != nil {
		sc.Timing.HandoffMinS = *raw.Timing.HandoffMinS
	}
	if raw.Timing.HandoffMaxS != nil {
		sc.Timing.HandoffMaxS = *raw.Timing.HandoffMaxS
	}
	if sc.Timing.HandoffMinS < 0 || sc.Timing.HandoffMaxS < sc.Timing.HandoffMinS {
		return nil, core.NewConfigError("timing.handoff_max_s must be >= handoff_min_s >= 0", "timing")
	}
	if raw.Overlap.MaxMS != nil {
		sc.OverlapMS = *raw.Overlap.MaxMS
	}
	if raw.DuckingDB != nil {
		sc.DuckingDB = *raw.DuckingDB
	}
	if raw.Safety.PG13 != nil {
		sc.Safety.PG13 = *raw.Safety.PG13
	}
	if raw.StopWords != nil {
		sc.StopWords = cleanList(*raw.StopWords)
	}
	for id, names := range raw.Aliases {
		sc.Aliases[strings.ToLower(strings.TrimSpace(id))] = cleanList(names)
	}
	for speaker, voice := range raw.TTS.VoiceMap {
		sc.VoiceMap[strings.TrimSpace(speaker)] = strings.TrimSpace(voice)
	}

	triggers := raw.HandoffTriggers
	if len(triggers) == 0 {
		triggers = raw.Rules.HandoffTriggers
	}
	for _, tr := range triggers {
		tr.From = strings.TrimSpace(tr.From)
		tr.To = strings.TrimSpace(tr.To)
		tr.WhenUserMentions = cleanList(tr.WhenUserMentions)
		if tr.From == "" || tr.To == "" || len(tr.WhenUserMentions) == 0 {
			continue
		}
		sc.HandoffTriggers = append(sc.HandoffTriggers, tr)
	}
	sc.MustHitLines = raw.Rules.MustHitLines

	for _, set := range raw.BackgroundAsides {
		set.Speaker = strings.TrimSpace(set.Speaker)
		set.Lines = cleanList(set.Lines)
		set.Proximity = strings.ToLower(strings.TrimSpace(set.Proximity))
		if set.Speaker == "" || len(set.Lines) == 0 {
			continue
		}
		sc.BackgroundAsides = append(sc.BackgroundAsides, set)
	}

	return sc, nil
}

// DefaultForeground returns the character who answers the phone.
func (s *Scene) DefaultForeground() string {
	if s == nil || len(s.Characters.Foreground) == 0 {
		return ""
	}
	return s.Characters.Foreground[0]
}

// Voice returns the configured TTS voice for speaker, if any.
func (s *Scene) Voice(speaker string) string {
	if s == nil {
		return ""
	}
	return s.VoiceMap[speaker]
}

// Clone returns a deep copy.
func (s *Scene) Clone() *Scene {
	if s == nil {
		return nil
	}
	out := *s
	out.WallaBeds = slices.Clone(s.WallaBeds)
	out.Characters = Characters{
		Foreground: slices.Clone(s.Characters.Foreground),
		Nearby:     slices.Clone(s.Characters.Nearby),
		Background: slices.Clone(s.Characters.Background),
	}
	out.Aliases = make(map[string][]string, len(s.Aliases))
	for k, v := range s.Aliases {
		out.Aliases[k] = slices.Clone(v)
	}
	out.HandoffTriggers = make([]Trigger, len(s.HandoffTriggers))
	for i, tr := range s.HandoffTriggers {
		tr.WhenUserMentions = slices.Clone(tr.WhenUserMentions)
		out.HandoffTriggers[i] = tr
	}
	out.MustHitLines = slices.Clone(s.MustHitLines)
	out.VoiceMap = make(map[string]string, len(s.VoiceMap))
	for k, v := range s.VoiceMap {
		out.VoiceMap[k] = v
	}
	out.BackgroundAsides = make([]AsideSet, len(s.BackgroundAsides))
	for i, set := range s.BackgroundAsides {
		set.Lines = slices.Clone(set.Lines)
		out.BackgroundAsides[i] = set
	}
	out.Safety.BlockedTopics = slices.Clone(s.Safety.BlockedTopics)
	out.StopWords = slices.Clone(s.StopWords)
	return &out
}

func normalizeCharacters(c Characters) Characters {
	return Characters{
		Foreground: cleanList(c.Foreground),
		Nearby:     cleanList(c.Nearby),
		Background: cleanList(c.Background),
	}
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
