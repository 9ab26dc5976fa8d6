package intent

import (
	"slices"
	"sort"
	"strings"

	"github.com/vango-go/partyline/pkg/call/persona"
	"github.com/vango-go/partyline/pkg/call/scene"
)

// SceneRoster answers roster questions from a call's scene state. Persisted,
// when set, makes any stored persona a valid handoff target even if the
// scene never mentions it.
type SceneRoster struct {
	State     *scene.State
	Persisted func(id string) bool
}

func (r SceneRoster) StopWords() []string       { return r.State.Scene.StopWords }
func (r SceneRoster) Triggers() []scene.Trigger { return r.State.Scene.HandoffTriggers }
func (r SceneRoster) Foreground() string        { return r.State.Cursor.Foreground }
func (r SceneRoster) DefaultCharacter() string  { return r.State.Scene.DefaultForeground() }

func (r SceneRoster) Nicknames(id string) []string {
	return r.State.Scene.Aliases[id]
}

func (r SceneRoster) Resolve(name string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", false
	}
	id := persona.NormalizeID(name)
	chars := r.State.AllCharacters()
	if slices.Contains(chars, name) {
		return name, true
	}
	if slices.Contains(chars, id) {
		return id, true
	}

	aliased := make([]string, 0, len(r.State.Scene.Aliases))
	for k := range r.State.Scene.Aliases {
		aliased = append(aliased, k)
	}
	sort.Strings(aliased)
	for _, k := range aliased {
		for _, nick := range r.State.Scene.Aliases[k] {
			if strings.EqualFold(nick, name) {
				return k, true
			}
		}
	}

	if id != "" && r.Persisted != nil && r.Persisted(id) {
		return id, true
	}
	return "", false
}
