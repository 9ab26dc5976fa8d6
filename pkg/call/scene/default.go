package scene

import _ "embed"

// DefaultYAML is the bundled living-room scene that make-agents writes when
// no scene exists yet.
//
//go:embed defaults/family_party.yaml
var DefaultYAML []byte

// DefaultFileName is where DefaultYAML is written inside a scenes directory.
const DefaultFileName = "family_party.yaml"

// Default parses DefaultYAML.
func Default() (*Scene, error) {
	return Parse(DefaultYAML)
}
