// Package settings provides the client preferences that gate UI features.
package settings

// Key names one preference.
type Key string

const (
	KeyHighlights        Key = "boot-java.highlights.on"
	KeyHighlightCodeLens Key = "boot-java.highlight-codelens.on"
)

type Settings struct {
	// Highlights controls whether highlight annotations are shown at all.
	Highlights bool `json:"boot-java.highlights.on"`
	// HighlightCodeLens controls the CodeLens view derived from highlights.
	HighlightCodeLens bool `json:"boot-java.highlight-codelens.on"`
}

func Default() Settings {
	return Settings{
		Highlights:        true,
		HighlightCodeLens: true,
	}
}

// Diff returns the keys whose values differ between s and other.
func (s Settings) Diff(other Settings) []Key {
	var keys []Key
	if s.Highlights != other.Highlights {
		keys = append(keys, KeyHighlights)
	}
	if s.HighlightCodeLens != other.HighlightCodeLens {
		keys = append(keys, KeyHighlightCodeLens)
	}
	return keys
}

// Change is emitted when one or more preferences change.
type Change struct {
	Keys     []Key
	Settings Settings
}

func (c Change) Has(keys ...Key) bool {
	for _, k := range c.Keys {
		for _, want := range keys {
			if k == want {
				return true
			}
		}
	}
	return false
}
