// Package emoji provides the adapter's bidirectional shortcode<->unicode
// emoji table, used to translate between the colon-delimited names most
// platforms accept for reactions (":thumbsup:") and the literal unicode
// glyph the CachedMessage reaction map stores.
package emoji

import (
	"os"
	"regexp"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// baseTable holds the platform-agnostic core of common reaction emoji.
// It is intentionally small: an adapter only needs enough coverage to
// round-trip the reactions it actually sees, and any gap is filled by a
// per-platform overlay file rather than by growing this table forever.
var baseTable = map[string]string{
	"thumbsup":      "\U0001F44D",
	"thumbsdown":    "\U0001F44E",
	"heart":         "❤️",
	"fire":          "\U0001F525",
	"joy":           "\U0001F602",
	"smile":         "\U0001F642",
	"laughing":      "\U0001F606",
	"cry":           "\U0001F622",
	"eyes":          "\U0001F440",
	"tada":          "\U0001F389",
	"clap":          "\U0001F44F",
	"rocket":        "\U0001F680",
	"thinking":      "\U0001F914",
	"check_mark":    "✅",
	"cross_mark":    "❌",
	"warning":       "⚠️",
	"100":           "\U0001F4AF",
	"pray":          "\U0001F64F",
	"eyes_rolling":  "\U0001F644",
	"raised_hands":  "\U0001F64C",
}

var shortcodePattern = regexp.MustCompile(`:([a-zA-Z0-9_+\-]+):`)

// Converter resolves names to unicode and back, with a base table plus an
// optional per-platform overlay loaded at startup. Overlays are read once
// and never mutated afterward, but the map is guarded anyway since
// Converter is shared across every goroutine touching reactions.
type Converter struct {
	mu          sync.RWMutex
	nameToGlyph map[string]string
	glyphToName map[string]string
}

// New builds a Converter seeded with baseTable, optionally merging an
// overlay JSON file (a flat {"name": "glyph"} object) for the given
// platform. A missing overlay file is not an error — the base table alone
// is a usable default.
func New(overlayPath string) (*Converter, error) {
	c := &Converter{
		nameToGlyph: make(map[string]string, len(baseTable)),
		glyphToName: make(map[string]string, len(baseTable)),
	}
	c.merge(baseTable)

	if overlayPath == "" {
		return c, nil
	}

	data, err := os.ReadFile(overlayPath)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, err
	}

	var overlay map[string]string
	if err := json.Unmarshal(data, &overlay); err != nil {
		return nil, err
	}
	c.merge(overlay)

	return c, nil
}

func (c *Converter) merge(table map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, glyph := range table {
		c.nameToGlyph[name] = glyph
		// First writer wins for the reverse direction: several names can
		// map to the same glyph (e.g. "thumbsup" and "+1"), and the
		// earliest-registered name is the more canonical one to surface.
		if _, exists := c.glyphToName[glyph]; !exists {
			c.glyphToName[glyph] = name
		}
	}
}

// ToGlyph resolves a bare shortcode name (no colons) to its unicode glyph.
func (c *Converter) ToGlyph(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.nameToGlyph[strings.ToLower(name)]
	return g, ok
}

// ToName resolves a unicode glyph back to its canonical shortcode name.
func (c *Converter) ToName(glyph string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.glyphToName[glyph]
	return n, ok
}

// ExpandShortcodes rewrites every ":name:" occurrence in text into its
// unicode glyph, leaving unrecognized shortcodes untouched.
func (c *Converter) ExpandShortcodes(text string) string {
	return shortcodePattern.ReplaceAllStringFunc(text, func(match string) string {
		name := strings.ToLower(match[1 : len(match)-1])
		if glyph, ok := c.ToGlyph(name); ok {
			return glyph
		}
		return match
	})
}
