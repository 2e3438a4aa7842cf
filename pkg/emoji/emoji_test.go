package emoji

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewWithoutOverlayUsesBaseTable(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	glyph, ok := c.ToGlyph("thumbsup")
	if !ok || glyph != "\U0001F44D" {
		t.Fatalf("expected thumbsup to resolve, got %q ok=%v", glyph, ok)
	}
	name, ok := c.ToName("\U0001F44D")
	if !ok || name != "thumbsup" {
		t.Fatalf("expected reverse lookup to find thumbsup, got %q ok=%v", name, ok)
	}
}

func TestNewMissingOverlayIsNotAnError(t *testing.T) {
	c, err := New(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("New with missing overlay: %v", err)
	}
	if _, ok := c.ToGlyph("thumbsup"); !ok {
		t.Fatal("expected base table to still be usable")
	}
}

func TestNewOverlayAddsAndOverridesNames(t *testing.T) {
	dir := t.TempDir()
	overlayPath := filepath.Join(dir, "overlay.json")
	if err := os.WriteFile(overlayPath, []byte(`{"partyparrot":"🦜","heart":"💙"}`), 0644); err != nil {
		t.Fatalf("write overlay: %v", err)
	}

	c, err := New(overlayPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if glyph, ok := c.ToGlyph("partyparrot"); !ok || glyph != "🦜" {
		t.Fatalf("expected overlay-only name to resolve, got %q ok=%v", glyph, ok)
	}
	if glyph, ok := c.ToGlyph("heart"); !ok || glyph != "💙" {
		t.Fatalf("expected overlay to override base table, got %q ok=%v", glyph, ok)
	}
}

func TestExpandShortcodesLeavesUnknownNamesAlone(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := c.ExpandShortcodes("nice :thumbsup: but :not_a_real_emoji:")
	want := "nice \U0001F44D but :not_a_real_emoji:"
	if got != want {
		t.Fatalf("ExpandShortcodes() = %q, want %q", got, want)
	}
}
