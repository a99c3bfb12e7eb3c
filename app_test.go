// app_test.go
package main

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestCheckpointDescription(t *testing.T) {
	if got := checkpointDescription("  make a gear\nwith 12 teeth  "); got != "make a gear with 12 teeth" {
		t.Errorf("expected trimmed single-line description, got %q", got)
	}

	long := strings.Repeat("x", 200)
	got := checkpointDescription(long)
	if got != strings.Repeat("x", 80)+"..." {
		t.Errorf("expected 80-rune truncation, got %q", got)
	}
}

func TestCheckpointDescription_MultibyteBoundary(t *testing.T) {
	// 79 ASCII runes followed by multi-byte runes straddling the cutoff
	text := strings.Repeat("a", 79) + "日本語の説明"
	got := checkpointDescription(text)

	if !utf8.ValidString(got) {
		t.Fatalf("description is not valid UTF-8: %q", got)
	}
	if !strings.HasSuffix(got, "日...") {
		t.Errorf("expected truncation after the 80th rune, got %q", got)
	}
}
