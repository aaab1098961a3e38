package core

import (
	"encoding/base64"
	"testing"
)

func TestObfuscateRoundTrip(t *testing.T) {
	for _, plain := range []string{"hello", "", "ünïcødé ✓", "a much longer message than the repeating key itself"} {
		enc := Obfuscate(plain)
		if plain != "" && enc == base64.StdEncoding.EncodeToString([]byte(plain)) {
			t.Errorf("Expected %q to be XORed before encoding", plain)
		}
		if got := Reveal(enc); got != plain {
			t.Errorf("Reveal(Obfuscate(%q)) = %q", plain, got)
		}
	}
}

func TestObfuscateFormat(t *testing.T) {
	// 'h' ^ 's' = 0x1b, 'i' ^ 'n' = 0x07
	enc := Obfuscate("hi")
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		t.Fatalf("Expected standard base64, got %q: %v", enc, err)
	}
	if len(raw) != 2 || raw[0] != 0x1b || raw[1] != 0x07 {
		t.Errorf("Unexpected obfuscated bytes % x", raw)
	}
}

func TestRevealMalformedReturnsInput(t *testing.T) {
	in := "not base64 at all!!"
	if got := Reveal(in); got != in {
		t.Errorf("Expected malformed input to be returned unchanged, got %q", got)
	}
}
