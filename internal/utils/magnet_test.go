package utils

import (
	"strings"
	"testing"
)

// checkNormalized is a helper that verifies an input normalizes to the
// expected canonical hash
func checkNormalized(t *testing.T, input, expected string) {
	t.Helper()

	got, err := NormalizeInfoHash(input)
	if err != nil {
		t.Fatalf("NormalizeInfoHash(%q) failed: %v", input, err)
	}
	if got != expected {
		t.Errorf("Expected '%s', got '%s'", expected, got)
	}
}

func TestNormalizeInfoHash_HexLowercased(t *testing.T) {
	expected := "8a19577fb5f690970ca43a57ff1011ae202244b8"
	checkNormalized(t, "8A19577FB5F690970CA43A57FF1011AE202244B8", expected)
	checkNormalized(t, expected, expected)
	checkNormalized(t, "  "+expected+"  ", expected)
}

func TestNormalizeInfoHash_Base32Converted(t *testing.T) {
	// RFC 4648 base32 of the 20-byte hash above
	base32Hash := "RIMVO75V62IJODFEHJL76EARVYQCERFY"
	checkNormalized(t, base32Hash, "8a19577fb5f690970ca43a57ff1011ae202244b8")
	checkNormalized(t, strings.ToLower(base32Hash), "8a19577fb5f690970ca43a57ff1011ae202244b8")
}

func TestNormalizeInfoHash_Invalid(t *testing.T) {
	cases := []string{
		"",
		"tooshort",
		"8a19577fb5f690970ca43a57ff1011ae202244",     // 38 chars
		"8a19577fb5f690970ca43a57ff1011ae202244b8ff", // 42 chars
		"zz19577fb5f690970ca43a57ff1011ae202244b8",   // non-hex
		"!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!",           // 32 chars, not base32
	}
	for _, input := range cases {
		if got, err := NormalizeInfoHash(input); err == nil {
			t.Errorf("Expected error for %q, got '%s'", input, got)
		}
	}
}

func TestConstructMagnet(t *testing.T) {
	expected := "magnet:?xt=urn:btih:8a19577fb5f690970ca43a57ff1011ae202244b8"

	magnet, err := ConstructMagnet("8A19577FB5F690970CA43A57FF1011AE202244B8")
	if err != nil {
		t.Fatalf("ConstructMagnet failed: %v", err)
	}
	if magnet != expected {
		t.Errorf("Expected '%s', got '%s'", expected, magnet)
	}
	if !strings.Contains(magnet, "xt=urn:btih:") {
		t.Error("Magnet link should contain info hash")
	}
}

func TestConstructMagnet_Invalid(t *testing.T) {
	if magnet, err := ConstructMagnet("not-a-hash"); err == nil {
		t.Errorf("Expected error, got '%s'", magnet)
	}
}
