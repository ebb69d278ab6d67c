package security

import (
	"strings"
	"testing"
)

func TestSHA256Hex(t *testing.T) {
	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := SHA256Hex("abc"); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestEqual(t *testing.T) {
	if !Equal("abc", "abc") {
		t.Error("Expected equal strings to match")
	}
	if Equal("abc", "abd") || Equal("abc", "abcd") || Equal("", "a") {
		t.Error("Expected different strings not to match")
	}
}

func TestGenerateReference(t *testing.T) {
	a, err := GenerateReference("pf")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := GenerateReference("pf")
	if !strings.HasPrefix(a, "PF-") || len(a) != len("PF-")+16 {
		t.Errorf("Unexpected reference format: %s", a)
	}
	if a == b {
		t.Error("Expected two references to differ")
	}
}
