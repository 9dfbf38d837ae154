package storage

import (
	"strings"
	"testing"
)

func TestGenerateToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 32; i++ {
		tok := GenerateToken()
		if tok == "" {
			t.Fatal("GenerateToken() returned empty string")
		}
		if seen[tok] {
			t.Fatalf("GenerateToken() repeated %q", tok)
		}
		seen[tok] = true
	}
}

func TestGenerateUserCode(t *testing.T) {
	code, err := GenerateUserCode(0)
	if err != nil {
		t.Fatalf("GenerateUserCode(0) error: %v", err)
	}
	if len(code) != DefaultUserCodeLength {
		t.Errorf("default length = %d, want %d", len(code), DefaultUserCodeLength)
	}

	code, err = GenerateUserCode(16)
	if err != nil {
		t.Fatalf("GenerateUserCode(16) error: %v", err)
	}
	if len(code) != 16 {
		t.Errorf("length = %d, want 16", len(code))
	}
	for _, c := range code {
		if !strings.ContainsRune(userCodeAlphabet, c) {
			t.Errorf("user code contains %q, outside the unambiguous alphabet", c)
		}
	}
}

func TestClientSecretHashing(t *testing.T) {
	hash, err := HashClientSecret("s3cret")
	if err != nil {
		t.Fatalf("HashClientSecret() error: %v", err)
	}
	if hash == "s3cret" {
		t.Fatal("hash equals the raw secret")
	}

	if !VerifyClientSecret(hash, "s3cret") {
		t.Error("correct secret rejected")
	}
	if VerifyClientSecret(hash, "wrong") {
		t.Error("wrong secret accepted")
	}
	if VerifyClientSecret(hash, "") {
		t.Error("empty secret accepted against a confidential hash")
	}
}

func TestVerifyClientSecretPublicClient(t *testing.T) {
	// An empty stored hash marks a public client: only the empty secret
	// authenticates.
	if !VerifyClientSecret("", "") {
		t.Error("public client with empty secret rejected")
	}
	if VerifyClientSecret("", "anything") {
		t.Error("public client accepted a non-empty secret")
	}
}
