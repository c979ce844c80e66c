package main

import (
	"bytes"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestRunUsage(t *testing.T) {
	var out bytes.Buffer
	code := run([]string{"hashpw"}, strings.NewReader(""), &out)
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(out.String(), "Usage: hashpw [password]") {
		t.Fatalf("expected usage output, got %q", out.String())
	}
}

func TestRunHashesArgument(t *testing.T) {
	var out bytes.Buffer
	code := run([]string{"hashpw", "this-is-a-test-password"}, strings.NewReader(""), &out)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d (output: %q)", code, out.String())
	}

	hash := strings.TrimSpace(out.String())
	if hash == "" {
		t.Fatalf("expected hash output, got empty string")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("this-is-a-test-password")); err != nil {
		t.Fatalf("expected hash to validate against original password: %v", err)
	}
}

func TestRunReadsPipedInput(t *testing.T) {
	var out bytes.Buffer
	code := run([]string{"hashpw"}, strings.NewReader("piped-secret\n"), &out)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d (output: %q)", code, out.String())
	}

	hash := strings.TrimSpace(out.String())
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("piped-secret")); err != nil {
		t.Fatalf("expected hash to validate against piped password: %v", err)
	}
}
