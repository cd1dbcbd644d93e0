package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// getBinaryPath returns the path to the tubetrust binary for testing
func getBinaryPath(t *testing.T) string {
	if testing.Short() {
		t.Skip("Skipping CLI tests in short mode")
	}

	binaryPath := filepath.Join("..", "..", "bin", "tubetrust")
	if _, err := os.Stat(binaryPath); os.IsNotExist(err) {
		t.Skipf("Binary not found at %s, build it first with 'go build -o bin/tubetrust ./cmd/tubetrust'", binaryPath)
	}

	return binaryPath
}

// cleanEnv returns the environment without any variable that configures
// credentials or storage.
func cleanEnv(extra ...string) []string {
	var env []string
	for _, e := range os.Environ() {
		name, _, _ := strings.Cut(e, "=")
		if !configuredByEnv[name] {
			env = append(env, e)
		}
	}
	return append(env, extra...)
}

var configuredByEnv = map[string]bool{
	"GEMINI_API_KEY":   true,
	"OPENAI_API_KEY":   true,
	"STORE_BACKEND":    true,
	"DATABASE_URL":     true,
	"SQLITE_PATH":      true,
	"TUBETRUST_CONFIG": true,
}
