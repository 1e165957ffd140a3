package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/iksnae/chief-of-staff/internal/config"
)

// CreateTempDir creates a temporary data directory removed at test end.
func CreateTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "chief-of-staff-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

// WriteConfig saves cfg as config.yaml in dir and returns its path.
func WriteConfig(t *testing.T, dir string, cfg *config.Config) string {
	t.Helper()
	path := filepath.Join(dir, config.FileName)
	if err := config.Save(path, cfg); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

// JSONMarshal marshals a value to JSON for testing
func JSONMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Failed to marshal JSON: %v", err)
	}
	return data
}

// JSONUnmarshal unmarshals JSON for testing
func JSONUnmarshal(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("Failed to unmarshal JSON: %v", err)
	}
}
