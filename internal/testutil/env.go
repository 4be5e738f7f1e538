// Package testutil provides fixtures for testing binpack in isolation:
// throwaway directories, OpenPGP keys and signatures, archives and an
// HTTP server standing in for an upstream release site.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// Env holds the isolated directories of one test
type Env struct {
	Root        string
	WorkDir     string
	ResourceDir string
	KeyDir      string
}

// SetupTestEnv creates isolated test directories for each test and points
// the BINPACK_* environment variables at them, so tests never touch a real
// work or resource tree.
//
// The cleanup function is automatically handled by t.TempDir(),
// so callers don't need to manually clean up.
func SetupTestEnv(t *testing.T) *Env {
	t.Helper()

	// Create temp directory (auto-cleaned by testing framework)
	tmpDir := t.TempDir()

	env := &Env{
		Root:        tmpDir,
		WorkDir:     filepath.Join(tmpDir, "work"),
		ResourceDir: filepath.Join(tmpDir, "resources"),
		KeyDir:      filepath.Join(tmpDir, "keys"),
	}

	t.Setenv("BINPACK_WORK_DIR", env.WorkDir)
	t.Setenv("BINPACK_RESOURCE_DIR", env.ResourceDir)
	t.Setenv("BINPACK_LOG_LEVEL", "off")

	for _, dir := range []string{env.WorkDir, env.ResourceDir, env.KeyDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatalf("failed to create test directory %s: %v", dir, err)
		}
	}

	return env
}

// WriteFile writes data under dir and returns the path
func WriteFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create dir for %s: %v", name, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}
