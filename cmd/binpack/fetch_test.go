package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bisqtools/binpack/internal/binary"
	"github.com/bisqtools/binpack/internal/testutil"
)

// publishTool serves a signed release of a config-defined dependency and
// returns the path of a configuration that trusts its signer.
func publishTool(t *testing.T, env *testutil.Env) (*testutil.ReleaseServer, string) {
	t.Helper()
	srv := testutil.NewReleaseServer(t)
	signer := testutil.NewSigner(t, "tool release")

	archive := testutil.TarGz(t,
		testutil.Entry{Name: "tool-1.2.0/bin/tool", Body: "tool 1.2.0", Mode: 0o755},
		testutil.Entry{Name: "tool-1.2.0/LICENSE", Body: "MIT"},
	)
	manifest := testutil.Manifest(map[string][]byte{"tool-1.2.0-linux-x86_64.tar.gz": archive})
	srv.Add("/tool/1.2.0/tool-1.2.0-linux-x86_64.tar.gz", archive)
	srv.Add("/tool/1.2.0/SHA256SUMS", manifest)
	srv.Add("/tool/1.2.0/SHA256SUMS.asc", testutil.ArmoredSignatures(t, signer.Sign(t, manifest)))

	key := testutil.WriteFile(t, env.KeyDir, "tool.asc", signer.ArmoredPublicKey(t))
	lua := fmt.Sprintf(`
binpack = {
  retries = 1,
  dependencies = { "tool" },
  trusted_keys = {
    tool = { { name = "release", fingerprint = %q, source = %q } },
  },
  custom = {
    tool = {
      version = "1.2.0",
      url_prefix = %q,
      suffixes = { linux_x86_64 = "linux-x86_64.tar.gz" },
      manifest = %q,
      signature = %q,
      binaries = { "tool-{version}/bin/tool" },
    },
  },
}
`, signer.SpacedFingerprint(), key,
		srv.URL+"/tool/{version}/tool-{version}-",
		srv.URL+"/tool/{version}/SHA256SUMS",
		srv.URL+"/tool/{version}/SHA256SUMS.asc")

	return srv, testutil.WriteFile(t, env.Root, "binpack.lua", []byte(lua))
}

func TestRunFetch_CustomDependency(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	srv, cfg := publishTool(t, env)

	code, out, errOut := execute(t, "fetch", "--config", cfg, "--platform", "linux_x86_64")
	require.Equal(t, exitOK, code, "stdout:\n%s\nstderr:\n%s", out, errOut)
	assert.Contains(t, out, "Packaging 1 dependencies for linux_x86_64")
	assert.Contains(t, out, "✓ tool 1.2.0")
	assert.Contains(t, out, "1 signer(s)")
	assert.Contains(t, out, "1 packaged, 0 failed, 3 requests")

	got, err := os.ReadFile(filepath.Join(env.ResourceDir, "tool", "tool"))
	require.NoError(t, err)
	assert.Equal(t, "tool 1.2.0", string(got))
	assert.NoFileExists(t, filepath.Join(env.ResourceDir, "tool", "LICENSE"))

	// Second run is served from disk
	code, out, _ = execute(t, "fetch", "--config", cfg, "--platform", "linux_x86_64")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "up to date")
	assert.Contains(t, out, "0 requests")
	assert.Equal(t, 3, srv.TotalRequests())

	code, out, _ = execute(t, "status", "--config", cfg, "--platform", "linux_x86_64")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "✓ tool 1.2.0")
}

func TestRunFetch_Failure(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	srv, cfg := publishTool(t, env)
	srv.Add("/tool/1.2.0/tool-1.2.0-linux-x86_64.tar.gz", []byte("swapped by a mirror"))

	code, out, _ := execute(t, "fetch", "--config", cfg, "--platform", "linux_x86_64")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, out, "✗ tool 1.2.0")
	assert.Contains(t, out, binary.StateHashVerified.String())
	assert.Contains(t, out, "0 packaged, 1 failed")
	assert.NoDirExists(t, filepath.Join(env.ResourceDir, "tool"))
}

func TestRunFetch_UnknownDependency(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	_, cfg := publishTool(t, env)

	code, out, _ := execute(t, "fetch", "--config", cfg, "--platform", "linux_x86_64", "lnd@0.18.3")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, out, "✗ lnd 0.18.3")
	assert.Contains(t, out, "unknown dependency")
}

func TestRunStatus(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	_, cfg := publishTool(t, env)

	code, out, _ := execute(t, "status", "--config", cfg, "--platform", "linux_x86_64")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, out, "✗ tool 1.2.0")
	assert.Contains(t, out, "binpack fetch")

	code, _, _ = execute(t, "fetch", "--config", cfg, "--platform", "linux_x86_64")
	require.Equal(t, exitOK, code)

	require.NoError(t, os.WriteFile(filepath.Join(env.ResourceDir, "tool", "tool"), []byte("patched"), 0o755))
	code, out, _ = execute(t, "status", "--config", cfg, "--platform", "linux_x86_64")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, out, "! tool 1.2.0")

	code, out, _ = execute(t, "status", "--config", cfg, "--platform", "linux_x86_64", "tool@1.3.0")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, out, "~ tool 1.3.0 (packaged: 1.2.0 for linux_x86_64, upgrade)")
}

func TestFormatResult(t *testing.T) {
	done := &binary.Result{
		Name:         "tor",
		Version:      "14.0.4",
		State:        binary.StateDone,
		OutputDir:    "resources/tor",
		Signers:      []string{"ef6e"},
		FallbackUsed: true,
		Transitions: []binary.Transition{
			{To: binary.StateDownloaded, Skipped: true},
			{To: binary.StatePackaged, Skipped: true},
		},
	}
	assert.Equal(t, "  ✓ tor 14.0.4 -> resources/tor (1 signer(s), x86_64 fallback, up to date)", formatResult(done))

	fresh := &binary.Result{Name: "tor", Version: "14.0.4", State: binary.StateDone, OutputDir: "out"}
	assert.Equal(t, "  ✓ tor 14.0.4 -> out", formatResult(fresh))

	failed := &binary.Result{
		Name:    "tor",
		Version: "14.0.4",
		State:   binary.StateFailed,
		Err:     &binary.StepError{Dependency: "tor", Step: binary.StateExtracted, Err: fmt.Errorf("boom")},
	}
	assert.Equal(t, "  ✗ tor 14.0.4: tor: extracted: boom", formatResult(failed))
}
