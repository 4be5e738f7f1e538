package binary

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bisqtools/binpack/internal/fault"
	"github.com/bisqtools/binpack/internal/testutil"
)

// fakeHdiutil stands in for hdiutil. Attach populates the mount point with
// the configured files and detach empties it again.
type fakeHdiutil struct {
	mu        sync.Mutex
	calls     []string
	files     map[string]string
	attachErr error
	detachErr error
	hang      bool
}

func (f *fakeHdiutil) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))
	f.mu.Unlock()

	switch args[0] {
	case "attach":
		if f.hang {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		if f.attachErr != nil {
			return []byte("hdiutil: attach failed - image not recognized"), f.attachErr
		}
		mount := argAfter(args, "-mountpoint")
		for rel, body := range f.files {
			path := filepath.Join(mount, filepath.FromSlash(rel))
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, err
			}
			if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
				return nil, err
			}
		}
	case "detach":
		entries, _ := os.ReadDir(args[1])
		for _, e := range entries {
			os.RemoveAll(filepath.Join(args[1], e.Name()))
		}
		if f.detachErr != nil {
			return nil, f.detachErr
		}
	}
	return nil, nil
}

func (f *fakeHdiutil) subcommands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	subs := make([]string, len(f.calls))
	for i, c := range f.calls {
		subs[i] = strings.Fields(c)[1]
	}
	return subs
}

func argAfter(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func extractDMGFixture(t *testing.T, runner CommandRunner, timeout time.Duration) (string, error) {
	t.Helper()
	image := writeArchive(t, "electrum-4.5.8.dmg", []byte("not really a disk image"))
	destDir := filepath.Join(t.TempDir(), "extracted")

	_, err := NewExtractor(ExtractorOptions{Runner: runner, MountTimeout: timeout}).Extract(context.Background(), ExtractRequest{
		Format:      FormatDMG,
		ArchivePath: image,
		DestDir:     destDir,
		Bundle:      "Electrum.app",
		Expect:      []string{"Electrum.app"},
	})
	return destDir, err
}

func TestExtractDMG(t *testing.T) {
	runner := &fakeHdiutil{files: map[string]string{
		"Electrum.app/Contents/MacOS/run_electrum": "#!/bin/sh\n",
		"Electrum.app/Contents/Info.plist":         "<plist/>",
		"Applications":                             "not copied",
	}}

	destDir, err := extractDMGFixture(t, runner, time.Second)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(destDir, "Electrum.app", "Contents", "MacOS", "run_electrum"))
	assert.FileExists(t, filepath.Join(destDir, "Electrum.app", "Contents", "Info.plist"))
	assert.NoFileExists(t, filepath.Join(destDir, "Applications"))
	assert.Equal(t, []string{"attach", "detach"}, runner.subcommands())

	attach := runner.calls[0]
	for _, flag := range []string{"-nobrowse", "-readonly", "-noautoopen", "-mountpoint"} {
		assert.Contains(t, attach, flag)
	}
	assert.Contains(t, runner.calls[1], "-force")
}

func TestExtractDMGBundleMissingStillDetaches(t *testing.T) {
	runner := &fakeHdiutil{files: map[string]string{"Other.app/x": "x"}}

	destDir, err := extractDMGFixture(t, runner, time.Second)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.Extraction))
	assert.Contains(t, err.Error(), "Electrum.app not found in image")
	assert.Equal(t, []string{"attach", "detach"}, runner.subcommands())
	assert.NoDirExists(t, destDir)
}

func TestExtractDMGAttachTimeout(t *testing.T) {
	runner := &fakeHdiutil{hang: true}

	_, err := extractDMGFixture(t, runner, 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.Extraction))
	assert.Contains(t, err.Error(), "timed out after")
	// The image may have mounted late, so a detach is still attempted
	assert.Equal(t, []string{"attach", "detach"}, runner.subcommands())
	assert.Contains(t, runner.calls[1], "-force")
}

func TestExtractDMGAttachTimeoutDetachFailureKeepsCause(t *testing.T) {
	runner := &fakeHdiutil{hang: true, detachErr: errors.New("no such mount")}

	_, err := extractDMGFixture(t, runner, 50*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attach")
	assert.Contains(t, err.Error(), "timed out after")
	assert.NotContains(t, err.Error(), "no such mount")
}

func TestExtractDMGAttachFailure(t *testing.T) {
	runner := &fakeHdiutil{attachErr: errors.New("exit status 1")}

	_, err := extractDMGFixture(t, runner, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image not recognized")
	// A rejected image never mounts
	assert.Equal(t, []string{"attach"}, runner.subcommands())
}

func TestExtractDMGDetachFailureFailsStep(t *testing.T) {
	runner := &fakeHdiutil{
		files:     map[string]string{"Electrum.app/Contents/MacOS/run_electrum": "x"},
		detachErr: errors.New("resource busy"),
	}

	destDir, err := extractDMGFixture(t, runner, time.Second)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.Extraction))
	assert.Contains(t, err.Error(), "resource busy")
	assert.NoDirExists(t, destDir)
}

func TestExtractDMGRejectsBundleEscape(t *testing.T) {
	runner := &fakeHdiutil{}
	image := testutil.WriteFile(t, t.TempDir(), "x.dmg", []byte("x"))

	_, err := NewExtractor(ExtractorOptions{Runner: runner}).Extract(context.Background(), ExtractRequest{
		Format:      FormatDMG,
		ArchivePath: image,
		DestDir:     filepath.Join(t.TempDir(), "out"),
		Bundle:      "../Electrum.app",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal bundle name")
	assert.Empty(t, runner.subcommands(), "hdiutil must not run for an illegal bundle")
}

func TestCopyTreePreservesSymlinks(t *testing.T) {
	src := t.TempDir()
	testutil.WriteFile(t, src, "Contents/MacOS/Electrum", []byte("bin"))
	require.NoError(t, os.Symlink("MacOS/Electrum", filepath.Join(src, "Contents", "current")))

	dst := filepath.Join(t.TempDir(), "Electrum.app")
	require.NoError(t, copyTree(src, dst))

	target, err := os.Readlink(filepath.Join(dst, "Contents", "current"))
	require.NoError(t, err)
	assert.Equal(t, "MacOS/Electrum", target)

	data, err := os.ReadFile(filepath.Join(dst, "Contents", "MacOS", "Electrum"))
	require.NoError(t, err)
	assert.Equal(t, "bin", string(data))
}
