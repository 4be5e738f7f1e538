package binary

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bisqtools/binpack/internal/testutil"
)

func TestReceiptRoundTrip(t *testing.T) {
	out := t.TempDir()
	testutil.WriteFile(t, out, "bitcoind", []byte("daemon"))
	testutil.WriteFile(t, out, "bitcoin-cli", []byte("cli"))

	files, err := scanTree(out)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "bitcoin-cli", files[0].Path, "files are sorted")
	assert.Equal(t, testutil.SHA256Hex([]byte("cli")), files[0].SHA256)

	path := filepath.Join(t.TempDir(), "bitcoin-core", ReceiptFileName)
	r := &Receipt{
		Name:     BitcoinCore,
		Version:  "27.1",
		Platform: "linux_x86_64",
		URL:      "https://bitcoincore.org/bin/bitcoin-core-27.1/bitcoin-27.1-x86_64-linux-gnu.tar.gz",
		SHA256:   digestA,
		Signers:  []string{"152812300785C96444D3334D17565732E08E5E41"},
		Files:    files,
	}
	require.NoError(t, r.Save(path))
	assert.NoFileExists(t, path+".tmp")

	loaded, err := LoadReceipt(path)
	require.NoError(t, err)
	assert.Equal(t, r, loaded)
	assert.True(t, loaded.Describes(BitcoinCore, "27.1", "linux_x86_64", r.URL, digestA))
	assert.True(t, loaded.Intact(out))
}

func TestLoadReceiptMissing(t *testing.T) {
	r, err := LoadReceipt(filepath.Join(t.TempDir(), ReceiptFileName))
	assert.NoError(t, err)
	assert.Nil(t, r)
	assert.False(t, r.Describes("a", "b", "c", "d", "e"), "nil receipt describes nothing")
}

func TestLoadReceiptCorrupt(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), ReceiptFileName, []byte("name: [unterminated"))
	_, err := LoadReceipt(path)
	assert.Error(t, err)
}

func TestReceiptDescribes(t *testing.T) {
	r := &Receipt{Name: Tor, Version: "14.0.4", Platform: "macos_arm64", URL: "u", SHA256: digestB}

	tests := []struct {
		name                         string
		dep, version, plat, url, sha string
		want                         bool
	}{
		{"same", Tor, "14.0.4", "macos_arm64", "u", digestB, true},
		{"other version", Tor, "14.0.3", "macos_arm64", "u", digestB, false},
		{"other platform", Tor, "14.0.4", "macos_x86_64", "u", digestB, false},
		{"other url", Tor, "14.0.4", "macos_arm64", "v", digestB, false},
		{"other digest", Tor, "14.0.4", "macos_arm64", "u", digestC, false},
		{"other name", Electrum, "14.0.4", "macos_arm64", "u", digestB, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Describes(tt.dep, tt.version, tt.plat, tt.url, tt.sha))
		})
	}
}

func TestReceiptIntactDetectsDrift(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(t *testing.T, dir string)
	}{
		{"modified file", func(t *testing.T, dir string) {
			require.NoError(t, os.WriteFile(filepath.Join(dir, "tor"), []byte("patched"), 0o755))
		}},
		{"removed file", func(t *testing.T, dir string) {
			require.NoError(t, os.Remove(filepath.Join(dir, "tor")))
		}},
		{"extra file", func(t *testing.T, dir string) {
			testutil.WriteFile(t, dir, "extra", []byte("x"))
		}},
		{"mode change", func(t *testing.T, dir string) {
			if runtime.GOOS == "windows" {
				t.Skip("permission bits are not tracked on windows")
			}
			require.NoError(t, os.Chmod(filepath.Join(dir, "tor"), 0o600))
		}},
		{"removed dir", func(t *testing.T, dir string) {
			require.NoError(t, os.RemoveAll(dir))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "tor")
			testutil.WriteFile(t, dir, "tor", []byte("tor"))
			require.NoError(t, os.Chmod(filepath.Join(dir, "tor"), 0o755))

			files, err := scanTree(dir)
			require.NoError(t, err)
			r := &Receipt{Files: files}
			require.True(t, r.Intact(dir))

			tt.mutate(t, dir)
			assert.False(t, r.Intact(dir))
		})
	}
}

func TestScanTreeRecordsSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "Electrum.app/Contents/MacOS/Electrum", []byte("bin"))
	require.NoError(t, os.Symlink("MacOS/Electrum", filepath.Join(dir, "Electrum.app", "Contents", "run")))

	files, err := scanTree(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "Electrum.app/Contents/run", files[1].Path)
	assert.Equal(t, "link:MacOS/Electrum", files[1].SHA256)
}
