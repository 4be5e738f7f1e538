package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bisqtools/binpack/internal/binary"
	"github.com/bisqtools/binpack/internal/platform"
)

func TestConfig_Apply_Custom(t *testing.T) {
	c := Default()
	c.Custom = map[string]CustomDependency{
		"lnd": {
			Version:    "0.18.3-beta",
			URLPrefix:  "https://example.com/v{version}/lnd-",
			Suffixes:   map[string]string{"linux_x86_64": "linux-amd64-v{version}.tar.gz"},
			Kind:       "tar.gz",
			ArchiveDir: "lnd-linux-amd64-v{version}",
			Manifest:   "https://example.com/v{version}/manifest.txt",
			Signature:  "https://example.com/v{version}/manifest.txt.sig",
			Binaries:   []string{"lnd-linux-amd64-v{version}/lnd"},
		},
	}

	cat := binary.DefaultCatalog()
	require.NoError(t, c.Apply(cat))
	require.True(t, cat.Has("lnd"))
	assert.Equal(t, "0.18.3-beta", cat.DefaultVersion("lnd"))

	spec, err := cat.Spec("lnd", "")
	require.NoError(t, err)
	assert.Equal(t, "0.18.3-beta", spec.Version)
	assert.Equal(t, "https://example.com/v0.18.3-beta/lnd-", spec.URLPrefix)
	assert.Equal(t, "linux-amd64-v0.18.3-beta.tar.gz", spec.Suffixes[platform.LinuxX8664])
	assert.Equal(t, binary.FormatTarGz, spec.ArchiveFormat)
	assert.Equal(t, "lnd-linux-amd64-v0.18.3-beta", spec.ArchiveDirName)
	assert.Equal(t, "https://example.com/v0.18.3-beta/manifest.txt", spec.ManifestURL)
	assert.Equal(t, []string{"lnd-linux-amd64-v0.18.3-beta/lnd"}, spec.Binaries[platform.OSLinux])

	pinned, err := cat.Spec("lnd", "0.19.0-beta")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/v0.19.0-beta/lnd-", pinned.URLPrefix)
}

func TestConfig_Apply_TrustedKeys(t *testing.T) {
	c := Default()
	c.TrustedKeys = map[string][]KeyConfig{
		binary.Tor: {
			{Fingerprint: "AAAA BBBB CCCC DDDD EEEE  FFFF 0000 1111 2222 3333", Source: "/keys/mirror.asc"},
		},
		binary.BitcoinCore: {
			{Name: "achow101", Fingerprint: "152812300785C96444D3334D17565732E08E5E41", Source: "https://example.com/achow101.gpg"},
		},
	}

	cat := binary.DefaultCatalog()
	builtin, err := cat.Spec(binary.Tor, "")
	require.NoError(t, err)

	require.NoError(t, c.Apply(cat))

	tor, err := cat.Spec(binary.Tor, "")
	require.NoError(t, err)
	require.Len(t, tor.TrustedKeys, len(builtin.TrustedKeys)+1)
	assert.Equal(t, builtin.TrustedKeys, tor.TrustedKeys[:len(builtin.TrustedKeys)], "built-in signers are kept")

	added := tor.TrustedKeys[len(tor.TrustedKeys)-1]
	assert.Equal(t, "aaaabbbbccccddddeeeeffff0000111122223333", added.Fingerprint)
	assert.Equal(t, binary.Tor, added.Name, "unnamed keys are labelled with the dependency")
	assert.Equal(t, "/keys/mirror.asc", added.Source)

	core, err := cat.Spec(binary.BitcoinCore, "")
	require.NoError(t, err)
	assert.Equal(t, "achow101", core.TrustedKeys[len(core.TrustedKeys)-1].Name)
}

func TestConfig_Apply_KeysForCustomDependency(t *testing.T) {
	c := Default()
	c.Custom = map[string]CustomDependency{"tool": validCustom()}
	c.TrustedKeys = map[string][]KeyConfig{
		"tool": {{Fingerprint: "0123456789abcdef0123456789abcdef01234567", Source: "tool.asc"}},
	}

	cat := binary.NewCatalog()
	require.NoError(t, c.Apply(cat))

	spec, err := cat.Spec("tool", "")
	require.NoError(t, err)
	require.Len(t, spec.TrustedKeys, 1)
	assert.Equal(t, "tool", spec.TrustedKeys[0].Name)
}

func TestConfig_Apply_UnknownDependency(t *testing.T) {
	c := Default()
	c.TrustedKeys = map[string][]KeyConfig{
		"lnd": {{Fingerprint: "0123456789abcdef0123456789abcdef01234567", Source: "lnd.asc"}},
	}

	err := c.Apply(binary.DefaultCatalog())
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "error = %v", err)
	assert.Equal(t, "trusted_keys.lnd", verr.Field)
}

func TestConfig_Requests(t *testing.T) {
	cat := binary.DefaultCatalog()

	t.Run("defaults to whole catalog", func(t *testing.T) {
		reqs := Default().Requests(cat)
		require.Len(t, reqs, len(cat.Names()))
		for i, name := range cat.Names() {
			assert.Equal(t, binary.Request{Name: name}, reqs[i])
		}
	})

	t.Run("configured order", func(t *testing.T) {
		c := Default()
		c.Dependencies = []Dependency{{Name: "tor"}, {Name: "bitcoin-core", Version: "26.0"}}
		assert.Equal(t, []binary.Request{
			{Name: "tor"},
			{Name: "bitcoin-core", Version: "26.0"},
		}, c.Requests(cat))
	})
}
