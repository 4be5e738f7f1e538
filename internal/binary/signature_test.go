package binary

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bisqtools/binpack/internal/fault"
	"github.com/bisqtools/binpack/internal/testutil"
)

type sigFixture struct {
	dir      string
	file     string
	contents []byte
}

func newSigFixture(t *testing.T) *sigFixture {
	t.Helper()
	dir := t.TempDir()
	contents := []byte(digestA + "  bitcoin-27.1-x86_64-linux-gnu.tar.gz\n")
	return &sigFixture{
		dir:      dir,
		file:     testutil.WriteFile(t, dir, "SHA256SUMS", contents),
		contents: contents,
	}
}

func (f *sigFixture) writeSig(t *testing.T, data []byte) string {
	t.Helper()
	return testutil.WriteFile(t, f.dir, "SHA256SUMS.asc", data)
}

// trust writes each signer's armored key and returns the matching allow-list
func (f *sigFixture) trust(t *testing.T, signers ...*testutil.Signer) []TrustedKey {
	t.Helper()
	keys := make([]TrustedKey, 0, len(signers))
	for i, s := range signers {
		path := testutil.WriteFile(t, f.dir, filepath.Join("keys", s.Fingerprint()+".asc"), s.ArmoredPublicKey(t))
		keys = append(keys, NewTrustedKey("signer"+string(rune('a'+i)), s.SpacedFingerprint(), path))
	}
	return keys
}

func TestVerifySignatureSingle(t *testing.T) {
	f := newSigFixture(t)
	signer := testutil.NewSigner(t, "fanquake")
	sigPath := f.writeSig(t, testutil.ArmoredSignatures(t, signer.Sign(t, f.contents)))

	res, err := NewVerifier(nil, nil).VerifySignature(context.Background(), f.file, sigPath, f.trust(t, signer), "")
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, VerificationGPG, res.Method)
	assert.Equal(t, []string{signer.Fingerprint()}, res.Signers)
}

func TestVerifySignatureMultipleBlocks(t *testing.T) {
	f := newSigFixture(t)
	a := testutil.NewSigner(t, "guggero")
	b := testutil.NewSigner(t, "hebasto")
	sigPath := f.writeSig(t, testutil.ArmoredSignatureBlocks(t, a.Sign(t, f.contents), b.Sign(t, f.contents)))

	res, err := NewVerifier(nil, nil).VerifySignature(context.Background(), f.file, sigPath, f.trust(t, a, b), "")
	require.NoError(t, err)
	assert.Equal(t, []string{a.Fingerprint(), b.Fingerprint()}, res.Signers)
}

func TestVerifySignatureBinaryForms(t *testing.T) {
	f := newSigFixture(t)
	signer := testutil.NewSigner(t, "theStack")

	// Unarmored signature and unarmored key
	sigPath := f.writeSig(t, signer.Sign(t, f.contents))
	keyPath := testutil.WriteFile(t, f.dir, "theStack.gpg", signer.PublicKey(t))
	keys := []TrustedKey{NewTrustedKey("theStack", signer.Fingerprint(), keyPath)}

	res, err := NewVerifier(nil, nil).VerifySignature(context.Background(), f.file, sigPath, keys, "")
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestVerifySignatureAllOf(t *testing.T) {
	f := newSigFixture(t)
	trusted := testutil.NewSigner(t, "trusted")
	stranger := testutil.NewSigner(t, "stranger")

	// Two signature packets: only the first is by an accepted key
	sigPath := f.writeSig(t, testutil.ArmoredSignatures(t,
		trusted.Sign(t, f.contents),
		stranger.Sign(t, f.contents),
	))

	res, err := NewVerifier(nil, nil).VerifySignature(context.Background(), f.file, sigPath, f.trust(t, trusted), "")
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.Signature))
	assert.False(t, res.Success)
	assert.Contains(t, err.Error(), "signature 2 of 2")
	assert.Contains(t, err.Error(), "not a trusted key")
}

func TestVerifySignatureOneBadPacket(t *testing.T) {
	f := newSigFixture(t)
	a := testutil.NewSigner(t, "a")
	b := testutil.NewSigner(t, "b")

	// b signed different bytes, so its packet fails even though b is trusted
	sigPath := f.writeSig(t, testutil.ArmoredSignatureBlocks(t,
		a.Sign(t, f.contents),
		b.Sign(t, []byte("something else")),
	))

	_, err := NewVerifier(nil, nil).VerifySignature(context.Background(), f.file, sigPath, f.trust(t, a, b), "")
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.Signature))
	assert.Contains(t, err.Error(), "signature 2 of 2")
}

func TestVerifySignatureUntrustedKey(t *testing.T) {
	f := newSigFixture(t)
	signer := testutil.NewSigner(t, "attacker")
	sigPath := f.writeSig(t, testutil.ArmoredSignatures(t, signer.Sign(t, f.contents)))

	// The key file is genuine for the signature but its fingerprint is not allowed
	keyPath := testutil.WriteFile(t, f.dir, "achow101.asc", signer.ArmoredPublicKey(t))
	keys := []TrustedKey{NewTrustedKey("achow101", "1528 1230 0785 C964 44D3  334D 1756 5732 E08E 5E41", keyPath)}

	res, err := NewVerifier(nil, nil).VerifySignature(context.Background(), f.file, sigPath, keys, "")
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.Signature))
	assert.Contains(t, err.Error(), "not in the trusted fingerprint list")
	assert.False(t, res.Success)
}

func TestVerifySignatureSmuggledKey(t *testing.T) {
	f := newSigFixture(t)
	good := testutil.NewSigner(t, "good")
	extra := testutil.NewSigner(t, "extra")

	// A key source holding an allowed key plus an unlisted one is rejected
	bundle := append(good.PublicKey(t), extra.PublicKey(t)...)
	keyPath := testutil.WriteFile(t, f.dir, "bundle.gpg", bundle)
	sigPath := f.writeSig(t, good.Sign(t, f.contents))

	_, err := NewVerifier(nil, nil).VerifySignature(context.Background(), f.file, sigPath,
		[]TrustedKey{NewTrustedKey("good", good.Fingerprint(), keyPath)}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), extra.Fingerprint())
}

func TestVerifySignatureTamperedFile(t *testing.T) {
	f := newSigFixture(t)
	signer := testutil.NewSigner(t, "builder")
	sigPath := f.writeSig(t, testutil.ArmoredSignatures(t, signer.Sign(t, f.contents)))

	require.NoError(t, os.WriteFile(f.file, append(f.contents, '\n'), 0o644))

	_, err := NewVerifier(nil, nil).VerifySignature(context.Background(), f.file, sigPath, f.trust(t, signer), "")
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.Signature))
}

func TestVerifySignatureMalformed(t *testing.T) {
	f := newSigFixture(t)
	signer := testutil.NewSigner(t, "builder")
	keys := f.trust(t, signer)

	tests := []struct {
		name string
		sig  []byte
	}{
		{"empty", nil},
		{"garbage", []byte("definitely not openpgp")},
		{"empty_armor", []byte("-----BEGIN PGP SIGNATURE-----\n\n-----END PGP SIGNATURE-----\n")},
		{"public_key_not_signature", signer.PublicKey(t)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sigPath := testutil.WriteFile(t, t.TempDir(), "x.asc", tt.sig)
			_, err := NewVerifier(nil, nil).VerifySignature(context.Background(), f.file, sigPath, keys, "")
			if !fault.Is(err, fault.Signature) {
				t.Errorf("expected Signature error, got %v", err)
			}
		})
	}
}

func TestVerifySignatureNoKeys(t *testing.T) {
	f := newSigFixture(t)
	sigPath := f.writeSig(t, []byte("x"))

	_, err := NewVerifier(nil, nil).VerifySignature(context.Background(), f.file, sigPath, nil, "")
	assert.True(t, fault.Is(err, fault.Signature))
}

func TestLoadKeyringFetchesAndCachesRemoteKeys(t *testing.T) {
	signer := testutil.NewSigner(t, "ThomasV")
	srv := testutil.NewReleaseServer(t)
	url := srv.Add("/pubkeys/ThomasV.asc", signer.ArmoredPublicKey(t))

	cacheDir := filepath.Join(t.TempDir(), "keys")
	v := NewVerifier(NewDownloader(DownloaderOptions{}), nil)
	keys := []TrustedKey{NewTrustedKey("ThomasV", signer.SpacedFingerprint(), url)}

	for i := 0; i < 2; i++ {
		kr, err := v.LoadKeyring(context.Background(), keys, cacheDir)
		require.NoError(t, err)
		assert.Equal(t, 1, kr.Len())
		assert.Equal(t, []string{signer.Fingerprint()}, kr.Fingerprints())
	}

	assert.Equal(t, 1, srv.Requests("/pubkeys/ThomasV.asc"), "key should be fetched once")
	assert.FileExists(t, filepath.Join(cacheDir, signer.Fingerprint()+".key"))
}

func TestLoadKeyringRemoteWithoutDownloader(t *testing.T) {
	keys := []TrustedKey{NewTrustedKey("x", strings.Repeat("ab", 20), "https://example.invalid/x.asc")}
	_, err := NewVerifier(nil, nil).LoadKeyring(context.Background(), keys, t.TempDir())
	assert.True(t, fault.Is(err, fault.Signature))
}

func TestSplitArmorBlocks(t *testing.T) {
	data := []byte("junk\n" +
		"-----BEGIN PGP SIGNATURE-----\nA\n-----END PGP SIGNATURE-----\n" +
		"-----BEGIN PGP SIGNATURE-----\nB\n-----END PGP SIGNATURE-----\n")

	blocks := splitArmorBlocks(data)
	require.Len(t, blocks, 2)
	assert.True(t, strings.HasPrefix(string(blocks[0]), armoredSignatureHeader+"\nA"))
	assert.True(t, strings.HasPrefix(string(blocks[1]), armoredSignatureHeader+"\nB"))
}
