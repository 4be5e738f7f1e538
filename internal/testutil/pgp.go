package testutil

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

// Signer is a throwaway OpenPGP identity for signing release fixtures.
type Signer struct {
	Entity *openpgp.Entity
}

// NewSigner generates an Ed25519 signing key.
func NewSigner(t testing.TB, name string) *Signer {
	t.Helper()

	config := &packet.Config{Algorithm: packet.PubKeyAlgoEdDSA}
	entity, err := openpgp.NewEntity(name, "test", strings.ToLower(name)+"@example.invalid", config)
	if err != nil {
		t.Fatalf("generate key for %s: %v", name, err)
	}
	return &Signer{Entity: entity}
}

// Fingerprint returns the lowercase hex primary key fingerprint.
func (s *Signer) Fingerprint() string {
	return hex.EncodeToString(s.Entity.PrimaryKey.Fingerprint)
}

// SpacedFingerprint returns the fingerprint in the upper-case, space
// grouped form release pages print.
func (s *Signer) SpacedFingerprint() string {
	fp := strings.ToUpper(s.Fingerprint())
	var groups []string
	for i := 0; i < len(fp); i += 4 {
		end := i + 4
		if end > len(fp) {
			end = len(fp)
		}
		groups = append(groups, fp[i:end])
	}
	return strings.Join(groups, " ")
}

// PublicKey returns the binary serialized public key.
func (s *Signer) PublicKey(t testing.TB) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := s.Entity.Serialize(&buf); err != nil {
		t.Fatalf("serialize public key: %v", err)
	}
	return buf.Bytes()
}

// ArmoredPublicKey returns the ASCII-armored public key.
func (s *Signer) ArmoredPublicKey(t testing.TB) []byte {
	t.Helper()
	return Armor(t, openpgp.PublicKeyType, s.PublicKey(t))
}

// Sign returns a binary detached signature packet over data.
func (s *Signer) Sign(t testing.TB, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := openpgp.DetachSign(&buf, s.Entity, bytes.NewReader(data), nil); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return buf.Bytes()
}

// Armor wraps raw OpenPGP packets in one armor block.
func Armor(t testing.TB, blockType string, raw []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	w, err := armor.Encode(&buf, blockType, nil)
	if err != nil {
		t.Fatalf("armor encode: %v", err)
	}
	if _, err := w.Write(raw); err != nil {
		t.Fatalf("armor write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("armor close: %v", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

// ArmoredSignatures concatenates signature packets into a single armor
// block, as Electrum's .asc files do.
func ArmoredSignatures(t testing.TB, sigs ...[]byte) []byte {
	t.Helper()
	return Armor(t, openpgp.SignatureType, bytes.Join(sigs, nil))
}

// ArmoredSignatureBlocks emits one armor block per signature, as Bitcoin
// Core's SHA256SUMS.asc does.
func ArmoredSignatureBlocks(t testing.TB, sigs ...[]byte) []byte {
	t.Helper()

	var out []byte
	for _, sig := range sigs {
		out = append(out, Armor(t, openpgp.SignatureType, sig)...)
	}
	return out
}
