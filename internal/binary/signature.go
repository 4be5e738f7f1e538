package binary

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	pgperrors "github.com/ProtonMail/go-crypto/openpgp/errors"
	"github.com/ProtonMail/go-crypto/openpgp/packet"

	"github.com/bisqtools/binpack/internal/fault"
)

const armoredSignatureHeader = "-----BEGIN PGP SIGNATURE-----"

// Keyring is a set of public keys whose fingerprints all passed the
// allow-list check.
type Keyring struct {
	entities openpgp.EntityList
}

// Len returns the number of accepted keys.
func (k *Keyring) Len() int {
	return len(k.entities)
}

// Fingerprints returns the accepted primary key fingerprints.
func (k *Keyring) Fingerprints() []string {
	out := make([]string, 0, len(k.entities))
	for _, e := range k.entities {
		out = append(out, fingerprintOf(e.PrimaryKey))
	}
	return out
}

func fingerprintOf(pk *packet.PublicKey) string {
	return hex.EncodeToString(pk.Fingerprint)
}

func signatureError(op, subject string, format string, args ...interface{}) error {
	return fault.Errorf(fault.Signature, op, subject, format, args...)
}

// LoadKeyring reads every trusted key source and returns the accepted
// keys. Any key in a source whose computed fingerprint is not on the
// allow-list is fatal: a source must never smuggle in extra keys.
//
// Sources that are URLs are fetched into cacheDir (named after the
// fingerprint) and reused on later runs.
func (v *Verifier) LoadKeyring(ctx context.Context, keys []TrustedKey, cacheDir string) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, signatureError("load keyring", "", "no trusted keys configured")
	}

	allowed := make(map[string]bool, len(keys))
	for _, k := range keys {
		allowed[NormalizeFingerprint(k.Fingerprint)] = true
	}

	kr := &Keyring{}
	seen := make(map[string]bool)
	for _, k := range keys {
		data, err := v.readKeySource(ctx, k, cacheDir)
		if err != nil {
			return nil, err
		}

		entities, err := parseKeyring(data)
		if err != nil {
			return nil, signatureError("parse key", k.Source, "%v", err)
		}
		if len(entities) == 0 {
			return nil, signatureError("parse key", k.Source, "no public keys found")
		}

		for _, e := range entities {
			fp := fingerprintOf(e.PrimaryKey)
			if !allowed[fp] {
				return nil, signatureError("check key", k.Source,
					"key %s is not in the trusted fingerprint list", fp)
			}
			if seen[fp] {
				continue
			}
			seen[fp] = true
			kr.entities = append(kr.entities, e)
		}
	}

	return kr, nil
}

// readKeySource returns the raw key bytes for a trusted key
func (v *Verifier) readKeySource(ctx context.Context, k TrustedKey, cacheDir string) ([]byte, error) {
	src := k.Source
	if strings.HasPrefix(src, "https://") || strings.HasPrefix(src, "http://") {
		if v.downloader == nil {
			return nil, signatureError("fetch key", src, "no downloader available for remote key")
		}
		if cacheDir == "" {
			return nil, signatureError("fetch key", src, "no key cache directory")
		}
		name := NormalizeFingerprint(k.Fingerprint)
		if name == "" {
			name = filepath.Base(src)
		}
		res, err := v.downloader.Download(ctx, src, filepath.Join(cacheDir, name+".key"))
		if err != nil {
			return nil, err
		}
		src = res.Path
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return nil, signatureError("read key", src, "%v", err)
	}
	return data, nil
}

// parseKeyring reads an armored or binary public keyring
func parseKeyring(data []byte) (openpgp.EntityList, error) {
	entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	if err != nil {
		// Try reading as non-armored keyring
		entities, err = openpgp.ReadKeyRing(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("read keyring: %w", err)
		}
	}
	return entities, nil
}

// VerifySignature checks a detached signature over filePath using keys
// from the allow-list. Every signature packet in the file must verify.
func (v *Verifier) VerifySignature(ctx context.Context, filePath, sigPath string, keys []TrustedKey, cacheDir string) (*VerificationResult, error) {
	result := &VerificationResult{Artifact: filePath, Method: VerificationGPG}

	kr, err := v.LoadKeyring(ctx, keys, cacheDir)
	if err != nil {
		result.Error = err
		return result, err
	}

	signers, err := kr.Verify(filePath, sigPath)
	if err != nil {
		result.Error = err
		return result, err
	}

	result.Success = true
	result.Signers = signers
	result.Detail = fmt.Sprintf("%d signature(s) valid", len(signers))
	v.logger.Debug("signature verified", "file", filepath.Base(filePath), "signers", strings.Join(signers, ","))
	return result, nil
}

// Verify checks every signature packet in sigPath against filePath and
// returns the signer fingerprints in packet order.
func (k *Keyring) Verify(filePath, sigPath string) ([]string, error) {
	name := filepath.Base(filePath)

	sigData, err := os.ReadFile(sigPath)
	if err != nil {
		return nil, signatureError("read signature", sigPath, "%v", err)
	}

	sigs, err := readSignatures(sigData)
	if err != nil {
		return nil, signatureError("parse signature", filepath.Base(sigPath), "%v", err)
	}
	if len(sigs) == 0 {
		return nil, signatureError("parse signature", filepath.Base(sigPath), "no signature packets found")
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, signatureError("open file", filePath, "%v", err)
	}
	defer file.Close()

	signers := make([]string, 0, len(sigs))
	for i, sig := range sigs {
		signer, err := k.verifyOne(file, sig)
		if err != nil {
			return nil, signatureError("verify signature", name, "signature %d of %d: %v", i+1, len(sigs), err)
		}
		signers = append(signers, signer)
	}

	return signers, nil
}

// verifyOne checks a single signature packet over the file
func (k *Keyring) verifyOne(file io.ReadSeeker, sig *packet.Signature) (string, error) {
	issuer, ok := k.issuerOf(sig)
	if !ok {
		return "", errors.New(describeIssuer(sig) + " is not a trusted key")
	}

	var raw bytes.Buffer
	if err := sig.Serialize(&raw); err != nil {
		return "", fmt.Errorf("re-encode signature: %w", err)
	}

	check := func(config *packet.Config) (*openpgp.Entity, error) {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		return openpgp.CheckDetachedSignature(openpgp.EntityList{issuer}, file, bytes.NewReader(raw.Bytes()), config)
	}

	signer, err := check(nil)
	if errors.Is(err, pgperrors.ErrKeyExpired) {
		// Release keys expire and get extended long after the signatures
		// they made; judge validity at signing time instead.
		created := sig.CreationTime
		signer, err = check(&packet.Config{Time: func() time.Time { return created }})
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", describeIssuer(sig), err)
	}
	return fingerprintOf(signer.PrimaryKey), nil
}

// issuerOf finds the accepted entity that made sig. Lookup uses the key ID
// (or fingerprint) carried by the signature, never the key file's name.
func (k *Keyring) issuerOf(sig *packet.Signature) (*openpgp.Entity, bool) {
	if sig.IssuerKeyId != nil {
		if keys := k.entities.KeysById(*sig.IssuerKeyId); len(keys) > 0 {
			return keys[0].Entity, true
		}
	}
	if len(sig.IssuerFingerprint) > 0 {
		want := hex.EncodeToString(sig.IssuerFingerprint)
		for _, e := range k.entities {
			if fingerprintOf(e.PrimaryKey) == want {
				return e, true
			}
			for _, sub := range e.Subkeys {
				if fingerprintOf(sub.PublicKey) == want {
					return e, true
				}
			}
		}
	}
	return nil, false
}

func describeIssuer(sig *packet.Signature) string {
	switch {
	case len(sig.IssuerFingerprint) > 0:
		return "issuer " + hex.EncodeToString(sig.IssuerFingerprint)
	case sig.IssuerKeyId != nil:
		return fmt.Sprintf("issuer key id %016x", *sig.IssuerKeyId)
	default:
		return "signature without issuer"
	}
}

// readSignatures collects every signature packet in a detached signature
// file. Armored files may hold several concatenated armor blocks, one per
// signer, as Bitcoin Core's SHA256SUMS.asc does.
func readSignatures(data []byte) ([]*packet.Signature, error) {
	if !bytes.Contains(data, []byte(armoredSignatureHeader)) {
		return readSignaturePackets(bytes.NewReader(data))
	}

	var sigs []*packet.Signature
	for _, block := range splitArmorBlocks(data) {
		decoded, err := armor.Decode(bytes.NewReader(block))
		if err != nil {
			return nil, fmt.Errorf("decode armor: %w", err)
		}
		if decoded.Type != openpgp.SignatureType {
			return nil, fmt.Errorf("unexpected armor type %q", decoded.Type)
		}
		blockSigs, err := readSignaturePackets(decoded.Body)
		if err != nil {
			return nil, err
		}
		sigs = append(sigs, blockSigs...)
	}
	return sigs, nil
}

// splitArmorBlocks returns each armored signature block in data
func splitArmorBlocks(data []byte) [][]byte {
	header := []byte(armoredSignatureHeader)
	var blocks [][]byte
	for {
		start := bytes.Index(data, header)
		if start < 0 {
			return blocks
		}
		data = data[start:]
		next := bytes.Index(data[len(header):], header)
		if next < 0 {
			return append(blocks, data)
		}
		end := len(header) + next
		blocks = append(blocks, data[:end])
		data = data[end:]
	}
}

func readSignaturePackets(r io.Reader) ([]*packet.Signature, error) {
	var sigs []*packet.Signature
	packets := packet.NewReader(r)
	for {
		p, err := packets.Next()
		if err == io.EOF {
			return sigs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read packet: %w", err)
		}
		sig, ok := p.(*packet.Signature)
		if !ok {
			return nil, fmt.Errorf("unexpected %T in detached signature", p)
		}
		sigs = append(sigs, sig)
	}
}
