// Package binary provides functionality for downloading, verifying, and
// packaging the third-party binaries an application ships with: Bitcoin
// Core, Electrum, Tor, and any dependency described in the configuration.
//
// # Security Model
//
// Nothing is extracted or packaged unless it was verified first. For each
// dependency:
//   - The artifact URL is derived from the version and target platform only
//   - The SHA256 digest is checked against the upstream manifest, when one exists
//   - Every signature on the manifest (or on the artifact itself) must come
//     from a key whose fingerprint is on the dependency's allow-list
//
// A key source that yields any key outside the allow-list is rejected, so a
// compromised key file cannot smuggle in an extra signer.
//
// # Pipeline
//
// Each dependency moves through
//
//	NotStarted → Downloaded → HashVerified → SignatureVerified → Extracted → Packaged → Done
//
// and any failure moves it to Failed. Download, extraction and packaging are
// skipped when their outputs are already on disk; verification always runs.
//
// # Usage
//
//	pl, err := binary.NewPipeline(binary.Config{
//	    WorkDir:     "/tmp/binpack/work",
//	    ResourceDir: "desktop/src/main/resources/bin",
//	    Platform:    platform.LinuxX8664,
//	})
//	if err != nil {
//	    return err
//	}
//
//	report, err := pl.RunAll(ctx, []binary.Request{
//	    {Name: binary.BitcoinCore, Version: "27.1"},
//	    {Name: binary.Tor},
//	})
//
// # Architecture
//
// The package is organized into several components:
//   - Catalog: per-dependency URL, manifest and signer tables
//   - Downloader: HTTP download with retry logic and caching
//   - Verifier: SHA256 manifests and OpenPGP signatures
//   - Extractor: tar.gz, zip, dmg and raw artifacts
//   - Pipeline: the state machine tying the steps together
package binary
