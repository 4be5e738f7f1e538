package binary

import (
	"testing"

	"github.com/bisqtools/binpack/internal/fault"
	"github.com/bisqtools/binpack/internal/platform"
)

var testSuffixes = map[platform.Platform]string{
	platform.LinuxX8664: "linux-x86_64.tar.gz",
	platform.LinuxARM64: "linux-aarch64.tar.gz",
	platform.MacOSX8664: "macos-x86_64.tar.gz",
	platform.WinX8664:   "windows-x86_64.zip",
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		name     string
		platform platform.Platform
		want     string
	}{
		{"linux_x86_64", platform.LinuxX8664, "https://example.org/v1/app-linux-x86_64.tar.gz"},
		{"linux_arm64_native", platform.LinuxARM64, "https://example.org/v1/app-linux-aarch64.tar.gz"},
		{"macos_x86_64", platform.MacOSX8664, "https://example.org/v1/app-macos-x86_64.tar.gz"},
		{"macos_arm64_falls_back", platform.MacOSARM64, "https://example.org/v1/app-macos-x86_64.tar.gz"},
		{"win_arm64_falls_back", platform.WinARM64, "https://example.org/v1/app-windows-x86_64.zip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveURL("https://example.org/v1/app-", tt.platform, testSuffixes)
			if err != nil {
				t.Fatalf("ResolveURL() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolveURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveURLIsPure(t *testing.T) {
	first, err := ResolveURL("p-", platform.MacOSARM64, testSuffixes)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, _ := ResolveURL("p-", platform.MacOSARM64, testSuffixes)
		if again != first {
			t.Fatalf("call %d returned %q, want %q", i, again, first)
		}
	}
}

func TestResolveURLUnsupported(t *testing.T) {
	suffixes := map[platform.Platform]string{platform.LinuxX8664: "linux.tar.gz"}

	tests := []platform.Platform{platform.WinX8664, platform.WinARM64, platform.MacOSARM64}
	for _, p := range tests {
		t.Run(p.String(), func(t *testing.T) {
			_, err := ResolveURL("p-", p, suffixes)
			if !fault.Is(err, fault.UnsupportedPlatform) {
				t.Errorf("expected UnsupportedPlatform, got %v", err)
			}
		})
	}

	// x86_64 never borrows from arm64
	arm := map[platform.Platform]string{platform.LinuxARM64: "arm.tar.gz"}
	if _, err := ResolveURL("p-", platform.LinuxX8664, arm); err == nil {
		t.Error("x86_64 must not fall back to an arm64 build")
	}
}

func TestSpecFallbackUsed(t *testing.T) {
	spec := &Spec{URLPrefix: "p-", Suffixes: testSuffixes}

	if spec.FallbackUsed(platform.LinuxARM64) {
		t.Error("linux_arm64 has a native build")
	}
	if !spec.FallbackUsed(platform.MacOSARM64) {
		t.Error("macos_arm64 should use the x86_64 fallback")
	}
	if spec.FallbackUsed(platform.LinuxX8664) {
		t.Error("x86_64 never uses the fallback")
	}
}

func TestSpecFormat(t *testing.T) {
	spec := &Spec{URLPrefix: "p-", Suffixes: testSuffixes}

	if f, _ := spec.Format(platform.LinuxX8664); f != FormatTarGz {
		t.Errorf("linux format = %s, want tar.gz", f)
	}
	if f, _ := spec.Format(platform.WinX8664); f != FormatZip {
		t.Errorf("windows format = %s, want zip", f)
	}

	spec.ArchiveFormat = FormatRaw
	if f, _ := spec.Format(platform.LinuxX8664); f != FormatRaw {
		t.Errorf("override format = %s, want raw", f)
	}
}

func TestFormatFromName(t *testing.T) {
	tests := []struct {
		name string
		want Format
	}{
		{"bitcoin-27.1-x86_64-linux-gnu.tar.gz", FormatTarGz},
		{"thing.TGZ", FormatTarGz},
		{"bitcoin-27.1-win64.zip", FormatZip},
		{"electrum-4.5.8.dmg", FormatDMG},
		{"https://download.electrum.org/4.5.8/electrum-4.5.8.exe", FormatRaw},
		{"electrum-4.5.8-x86_64.AppImage", FormatRaw},
	}
	for _, tt := range tests {
		if got := FormatFromName(tt.name); got != tt.want {
			t.Errorf("FormatFromName(%q) = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestSpecSignatureURLFor(t *testing.T) {
	withManifest := &Spec{ManifestURL: "https://h/SHA256SUMS", SignatureURL: "https://h/SHA256SUMS.asc"}
	if got := withManifest.SignatureURLFor("https://h/a.tar.gz"); got != "https://h/SHA256SUMS.asc" {
		t.Errorf("got %q", got)
	}

	artifactSigned := &Spec{}
	if got := artifactSigned.SignatureURLFor("https://h/a.dmg"); got != "https://h/a.dmg.asc" {
		t.Errorf("got %q", got)
	}
}

func TestSpecBinariesFor(t *testing.T) {
	spec := &Spec{
		Name:      "app",
		URLPrefix: "https://h/app-1.0",
		Suffixes:  map[platform.Platform]string{platform.LinuxX8664: "-x86_64.AppImage"},
		Binaries:  map[string][]string{platform.OSLinux: {"{artifact}"}},
	}

	got, err := spec.BinariesFor(platform.LinuxX8664)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "app-1.0-x86_64.AppImage" {
		t.Errorf("BinariesFor() = %v", got)
	}

	spec.Suffixes[platform.MacOSX8664] = ".dmg"
	if _, err := spec.BinariesFor(platform.MacOSX8664); !fault.Is(err, fault.Config) {
		t.Errorf("expected Config error for missing binaries, got %v", err)
	}
}
