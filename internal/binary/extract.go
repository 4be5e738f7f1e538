package binary

import (
	"archive/tar"
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/bisqtools/binpack/internal/fault"
	"github.com/bisqtools/binpack/internal/logging"
)

const (
	// DefaultMountTimeout bounds each hdiutil attach and detach
	DefaultMountTimeout = 25 * time.Second
	// maxEntrySize caps a single archive entry (decompression bomb guard)
	maxEntrySize = 2 << 30
	// ExtractMarkerSuffix names the file next to an extracted tree that
	// records the SHA-256 of the archive it came from
	ExtractMarkerSuffix = ".sha256"
)

// Extractor handles archive extraction
type Extractor struct {
	runner       CommandRunner
	mountTimeout time.Duration
	logger       logging.Logger
}

// ExtractorOptions configures an Extractor. The zero value is usable.
type ExtractorOptions struct {
	Runner       CommandRunner // runs hdiutil; defaults to os/exec
	MountTimeout time.Duration
	Logger       logging.Logger
}

// NewExtractor creates a new extractor
func NewExtractor(opts ExtractorOptions) *Extractor {
	e := &Extractor{
		runner:       opts.Runner,
		mountTimeout: opts.MountTimeout,
		logger:       opts.Logger,
	}
	if e.runner == nil {
		e.runner = ExecRunner{}
	}
	if e.mountTimeout <= 0 {
		e.mountTimeout = DefaultMountTimeout
	}
	if e.logger == nil {
		e.logger = logging.Nop()
	}
	return e
}

func extractionError(op, subject string, err error) error {
	return fault.New(fault.Extraction, op, subject, err)
}

// Extract unpacks req.ArchivePath into req.DestDir. The step is skipped
// when DestDir was extracted from an archive with the same SHA-256 and
// every path in req.Expect exists under it. Otherwise the archive is
// unpacked into a sibling staging directory that replaces DestDir only
// once extraction succeeded.
func (e *Extractor) Extract(ctx context.Context, req ExtractRequest) (*ExtractionOutput, error) {
	out := &ExtractionOutput{ArchivePath: req.ArchivePath, OutputDir: req.DestDir}

	digest := NormalizeDigest(req.ArchiveSHA256)
	if digest == "" {
		sum, err := FileSHA256(req.ArchivePath)
		if err != nil {
			return nil, extractionError("hash archive", filepath.Base(req.ArchivePath), err)
		}
		digest = sum
	}
	marker := req.DestDir + ExtractMarkerSuffix

	if len(req.Expect) > 0 && extractedFrom(marker) == digest && allExist(req.DestDir, req.Expect) {
		e.logger.Debug("extraction cached", "dir", req.DestDir)
		out.Skipped = true
		return out, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	parent := filepath.Dir(req.DestDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, extractionError("create dest dir", parent, err)
	}

	staging, err := os.MkdirTemp(parent, "."+filepath.Base(req.DestDir)+".partial-*")
	if err != nil {
		return nil, extractionError("create staging dir", parent, err)
	}
	// Track whether we need to clean up the staging directory
	cleanupNeeded := true
	defer func() {
		if cleanupNeeded {
			os.RemoveAll(staging)
		}
	}()

	switch req.Format {
	case FormatTarGz:
		err = extractTarGz(req.ArchivePath, staging)
	case FormatZip:
		err = extractZip(req.ArchivePath, staging)
	case FormatDMG:
		err = e.extractDMG(ctx, req.ArchivePath, staging, req.Bundle)
	case FormatRaw:
		err = copyRaw(req.ArchivePath, staging)
	default:
		err = extractionError("extract", req.ArchivePath, fmt.Errorf("unsupported format %q", req.Format))
	}
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, p := range req.Expect {
		if !pathExists(filepath.Join(staging, filepath.FromSlash(p))) {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return nil, extractionError("check contents", filepath.Base(req.ArchivePath),
			fmt.Errorf("archive lacks %s", strings.Join(missing, ", ")))
	}

	// The marker goes first so an interrupted swap never pairs a new tree
	// with an old digest
	if err := os.Remove(marker); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, extractionError("remove marker", marker, err)
	}
	if err := os.RemoveAll(req.DestDir); err != nil {
		return nil, extractionError("replace dest dir", req.DestDir, err)
	}
	if err := os.Rename(staging, req.DestDir); err != nil {
		return nil, extractionError("rename staging dir", req.DestDir, err)
	}
	cleanupNeeded = false

	if err := os.WriteFile(marker, []byte(digest+"\n"), 0o644); err != nil {
		return nil, extractionError("write marker", marker, err)
	}

	e.logger.Info("extracted", "archive", filepath.Base(req.ArchivePath), "format", string(req.Format), "dir", req.DestDir)
	return out, nil
}

// safeJoin resolves an archive entry name under root and rejects names
// that would land outside it.
func safeJoin(root, name string) (string, error) {
	clean := filepath.FromSlash(strings.ReplaceAll(name, "\\", "/"))
	if filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" {
		return "", fmt.Errorf("illegal file path: %s", name)
	}

	target := filepath.Join(root, clean)
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("illegal file path: %s", name)
	}
	return target, nil
}

// checkLinkTarget rejects a symlink whose target resolves outside root
func checkLinkTarget(root, linkPath, target string) error {
	if target == "" || filepath.IsAbs(target) || strings.HasPrefix(target, "/") {
		return fmt.Errorf("illegal symlink target: %s", target)
	}
	resolved := filepath.Join(filepath.Dir(linkPath), filepath.FromSlash(target))
	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return fmt.Errorf("illegal symlink target: %s", target)
	}
	return nil
}

type pendingLink struct {
	path   string
	target string
	hard   bool
}

// createLinks runs after all regular entries are written so no file is
// ever written through a link created by the same archive.
func createLinks(links []pendingLink) error {
	for _, l := range links {
		if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
			return err
		}
		os.Remove(l.path)
		var err error
		if l.hard {
			err = os.Link(l.target, l.path)
		} else {
			err = os.Symlink(l.target, l.path)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// extractTarGz extracts a .tar.gz archive to a destination directory
func extractTarGz(archivePath, destDir string) error {
	name := filepath.Base(archivePath)

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return extractionError("open archive", name, err)
	}
	defer archiveFile.Close()

	gzipReader, err := gzip.NewReader(archiveFile)
	if err != nil {
		return extractionError("create gzip reader", name, err)
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)
	var links []pendingLink

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break // End of archive
		}
		if err != nil {
			return extractionError("read tar header", name, err)
		}

		target, err := safeJoin(destDir, header.Name)
		if err != nil {
			return extractionError("extract", name, err)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return extractionError("create directory", header.Name, err)
			}

		case tar.TypeReg:
			if err := writeFile(target, tarReader, os.FileMode(header.Mode).Perm()); err != nil {
				return extractionError("write file", header.Name, err)
			}

		case tar.TypeSymlink:
			if err := checkLinkTarget(destDir, target, header.Linkname); err != nil {
				return extractionError("extract", name, err)
			}
			links = append(links, pendingLink{path: target, target: header.Linkname})

		case tar.TypeLink:
			// Hard link names are relative to the archive root
			linkTarget, err := safeJoin(destDir, header.Linkname)
			if err != nil {
				return extractionError("extract", name, err)
			}
			links = append(links, pendingLink{path: target, target: linkTarget, hard: true})

		default:
			// Skip other types (char devices, block devices, etc.)
			continue
		}
	}

	if err := createLinks(links); err != nil {
		return extractionError("create link", name, err)
	}
	return nil
}

// extractZip extracts a .zip archive to a destination directory
func extractZip(archivePath, destDir string) error {
	name := filepath.Base(archivePath)

	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return extractionError("open archive", name, err)
	}
	defer zr.Close()

	var links []pendingLink
	for _, f := range zr.File {
		target, err := safeJoin(destDir, f.Name)
		if err != nil {
			return extractionError("extract", name, err)
		}

		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return extractionError("create directory", f.Name, err)
			}

		case mode&os.ModeSymlink != 0:
			linkTarget, err := readZipEntry(f, 4096)
			if err != nil {
				return extractionError("read symlink", f.Name, err)
			}
			if err := checkLinkTarget(destDir, target, linkTarget); err != nil {
				return extractionError("extract", name, err)
			}
			links = append(links, pendingLink{path: target, target: linkTarget})

		case mode.IsRegular():
			rc, err := f.Open()
			if err != nil {
				return extractionError("open entry", f.Name, err)
			}
			err = writeFile(target, rc, mode.Perm())
			rc.Close()
			if err != nil {
				return extractionError("write file", f.Name, err)
			}
		}
	}

	if err := createLinks(links); err != nil {
		return extractionError("create link", name, err)
	}
	return nil
}

func readZipEntry(f *zip.File, limit int64) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, limit))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// writeFile streams r into path, creating parent directories
func writeFile(path string, r io.Reader, perm os.FileMode) error {
	if perm == 0 {
		perm = 0o644
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}

	// Replace rather than truncate so an existing link is never followed
	os.Remove(path)
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, perm)
	if err != nil {
		return err
	}

	n, err := io.Copy(out, io.LimitReader(r, maxEntrySize+1))
	if err != nil {
		out.Close()
		return err
	}
	if n > maxEntrySize {
		out.Close()
		return errors.New("entry exceeds size limit")
	}
	return out.Close()
}

// copyRaw places a directly executable artifact into destDir
func copyRaw(artifactPath, destDir string) error {
	name := filepath.Base(artifactPath)
	in, err := os.Open(artifactPath)
	if err != nil {
		return extractionError("open artifact", name, err)
	}
	defer in.Close()

	if err := writeFile(filepath.Join(destDir, name), in, 0o755); err != nil {
		return extractionError("copy artifact", name, err)
	}
	return nil
}

// extractedFrom returns the archive digest recorded in marker, or "" when
// there is none.
func extractedFrom(marker string) string {
	data, err := os.ReadFile(marker)
	if err != nil {
		return ""
	}
	return NormalizeDigest(string(data))
}

func allExist(root string, rel []string) bool {
	for _, p := range rel {
		if !pathExists(filepath.Join(root, filepath.FromSlash(p))) {
			return false
		}
	}
	return true
}

func pathExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
