package binary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// CommandRunner runs an external command and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements CommandRunner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// extractDMG mounts a disk image, copies bundle out of it and detaches.
// Detach is attempted on every exit path; a failed detach fails the step.
func (e *Extractor) extractDMG(ctx context.Context, dmgPath, destDir, bundle string) (err error) {
	name := filepath.Base(dmgPath)
	if bundle == "" {
		return extractionError("extract dmg", name, errors.New("no app bundle named"))
	}
	if err := checkBundleName(bundle); err != nil {
		return extractionError("extract dmg", name, err)
	}

	mountPoint, err := os.MkdirTemp("", "binpack-dmg-*")
	if err != nil {
		return extractionError("create mount point", name, err)
	}
	defer os.Remove(mountPoint)

	if err := e.hdiutil(ctx, "attach", dmgPath, "-nobrowse", "-readonly", "-noautoopen", "-mountpoint", mountPoint); err != nil {
		if errors.Is(err, errHdiutilTimeout) {
			// The image may still finish mounting after we stop waiting
			if detachErr := e.hdiutil(context.WithoutCancel(ctx), "detach", mountPoint, "-force"); detachErr != nil {
				e.logger.Debug("detach after attach timeout", "mount", mountPoint, "error", detachErr)
			}
		}
		return extractionError("attach", name, err)
	}
	e.logger.Debug("dmg attached", "image", name, "mount", mountPoint)

	defer func() {
		// A cancelled parent must not prevent the detach
		detachErr := e.hdiutil(context.WithoutCancel(ctx), "detach", mountPoint, "-force")
		if detachErr != nil && err == nil {
			err = extractionError("detach", name, detachErr)
		}
	}()

	src := filepath.Join(mountPoint, bundle)
	if _, statErr := os.Stat(src); statErr != nil {
		return extractionError("copy bundle", name, fmt.Errorf("%s not found in image", bundle))
	}
	if err := copyTree(src, filepath.Join(destDir, bundle)); err != nil {
		return extractionError("copy bundle", name, err)
	}
	return nil
}

var errHdiutilTimeout = errors.New("timed out")

// hdiutil runs one hdiutil subcommand under the mount timeout
func (e *Extractor) hdiutil(ctx context.Context, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, e.mountTimeout)
	defer cancel()

	out, err := e.runner.Run(ctx, "hdiutil", args...)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("hdiutil %s %w after %s", args[0], errHdiutilTimeout, e.mountTimeout)
	}
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			return fmt.Errorf("hdiutil %s: %w: %s", args[0], err, msg)
		}
		return fmt.Errorf("hdiutil %s: %w", args[0], err)
	}
	return nil
}

func checkBundleName(bundle string) error {
	if filepath.IsAbs(bundle) || strings.Contains(filepath.ToSlash(bundle), "..") {
		return fmt.Errorf("illegal bundle name: %s", bundle)
	}
	return nil
}

// copyTree copies a file or directory, preserving modes and symlinks.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			return os.Symlink(link, target)

		case info.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)

		case info.Mode().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		}
		return nil
	})
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
