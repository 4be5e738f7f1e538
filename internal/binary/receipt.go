package binary

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// ReceiptFileName is written next to a dependency's downloads
const ReceiptFileName = "receipt.yaml"

// Receipt records what was packaged into a resource directory.
type Receipt struct {
	Name     string        `yaml:"name"`
	Version  string        `yaml:"version"`
	Platform string        `yaml:"platform"`
	URL      string        `yaml:"url"`
	SHA256   string        `yaml:"sha256"`
	Signers  []string      `yaml:"signers,omitempty"`
	RunID    string        `yaml:"run_id,omitempty"`
	Files    []ReceiptFile `yaml:"files"`
}

// ReceiptFile is one packaged file, relative to the resource directory.
type ReceiptFile struct {
	Path   string `yaml:"path"`
	SHA256 string `yaml:"sha256,omitempty"`
	Mode   uint32 `yaml:"mode"`
}

// LoadReceipt reads a receipt. A missing file returns (nil, nil).
func LoadReceipt(path string) (*Receipt, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read receipt: %w", err)
	}

	var r Receipt
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse receipt %s: %w", path, err)
	}
	return &r, nil
}

// Save writes the receipt atomically.
func (r *Receipt) Save(path string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode receipt: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create receipt dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write receipt: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename receipt: %w", err)
	}
	return nil
}

// Describes reports whether r was produced for the same artifact.
func (r *Receipt) Describes(name, version, plat, url, sha string) bool {
	return r != nil &&
		r.Name == name &&
		r.Version == version &&
		r.Platform == plat &&
		r.URL == url &&
		r.SHA256 == sha
}

// Intact reports whether every recorded file under dir still has its
// recorded digest and mode, and nothing else is there.
func (r *Receipt) Intact(dir string) bool {
	current, err := scanTree(dir)
	if err != nil || len(current) != len(r.Files) {
		return false
	}
	for i := range current {
		if current[i] != r.Files[i] {
			return false
		}
	}
	return true
}

// scanTree lists every regular file and symlink under dir in lexical
// order. Symlinks record their target in place of a digest.
func scanTree(dir string) ([]ReceiptFile, error) {
	var files []ReceiptFile
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		f := ReceiptFile{Path: filepath.ToSlash(rel), Mode: uint32(info.Mode())}

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			f.SHA256 = "link:" + target
		case info.Mode().IsRegular():
			sum, err := FileSHA256(path)
			if err != nil {
				return err
			}
			f.SHA256 = sum
		default:
			return nil
		}
		files = append(files, f)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}
