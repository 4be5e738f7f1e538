package binary

import (
	"fmt"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
)

// Status is the packaging state of a dependency as seen on disk, without
// touching the network.
type Status int

const (
	// StatusSynced means the output matches a receipt for the requested
	// version and platform.
	StatusSynced Status = iota

	// StatusMissing means nothing has been packaged yet.
	StatusMissing

	// StatusStale means the receipt describes another version, platform
	// or artifact URL.
	StatusStale

	// StatusDrifted means the output no longer matches its receipt.
	StatusDrifted
)

func (s Status) String() string {
	switch s {
	case StatusSynced:
		return "synced"
	case StatusMissing:
		return "missing"
	case StatusStale:
		return "stale"
	case StatusDrifted:
		return "drifted"
	default:
		return "unknown"
	}
}

// Symbol returns the marker printed next to a dependency.
func (s Status) Symbol() string {
	switch s {
	case StatusSynced:
		return "✓"
	case StatusMissing:
		return "✗"
	case StatusStale:
		return "~"
	case StatusDrifted:
		return "!"
	default:
		return "?"
	}
}

// DependencyStatus pairs a dependency with its packaging status.
type DependencyStatus struct {
	Name      string
	Version   string
	OutputDir string
	Status    Status
	Receipt   *Receipt // nil when missing or unreadable

	// Upgrade is set when a stale receipt records an older version
	Upgrade bool
}

// Status reports whether name at version is packaged for the pipeline's
// platform. An empty version selects the catalog default.
func (p *Pipeline) Status(name, version string) (*DependencyStatus, error) {
	spec, err := p.catalog.Spec(name, version)
	if err != nil {
		return nil, err
	}
	url, err := spec.ArtifactURL(p.platform)
	if err != nil {
		return nil, err
	}

	ds := &DependencyStatus{
		Name:      name,
		Version:   spec.Version,
		OutputDir: filepath.Join(p.resourceDir, name),
		Status:    StatusMissing,
	}

	receipt, err := LoadReceipt(filepath.Join(p.workDir, name, ReceiptFileName))
	if err != nil {
		p.logger.Warn("ignoring unreadable receipt", "dependency", name, "error", err)
		return ds, nil
	}
	if receipt == nil {
		return ds, nil
	}
	ds.Receipt = receipt

	switch {
	case !receipt.Describes(name, spec.Version, p.platform.String(), url, receipt.SHA256):
		ds.Status = StatusStale
		ds.Upgrade = newerThan(spec.Version, receipt.Version)
	case !receipt.Intact(ds.OutputDir):
		ds.Status = StatusDrifted
	default:
		ds.Status = StatusSynced
	}
	return ds, nil
}

// StatusAll reports the status of every request in order.
func (p *Pipeline) StatusAll(reqs []Request) ([]*DependencyStatus, error) {
	out := make([]*DependencyStatus, 0, len(reqs))
	for _, req := range reqs {
		ds, err := p.Status(req.Name, req.Version)
		if err != nil {
			return nil, fmt.Errorf("status %s: %w", req, err)
		}
		out = append(out, ds)
	}
	return out, nil
}

// newerThan reports whether version a sorts after b. Versions that are not
// semantic versions ("27.1" and "0.18.3-beta" are) compare as strings.
func newerThan(a, b string) bool {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA != nil || errB != nil {
		return a > b
	}
	return va.GreaterThan(vb)
}
