package binary

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bisqtools/binpack/internal/fault"
	"github.com/bisqtools/binpack/internal/lockfile"
	"github.com/bisqtools/binpack/internal/logging"
	"github.com/bisqtools/binpack/internal/platform"
)

// State is a packaging pipeline state.
type State int

const (
	StateNotStarted State = iota
	StateDownloaded
	StateHashVerified
	StateSignatureVerified
	StateExtracted
	StatePackaged
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateDownloaded:
		return "downloaded"
	case StateHashVerified:
		return "hash-verified"
	case StateSignatureVerified:
		return "signature-verified"
	case StateExtracted:
		return "extracted"
	case StatePackaged:
		return "packaged"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StepError is returned when a pipeline step fails. Step is the state the
// pipeline was trying to reach.
type StepError struct {
	Dependency string
	Step       State
	Err        error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Dependency, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Transition records one step of a run.
type Transition struct {
	To       State
	Skipped  bool
	Duration time.Duration
}

// Result is the outcome of one dependency's pipeline.
type Result struct {
	Name         string
	Version      string
	Platform     platform.Platform
	URL          string
	FallbackUsed bool

	State       State
	FailedStep  State // meaningful only when State is StateFailed
	Transitions []Transition

	ArchivePath   string
	ExtractedDir  string
	OutputDir     string
	Verifications []*VerificationResult
	Signers       []string
	Err           error

	// RunID correlates log lines and the receipt of one run
	RunID string
}

// Skipped reports whether the step reaching to was satisfied from disk.
func (r *Result) Skipped(to State) bool {
	for _, t := range r.Transitions {
		if t.To == to {
			return t.Skipped
		}
	}
	return false
}

// Request names a dependency and optional version.
type Request struct {
	Name    string
	Version string
}

// ParseRequest parses "name" or "name@version".
func ParseRequest(s string) (Request, error) {
	name, version, _ := strings.Cut(strings.TrimSpace(s), "@")
	if name == "" {
		return Request{}, fault.Errorf(fault.Config, "parse request", s, "missing dependency name")
	}
	return Request{Name: name, Version: version}, nil
}

func (r Request) String() string {
	if r.Version == "" {
		return r.Name
	}
	return r.Name + "@" + r.Version
}

// Config holds configuration for the packaging pipeline
type Config struct {
	// WorkDir holds <name>/{downloads,extracted,keys} per dependency
	WorkDir string
	// ResourceDir receives <name>/<binaries> per dependency
	ResourceDir string
	Platform    platform.Platform
	Catalog     *Catalog
	Downloader  *Downloader
	Extractor   *Extractor
	Logger      logging.Logger
	// Parallelism bounds RunAll; values below 1 mean one at a time
	Parallelism int
	// LockWait bounds how long a run waits for another run of the same
	// dependency. Zero selects DefaultLockWait; negative fails at once.
	LockWait time.Duration
}

// DefaultLockWait is how long a run waits on a busy dependency directory
const DefaultLockWait = 10 * time.Minute

// Pipeline orchestrates download, verification, extraction and packaging
type Pipeline struct {
	workDir     string
	resourceDir string
	platform    platform.Platform
	catalog     *Catalog
	downloader  *Downloader
	verifier    *Verifier
	extractor   *Extractor
	logger      logging.Logger
	parallelism int
	lockWait    time.Duration
}

// NewPipeline creates a new packaging pipeline
func NewPipeline(config Config) (*Pipeline, error) {
	if config.WorkDir == "" {
		return nil, fmt.Errorf("WorkDir is required")
	}
	if config.ResourceDir == "" {
		return nil, fmt.Errorf("ResourceDir is required")
	}
	if !config.Platform.Valid() {
		return nil, fault.Errorf(fault.UnsupportedPlatform, "new pipeline", config.Platform.String(), "unknown platform")
	}

	p := &Pipeline{
		workDir:     config.WorkDir,
		resourceDir: config.ResourceDir,
		platform:    config.Platform,
		catalog:     config.Catalog,
		downloader:  config.Downloader,
		extractor:   config.Extractor,
		logger:      config.Logger,
		parallelism: config.Parallelism,
		lockWait:    config.LockWait,
	}
	if p.logger == nil {
		p.logger = logging.Nop()
	}
	if p.catalog == nil {
		p.catalog = DefaultCatalog()
	}
	if p.downloader == nil {
		p.downloader = NewDownloader(DownloaderOptions{Logger: p.logger})
	}
	if p.extractor == nil {
		p.extractor = NewExtractor(ExtractorOptions{Logger: p.logger})
	}
	if p.parallelism < 1 {
		p.parallelism = 1
	}
	if p.lockWait == 0 {
		p.lockWait = DefaultLockWait
	}
	p.verifier = NewVerifier(p.downloader, p.logger)

	return p, nil
}

// Downloader returns the pipeline's downloader
func (p *Pipeline) Downloader() *Downloader {
	return p.downloader
}

// run carries the state of one dependency's pipeline
type run struct {
	p      *Pipeline
	spec   *Spec
	result *Result
	log    logging.Logger

	depDir       string
	downloadsDir string
	keysDir      string

	manifestPath  string
	signaturePath string
	archiveSHA256 string
	binaries      []string
}

// Run drives one dependency from NotStarted to Done. The returned Result
// is never nil; on failure its State is StateFailed and the error is a
// *StepError.
func (p *Pipeline) Run(ctx context.Context, name, version string) (*Result, error) {
	result := &Result{
		Name:     name,
		Version:  version,
		Platform: p.platform,
		State:    StateNotStarted,
		RunID:    uuid.NewString(),
	}

	fail := func(step State, err error) (*Result, error) {
		result.State = StateFailed
		result.FailedStep = step
		result.Err = &StepError{Dependency: name, Step: step, Err: err}
		p.logger.Error("pipeline failed", "dependency", name, "step", step.String(), "run", result.RunID, "error", err)
		return result, result.Err
	}

	spec, err := p.catalog.Spec(name, version)
	if err != nil {
		return fail(StateDownloaded, err)
	}
	result.Version = spec.Version
	if err := checkVersion(spec.Version); err != nil {
		return fail(StateDownloaded, err)
	}

	url, err := spec.ArtifactURL(p.platform)
	if err != nil {
		return fail(StateDownloaded, err)
	}
	result.URL = url
	result.FallbackUsed = spec.FallbackUsed(p.platform)

	binaries, err := spec.BinariesFor(p.platform)
	if err != nil {
		return fail(StateDownloaded, err)
	}

	r := &run{
		p:            p,
		spec:         spec,
		result:       result,
		log:          p.logger,
		depDir:       filepath.Join(p.workDir, name),
		downloadsDir: filepath.Join(p.workDir, name, "downloads", spec.Version),
		keysDir:      filepath.Join(p.workDir, name, "keys"),
		binaries:     binaries,
	}
	result.ArchivePath = filepath.Join(r.downloadsDir, path.Base(url))
	result.ExtractedDir = filepath.Join(r.depDir, "extracted")
	result.OutputDir = filepath.Join(p.resourceDir, name)

	if result.FallbackUsed {
		p.logger.Warn("no native build for platform, using x86_64 build",
			"dependency", name, "platform", p.platform.String(), "url", url)
	}

	lock, err := lockfile.WaitLock(ctx, p.workDir, name, max(p.lockWait, 0))
	if err != nil {
		return fail(StateDownloaded, err)
	}
	defer lock.Release()

	steps := []struct {
		to State
		fn func(context.Context) (bool, error)
	}{
		{StateDownloaded, r.download},
		{StateHashVerified, r.verifyHash},
		{StateSignatureVerified, r.verifySignature},
		{StateExtracted, r.extract},
		{StatePackaged, r.pack},
	}

	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return fail(s.to, err)
		}

		start := time.Now()
		skipped, err := s.fn(ctx)
		if err != nil {
			return fail(s.to, err)
		}

		result.State = s.to
		result.Transitions = append(result.Transitions, Transition{To: s.to, Skipped: skipped, Duration: time.Since(start)})
		if skipped {
			p.logger.Debug("step satisfied", "dependency", name, "state", s.to.String())
		} else {
			p.logger.Info("step complete", "dependency", name, "state", s.to.String())
		}
	}

	result.State = StateDone
	p.logger.Info("dependency packaged", "dependency", name, "version", spec.Version,
		"output", result.OutputDir, "run", result.RunID)
	return result, nil
}

// checkVersion rejects versions that cannot name a download directory
func checkVersion(v string) error {
	if v == "." || v == ".." || strings.ContainsAny(v, `/\:`) {
		return fault.Errorf(fault.Config, "check version", v, "version is not a valid directory name")
	}
	return nil
}

// download fetches the manifest, the signature and the artifact into a
// directory of their own per version; manifest names repeat across releases.
func (r *run) download(ctx context.Context) (bool, error) {
	d := r.p.downloader
	cached := true

	var expected string
	if r.spec.ManifestURL != "" {
		res, err := d.Download(ctx, r.spec.ManifestURL, filepath.Join(r.downloadsDir, path.Base(r.spec.ManifestURL)))
		if err != nil {
			return false, err
		}
		cached = cached && res.Cached
		r.manifestPath = res.Path

		// A missing entry surfaces in the hash step
		expected, _ = LookupHash(r.manifestPath, path.Base(r.result.URL))
	}

	sigURL := r.spec.SignatureURLFor(r.result.URL)
	res, err := d.Download(ctx, sigURL, filepath.Join(r.downloadsDir, path.Base(sigURL)))
	if err != nil {
		return false, err
	}
	cached = cached && res.Cached
	r.signaturePath = res.Path

	res, err = d.DownloadArtifact(ctx, Artifact{
		URL:            r.result.URL,
		LocalPath:      r.result.ArchivePath,
		ExpectedSHA256: expected,
	})
	if err != nil {
		return false, err
	}
	return cached && res.Cached, nil
}

func (r *run) verifyHash(ctx context.Context) (bool, error) {
	if r.manifestPath == "" {
		// No manifest upstream; the signature covers the artifact directly
		sum, err := FileSHA256(r.result.ArchivePath)
		if err != nil {
			return false, fault.New(fault.HashMismatch, "hash file", r.result.ArchivePath, err)
		}
		r.archiveSHA256 = sum
		return true, nil
	}

	res, err := r.p.verifier.VerifyHash(r.result.ArchivePath, r.manifestPath)
	r.result.Verifications = append(r.result.Verifications, res)
	if err != nil {
		return false, err
	}
	r.archiveSHA256 = res.Detail
	return false, nil
}

func (r *run) verifySignature(ctx context.Context) (bool, error) {
	signed := r.result.ArchivePath
	if r.manifestPath != "" {
		signed = r.manifestPath
	}

	res, err := r.p.verifier.VerifySignature(ctx, signed, r.signaturePath, r.spec.TrustedKeys, r.keysDir)
	r.result.Verifications = append(r.result.Verifications, res)
	if err != nil {
		return false, err
	}
	r.result.Signers = res.Signers
	return false, nil
}

func (r *run) extract(ctx context.Context) (bool, error) {
	format, err := r.spec.Format(r.p.platform)
	if err != nil {
		return false, err
	}

	req := ExtractRequest{
		Format:      format,
		ArchivePath: r.result.ArchivePath,
		DestDir:     r.result.ExtractedDir,
		Expect:      r.binaries,

		ArchiveSHA256: r.archiveSHA256,
	}
	if format == FormatDMG {
		req.Bundle = r.binaries[0]
	}

	out, err := r.p.extractor.Extract(ctx, req)
	if err != nil {
		return false, err
	}
	return out.Skipped, nil
}

// pack copies the binaries into the resource directory and records a
// receipt. An intact output matching the receipt is left untouched.
func (r *run) pack(ctx context.Context) (bool, error) {
	receiptPath := filepath.Join(r.depDir, ReceiptFileName)
	outDir := r.result.OutputDir
	plat := r.p.platform.String()

	existing, err := LoadReceipt(receiptPath)
	if err != nil {
		r.log.Warn("ignoring unreadable receipt", "path", receiptPath, "error", err)
	}
	if existing.Describes(r.spec.Name, r.spec.Version, plat, r.result.URL, r.archiveSHA256) && existing.Intact(outDir) {
		return true, nil
	}

	if err := os.MkdirAll(r.p.resourceDir, 0o755); err != nil {
		return false, fmt.Errorf("create resource dir: %w", err)
	}
	staging, err := os.MkdirTemp(r.p.resourceDir, "."+r.spec.Name+".partial-*")
	if err != nil {
		return false, fmt.Errorf("create staging dir: %w", err)
	}
	// Track whether we need to clean up the staging directory
	cleanupNeeded := true
	defer func() {
		if cleanupNeeded {
			os.RemoveAll(staging)
		}
	}()

	for _, b := range r.binaries {
		src := filepath.Join(r.result.ExtractedDir, filepath.FromSlash(b))
		dst := filepath.Join(staging, path.Base(b))
		if err := copyTree(src, dst); err != nil {
			return false, fmt.Errorf("copy %s: %w", b, err)
		}
	}

	if err := os.RemoveAll(outDir); err != nil {
		return false, fmt.Errorf("replace output dir: %w", err)
	}
	if err := os.Rename(staging, outDir); err != nil {
		return false, fmt.Errorf("rename output dir: %w", err)
	}
	cleanupNeeded = false

	files, err := scanTree(outDir)
	if err != nil {
		return false, fmt.Errorf("scan output dir: %w", err)
	}

	receipt := &Receipt{
		Name:     r.spec.Name,
		Version:  r.spec.Version,
		Platform: plat,
		URL:      r.result.URL,
		SHA256:   r.archiveSHA256,
		Signers:  r.result.Signers,
		RunID:    r.result.RunID,
		Files:    files,
	}
	if err := receipt.Save(receiptPath); err != nil {
		return false, err
	}
	return false, nil
}

// Report collects the results of RunAll in request order.
type Report struct {
	Results []*Result
}

// Failed returns the results that did not reach StateDone.
func (r *Report) Failed() []*Result {
	var out []*Result
	for _, res := range r.Results {
		if res.State != StateDone {
			out = append(out, res)
		}
	}
	return out
}

// Err joins every failure, or returns nil.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Failed() {
		errs = append(errs, res.Err)
	}
	return errors.Join(errs...)
}

// RunAll runs the requested pipelines, up to Parallelism at a time. A
// failing dependency never stops the others.
func (p *Pipeline) RunAll(ctx context.Context, reqs []Request) (*Report, error) {
	report := &Report{Results: make([]*Result, len(reqs))}

	var g errgroup.Group
	g.SetLimit(p.parallelism)

	for i, req := range reqs {
		g.Go(func() error {
			// Failures live in the report so siblings keep going
			report.Results[i], _ = p.Run(ctx, req.Name, req.Version)
			return nil
		})
	}
	_ = g.Wait()

	return report, report.Err()
}
