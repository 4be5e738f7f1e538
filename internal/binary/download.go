package binary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bisqtools/binpack/internal/fault"
	"github.com/bisqtools/binpack/internal/logging"
)

const (
	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 10 * time.Minute
	// DefaultUserAgent is the User-Agent header sent with requests
	DefaultUserAgent = "binpack/1.0"
	// DefaultInitialBackoff is the first retry delay when retries are enabled
	DefaultInitialBackoff = time.Second
)

// DownloaderOptions configures a Downloader. The zero value is usable.
type DownloaderOptions struct {
	Client    *http.Client
	UserAgent string
	// Retries is the number of extra attempts per fetch. Zero disables retry.
	Retries        int
	InitialBackoff time.Duration
	Logger         logging.Logger
}

// Downloader fetches URLs to local files. A file that already exists is
// never fetched again.
type Downloader struct {
	client         *http.Client
	userAgent      string
	retries        int
	initialBackoff time.Duration
	logger         logging.Logger
	requests       atomic.Int64
}

// NewDownloader creates a new downloader
func NewDownloader(opts DownloaderOptions) *Downloader {
	d := &Downloader{
		client:         opts.Client,
		userAgent:      opts.UserAgent,
		retries:        opts.Retries,
		initialBackoff: opts.InitialBackoff,
		logger:         opts.Logger,
	}
	if d.client == nil {
		d.client = &http.Client{
			Timeout: DefaultTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Allow up to 10 redirects
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		}
	}
	if d.userAgent == "" {
		d.userAgent = DefaultUserAgent
	}
	if d.initialBackoff <= 0 {
		d.initialBackoff = DefaultInitialBackoff
	}
	if d.retries < 0 {
		d.retries = 0
	}
	if d.logger == nil {
		d.logger = logging.Nop()
	}
	return d
}

// Requests returns the number of HTTP requests issued so far.
func (d *Downloader) Requests() int64 {
	return d.requests.Load()
}

// Download fetches url to dest unless dest already exists.
func (d *Downloader) Download(ctx context.Context, url, dest string) (*DownloadResult, error) {
	return d.DownloadArtifact(ctx, Artifact{URL: url, LocalPath: dest})
}

// DownloadArtifact fetches an artifact unless it is already present. When
// ExpectedSHA256 is set, a present file with a different digest is treated
// as corrupt, removed and fetched again.
func (d *Downloader) DownloadArtifact(ctx context.Context, a Artifact) (*DownloadResult, error) {
	if a.URL == "" || a.LocalPath == "" {
		return nil, fault.Errorf(fault.Download, "download", a.URL, "url and local path are required")
	}

	if fileExists(a.LocalPath) {
		if a.ExpectedSHA256 == "" {
			d.logger.Debug("download cached", "path", a.LocalPath)
			return &DownloadResult{URL: a.URL, Path: a.LocalPath, Cached: true, Bytes: fileSize(a.LocalPath)}, nil
		}

		actual, err := FileSHA256(a.LocalPath)
		if err == nil && actual == NormalizeDigest(a.ExpectedSHA256) {
			d.logger.Debug("download cached", "path", a.LocalPath, "sha256", actual)
			return &DownloadResult{URL: a.URL, Path: a.LocalPath, Cached: true, Bytes: fileSize(a.LocalPath)}, nil
		}

		d.logger.Warn("cached file is corrupt, downloading again",
			"path", a.LocalPath, "expected", a.ExpectedSHA256, "actual", actual)
		if err := os.Remove(a.LocalPath); err != nil {
			return nil, fault.New(fault.Download, "remove corrupt file", a.LocalPath, err)
		}
	}

	start := time.Now()
	n, err := d.fetch(ctx, a.URL, a.LocalPath)
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	d.logger.Info("downloaded", "url", a.URL, "bytes", n, "duration", elapsed.String())
	return &DownloadResult{URL: a.URL, Path: a.LocalPath, Bytes: n, DownloadTime: elapsed}, nil
}

// fetch runs fetchOnce, retrying with exponential backoff when enabled
func (d *Downloader) fetch(ctx context.Context, url, destPath string) (int64, error) {
	if d.retries == 0 {
		return d.fetchOnce(ctx, url, destPath)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.initialBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(d.retries)), ctx)

	var n int64
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var err error
		n, err = d.fetchOnce(ctx, url, destPath)
		if err == nil {
			return nil
		}
		var status *statusError
		if errors.As(err, &status) && !status.retryable() {
			return backoff.Permanent(err)
		}
		if attempt <= d.retries {
			d.logger.Warn("download attempt failed", "url", url, "attempt", attempt, "error", err)
		}
		return err
	}, policy)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// statusError is a non-2xx HTTP response
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.code)
}

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

// fetchOnce performs a single download attempt
func (d *Downloader) fetchOnce(ctx context.Context, url, destPath string) (int64, error) {
	wrap := func(err error) error {
		return fault.New(fault.Download, "download", url, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, wrap(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", d.userAgent)

	d.requests.Add(1)
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, wrap(fmt.Errorf("execute request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, wrap(&statusError{code: resp.StatusCode})
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, wrap(fmt.Errorf("create dest dir: %w", err))
	}

	tmpPath := destPath + ".tmp"
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return 0, wrap(fmt.Errorf("create temp file: %w", err))
	}

	// Track whether we need to clean up the temp file
	cleanupNeeded := true
	defer func() {
		tmpFile.Close()
		if cleanupNeeded {
			os.Remove(tmpPath)
		}
	}()

	n, err := io.Copy(tmpFile, resp.Body)
	if err != nil {
		return 0, wrap(fmt.Errorf("copy response body: %w", err))
	}
	if n == 0 {
		return 0, wrap(errors.New("empty response body"))
	}

	if err := tmpFile.Close(); err != nil {
		return 0, wrap(fmt.Errorf("close temp file: %w", err))
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return 0, wrap(fmt.Errorf("rename temp file: %w", err))
	}

	cleanupNeeded = false
	return n, nil
}

// fileExists checks if a file exists and is not empty
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir() && info.Size() > 0
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
