package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bisqtools/binpack/internal/binary"
	"github.com/bisqtools/binpack/internal/config"
	"github.com/bisqtools/binpack/internal/fault"
	"github.com/bisqtools/binpack/internal/logging"
	"github.com/bisqtools/binpack/internal/platform"
)

// errReported signals a failure whose details were already printed.
var errReported = errors.New("failure reported")

// usageError is a command-line mistake; it exits with exitUsage.
type usageError struct {
	msg string
}

func (e *usageError) Error() string {
	return e.msg
}

func usageErrorf(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// options are the flags shared by every subcommand.
type options struct {
	configPath  string
	platform    string
	workDir     string
	resourceDir string
	logLevel    string
	verbose     bool
	force       bool
	help        bool
}

// parseArgs separates flags from positional arguments. Flags may appear
// anywhere; "--" ends flag parsing.
func parseArgs(args []string) (options, []string, error) {
	var o options
	var positional []string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}
		if !strings.HasPrefix(arg, "-") || arg == "-" {
			positional = append(positional, arg)
			continue
		}

		name, value, hasValue := strings.Cut(arg, "=")
		takeValue := func(dst *string) error {
			if !hasValue {
				if i+1 >= len(args) {
					return usageErrorf("%s requires a value", name)
				}
				i++
				value = args[i]
			}
			if value == "" {
				return usageErrorf("%s requires a value", name)
			}
			*dst = value
			return nil
		}

		var err error
		switch name {
		case "-c", "--config":
			err = takeValue(&o.configPath)
		case "-p", "--platform":
			err = takeValue(&o.platform)
		case "--work":
			err = takeValue(&o.workDir)
		case "--resources":
			err = takeValue(&o.resourceDir)
		case "--log-level":
			err = takeValue(&o.logLevel)
		case "-v", "--verbose":
			o.verbose = true
		case "-f", "--force":
			o.force = true
		case "-h", "--help":
			o.help = true
		default:
			err = usageErrorf("unknown option: %s", name)
		}
		if err != nil {
			return o, nil, err
		}
	}

	return o, positional, nil
}

// cli carries the state of one invocation.
type cli struct {
	stdout io.Writer
	stderr io.Writer
	opts   options
	logger logging.Logger
}

// parse reads the flags and sets up logging on stderr.
func (c *cli) parse(args []string) ([]string, error) {
	opts, positional, err := parseArgs(args)
	if err != nil {
		return nil, err
	}
	c.opts = opts

	lo := logging.FromEnv()
	lo.Writer = c.stderr
	if opts.logLevel != "" {
		lo.Level = opts.logLevel
	}
	c.logger = logging.New(lo)
	return positional, nil
}

// fail prints err and maps it to an exit code.
func (c *cli) fail(err error) int {
	if errors.Is(err, errReported) {
		return exitFailure
	}

	var uerr *usageError
	if errors.As(err, &uerr) {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		fmt.Fprintln(c.stderr, "Run 'binpack help' for usage.")
		return exitUsage
	}

	fmt.Fprintf(c.stderr, "Error: %s\n", config.FormatError(err, c.opts.verbose))
	if c.opts.verbose {
		if kind := fault.KindOf(err); kind != fault.Unknown {
			fmt.Fprintf(c.stderr, "Kind: %s\n", kind)
		}
	}
	return exitFailure
}

// detector honours --platform, falling back to the host.
func (c *cli) detector() (platform.Detector, error) {
	if c.opts.platform == "" {
		return platform.NewDetector(), nil
	}
	p, err := platform.ParseTag(c.opts.platform)
	if err != nil {
		return nil, usageErrorf("invalid --platform: %v", err)
	}
	return &platform.StaticDetector{Platform: p}, nil
}

// prepare resolves the target platform and loads the configuration. The
// file named by --config is required; ./binpack.lua is used when present.
// Precedence: flags, then environment, then the file, then defaults.
func (c *cli) prepare(ctx context.Context) (*config.Config, platform.Platform, error) {
	det, err := c.detector()
	if err != nil {
		return nil, "", err
	}
	info, err := det.Detect(ctx)
	if err != nil {
		return nil, "", err
	}

	path := c.opts.configPath
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigName); err == nil {
			path = config.DefaultConfigName
		}
	}

	cfg := config.Default()
	if path != "" {
		parser := config.NewParser(&platform.StaticDetector{Platform: info.Platform}).WithLogger(c.logger)
		if cfg, err = parser.ParseFile(ctx, path); err != nil {
			return nil, "", err
		}
		c.logger.Debug("loaded config", "path", path)
	}

	cfg.ApplyEnv()
	if c.opts.workDir != "" {
		cfg.WorkDir = c.opts.workDir
	}
	if c.opts.resourceDir != "" {
		cfg.ResourceDir = c.opts.resourceDir
	}

	c.logger.Debug("target platform", "platform", info.Platform.String(), "os", info.OSRaw, "arch", info.ArchRaw)
	return cfg, info.Platform, nil
}

// catalog returns the built-in catalog extended by cfg.
func (c *cli) catalog(cfg *config.Config) (*binary.Catalog, error) {
	cat := binary.DefaultCatalog()
	if err := cfg.Apply(cat); err != nil {
		return nil, err
	}
	return cat, nil
}

// pipeline wires a packaging pipeline from cfg.
func (c *cli) pipeline(cfg *config.Config, plat platform.Platform) (*binary.Pipeline, *binary.Catalog, error) {
	cat, err := c.catalog(cfg)
	if err != nil {
		return nil, nil, err
	}

	pl, err := binary.NewPipeline(binary.Config{
		WorkDir:     cfg.WorkDir,
		ResourceDir: cfg.ResourceDir,
		Platform:    plat,
		Catalog:     cat,
		Downloader: binary.NewDownloader(binary.DownloaderOptions{
			UserAgent: cfg.UserAgent,
			Retries:   cfg.Retries,
			Logger:    c.logger,
		}),
		Extractor:   binary.NewExtractor(binary.ExtractorOptions{Logger: c.logger}),
		Logger:      c.logger,
		Parallelism: cfg.Parallelism,
	})
	if err != nil {
		return nil, nil, err
	}
	return pl, cat, nil
}

// requests turns positional "dep[@version]" arguments into requests,
// falling back to the configured dependencies.
func requests(cfg *config.Config, cat *binary.Catalog, args []string) ([]binary.Request, error) {
	if len(args) == 0 {
		return cfg.Requests(cat), nil
	}
	reqs := make([]binary.Request, 0, len(args))
	for _, a := range args {
		req, err := binary.ParseRequest(a)
		if err != nil {
			return nil, usageErrorf("%v", err)
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}
