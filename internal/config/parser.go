package config

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/bisqtools/binpack/internal/binary"
	"github.com/bisqtools/binpack/internal/logging"
	"github.com/bisqtools/binpack/internal/platform"
)

// defaultParseTimeout bounds evaluation when ctx carries no deadline
const defaultParseTimeout = 5 * time.Second

// Parser represents a Lua config parser with platform detection.
type Parser struct {
	detector platform.Detector
	logger   logging.Logger
}

// NewParser creates a new config parser with the given platform detector.
// A nil detector leaves the platform table undefined.
func NewParser(detector platform.Detector) *Parser {
	return &Parser{detector: detector, logger: logging.Nop()}
}

// WithLogger sets the logger used for configuration warnings.
func (p *Parser) WithLogger(l logging.Logger) *Parser {
	if l != nil {
		p.logger = l
	}
	return p
}

// ParseFile reads and parses a config file.
func (p *Parser) ParseFile(ctx context.Context, path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if info.Size() > MaxConfigSize {
		return nil, &ParseError{
			Message: "config file too large",
			Detail:  fmt.Sprintf("%s is %d bytes, maximum is %d", path, info.Size(), MaxConfigSize),
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return p.ParseString(ctx, string(data))
}

// ParseString parses a Lua config from a string.
// This is useful for testing and in-memory config generation.
func (p *Parser) ParseString(ctx context.Context, luaCode string) (*Config, error) {
	if len(luaCode) > MaxConfigSize {
		return nil, &ParseError{
			Message: "config too large",
			Detail:  fmt.Sprintf("%d bytes, maximum is %d", len(luaCode), MaxConfigSize),
		}
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultParseTimeout)
		defer cancel()
	}

	L := newSandboxedVM()
	defer L.Close()
	L.SetContext(ctx)

	// Detect platform and inject platform table
	if p.detector != nil {
		platformInfo, err := p.detector.Detect(ctx)
		if err != nil {
			return nil, fmt.Errorf("platform detection failed: %w", err)
		}
		if err := platform.InjectPlatformTable(L, platformInfo); err != nil {
			return nil, fmt.Errorf("inject platform table: %w", err)
		}
	}

	// Execute Lua code
	if err := L.DoString(luaCode); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &ParseError{Message: "config evaluation timed out", Detail: err.Error()}
		}
		if ctx.Err() != nil {
			return nil, &ParseError{Message: "config evaluation aborted", Detail: ctx.Err().Error()}
		}
		return nil, &ParseError{
			Message: "Lua syntax error",
			Detail:  err.Error(),
		}
	}

	// Extract config from the Lua state
	return p.extractConfig(L)
}

// ParseError represents a config parsing error with friendly message.
type ParseError struct {
	Message string // User-friendly message
	Detail  string // Technical details (raw Lua error)
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

func fieldError(field, format string, args ...any) *ParseError {
	return &ParseError{Message: "invalid field " + field, Detail: fmt.Sprintf(format, args...)}
}

// extractConfig extracts the config from a Lua state.
// It expects a global "binpack" table with the config structure.
func (p *Parser) extractConfig(L *lua.LState) (*Config, error) {
	root := L.GetGlobal(luaGlobalBinpack)
	if root.Type() != lua.LTTable {
		return nil, &ParseError{
			Message: "missing or invalid 'binpack' table",
			Detail:  fmt.Sprintf("expected table, got %s", root.Type()),
		}
	}
	table := root.(*lua.LTable)
	config := Default()

	var err error
	table.ForEach(func(key, value lua.LValue) {
		if err != nil {
			return
		}
		name, ok := key.(lua.LString)
		if !ok {
			err = fieldError(key.String(), "binpack keys must be strings")
			return
		}

		switch string(name) {
		case luaFieldWorkDir:
			config.WorkDir, err = luaString(luaFieldWorkDir, value)
		case luaFieldResourceDir:
			config.ResourceDir, err = luaString(luaFieldResourceDir, value)
		case luaFieldUserAgent:
			config.UserAgent, err = luaString(luaFieldUserAgent, value)
		case luaFieldRetries:
			config.Retries, err = luaInt(luaFieldRetries, value)
		case luaFieldParallelism:
			config.Parallelism, err = luaInt(luaFieldParallelism, value)
		case luaFieldDeps:
			config.Dependencies, err = extractDependencies(value)
		case luaFieldTrustedKeys:
			config.TrustedKeys, err = extractTrustedKeys(value)
		case luaFieldCustom:
			config.Custom, err = extractCustom(value)
		default:
			p.logger.Warn("ignoring unknown config field", "field", string(name))
		}
	})
	if err != nil {
		return nil, err
	}

	// Validate the extracted config
	if err := config.Validate(); err != nil {
		return nil, &ParseError{
			Message: "config validation failed",
			Detail:  err.Error(),
		}
	}

	return config, nil
}

func luaString(field string, v lua.LValue) (string, error) {
	s, ok := v.(lua.LString)
	if !ok {
		return "", fieldError(field, "expected string, got %s", v.Type())
	}
	return string(s), nil
}

func luaInt(field string, v lua.LValue) (int, error) {
	n, ok := v.(lua.LNumber)
	if !ok {
		return 0, fieldError(field, "expected number, got %s", v.Type())
	}
	f := float64(n)
	if f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return 0, fieldError(field, "expected an integer, got %v", f)
	}
	return int(f), nil
}

func luaTable(field string, v lua.LValue) (*lua.LTable, error) {
	t, ok := v.(*lua.LTable)
	if !ok {
		return nil, fieldError(field, "expected table, got %s", v.Type())
	}
	return t, nil
}

func luaStringList(field string, v lua.LValue) ([]string, error) {
	t, err := luaTable(field, v)
	if err != nil {
		return nil, err
	}
	var out []string
	t.ForEach(func(_, item lua.LValue) {
		if err != nil {
			return
		}
		var s string
		s, err = luaString(field, item)
		out = append(out, s)
	})
	return out, err
}

// extractDependencies reads entries written either as "name@version" or
// as {name=, version=}. Nil entries from platform conditionals never reach
// the table.
func extractDependencies(v lua.LValue) ([]Dependency, error) {
	t, err := luaTable(luaFieldDeps, v)
	if err != nil {
		return nil, err
	}

	var deps []Dependency
	t.ForEach(func(_, item lua.LValue) {
		if err != nil {
			return
		}
		switch item := item.(type) {
		case lua.LString:
			var req binary.Request
			req, err = binary.ParseRequest(string(item))
			if err != nil {
				err = fieldError(luaFieldDeps, "%v", err)
				return
			}
			deps = append(deps, Dependency{Name: req.Name, Version: req.Version})
		case *lua.LTable:
			var d Dependency
			if d.Name, err = luaString(luaFieldDeps+".name", item.RawGetString(luaFieldName)); err != nil {
				return
			}
			if ver := item.RawGetString(luaFieldVersion); ver != lua.LNil {
				d.Version, err = luaString(luaFieldDeps+".version", ver)
			}
			deps = append(deps, d)
		case lua.LBool:
			// `platform.is_macos and "electrum"` yields false elsewhere
		default:
			err = fieldError(luaFieldDeps, "unexpected %s entry", item.Type())
		}
	})
	return deps, err
}

func extractTrustedKeys(v lua.LValue) (map[string][]KeyConfig, error) {
	t, err := luaTable(luaFieldTrustedKeys, v)
	if err != nil {
		return nil, err
	}

	keys := make(map[string][]KeyConfig)
	t.ForEach(func(k, list lua.LValue) {
		if err != nil {
			return
		}
		dep, ok := k.(lua.LString)
		if !ok {
			err = fieldError(luaFieldTrustedKeys, "keys must be dependency names")
			return
		}
		field := luaFieldTrustedKeys + "." + string(dep)

		var entries *lua.LTable
		if entries, err = luaTable(field, list); err != nil {
			return
		}
		entries.ForEach(func(_, e lua.LValue) {
			if err != nil {
				return
			}
			var et *lua.LTable
			if et, err = luaTable(field, e); err != nil {
				return
			}
			var kc KeyConfig
			if kc.Fingerprint, err = luaString(field+".fingerprint", et.RawGetString(luaFieldFingerprint)); err != nil {
				return
			}
			if kc.Source, err = luaString(field+".source", et.RawGetString(luaFieldSource)); err != nil {
				return
			}
			if n := et.RawGetString(luaFieldName); n != lua.LNil {
				if kc.Name, err = luaString(field+".name", n); err != nil {
					return
				}
			}
			keys[string(dep)] = append(keys[string(dep)], kc)
		})
	})
	return keys, err
}

func extractCustom(v lua.LValue) (map[string]CustomDependency, error) {
	t, err := luaTable(luaFieldCustom, v)
	if err != nil {
		return nil, err
	}

	custom := make(map[string]CustomDependency)
	t.ForEach(func(k, body lua.LValue) {
		if err != nil {
			return
		}
		name, ok := k.(lua.LString)
		if !ok {
			err = fieldError(luaFieldCustom, "keys must be dependency names")
			return
		}
		var cd CustomDependency
		cd, err = extractCustomDependency(luaFieldCustom+"."+string(name), body)
		custom[string(name)] = cd
	})
	return custom, err
}

func extractCustomDependency(field string, v lua.LValue) (CustomDependency, error) {
	var cd CustomDependency
	t, err := luaTable(field, v)
	if err != nil {
		return cd, err
	}

	optional := map[string]*string{
		luaFieldVersion:    &cd.Version,
		luaFieldKind:       &cd.Kind,
		luaFieldArchiveDir: &cd.ArchiveDir,
		luaFieldManifest:   &cd.Manifest,
		luaFieldSignature:  &cd.Signature,
	}
	for key, dst := range optional {
		if val := t.RawGetString(key); val != lua.LNil {
			if *dst, err = luaString(field+"."+key, val); err != nil {
				return cd, err
			}
		}
	}

	if cd.URLPrefix, err = luaString(field+".url_prefix", t.RawGetString(luaFieldURLPrefix)); err != nil {
		return cd, err
	}
	if cd.Binaries, err = luaStringList(field+".binaries", t.RawGetString(luaFieldBinaries)); err != nil {
		return cd, err
	}

	suffixes, err := luaTable(field+".suffixes", t.RawGetString(luaFieldSuffixes))
	if err != nil {
		return cd, err
	}
	cd.Suffixes = make(map[string]string)
	suffixes.ForEach(func(tag, suffix lua.LValue) {
		if err != nil {
			return
		}
		var s string
		if s, err = luaString(field+".suffixes", suffix); err != nil {
			return
		}
		cd.Suffixes[tag.String()] = s
	})
	return cd, err
}

// FormatError formats a ParseError for user display.
// In verbose mode, show the raw Lua error. Otherwise, show friendly message.
func FormatError(err error, verbose bool) string {
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		if verbose {
			return fmt.Sprintf("%s\n\nDetails:\n%s", parseErr.Message, parseErr.Detail)
		}
		// Extract the most relevant part of the error
		detail := parseErr.Detail
		if idx := strings.Index(detail, "stack traceback"); idx > 0 {
			detail = strings.TrimSpace(detail[:idx])
		}
		return fmt.Sprintf("%s: %s", parseErr.Message, detail)
	}
	return err.Error()
}
