package config

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Generator generates Lua configuration code from Go structs.
type Generator struct {
	indent string // Indentation string (default: two spaces)
	now    func() time.Time
}

// NewGenerator creates a new Lua config generator.
func NewGenerator() *Generator {
	return &Generator{
		indent: "  ", // Two spaces
		now:    time.Now,
	}
}

// Generate generates Lua code from a Config struct. The output parses back
// into an equivalent Config.
func (g *Generator) Generate(config *Config) (string, error) {
	if err := config.Validate(); err != nil {
		return "", err
	}

	var buf bytes.Buffer

	// Write header comment
	buf.WriteString("-- binpack configuration\n")
	buf.WriteString("-- Generated: ")
	buf.WriteString(g.now().UTC().Format(time.RFC3339))
	buf.WriteString("\n--\n")
	buf.WriteString("-- The read-only `platform` table (platform.tag, platform.is_macos,\n")
	buf.WriteString("-- platform.when(cond, value), ...) describes the target.\n\n")

	buf.WriteString(luaGlobalBinpack + " = {\n")
	g.writeField(&buf, 1, luaFieldWorkDir, g.quoteLuaString(config.WorkDir))
	g.writeField(&buf, 1, luaFieldResourceDir, g.quoteLuaString(config.ResourceDir))
	g.writeField(&buf, 1, luaFieldRetries, fmt.Sprint(config.Retries))
	g.writeField(&buf, 1, luaFieldParallelism, fmt.Sprint(config.Parallelism))
	if config.UserAgent != "" {
		g.writeField(&buf, 1, luaFieldUserAgent, g.quoteLuaString(config.UserAgent))
	}

	if len(config.Dependencies) > 0 {
		g.writeDependencies(&buf, config.Dependencies)
	}
	if len(config.TrustedKeys) > 0 {
		g.writeTrustedKeys(&buf, config.TrustedKeys)
	}
	if len(config.Custom) > 0 {
		g.writeCustom(&buf, config.Custom)
	}

	buf.WriteString("}\n")

	return buf.String(), nil
}

func (g *Generator) pad(buf *bytes.Buffer, depth int) {
	buf.WriteString(strings.Repeat(g.indent, depth))
}

func (g *Generator) writeField(buf *bytes.Buffer, depth int, key, value string) {
	g.pad(buf, depth)
	buf.WriteString(key)
	buf.WriteString(" = ")
	buf.WriteString(value)
	buf.WriteString(",\n")
}

// writeDependencies writes the dependencies section to the buffer.
func (g *Generator) writeDependencies(buf *bytes.Buffer, deps []Dependency) {
	buf.WriteString("\n")
	g.pad(buf, 1)
	buf.WriteString(luaFieldDeps + " = {\n")

	for _, d := range deps {
		g.pad(buf, 2)
		if d.Version == "" {
			buf.WriteString(g.quoteLuaString(d.Name))
		} else {
			buf.WriteString(g.quoteLuaString(d.Name + "@" + d.Version))
		}
		buf.WriteString(",\n")
	}

	g.pad(buf, 1)
	buf.WriteString("},\n")
}

// writeTrustedKeys writes the trusted_keys section to the buffer.
func (g *Generator) writeTrustedKeys(buf *bytes.Buffer, keys map[string][]KeyConfig) {
	buf.WriteString("\n")
	g.pad(buf, 1)
	buf.WriteString(luaFieldTrustedKeys + " = {\n")

	for _, dep := range sortedKeys(keys) {
		g.pad(buf, 2)
		buf.WriteString(g.luaKey(dep))
		buf.WriteString(" = {\n")
		for _, k := range keys[dep] {
			g.pad(buf, 3)
			buf.WriteString("{ ")
			if k.Name != "" {
				buf.WriteString("name = " + g.quoteLuaString(k.Name) + ", ")
			}
			buf.WriteString("fingerprint = " + g.quoteLuaString(k.Fingerprint) + ", ")
			buf.WriteString("source = " + g.quoteLuaString(k.Source) + " },\n")
		}
		g.pad(buf, 2)
		buf.WriteString("},\n")
	}

	g.pad(buf, 1)
	buf.WriteString("},\n")
}

// writeCustom writes the custom dependency section to the buffer.
func (g *Generator) writeCustom(buf *bytes.Buffer, custom map[string]CustomDependency) {
	buf.WriteString("\n")
	g.pad(buf, 1)
	buf.WriteString(luaFieldCustom + " = {\n")

	for _, name := range sortedKeys(custom) {
		cd := custom[name]
		g.pad(buf, 2)
		buf.WriteString(g.luaKey(name))
		buf.WriteString(" = {\n")

		optional := []struct{ key, value string }{
			{luaFieldVersion, cd.Version},
			{luaFieldURLPrefix, cd.URLPrefix},
			{luaFieldKind, cd.Kind},
			{luaFieldArchiveDir, cd.ArchiveDir},
			{luaFieldManifest, cd.Manifest},
			{luaFieldSignature, cd.Signature},
		}
		for _, f := range optional {
			if f.value != "" {
				g.writeField(buf, 3, f.key, g.quoteLuaString(f.value))
			}
		}

		tags := make([]string, 0, len(cd.Suffixes))
		for tag := range cd.Suffixes {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		g.pad(buf, 3)
		buf.WriteString(luaFieldSuffixes + " = {\n")
		for _, tag := range tags {
			g.writeField(buf, 4, g.luaKey(tag), g.quoteLuaString(cd.Suffixes[tag]))
		}
		g.pad(buf, 3)
		buf.WriteString("},\n")

		quoted := make([]string, len(cd.Binaries))
		for i, b := range cd.Binaries {
			quoted[i] = g.quoteLuaString(b)
		}
		g.writeField(buf, 3, luaFieldBinaries, "{ "+strings.Join(quoted, ", ")+" }")

		g.pad(buf, 2)
		buf.WriteString("},\n")
	}

	g.pad(buf, 1)
	buf.WriteString("},\n")
}

// luaKey renders a table key, bracketing names that are not identifiers
func (g *Generator) luaKey(name string) string {
	for i, r := range name {
		ident := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (i > 0 && r >= '0' && r <= '9')
		if !ident {
			return "[" + g.quoteLuaString(name) + "]"
		}
	}
	if name == "" || luaKeywords[name] {
		return "[" + g.quoteLuaString(name) + "]"
	}
	return name
}

var luaKeywords = map[string]bool{
	"and": true, "break": true, "do": true, "else": true, "elseif": true, "end": true,
	"false": true, "for": true, "function": true, "if": true, "in": true, "local": true,
	"nil": true, "not": true, "or": true, "repeat": true, "return": true, "then": true,
	"true": true, "until": true, "while": true,
}

// quoteLuaString quotes a string for Lua, handling special characters.
func (g *Generator) quoteLuaString(s string) string {
	// Use double quotes and escape special characters
	s = strings.ReplaceAll(s, "\\", "\\\\") // Escape backslashes first
	s = strings.ReplaceAll(s, "\"", "\\\"") // Escape double quotes
	s = strings.ReplaceAll(s, "\n", "\\n")  // Escape newlines
	s = strings.ReplaceAll(s, "\r", "\\r")  // Escape carriage returns
	s = strings.ReplaceAll(s, "\t", "\\t")  // Escape tabs
	return "\"" + s + "\""
}
