package config

// Lua schema field names and globals
const (
	luaGlobalBinpack    = "binpack"
	luaFieldWorkDir     = "work_dir"
	luaFieldResourceDir = "resource_dir"
	luaFieldRetries     = "retries"
	luaFieldParallelism = "parallelism"
	luaFieldUserAgent   = "user_agent"
	luaFieldDeps        = "dependencies"
	luaFieldTrustedKeys = "trusted_keys"
	luaFieldCustom      = "custom"
	luaFieldName        = "name"
	luaFieldVersion     = "version"
	luaFieldFingerprint = "fingerprint"
	luaFieldSource      = "source"
	luaFieldURLPrefix   = "url_prefix"
	luaFieldSuffixes    = "suffixes"
	luaFieldKind        = "kind"
	luaFieldArchiveDir  = "archive_dir"
	luaFieldManifest    = "manifest"
	luaFieldSignature   = "signature"
	luaFieldBinaries    = "binaries"
)

// Limits applied to parsed configurations
const (
	MaxConfigSize       = 1 << 20
	MaxDependencyCount  = 64
	MaxTrustedKeyCount  = 256
	MaxParallelism      = 16
	MaxRetries          = 10
	DefaultConfigName   = "binpack.lua"
	defaultParallelism  = 1
	maxDependencyNameLn = 64
)

// Environment overrides
const (
	EnvWorkDir     = "BINPACK_WORK_DIR"
	EnvResourceDir = "BINPACK_RESOURCE_DIR"
)
