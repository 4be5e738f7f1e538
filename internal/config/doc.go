// Package config loads binpack's Lua configuration: where to work, where
// to place packaged binaries, which dependencies to fetch, and which extra
// signers and custom dependencies extend the built-in catalog.
//
// # Overview
//
// A binpack configuration is a Lua file that assigns a global `binpack`
// table. gopher-lua, a pure Go Lua 5.1 VM, evaluates it in a sandbox, and
// the resolved target platform is injected as a read-only `platform` table so
// a single file can describe every build host.
//
// Key components:
//   - Parser: Lua → Config conversion with platform detection
//   - Generator: Config → Lua code generation (used by `binpack init`)
//   - Sandbox: Restricted Lua VM preventing dangerous operations
//   - Apply: registers custom dependencies and extra signers on a catalog
//
// # Security Model
//
// User Lua code runs in a restricted sandbox that prevents:
//   - System command execution (os.execute, os.exit, etc.)
//   - Filesystem access (io.open, io.popen, etc.)
//   - External code loading (require, dofile, loadfile, etc.)
//   - Metatable manipulation (getmetatable, setmetatable, rawget, rawset)
//
// Resource limits:
//   - Config size: 1MB
//   - Evaluation timeout: 5 seconds unless the context carries a deadline
//   - Call stack depth: 256 levels
//   - Dependencies: 64; extra trusted keys: 256
//
// Trusted keys given in the configuration only ever extend a dependency's
// allow-list. They cannot remove a built-in signer.
//
// # Configuration Schema
//
//	binpack = {
//	  work_dir = "/tmp/binpack",
//	  resource_dir = "desktop/src/main/resources/bin",
//	  retries = 2,
//	  parallelism = 3,
//
//	  dependencies = {
//	    "bitcoin-core@27.1",
//	    "tor",                                   -- default version
//	    platform.when(not platform.is_windows, "electrum@4.5.8"),
//	  },
//
//	  trusted_keys = {
//	    ["bitcoin-core"] = {
//	      { name = "achow101", fingerprint = "152812300785C96444D3334D17565732E08E5E41",
//	        source = "https://raw.githubusercontent.com/bitcoin-core/guix.sigs/main/builder-keys/achow101.gpg" },
//	    },
//	  },
//
//	  custom = {
//	    lnd = {
//	      version = "0.18.3-beta",
//	      url_prefix = "https://github.com/lightningnetwork/lnd/releases/download/v{version}/lnd-",
//	      suffixes = { linux_x86_64 = "linux-amd64-v{version}.tar.gz" },
//	      archive_dir = "lnd-linux-amd64-v{version}",
//	      manifest = "https://github.com/lightningnetwork/lnd/releases/download/v{version}/manifest-v{version}.txt",
//	      signature = "https://github.com/lightningnetwork/lnd/releases/download/v{version}/manifest-roasbeef-v{version}.sig",
//	      binaries = { "lnd-linux-amd64-v{version}/lnd" },
//	    },
//	  },
//	}
//
// Unknown top-level fields are logged and ignored. BINPACK_WORK_DIR and
// BINPACK_RESOURCE_DIR override the directories after parsing.
package config
