// Package config loads the embedded installation configuration and produces it
// at build time.
//
// # Runtime
//
// EmbeddedConfig reads embedded_config.json once and answers per-section
// lookups. Sections are keyed by pointer width ("32_bit", "64_bit") and hold an
// InstallSpec: the archive URL and its MD5 digest, plus the optional SHA256,
// detached signature and sigstore bundle locations.
//
//	cfg := config.NewEmbeddedConfig(path)
//	spec, err := cfg.Spec(config.Section64Bit)
//
// A missing file, malformed JSON, an absent section or a section without url
// and md5 all surface as errors from Spec. Callers treat any of them as
// "configuration unavailable".
//
// # Build time
//
// Harvester reads the embed tables from the project manifest and writes them
// to <build>/embedded_config/embedded_config.json with a 4-space indent.
// Two manifest forms are accepted:
//
//	# pyproject.toml
//	[tool.oxt.embed.64_bit]
//	url = "https://example.org/python-3.12-embed-amd64.zip"
//	md5 = "..."
//
//	-- embed.lua
//	embed = {
//	  ["64_bit"] = { url = "https://example.org/python-3.12-embed-amd64.zip", md5 = "..." },
//	}
//
// # Security Model
//
// Lua manifests run in a sandboxed gopher-lua VM. The os, io, debug and module
// loading globals are removed, and execution is bounded by the caller's
// context. Only string, number and boolean fields are carried into the output.
package config
