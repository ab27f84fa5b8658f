package config

// Section keys of the embedded config, one per target bitness.
const (
	Section32Bit = "32_bit"
	Section64Bit = "64_bit"
)

// File and directory names produced by the build-time harvester.
const (
	EmbeddedConfigDir  = "embedded_config"
	EmbeddedConfigFile = "embedded_config.json"
)

// Manifest names searched for in parent directories, in order.
const (
	ManifestTOML = "pyproject.toml"
	ManifestLua  = "embed.lua"
)

// Lua manifest globals and fields
const (
	luaGlobalEmbed = "embed"
	luaFieldURL    = "url"
	luaFieldMD5    = "md5"
)

// Environment variables read by the command line.
const (
	EnvConfigPath = "EMBEDINSTALL_CONFIG"
	EnvTargetDir  = "EMBEDINSTALL_TARGET"
)
