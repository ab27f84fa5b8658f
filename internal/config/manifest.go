package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	lua "github.com/yuin/gopher-lua"
)

// Sections holds the harvested embed metadata: section name to its
// key/value pairs, copied verbatim from the manifest.
type Sections map[string]map[string]interface{}

// requiredSections must be present in every manifest.
var requiredSections = []string{Section32Bit, Section64Bit}

// pyproject mirrors the part of pyproject.toml the harvester reads:
//
//	[tool.oxt.embed.64_bit]
//	url = "https://..."
//	md5 = "..."
type pyproject struct {
	Tool struct {
		Oxt struct {
			Embed map[string]map[string]interface{} `toml:"embed"`
		} `toml:"oxt"`
	} `toml:"tool"`
}

// Harvester copies embed metadata out of a project manifest into
// embedded_config.json at build time.
type Harvester struct {
	logger Logger
}

// NewHarvester creates a harvester. A nil logger discards output.
func NewHarvester(logger Logger) *Harvester {
	return &Harvester{logger: orNop(logger)}
}

// Harvest reads the manifest at path. The format is chosen by extension:
// .toml or .lua.
func (h *Harvester) Harvest(ctx context.Context, path string) (Sections, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var sections Sections
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		sections, err = parseTOMLManifest(data)
	case ".lua":
		sections, err = parseLuaManifest(ctx, string(data))
	default:
		return nil, fmt.Errorf("unsupported manifest format: %s", filepath.Base(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	for _, name := range requiredSections {
		if _, ok := sections[name]; !ok {
			return nil, fmt.Errorf("manifest %s: missing embed section %q", path, name)
		}
	}

	h.logger.Debug("harvested embed metadata", "manifest", path, "sections", len(sections))
	return sections, nil
}

// Write stores sections as <buildDir>/embedded_config/embedded_config.json,
// creating the directory when needed, and returns the file path.
func (h *Harvester) Write(sections Sections, buildDir string) (string, error) {
	dir := filepath.Join(buildDir, EmbeddedConfigDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(sections, "", "    ")
	if err != nil {
		return "", fmt.Errorf("encode embedded config: %w", err)
	}

	path := filepath.Join(dir, EmbeddedConfigFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write embedded config: %w", err)
	}

	h.logger.Info("embedded config written", "path", path)
	return path, nil
}

// FindManifest walks from start towards the filesystem root and returns the
// first file matching one of names.
func FindManifest(start string, names ...string) (string, error) {
	if len(names) == 0 {
		names = []string{ManifestTOML, ManifestLua}
	}

	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolve start dir: %w", err)
	}

	for {
		for _, name := range names {
			candidate := filepath.Join(dir, name)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no manifest (%s) found above %s", strings.Join(names, ", "), start)
		}
		dir = parent
	}
}

func parseTOMLManifest(data []byte) (Sections, error) {
	var doc pyproject
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	if len(doc.Tool.Oxt.Embed) == 0 {
		return nil, fmt.Errorf("no [tool.oxt.embed] table")
	}
	return Sections(doc.Tool.Oxt.Embed), nil
}

// parseLuaManifest runs the manifest in a sandboxed VM and reads the global
// embed table:
//
//	embed = {
//	  ["64_bit"] = { url = "https://...", md5 = "..." },
//	}
func parseLuaManifest(ctx context.Context, code string) (Sections, error) {
	L := newSandboxedVM()
	defer L.Close()
	L.SetContext(ctx)

	if err := L.DoString(code); err != nil {
		return nil, fmt.Errorf("lua error: %w", err)
	}

	embedVal := L.GetGlobal(luaGlobalEmbed)
	embedTable, ok := embedVal.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("missing or invalid '%s' table: got %s", luaGlobalEmbed, embedVal.Type())
	}

	sections := make(Sections)
	var convErr error
	embedTable.ForEach(func(key, value lua.LValue) {
		if convErr != nil {
			return
		}
		name, ok := key.(lua.LString)
		if !ok {
			convErr = fmt.Errorf("embed section key must be a string, got %s", key.Type())
			return
		}
		entry, ok := value.(*lua.LTable)
		if !ok {
			convErr = fmt.Errorf("embed section %s must be a table, got %s", name, value.Type())
			return
		}
		fields, err := luaTableFields(entry)
		if err != nil {
			convErr = fmt.Errorf("embed section %s: %w", name, err)
			return
		}
		sections[string(name)] = fields
	})
	if convErr != nil {
		return nil, convErr
	}

	return sections, nil
}

func luaTableFields(t *lua.LTable) (map[string]interface{}, error) {
	fields := make(map[string]interface{})
	var convErr error
	t.ForEach(func(key, value lua.LValue) {
		if convErr != nil {
			return
		}
		name, ok := key.(lua.LString)
		if !ok {
			convErr = fmt.Errorf("field key must be a string, got %s", key.Type())
			return
		}
		switch v := value.(type) {
		case lua.LString:
			fields[string(name)] = string(v)
		case lua.LNumber:
			fields[string(name)] = float64(v)
		case lua.LBool:
			fields[string(name)] = bool(v)
		default:
			convErr = fmt.Errorf("field %s: unsupported value type %s", name, value.Type())
		}
	})
	if convErr != nil {
		return nil, convErr
	}

	if _, ok := fields[luaFieldURL]; !ok {
		return nil, fmt.Errorf("missing %q field", luaFieldURL)
	}
	if _, ok := fields[luaFieldMD5]; !ok {
		fields[luaFieldMD5] = ""
	}
	return fields, nil
}
