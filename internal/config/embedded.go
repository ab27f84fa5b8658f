package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

// ErrNoEntry is returned when the embedded config has no entry for the
// requested section.
var ErrNoEntry = errors.New("no embedded config entry")

// InstallSpec describes the one archive the embedded installer knows how to
// fetch. An empty digest means that digest is not checked.
type InstallSpec struct {
	URL    string `json:"url"`
	MD5    string `json:"md5"`
	SHA256 string `json:"sha256,omitempty"`
	// SignatureURL points at a detached OpenPGP signature of the archive.
	SignatureURL string `json:"signature_url,omitempty"`
	// BundleURL points at a sigstore bundle for the archive.
	BundleURL string `json:"bundle_url,omitempty"`
}

// Validate checks that s can be used for a download.
func (s *InstallSpec) Validate() error {
	if s.URL == "" {
		return fmt.Errorf("embedded config entry has no url")
	}
	return nil
}

// Provider supplies the InstallSpec for a config section ("32_bit" or "64_bit").
type Provider interface {
	Spec(section string) (*InstallSpec, error)
}

// EmbeddedConfig reads embedded_config.json. The file is read on first use
// and cached for the lifetime of the value; construct one per process and
// pass it to whoever needs it.
type EmbeddedConfig struct {
	path string

	mu       sync.Mutex
	sections map[string]InstallSpec
}

// NewEmbeddedConfig creates a provider backed by the JSON file at path.
func NewEmbeddedConfig(path string) *EmbeddedConfig {
	return &EmbeddedConfig{path: path}
}

// Path returns the file the provider reads.
func (c *EmbeddedConfig) Path() string {
	return c.path
}

// Spec returns the entry for section. A file holding a single flat
// {"url","md5"} object serves every section.
func (c *EmbeddedConfig) Spec(section string) (*InstallSpec, error) {
	sections, err := c.load()
	if err != nil {
		return nil, err
	}

	spec, ok := sections[section]
	if !ok {
		spec, ok = sections[""]
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoEntry, section)
	}

	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("section %s: %w", section, err)
	}
	return &spec, nil
}

func (c *EmbeddedConfig) load() (map[string]InstallSpec, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sections != nil {
		return c.sections, nil
	}

	if c.path == "" {
		return nil, fmt.Errorf("embedded config path is empty")
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("read embedded config: %w", err)
	}

	sections, err := ParseEmbeddedConfig(data)
	if err != nil {
		return nil, fmt.Errorf("parse embedded config %s: %w", c.path, err)
	}

	c.sections = sections
	return sections, nil
}

// ParseEmbeddedConfig decodes embedded config JSON. Sectioned files map
// section names to specs; a flat object is stored under the empty key.
func ParseEmbeddedConfig(data []byte) (map[string]InstallSpec, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	if _, flat := raw[luaFieldURL]; flat {
		var spec InstallSpec
		if err := json.Unmarshal(data, &spec); err != nil {
			return nil, err
		}
		return map[string]InstallSpec{"": spec}, nil
	}

	sections := make(map[string]InstallSpec, len(raw))
	for name, body := range raw {
		var spec InstallSpec
		if err := json.Unmarshal(body, &spec); err != nil {
			return nil, fmt.Errorf("section %s: %w", name, err)
		}
		sections[name] = spec
	}

	if len(sections) == 0 {
		return nil, fmt.Errorf("embedded config has no sections")
	}
	return sections, nil
}
