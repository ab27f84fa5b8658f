// Package output renders command results as text, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ZebulonRouseFrantzich/embedinstall/internal/probe"
)

// Format represents an output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Writer handles output in the specified format.
type Writer struct {
	format Format
	w      io.Writer
}

// NewWriter creates a new output writer.
func NewWriter(w io.Writer, format Format) *Writer {
	return &Writer{format: format, w: w}
}

// Write outputs the given value in the configured format. Text output uses
// fmt.Stringer when v implements it.
func (w *Writer) Write(v interface{}) error {
	switch w.format {
	case FormatJSON:
		enc := json.NewEncoder(w.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		if s, ok := v.(fmt.Stringer); ok {
			_, err := fmt.Fprintln(w.w, s.String())
			return err
		}
		_, err := fmt.Fprintf(w.w, "%+v\n", v)
		return err
	}
}

// ParseFormat parses a format string into a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown format: %s", s)
	}
}

// StatusReport is the result of the status command.
type StatusReport struct {
	Target         string                 `json:"target" yaml:"target"`
	OS             string                 `json:"os" yaml:"os"`
	Arch           string                 `json:"arch" yaml:"arch"`
	Host           string                 `json:"host,omitempty" yaml:"host,omitempty"`
	Emulated       bool                   `json:"emulated,omitempty" yaml:"emulated,omitempty"`
	TargetPlatform bool                   `json:"target_platform" yaml:"target_platform"`
	Installed      bool                   `json:"installed" yaml:"installed"`
	NeedsInstall   bool                   `json:"needs_install" yaml:"needs_install"`
	Config         string                 `json:"config,omitempty" yaml:"config,omitempty"`
	Section        string                 `json:"section,omitempty" yaml:"section,omitempty"`
	URL            string                 `json:"url,omitempty" yaml:"url,omitempty"`
	ConfigError    string                 `json:"config_error,omitempty" yaml:"config_error,omitempty"`
	Artifacts      []probe.ArtifactStatus `json:"artifacts" yaml:"artifacts"`
}

// String renders the report for the text format.
func (r *StatusReport) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Target:   %s\n", r.Target)
	fmt.Fprintf(&b, "Platform: %s/%s", r.OS, r.Arch)
	if r.Emulated {
		b.WriteString(" (32-bit process on 64-bit host)")
	}
	if !r.TargetPlatform {
		b.WriteString(" (not a target platform)")
	}
	b.WriteString("\n")
	if r.Host != "" {
		fmt.Fprintf(&b, "Host:     %s\n", r.Host)
	}

	switch {
	case r.ConfigError != "":
		fmt.Fprintf(&b, "Config:   %s (%s)\n", r.Config, r.ConfigError)
	case r.Config != "":
		fmt.Fprintf(&b, "Config:   %s [%s] %s\n", r.Config, r.Section, r.URL)
	}

	b.WriteString("\n")
	for _, a := range r.Artifacts {
		symbol := "✓"
		if !a.Present {
			symbol = "✗"
		} else if !a.Loadable {
			symbol = "!"
		}
		fmt.Fprintf(&b, "  %s %s", symbol, a.Name)
		if a.Error != "" {
			fmt.Fprintf(&b, " (%s)", a.Error)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	switch {
	case r.Installed:
		b.WriteString("sqlite3 is installed.")
	case r.NeedsInstall:
		b.WriteString("sqlite3 is not installed. Run 'embedinstall install'.")
	default:
		b.WriteString("Nothing to install on this platform.")
	}

	return b.String()
}
