package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/embedinstall/internal/config"
	"github.com/ZebulonRouseFrantzich/embedinstall/internal/embedded"
	"github.com/ZebulonRouseFrantzich/embedinstall/internal/platform"
)

// app holds the global flags and output streams shared by all commands.
type app struct {
	stdout io.Writer
	stderr io.Writer

	targetDir     string
	configPath    string
	forcePlatform string
	verbose       bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	rootCmd := &cobra.Command{
		Use:   "embedinstall",
		Short: "Install the embedded sqlite3 driver bundle",
		Long: `embedinstall provisions the sqlite3 driver (_sqlite3.pyd, sqlite3.dll and the
sqlite3 package) from an embeddable Python distribution into an installation
directory, when the host needs it.

The download location comes from embedded_config.json, produced at build time
by 'embedinstall gen-config'.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	rootCmd.PersistentFlags().StringVar(&a.targetDir, "target", "", "Installation directory (env "+config.EnvTargetDir+")")
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to embedded_config.json (env "+config.EnvConfigPath+")")
	rootCmd.PersistentFlags().StringVar(&a.forcePlatform, "force-platform", "", "Pretend to run on os/arch, e.g. windows/386")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(newInstallCmd(a))
	rootCmd.AddCommand(newStatusCmd(a))
	rootCmd.AddCommand(newGenConfigCmd(a))

	return rootCmd
}

// target resolves the installation directory from the flag or environment.
func (a *app) target() (embedded.Target, error) {
	dir := a.targetDir
	if dir == "" {
		dir = os.Getenv(config.EnvTargetDir)
	}
	if dir == "" {
		return embedded.Target{}, fmt.Errorf("installation directory required: use --target or %s", config.EnvTargetDir)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return embedded.Target{}, fmt.Errorf("resolve target: %w", err)
	}
	return embedded.DefaultTarget(abs), nil
}

// configFile resolves the embedded config path: flag, environment, then
// <target>/embedded_config/embedded_config.json.
func (a *app) configFile(target embedded.Target) string {
	if a.configPath != "" {
		return a.configPath
	}
	if env := os.Getenv(config.EnvConfigPath); env != "" {
		return env
	}
	return filepath.Join(target.Dir, config.EmbeddedConfigDir, config.EmbeddedConfigFile)
}

// matcher returns the platform matcher, honouring --force-platform.
func (a *app) matcher() (*platform.Matcher, error) {
	if a.forcePlatform == "" {
		return platform.NewMatcher(platform.NewDetector(), ""), nil
	}

	info, err := parsePlatform(a.forcePlatform)
	if err != nil {
		return nil, err
	}
	return platform.NewMatcher(&platform.StaticDetector{Info: info}, ""), nil
}

// parsePlatform parses "os/arch". The arch accepts the same spellings as
// detection (x64, x86_64, i686, ...) and is normalized.
func parsePlatform(s string) (*platform.Info, error) {
	osName, rawArch, ok := strings.Cut(s, "/")
	if !ok || osName == "" || rawArch == "" {
		return nil, fmt.Errorf("invalid platform %q: expected os/arch", s)
	}
	arch, err := platform.ParseArch(rawArch)
	if err != nil {
		return nil, fmt.Errorf("invalid platform %q: %w", s, err)
	}
	return &platform.Info{
		OS:      strings.ToLower(osName),
		Arch:    arch,
		ArchRaw: rawArch,
	}, nil
}
