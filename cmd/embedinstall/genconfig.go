package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/embedinstall/internal/config"
)

func newGenConfigCmd(a *app) *cobra.Command {
	var manifest, buildDir string

	cmd := &cobra.Command{
		Use:   "gen-config",
		Short: "Write embedded_config.json from the project manifest",
		Long: `Gen-config reads the embed tables of the project manifest and writes them to
<build-dir>/embedded_config/embedded_config.json.

Supported manifests:
  pyproject.toml   [tool.oxt.embed.32_bit] and [tool.oxt.embed.64_bit] tables
  embed.lua        a global table: embed = { ["32_bit"] = {...}, ["64_bit"] = {...} }

Without --manifest the current directory and its parents are searched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenConfig(cmd.Context(), a, manifest, buildDir)
		},
	}

	cmd.Flags().StringVar(&manifest, "manifest", "", "Path to pyproject.toml or embed.lua")
	cmd.Flags().StringVar(&buildDir, "build-dir", "build", "Build output directory")

	return cmd
}

func runGenConfig(ctx context.Context, a *app, manifest, buildDir string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if manifest == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
		manifest, err = config.FindManifest(cwd)
		if err != nil {
			return err
		}
	}

	logger := newLogger(a.stderr, a.verbose)
	defer logger.Sync()

	h := config.NewHarvester(logger)
	sections, err := h.Harvest(ctx, manifest)
	if err != nil {
		return err
	}

	path, err := h.Write(sections, buildDir)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "✓ Wrote %s (%d sections from %s)\n", path, len(sections), manifest)
	return nil
}
