package main

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/embedinstall/internal/config"
	"github.com/ZebulonRouseFrantzich/embedinstall/internal/output"
	"github.com/ZebulonRouseFrantzich/embedinstall/internal/probe"
)

func newStatusCmd(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the sqlite3 bundle is installed",
		Long:  `Status reports the detected platform, the configured download and the state of each installed file. It never writes anything.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := output.ParseFormat(format)
			if err != nil {
				return err
			}
			return runStatus(cmd.Context(), a, f)
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", "text", "Output format: text, json, yaml")
	_ = cmd.RegisterFlagCompletionFunc("output", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"text", "json", "yaml"}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runStatus(ctx context.Context, a *app, format output.Format) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	target, err := a.target()
	if err != nil {
		return err
	}

	matcher, err := a.matcher()
	if err != nil {
		return err
	}

	report := &output.StatusReport{Target: target.Dir}

	section := config.Section64Bit
	if info, err := matcher.Info(ctx); err == nil {
		report.OS = info.OS
		report.Arch = info.Arch
		report.Host = strings.TrimSpace(info.Product + " " + info.Version)
		report.Emulated = info.Emulated()
		section = info.BitKey()
	}
	report.TargetPlatform = matcher.IsTargetPlatform(ctx)

	prober := probe.New(target)
	report.Artifacts = prober.Status(ctx)
	report.Installed = prober.CanLoad(ctx)
	report.NeedsInstall = report.TargetPlatform && !report.Installed

	report.Config = a.configFile(target)
	report.Section = section
	spec, err := config.NewEmbeddedConfig(report.Config).Spec(section)
	if err != nil {
		report.ConfigError = err.Error()
	} else {
		report.URL = spec.URL
	}

	return output.NewWriter(a.stdout, format).Write(report)
}
