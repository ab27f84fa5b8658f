package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/embedinstall/internal/config"
	"github.com/ZebulonRouseFrantzich/embedinstall/internal/embedded"
	"github.com/ZebulonRouseFrantzich/embedinstall/internal/probe"
)

type installOptions struct {
	progress     bool
	insecure     bool
	timeout      time.Duration
	retries      int
	keyring      string
	trustedRoot  string
	issuer       string
	subjectRegex string
}

func newInstallCmd(a *app) *cobra.Command {
	opts := &installOptions{}

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Download and install the sqlite3 bundle if needed",
		Long: `Install checks whether the sqlite3 driver can be loaded from the installation
directory and, if not, downloads the embeddable Python archive described by
embedded_config.json, verifies it and copies the driver files into place.

Examples:
  embedinstall install --target "C:\Program Files\ext"
  embedinstall install --timeout 2m --keyring release-keys.asc
  embedinstall install --force-platform windows/386 --progress=false`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(cmd.Context(), a, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.progress, "progress", true, "Show a progress display while installing")
	cmd.Flags().BoolVar(&opts.insecure, "insecure", false, "Disable TLS certificate verification for downloads")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Minute, "Deadline for the whole installation")
	cmd.Flags().IntVar(&opts.retries, "retries", embedded.DefaultRetries, "Extra download attempts after a failure")
	cmd.Flags().StringVar(&opts.keyring, "keyring", "", "OpenPGP public keyring for detached signature checks")
	cmd.Flags().StringVar(&opts.trustedRoot, "trusted-root", "", "Sigstore trusted_root.json for bundle checks")
	cmd.Flags().StringVar(&opts.issuer, "issuer", "https://token.actions.githubusercontent.com", "Expected OIDC issuer of the sigstore signer")
	cmd.Flags().StringVar(&opts.subjectRegex, "subject-regex", "", "Regular expression the sigstore certificate SAN must match")

	return cmd
}

func runInstall(ctx context.Context, a *app, opts *installOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	target, err := a.target()
	if err != nil {
		return err
	}

	matcher, err := a.matcher()
	if err != nil {
		return err
	}

	logger := newLogger(a.stderr, a.verbose)
	defer logger.Sync()

	pipe, err := embedded.NewPipeline(embedded.Config{
		Target:   target,
		Provider: config.NewEmbeddedConfig(a.configFile(target)),
		Platform: matcher,
		Probe:    probe.New(target),
		Downloader: embedded.NewDownloader(embedded.DownloaderOptions{
			InsecureSkipVerify: opts.insecure,
			Retries:            opts.retries,
			UserAgent:          fmt.Sprintf("embedinstall/%s", Version),
		}),
		Verifier: embedded.NewVerifier(embedded.VerifierOptions{
			KeyringPath:     opts.keyring,
			TrustedRootPath: opts.trustedRoot,
			Identity: embedded.Identity{
				Issuer:       opts.issuer,
				SubjectRegex: opts.subjectRegex,
			},
		}),
		Logger:       logger,
		ShowProgress: opts.progress,
		ProgressOut:  a.stderr,
	})
	if err != nil {
		return err
	}

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	result, err := pipe.Install(ctx)
	if err != nil {
		return err
	}

	if result.Skipped {
		fmt.Fprintln(a.stdout, "Nothing to do.")
		return nil
	}

	fmt.Fprintf(a.stdout, "✓ sqlite3 installed into %s (%s)\n", target.Dir, result.Duration.Round(time.Millisecond))
	for _, path := range result.Installed {
		fmt.Fprintf(a.stdout, "  %s\n", path)
	}
	return nil
}
