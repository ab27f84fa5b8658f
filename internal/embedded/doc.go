// Package embedded installs the sqlite3 driver bundle taken from an
// embeddable Python distribution into a host installation directory.
//
// # Pipeline
//
// Pipeline.Install runs a strictly sequential chain:
//
//  1. Skip when the host is not the target platform or the native module
//     already loads.
//  2. Look up the InstallSpec for the host architecture.
//  3. Download the archive into a private working directory.
//  4. Verify it (MD5 and/or SHA256 digests, optional OpenPGP signature,
//     optional sigstore bundle).
//  5. Extract it and require every Target artifact at its root.
//  6. Copy the artifacts into the target directory.
//  7. Extract the single nested python*.zip and copy its sqlite3 tree.
//
// An attempt holds a lock file for the target directory, so a second attempt
// against the same target fails with ErrInstallInProgress. The lock and the
// working directory are removed and the progress display stopped on every
// exit path. Nothing is copied into the target until verification and the
// artifact check have passed, with one exception: the final tree copy is not
// staged, and its failure panics with *FatalError. Callers that prefer an
// error use RecoverFatal.
//
// # Security Model
//
// MD5 only guards against transfer corruption. Configure a SHA256 digest, a
// detached signature with a keyring, or a sigstore bundle with a trusted root
// to guard against a compromised download source. TLS verification is on
// unless DownloaderOptions.InsecureSkipVerify is set.
//
// # Usage
//
//	target := embedded.DefaultTarget(installDir)
//	pipe, err := embedded.NewPipeline(embedded.Config{
//	    Target:   target,
//	    Provider: config.NewEmbeddedConfig(configPath),
//	    Platform: platform.NewMatcher(platform.NewDetector(), ""),
//	    Probe:    probe.New(target),
//	})
//	if err != nil {
//	    return err
//	}
//
//	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
//	defer cancel()
//
//	defer embedded.RecoverFatal(&err)
//	result, err := pipe.Install(ctx)
package embedded
