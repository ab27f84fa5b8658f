package embedded

import (
	"crypto/md5" //nolint:gosec // corruption detection, not tamper resistance
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
	"github.com/sigstore/sigstore-go/pkg/bundle"
	"github.com/sigstore/sigstore-go/pkg/root"
	"github.com/sigstore/sigstore-go/pkg/verify"
)

// Algorithm names a digest algorithm.
type Algorithm string

const (
	// AlgorithmMD5 only detects transfer corruption; it is what the
	// embedded config carries.
	AlgorithmMD5 Algorithm = "md5"
	// AlgorithmSHA256 is the recommended digest.
	AlgorithmSHA256 Algorithm = "sha256"
)

func (a Algorithm) method() VerificationMethod {
	switch a {
	case AlgorithmMD5:
		return VerificationMD5
	case AlgorithmSHA256:
		return VerificationSHA256
	default:
		return VerificationNone
	}
}

func (a Algorithm) newHash() (hash.Hash, error) {
	switch a {
	case AlgorithmMD5:
		return md5.New(), nil //nolint:gosec
	case AlgorithmSHA256:
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("unsupported digest algorithm: %q", string(a))
	}
}

// Identity is the expected signer of a sigstore bundle.
type Identity struct {
	// Issuer is the OIDC issuer, e.g. https://token.actions.githubusercontent.com
	Issuer string
	// SubjectRegex matches the certificate SAN.
	SubjectRegex string
}

// VerifierOptions configures the optional authenticity checks.
type VerifierOptions struct {
	// KeyringPath is an OpenPGP public keyring (armored or binary) used for
	// detached signature checks.
	KeyringPath string
	// TrustedRootPath is a sigstore trusted_root.json used for bundle checks.
	TrustedRootPath string
	Identity        Identity
}

// Verifier checks downloaded archives.
type Verifier struct {
	keyringPath     string
	trustedRootPath string
	identity        Identity
}

// NewVerifier creates a new verifier
func NewVerifier(opts VerifierOptions) *Verifier {
	return &Verifier{
		keyringPath:     opts.KeyringPath,
		trustedRootPath: opts.TrustedRootPath,
		identity:        opts.Identity,
	}
}

// Digest returns the hex-encoded digest of the file at path.
func Digest(path string, algo Algorithm) (string, error) {
	hasher, err := algo.newHash()
	if err != nil {
		return "", err
	}

	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// VerifyDigest compares the file digest against expected. The comparison is
// exact: case and format must match the configured value.
func (v *Verifier) VerifyDigest(path string, algo Algorithm, expected string) *VerificationResult {
	result := &VerificationResult{Method: algo.method(), Expected: expected}

	actual, err := Digest(path, algo)
	if err != nil {
		result.Error = fmt.Errorf("calculate %s: %w", algo, err)
		return result
	}
	result.Actual = actual

	if actual != expected {
		result.Error = fmt.Errorf("%s mismatch:\nactual:   %s\nexpected: %s", algo, actual, expected)
		return result
	}

	result.Success = true
	return result
}

// CanVerifySignature reports whether a keyring is configured.
func (v *Verifier) CanVerifySignature() bool {
	return v.keyringPath != ""
}

// VerifySignature checks a detached OpenPGP signature over the file at path.
func (v *Verifier) VerifySignature(path, signaturePath string) *VerificationResult {
	result := &VerificationResult{Method: VerificationGPG}

	keyring, err := loadKeyring(v.keyringPath)
	if err != nil {
		result.Error = fmt.Errorf("load keyring: %w", err)
		return result
	}

	file, err := os.Open(path)
	if err != nil {
		result.Error = fmt.Errorf("open archive: %w", err)
		return result
	}
	defer file.Close()

	sigFile, err := os.Open(signaturePath)
	if err != nil {
		result.Error = fmt.Errorf("open signature: %w", err)
		return result
	}
	defer sigFile.Close()

	_, err = openpgp.CheckArmoredDetachedSignature(keyring, file, sigFile, nil)
	if err != nil {
		// Try non-armored signature
		file.Seek(0, io.SeekStart)
		sigFile.Seek(0, io.SeekStart)
		_, err = openpgp.CheckDetachedSignature(keyring, file, sigFile, nil)
	}
	if err != nil {
		result.Error = fmt.Errorf("verify signature: %w", err)
		return result
	}

	result.Success = true
	return result
}

// CanVerifyBundle reports whether a sigstore trusted root and signer
// identity are configured.
func (v *Verifier) CanVerifyBundle() bool {
	return v.trustedRootPath != "" && v.identity.Issuer != "" && v.identity.SubjectRegex != ""
}

// VerifyBundle checks a sigstore bundle over the file at path against the
// configured trusted root and identity.
func (v *Verifier) VerifyBundle(path, bundlePath string) *VerificationResult {
	result := &VerificationResult{Method: VerificationSigstore}

	b, err := bundle.LoadJSONFromPath(bundlePath)
	if err != nil {
		result.Error = fmt.Errorf("load bundle: %w", err)
		return result
	}

	trustedRoot, err := root.NewTrustedRootFromPath(v.trustedRootPath)
	if err != nil {
		result.Error = fmt.Errorf("load trusted root: %w", err)
		return result
	}

	sev, err := verify.NewVerifier(trustedRoot,
		verify.WithSignedCertificateTimestamps(1),
		verify.WithTransparencyLog(1),
		verify.WithObserverTimestamps(1),
	)
	if err != nil {
		result.Error = fmt.Errorf("create sigstore verifier: %w", err)
		return result
	}

	certID, err := verify.NewShortCertificateIdentity(v.identity.Issuer, "", "", v.identity.SubjectRegex)
	if err != nil {
		result.Error = fmt.Errorf("certificate identity: %w", err)
		return result
	}

	file, err := os.Open(path)
	if err != nil {
		result.Error = fmt.Errorf("open archive: %w", err)
		return result
	}
	defer file.Close()

	if _, err := sev.Verify(b, verify.NewPolicy(verify.WithArtifact(file), verify.WithCertificateIdentity(certID))); err != nil {
		result.Error = fmt.Errorf("verify bundle: %w", err)
		return result
	}

	result.Success = true
	return result
}

// loadKeyring reads an armored or binary OpenPGP keyring
func loadKeyring(path string) (openpgp.EntityList, error) {
	keyringFile, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	defer keyringFile.Close()

	keyring, err := openpgp.ReadArmoredKeyRing(keyringFile)
	if err != nil {
		keyringFile.Seek(0, io.SeekStart)
		keyring, err = openpgp.ReadKeyRing(keyringFile)
		if err != nil {
			return nil, fmt.Errorf("read keyring: %w", err)
		}
	}

	if len(keyring) == 0 {
		return nil, fmt.Errorf("keyring is empty")
	}

	return keyring, nil
}
