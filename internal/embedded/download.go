package embedded

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 5 * time.Minute
	// DefaultRetries is zero: a failed fetch fails the attempt and the
	// caller re-runs Install.
	DefaultRetries = 0
	// DefaultUserAgent is the User-Agent header sent with requests
	DefaultUserAgent = "embedinstall/1.0"
	// DefaultMaxSize bounds a downloaded body. Embeddable Python
	// distributions are around 10 MB.
	DefaultMaxSize int64 = 512 << 20
	// maxRedirects caps redirect chains
	maxRedirects = 10
	// maxPreallocate caps the buffer reserved from Content-Length.
	maxPreallocate int64 = 32 << 20
)

// ErrTooLarge is returned by Fetch when the body exceeds the size limit.
var ErrTooLarge = errors.New("response body exceeds size limit")

// DownloaderOptions configures a Downloader.
type DownloaderOptions struct {
	// InsecureSkipVerify disables TLS certificate verification. Off by
	// default; turning it on must be an explicit choice of the caller.
	InsecureSkipVerify bool
	// Timeout bounds a single request. Zero means DefaultTimeout.
	Timeout time.Duration
	// Retries is the number of extra attempts after a failed fetch.
	Retries int
	// UserAgent overrides DefaultUserAgent.
	UserAgent string
	// MaxSize bounds the body held in memory. Zero means DefaultMaxSize.
	MaxSize int64
}

// Downloader fetches the archive over HTTP(S) and persists it to disk.
type Downloader struct {
	client    *http.Client
	userAgent string
	retries   int
	insecure  bool
	maxSize   int64
}

// NewDownloader creates a new downloader
func NewDownloader(opts DownloaderOptions) *Downloader {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	maxSize := opts.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // explicit opt-in
	}

	return &Downloader{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		userAgent: userAgent,
		retries:   opts.Retries,
		insecure:  opts.InsecureSkipVerify,
		maxSize:   maxSize,
	}
}

// Insecure reports whether TLS verification is disabled.
func (d *Downloader) Insecure() bool {
	return d.insecure
}

// Fetch downloads url into memory. When sink is non-nil every received
// byte is also written to it (progress display).
func (d *Downloader) Fetch(ctx context.Context, url string, sink io.Writer) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= d.retries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if attempt > 0 {
			// Exponential backoff: 1s, 2s, 4s
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		data, err := d.fetchOnce(ctx, url, sink)
		if err == nil {
			return data, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	if d.retries == 0 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("fetch failed after %d retries: %w", d.retries, lastErr)
}

// fetchOnce performs a single request
func (d *Downloader) fetchOnce(ctx context.Context, url string, sink io.Writer) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if resp.ContentLength > d.maxSize {
		return nil, fmt.Errorf("%w: content length %d, limit %d", ErrTooLarge, resp.ContentLength, d.maxSize)
	}

	var buf bytes.Buffer
	if resp.ContentLength > 0 {
		buf.Grow(int(min(resp.ContentLength, maxPreallocate)))
	}

	var dst io.Writer = &buf
	if sink != nil {
		dst = io.MultiWriter(&buf, sink)
	}

	// One byte past the limit tells an oversized body from an exact fit.
	n, err := io.Copy(dst, io.LimitReader(resp.Body, d.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if n > d.maxSize {
		return nil, fmt.Errorf("%w: limit %d", ErrTooLarge, d.maxSize)
	}

	return buf.Bytes(), nil
}

// Persist writes data to destPath atomically (temp file, then rename).
func (d *Downloader) Persist(data []byte, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("create dest dir: %w", err)
	}

	tmpPath := destPath + ".tmp"
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	cleanupNeeded := true
	defer func() {
		tmpFile.Close()
		if cleanupNeeded {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	cleanupNeeded = false
	return nil
}

// DownloadToFile fetches url and persists it at destPath. It is used for
// the small side files (signatures, bundles).
func (d *Downloader) DownloadToFile(ctx context.Context, url, destPath string) error {
	data, err := d.Fetch(ctx, url, nil)
	if err != nil {
		return err
	}
	return d.Persist(data, destPath)
}

// fileExists checks if a file exists and is not a directory
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if a directory exists
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
