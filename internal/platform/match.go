package platform

import (
	"context"
)

// DefaultTargetOS is the only operating system the embedded sqlite3 bundle
// exists for.
const DefaultTargetOS = "windows"

// Matcher answers "is this host the platform we install for?".
type Matcher struct {
	detector Detector
	targetOS string
}

// NewMatcher creates a Matcher for targetOS. An empty targetOS means
// DefaultTargetOS.
func NewMatcher(detector Detector, targetOS string) *Matcher {
	if targetOS == "" {
		targetOS = DefaultTargetOS
	}
	return &Matcher{detector: detector, targetOS: targetOS}
}

// IsTargetPlatform reports whether the detected host OS is the target OS.
// Detection errors count as "not the target".
func (m *Matcher) IsTargetPlatform(ctx context.Context) bool {
	info, err := m.Info(ctx)
	if err != nil {
		return false
	}
	return info.OS == m.targetOS
}

// Info returns the detected platform information.
func (m *Matcher) Info(ctx context.Context) (*Info, error) {
	return m.detector.Detect(ctx)
}

// TargetOS returns the operating system this matcher targets.
func (m *Matcher) TargetOS() string {
	return m.targetOS
}
