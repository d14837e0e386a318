// Package media wraps the FFmpeg toolchain: binary detection, stream
// probing, silence detection, stream-copy trimming, process resource
// monitoring, and thumbnail preparation.
package media

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/recarr/internal/util"
)

// Toolchain contains the detected FFmpeg/FFprobe installation.
type Toolchain struct {
	FFmpegPath   string `json:"ffmpeg_path"`
	FFprobePath  string `json:"ffprobe_path"`
	Version      string `json:"version"`
	MajorVersion int    `json:"major_version"`
	MinorVersion int    `json:"minor_version"`
}

// Detector handles detection and caching of FFmpeg binaries.
// Configured paths win over auto-detection; detection results are
// cached for the TTL so steps don't shell out on every task.
type Detector struct {
	ffmpegPath  string
	ffprobePath string

	mu           sync.RWMutex
	info         *Toolchain
	lastDetected time.Time
	cacheTTL     time.Duration
}

// NewDetector creates a binary detector. Empty paths mean auto-detect
// (RECARR_FFMPEG_BINARY / RECARR_FFPROBE_BINARY env vars, then the
// working directory, then PATH).
func NewDetector(ffmpegPath, ffprobePath string) *Detector {
	return &Detector{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		cacheTTL:    5 * time.Minute,
	}
}

// WithCacheTTL sets the cache TTL for binary detection.
func (d *Detector) WithCacheTTL(ttl time.Duration) *Detector {
	d.cacheTTL = ttl
	return d
}

// Detect locates the FFmpeg and FFprobe binaries and reads the version.
func (d *Detector) Detect(ctx context.Context) (*Toolchain, error) {
	d.mu.RLock()
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		info := d.info
		d.mu.RUnlock()
		return info, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	// Double-check after acquiring write lock
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		return d.info, nil
	}

	info, err := d.detect(ctx)
	if err != nil {
		return nil, err
	}

	d.info = info
	d.lastDetected = time.Now()
	return info, nil
}

// Clear clears the cached binary information.
func (d *Detector) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.info = nil
}

func (d *Detector) detect(ctx context.Context) (*Toolchain, error) {
	info := &Toolchain{}

	ffmpegPath := d.ffmpegPath
	if ffmpegPath == "" {
		var err error
		ffmpegPath, err = util.FindBinary("ffmpeg", "RECARR_FFMPEG_BINARY")
		if err != nil {
			return nil, fmt.Errorf("ffmpeg not found: %w", err)
		}
	}
	info.FFmpegPath = ffmpegPath

	// ffprobe is required here: the pipeline probes every download.
	ffprobePath := d.ffprobePath
	if ffprobePath == "" {
		var err error
		ffprobePath, err = util.FindBinary("ffprobe", "RECARR_FFPROBE_BINARY")
		if err != nil {
			return nil, fmt.Errorf("ffprobe not found: %w", err)
		}
	}
	info.FFprobePath = ffprobePath

	cmd := exec.CommandContext(ctx, ffmpegPath, "-version")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("getting ffmpeg version: %w", err)
	}
	version, err := parseVersion(string(output))
	if err != nil {
		return nil, err
	}
	info.Version = version.full
	info.MajorVersion = version.major
	info.MinorVersion = version.minor

	return info, nil
}

type versionInfo struct {
	full  string
	major int
	minor int
}

var versionRe = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

// parseVersion extracts the version from `ffmpeg -version` output.
// Handles "ffmpeg version 6.0 ...", "n6.0-2-g..." and "6.0.1" forms.
func parseVersion(output string) (*versionInfo, error) {
	for _, line := range strings.Split(output, "\n") {
		if !strings.HasPrefix(line, "ffmpeg version") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 3 {
			continue
		}
		info := &versionInfo{full: parts[2]}
		if matches := versionRe.FindStringSubmatch(parts[2]); len(matches) >= 3 {
			info.major, _ = strconv.Atoi(matches[1])
			info.minor, _ = strconv.Atoi(matches[2])
		}
		return info, nil
	}
	return nil, fmt.Errorf("failed to parse ffmpeg version")
}
