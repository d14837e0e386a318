package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// SilenceWindow is one silent interval reported by silencedetect,
// in seconds from the start of the file.
type SilenceWindow struct {
	Start float64
	End   float64
}

// Duration returns the window length in seconds.
func (w SilenceWindow) Duration() float64 { return w.End - w.Start }

// SpeechBounds is the first and last non-silent instant of a file.
type SpeechBounds struct {
	First float64
	Last  float64

	// AllSilent is set when silence covers the whole file.
	AllSilent bool
}

// edgeTolerance absorbs silencedetect rounding at the file edges: a
// silence window ending within this many seconds of the declared
// duration counts as running to the end.
const edgeTolerance = 0.1

// DetectSilence runs silencedetect over path and returns the silent
// windows. threshold is in dBFS (negative, e.g. -30), minDuration in
// seconds. silencedetect writes its findings to stderr; the decoded
// output itself is discarded.
func DetectSilence(ctx context.Context, ffmpegPath, path string, threshold float64, minDuration float64) ([]SilenceWindow, error) {
	filter := fmt.Sprintf("silencedetect=noise=%gdB:d=%g", threshold, minDuration)
	cmd := exec.CommandContext(ctx, ffmpegPath,
		"-hide_banner", "-nostats",
		"-i", path,
		"-af", filter,
		"-f", "null", "-",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("silencedetect on %s: %w: %s", path, err, tail(stderr.String(), 400))
	}
	return parseSilenceDetect(stderr.String()), nil
}

// parseSilenceDetect extracts silence windows from silencedetect
// stderr lines:
//
//	[silencedetect @ 0x...] silence_start: 12.345
//	[silencedetect @ 0x...] silence_end: 34.5 | silence_duration: 22.155
//
// A trailing silence_start without a matching end means silence runs to
// the end of the file; the window is closed by Bounds using the total
// duration.
func parseSilenceDetect(stderr string) []SilenceWindow {
	var windows []SilenceWindow
	var open *SilenceWindow

	for _, line := range strings.Split(stderr, "\n") {
		if idx := strings.Index(line, "silence_start:"); idx >= 0 {
			if v, ok := parseLeadingFloat(line[idx+len("silence_start:"):]); ok {
				open = &SilenceWindow{Start: v, End: -1}
			}
			continue
		}
		if idx := strings.Index(line, "silence_end:"); idx >= 0 {
			v, ok := parseLeadingFloat(line[idx+len("silence_end:"):])
			if !ok {
				continue
			}
			if open != nil {
				open.End = v
				windows = append(windows, *open)
				open = nil
			} else {
				// End without a start: silence from the very beginning.
				windows = append(windows, SilenceWindow{Start: 0, End: v})
			}
		}
	}
	if open != nil {
		windows = append(windows, *open)
	}
	return windows
}

// Bounds derives the first and last non-silent instants from the
// detected windows and the total duration.
func Bounds(windows []SilenceWindow, totalDuration float64) SpeechBounds {
	b := SpeechBounds{First: 0, Last: totalDuration}
	if len(windows) == 0 {
		return b
	}

	first := windows[0]
	last := windows[len(windows)-1]
	if last.End < 0 {
		// Unterminated window runs to the end of the file.
		last.End = totalDuration
	}

	if first.Start <= edgeTolerance {
		b.First = first.End
	}
	if last.End >= totalDuration-edgeTolerance {
		b.Last = last.Start
	}

	if b.First >= b.Last {
		return SpeechBounds{AllSilent: true}
	}
	return b
}

// parseLeadingFloat parses the first whitespace-delimited token of s.
func parseLeadingFloat(s string) (float64, bool) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// tail returns the last n bytes of s, for error messages.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
