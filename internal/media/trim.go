package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// ExtractAudio extracts the audio track of videoPath into audioPath,
// re-encoded to AAC so any source codec fits the m4a container.
func ExtractAudio(ctx context.Context, ffmpegPath, videoPath, audioPath string) error {
	return runFFmpeg(ctx, ffmpegPath,
		"-y",
		"-i", videoPath,
		"-vn",
		"-c:a", "aac",
		"-b:a", "160k",
		audioPath,
	)
}

// TrimCopy cuts [start, end] seconds out of inPath into outPath using
// stream copy, so trimming never re-encodes. The seek sits before the
// input for keyframe-aligned fast seeking.
func TrimCopy(ctx context.Context, ffmpegPath, inPath, outPath string, start, end float64) error {
	if end <= start {
		return fmt.Errorf("trim window [%g, %g] is empty", start, end)
	}
	return runFFmpeg(ctx, ffmpegPath,
		"-y",
		"-ss", fmt.Sprintf("%.3f", start),
		"-i", inPath,
		"-t", fmt.Sprintf("%.3f", end-start),
		"-c", "copy",
		"-avoid_negative_ts", "make_zero",
		outPath,
	)
}

func runFFmpeg(ctx context.Context, ffmpegPath string, args ...string) error {
	cmd := exec.CommandContext(ctx, ffmpegPath, append([]string{"-hide_banner", "-nostats"}, args...)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg %s: %w: %s", args[len(args)-1], err, tail(stderr.String(), 400))
	}
	return nil
}
