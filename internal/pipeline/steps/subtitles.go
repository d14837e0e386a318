package steps

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/providers"
	"github.com/jmylchreest/recarr/internal/recerr"
)

// GenerateSubtitles renders subtitle files from the persisted transcript
// segments into the recording's transcription directory, one file per
// configured format.
func (e *Env) GenerateSubtitles(ctx context.Context, req Request) (models.JSONMap, error) {
	rec, err := e.loadRecording(ctx, req)
	if err != nil {
		return nil, err
	}
	if rec.TranscriptionDir == "" {
		return nil, recerr.New(recerr.KindTerminal, "recording %d has no transcript", rec.ID)
	}

	master, err := readMaster(rec.TranscriptionDir)
	if err != nil {
		return nil, err
	}
	if len(master.Segments) == 0 {
		return nil, recerr.New(recerr.KindTerminal, "recording %d transcript has no segments", rec.ID)
	}

	res, err := e.ResolveConfigs(ctx, rec, req.Override)
	if err != nil {
		return nil, err
	}
	formats := res.Processing.Transcription.SubtitleFormatsValue()

	stage, err := e.beginStage(ctx, rec.ID, models.StageGenerateSubtitles)
	if err != nil {
		return nil, err
	}
	e.clearOwnFailure(ctx, rec, "generate_subtitles")

	timing := e.startTiming(ctx, rec.ID, "generate_subtitles", "")
	paths := make([]string, 0, len(formats))
	for _, f := range formats {
		rendered, rerr := renderSubtitles(master.Segments, f)
		if rerr != nil {
			e.finishTiming(ctx, timing, "failed", rerr)
			return nil, rerr
		}
		path := filepath.Join(rec.TranscriptionDir, "subtitles."+f)
		if werr := writeFileAtomic(path, []byte(rendered)); werr != nil {
			e.finishTiming(ctx, timing, "failed", werr)
			return nil, recerr.Wrap(recerr.KindTransient, werr, "writing %s subtitles", f)
		}
		paths = append(paths, path)
	}
	e.finishTiming(ctx, timing, "completed", nil)

	meta := models.JSONMap{"paths": paths}
	if err := e.completeStage(ctx, stage, meta); err != nil {
		return nil, err
	}

	e.logger().Info("subtitles generated",
		slog.Int64("recording_id", rec.ID),
		slog.Any("formats", formats),
	)
	return result(rec, "subtitles_generated"), nil
}

// renderSubtitles serialises segments into one subtitle format.
func renderSubtitles(segments []providers.Segment, format string) (string, error) {
	switch format {
	case "srt":
		return renderSRT(segments), nil
	case "vtt":
		return renderVTT(segments), nil
	default:
		return "", recerr.New(recerr.KindTerminal, "unsupported subtitle format %q", format)
	}
}

func renderSRT(segments []providers.Segment) string {
	var b strings.Builder
	n := 0
	for _, s := range segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		n++
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", n, srtTimestamp(s.Start), srtTimestamp(s.End), text)
	}
	return b.String()
}

func renderVTT(segments []providers.Segment) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, s := range segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "%s --> %s\n%s\n\n", vttTimestamp(s.Start), vttTimestamp(s.End), text)
	}
	return b.String()
}

// srtTimestamp renders HH:MM:SS,mmm.
func srtTimestamp(seconds float64) string {
	h, m, s, ms := splitTimestamp(seconds)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// vttTimestamp renders HH:MM:SS.mmm.
func vttTimestamp(seconds float64) string {
	h, m, s, ms := splitTimestamp(seconds)
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

func splitTimestamp(seconds float64) (h, m, s, ms int) {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	ms = int((seconds - float64(total)) * 1000)
	return total / 3600, (total % 3600) / 60, total % 60, ms
}
