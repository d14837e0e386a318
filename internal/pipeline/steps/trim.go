package steps

import (
	"context"
	"log/slog"
	"os"

	"github.com/jmylchreest/recarr/internal/artifacts"
	"github.com/jmylchreest/recarr/internal/media"
	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/recerr"
	"github.com/jmylchreest/recarr/internal/resolve"
	"github.com/jmylchreest/recarr/internal/status"
)

// Trim removes leading and trailing silence. It extracts an audio track,
// detects silence windows on it, and cuts both the video and the audio
// to the detected speech bounds with configurable padding. A recording
// that is silence-free (or entirely silent) keeps its raw video as the
// processed video and only gains the extracted audio.
func (e *Env) Trim(ctx context.Context, req Request) (models.JSONMap, error) {
	rec, err := e.loadRecording(ctx, req)
	if err != nil {
		return nil, err
	}
	user, err := e.loadUser(ctx, rec.UserID)
	if err != nil {
		return nil, err
	}
	if rec.OnPause {
		return result(rec, "paused"), nil
	}
	if !status.AllowRun(rec, models.Now()) {
		return nil, recerr.New(recerr.KindAdmission, "recording %d not runnable in status %s", rec.ID, rec.Status)
	}
	if !artifacts.FileExists(rec.LocalVideoPath) {
		return nil, recerr.NotFound("local video file")
	}

	res, err := e.ResolveConfigs(ctx, rec, req.Override)
	if err != nil {
		return nil, err
	}
	trimCfg := res.Processing.Trimming

	tc, err := e.FFmpeg.Detect(ctx)
	if err != nil {
		return nil, recerr.Wrap(recerr.KindTerminal, err, "locating ffmpeg")
	}
	if err := e.Store.EnsureUserDirs(user.Slug); err != nil {
		return nil, recerr.Wrap(recerr.KindTransient, err, "preparing user directories")
	}

	stage, err := e.beginStage(ctx, rec.ID, models.StageTrim)
	if err != nil {
		return nil, err
	}
	e.clearOwnFailure(ctx, rec, "trim")

	timing := e.startTiming(ctx, rec.ID, "trim", "")
	meta, err := e.trimMedia(ctx, tc, rec, user.Slug, trimCfg)
	if err != nil {
		e.finishTiming(ctx, timing, "failed", err)
		return nil, err
	}
	e.finishTiming(ctx, timing, "completed", nil)

	if err := e.Recordings.Update(ctx, rec); err != nil {
		return nil, recerr.Wrap(recerr.KindTransient, err, "persisting trim results")
	}
	if err := e.completeStage(ctx, stage, meta); err != nil {
		return nil, err
	}

	e.logger().Info("trim completed",
		slog.Int64("recording_id", rec.ID),
		slog.Any("trimmed", meta["trimmed"]),
	)
	return result(rec, "trimmed"), nil
}

// trimMedia does the ffmpeg work, mutating the recording's artifact paths
// on success. It returns the stage metadata.
func (e *Env) trimMedia(ctx context.Context, tc *media.Toolchain, rec *models.Recording, slug int, cfg *resolve.TrimmingConfig) (models.JSONMap, error) {
	tmp, err := e.Store.CreateTemp("audio-*.m4a")
	if err != nil {
		return nil, recerr.Wrap(recerr.KindTransient, err, "creating temp audio file")
	}
	tmpPath := tmp.Name()
	tmp.Close()
	promoted := false
	defer func() {
		if !promoted {
			os.Remove(tmpPath)
		}
	}()

	if err := media.ExtractAudio(ctx, tc.FFmpegPath, rec.LocalVideoPath, tmpPath); err != nil {
		return nil, recerr.Wrap(recerr.KindTerminal, err, "extracting audio")
	}

	prober := media.NewProber(tc.FFprobePath)
	info, err := prober.ProbeInfo(ctx, tmpPath)
	if err != nil {
		return nil, recerr.Wrap(recerr.KindTerminal, err, "probing audio")
	}
	total := info.DurationSeconds

	windows, err := media.DetectSilence(ctx, tc.FFmpegPath, tmpPath,
		cfg.SilenceThresholdValue(), cfg.MinSilenceValue())
	if err != nil {
		return nil, recerr.Wrap(recerr.KindTerminal, err, "detecting silence")
	}
	bounds := media.Bounds(windows, total)

	audioDest := e.Store.RecordingAudio(slug, rec.ID)
	meta := models.JSONMap{
		"duration_seconds": total,
		"silence_windows":  len(windows),
		"speech_first":     bounds.First,
		"speech_last":      bounds.Last,
	}

	// An all-silent recording or one with speech flush to both edges has
	// nothing to cut.
	if bounds.AllSilent || (bounds.First == 0 && bounds.Last >= total) {
		if err := os.Rename(tmpPath, audioDest); err != nil {
			return nil, recerr.Wrap(recerr.KindTransient, err, "moving audio file")
		}
		promoted = true
		rec.ProcessedAudioPath = audioDest
		rec.ProcessedVideoPath = rec.LocalVideoPath
		meta["trimmed"] = false
		return meta, nil
	}

	start := bounds.First - cfg.PaddingBeforeValue()
	if start < 0 {
		start = 0
	}
	end := bounds.Last + cfg.PaddingAfterValue()

	videoDest := e.Store.ProcessedVideo(slug, rec.ID)
	if err := media.TrimCopy(ctx, tc.FFmpegPath, rec.LocalVideoPath, videoDest, start, end); err != nil {
		return nil, recerr.Wrap(recerr.KindTerminal, err, "trimming video")
	}
	if err := media.TrimCopy(ctx, tc.FFmpegPath, tmpPath, audioDest, start, end); err != nil {
		return nil, recerr.Wrap(recerr.KindTerminal, err, "trimming audio")
	}

	rec.ProcessedVideoPath = videoDest
	rec.ProcessedAudioPath = audioDest
	meta["trimmed"] = true
	meta["trim_start"] = start
	meta["trim_end"] = end
	return meta, nil
}
