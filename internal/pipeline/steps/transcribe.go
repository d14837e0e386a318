package steps

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jmylchreest/recarr/internal/artifacts"
	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/providers"
	"github.com/jmylchreest/recarr/internal/recerr"
	"github.com/jmylchreest/recarr/internal/resolve"
	"github.com/jmylchreest/recarr/internal/status"
)

// Transcribe runs speech-to-text on the best available audio input and
// persists the transcript master plus its derived cache files into the
// recording's transcription directory.
func (e *Env) Transcribe(ctx context.Context, req Request) (models.JSONMap, error) {
	rec, err := e.loadRecording(ctx, req)
	if err != nil {
		return nil, err
	}
	user, err := e.loadUser(ctx, rec.UserID)
	if err != nil {
		return nil, err
	}
	if !status.AllowTranscription(rec, models.Now()) {
		return nil, recerr.New(recerr.KindAdmission, "recording %d has no transcribable media", rec.ID)
	}

	input := rec.BestAudioInput()
	if !artifacts.FileExists(input) {
		return nil, recerr.NotFound("transcription input file")
	}

	res, err := e.ResolveConfigs(ctx, rec, req.Override)
	if err != nil {
		return nil, err
	}
	tcfg := res.Processing.Transcription

	stage, err := e.beginStage(ctx, rec.ID, models.StageTranscribe)
	if err != nil {
		return nil, err
	}
	e.clearOwnFailure(ctx, rec, "transcribe")

	timing := e.startTiming(ctx, rec.ID, "transcribe", "")
	tr, err := e.Transcriber.Transcribe(ctx, providers.TranscribeRequest{
		MediaPath:   input,
		Language:    tcfg.LanguageValue(),
		Prompt:      composePrompt(tcfg.BasePromptValue(), rec.DisplayName, vocabularyOf(tcfg)),
		Temperature: tcfg.TemperatureValue(),
	})
	if err != nil {
		e.finishTiming(ctx, timing, "failed", err)
		return nil, err
	}

	dir := e.Store.TranscriptionDir(user.Slug, rec.ID)
	master := &TranscriptMaster{
		Language:        tr.Language,
		Model:           tr.Model,
		DurationSeconds: tr.DurationSeconds,
		Text:            tr.Text,
		Words:           tr.Words,
		Segments:        tr.Segments,
		Usage:           tr.Usage,
	}
	if err := writeTranscript(dir, master); err != nil {
		e.finishTiming(ctx, timing, "failed", err)
		return nil, recerr.Wrap(recerr.KindTransient, err, "writing transcript")
	}
	e.finishTiming(ctx, timing, "completed", nil)

	rec.TranscriptionDir = dir
	if err := e.Recordings.Update(ctx, rec); err != nil {
		return nil, recerr.Wrap(recerr.KindTransient, err, "persisting transcription dir")
	}

	meta := models.JSONMap{
		"language":         tr.Language,
		"model":            tr.Model,
		"duration_seconds": tr.DurationSeconds,
		"segment_count":    len(tr.Segments),
		"word_count":       len(tr.Words),
	}
	if err := e.completeStage(ctx, stage, meta); err != nil {
		return nil, err
	}

	e.logger().Info("transcription completed",
		slog.Int64("recording_id", rec.ID),
		slog.String("model", tr.Model),
		slog.Int("segments", len(tr.Segments)),
	)
	return result(rec, "transcribed"), nil
}

// vocabularyOf reads the folded vocabulary list, tolerating an absent
// transcription section.
func vocabularyOf(cfg *resolve.TranscriptionConfig) []string {
	if cfg == nil {
		return nil
	}
	return cfg.Vocabulary
}

// composePrompt joins the base prompt with title and vocabulary hints.
func composePrompt(base, title string, vocabulary []string) string {
	var parts []string
	if base != "" {
		parts = append(parts, base)
	}
	if title != "" {
		parts = append(parts, "Recording title: "+title+".")
	}
	if len(vocabulary) > 0 {
		parts = append(parts, "Vocabulary: "+strings.Join(vocabulary, ", ")+".")
	}
	return strings.Join(parts, " ")
}
