package steps

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/providers"
	"github.com/jmylchreest/recarr/internal/recerr"
)

// ExtractTopics derives the topic list from the persisted transcript.
// The extraction runs on the primary model with a one-shot fallback to
// the secondary model, and the winning result is stored inline on the
// recording as the active topics version.
func (e *Env) ExtractTopics(ctx context.Context, req Request) (models.JSONMap, error) {
	rec, err := e.loadRecording(ctx, req)
	if err != nil {
		return nil, err
	}
	if rec.TranscriptionDir == "" {
		return nil, recerr.New(recerr.KindTerminal, "recording %d has no transcript", rec.ID)
	}

	transcript, err := readSegmentsText(rec.TranscriptionDir)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(transcript) == "" {
		return nil, recerr.New(recerr.KindTerminal, "recording %d transcript is empty", rec.ID)
	}

	res, err := e.ResolveConfigs(ctx, rec, req.Override)
	if err != nil {
		return nil, err
	}
	granularity := res.Processing.Transcription.GranularityValue()

	stage, err := e.beginStage(ctx, rec.ID, models.StageExtractTopics)
	if err != nil {
		return nil, err
	}
	e.clearOwnFailure(ctx, rec, "extract_topics")

	timing := e.startTiming(ctx, rec.ID, "extract_topics", "")
	topics, err := e.extractWithFallback(ctx, transcript, granularity)
	if err != nil {
		e.finishTiming(ctx, timing, "failed", err)
		return nil, err
	}
	e.finishTiming(ctx, timing, "completed", nil)

	titles := make(models.StringList, len(topics.Topics))
	for i, t := range topics.Topics {
		titles[i] = t.Title
	}
	rec.MainTopics = titles
	rec.TopicsWithTimestamps = models.TopicList(topics.Topics)
	if err := e.Recordings.Update(ctx, rec); err != nil {
		return nil, recerr.Wrap(recerr.KindTransient, err, "persisting topics")
	}

	versionID := models.NewULID()
	meta := models.JSONMap{
		"version_id":  versionID.String(),
		"model":       topics.Model,
		"topic_count": len(topics.Topics),
	}
	if err := e.completeStage(ctx, stage, meta); err != nil {
		return nil, err
	}

	e.logger().Info("topics extracted",
		slog.Int64("recording_id", rec.ID),
		slog.String("model", topics.Model),
		slog.Int("count", len(topics.Topics)),
	)
	return result(rec, "topics_extracted"), nil
}

// extractWithFallback runs the primary model, falling back to the
// secondary model on any error. The fallback's error wins when both fail.
func (e *Env) extractWithFallback(ctx context.Context, transcript, granularity string) (*providers.TopicsResult, error) {
	res, err := e.Topics.Extract(ctx, providers.TopicsRequest{
		Transcript:  transcript,
		Granularity: granularity,
		Model:       e.TopicsPrimaryModel,
	})
	if err == nil {
		return res, nil
	}
	if e.TopicsFallbackModel == "" || e.TopicsFallbackModel == e.TopicsPrimaryModel {
		return nil, err
	}

	e.logger().Warn("primary topics model failed, trying fallback",
		slog.String("primary", e.TopicsPrimaryModel),
		slog.String("fallback", e.TopicsFallbackModel),
		slog.Any("error", err),
	)
	return e.Topics.Extract(ctx, providers.TopicsRequest{
		Transcript:  transcript,
		Granularity: granularity,
		Model:       e.TopicsFallbackModel,
	})
}
