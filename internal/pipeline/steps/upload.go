package steps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/jmylchreest/recarr/internal/artifacts"
	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/providers"
	"github.com/jmylchreest/recarr/internal/recerr"
	"github.com/jmylchreest/recarr/internal/resolve"
	"github.com/jmylchreest/recarr/internal/status"
	"github.com/jmylchreest/recarr/internal/tokens"
	"github.com/jmylchreest/recarr/pkg/format"
)

// Upload publishes the recording to one platform: it selects the output
// preset, renders the metadata templates, and hands the media to the
// platform uploader. A target that already reached uploaded is a no-op,
// so re-delivered upload tasks never double-publish.
func (e *Env) Upload(ctx context.Context, req Request) (models.JSONMap, error) {
	if req.Platform == "" {
		return nil, recerr.New(recerr.KindTerminal, "upload task without a platform")
	}

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

	target, err := e.Recordings.GetOrCreateOutputTarget(ctx, rec.ID, rec.UserID, req.Platform)
	if err != nil {
		return nil, recerr.Wrap(recerr.KindTransient, err, "preparing %s target", req.Platform)
	}
	if target.IsUploaded() {
		return result(rec, "already_uploaded"), nil
	}
	if !status.AllowUpload(rec, models.Now(), req.Platform) {
		return nil, recerr.New(recerr.KindAdmission, "recording %d not uploadable to %s in status %s", rec.ID, req.Platform, rec.Status)
	}

	e.clearOwnFailure(ctx, rec, "upload")

	res, err := e.ResolveConfigs(ctx, rec, req.Override)
	if err != nil {
		return nil, err
	}
	preset, err := e.selectPreset(ctx, rec.UserID, req, res.Output)
	if err != nil {
		return nil, err
	}

	layers := res.MetadataLayers
	layers.Preset = presetMetadataConfig(preset.Metadata)
	layers.Override = req.MetadataOverride
	meta := resolve.Metadata(layers)

	videoPath := rec.ProcessedVideoPath
	if videoPath == "" {
		videoPath = rec.LocalVideoPath
	}
	if !artifacts.FileExists(videoPath) {
		return nil, recerr.NotFound("upload media file")
	}

	var creds json.RawMessage
	if _, err := e.Vault.FetchByID(ctx, preset.CredentialID, rec.UserID, &creds); err != nil {
		return nil, recerr.Wrap(recerr.KindAuthExpired, err, "loading %s credential", preset.Platform)
	}

	uploader, err := e.Uploaders.Get(preset.Platform)
	if err != nil {
		return nil, err
	}

	if _, err := e.Recordings.MarkOutputUploading(ctx, rec.ID, rec.UserID, req.Platform); err != nil {
		return nil, recerr.Wrap(recerr.KindTransient, err, "marking target uploading")
	}

	upReq := providers.UploadRequest{
		Credentials:   creds,
		VideoPath:     videoPath,
		ThumbnailPath: e.thumbnailPath(user.Slug, preset.Metadata),
		Title:         renderTemplate(titleTemplate(meta), rec, meta),
		Description:   renderTemplate(descriptionTemplate(meta), rec, meta),
		Tags:          meta.Tags,
		Extra:         uploadExtras(preset.Metadata, meta),
	}

	timing := e.startTiming(ctx, rec.ID, "upload", req.Platform)
	upRes, err := uploader.Upload(ctx, upReq)
	if err != nil {
		e.finishTiming(ctx, timing, "failed", err)
		reason := fmt.Sprintf("[%s] %v", uploadFailureTag(err), err)
		if merr := e.Recordings.MarkOutputFailed(ctx, rec.ID, rec.UserID, req.Platform, reason); merr != nil {
			e.logger().Warn("target failure not recorded",
				slog.Int64("recording_id", rec.ID),
				slog.String("platform", req.Platform),
				slog.Any("error", merr),
			)
		}
		return nil, err
	}

	if err := e.Recordings.SaveUploadResult(ctx, rec.ID, rec.UserID, req.Platform, upRes.ExternalID, upRes.ExternalURL, upRes.Extras); err != nil {
		return nil, recerr.Wrap(recerr.KindTransient, err, "persisting upload result")
	}
	e.finishTiming(ctx, timing, "completed", nil)

	e.closePipelineTiming(ctx, req)

	e.logger().Info("upload completed",
		slog.Int64("recording_id", rec.ID),
		slog.String("platform", req.Platform),
		slog.String("video_id", upRes.ExternalID),
	)
	return result(rec, "uploaded"), nil
}

// closePipelineTiming stamps the end-to-end pipeline duration once every
// target settled. Failures here are log-only.
func (e *Env) closePipelineTiming(ctx context.Context, req Request) {
	rec, err := e.loadRecording(ctx, req)
	if err != nil {
		return
	}
	for i := range rec.Targets {
		if rec.Targets[i].Status == models.TargetUploading || rec.Targets[i].Status == models.TargetNotUploaded {
			return
		}
	}
	now := models.Now()
	rec.PipelineCompletedAt = &now
	if rec.PipelineStartedAt != nil {
		rec.PipelineDurationSeconds = int(now.Sub(*rec.PipelineStartedAt).Seconds())
	}
	if err := e.Recordings.Update(ctx, rec); err != nil {
		e.logger().Warn("pipeline timing not recorded",
			slog.Int64("recording_id", rec.ID),
			slog.Any("error", err),
		)
	}
}

// selectPreset picks the output preset for the upload: an explicit preset
// id wins, otherwise the first configured preset for the platform.
func (e *Env) selectPreset(ctx context.Context, userID models.ULID, req Request, out *resolve.OutputConfig) (*models.OutputPreset, error) {
	if req.PresetID != "" {
		id, err := models.ParseULID(req.PresetID)
		if err != nil {
			return nil, recerr.Wrap(recerr.KindTerminal, err, "invalid preset id %q", req.PresetID)
		}
		preset, err := e.Presets.GetByID(ctx, id, userID)
		if err != nil {
			return nil, recerr.Wrap(recerr.KindTransient, err, "loading preset")
		}
		if preset == nil {
			return nil, recerr.NotFound("output preset")
		}
		if !preset.IsEnabled() {
			return nil, recerr.New(recerr.KindTerminal, "preset %s is disabled", preset.Name)
		}
		if preset.Platform != req.Platform {
			return nil, recerr.New(recerr.KindTerminal, "preset %s targets %s, not %s", preset.Name, preset.Platform, req.Platform)
		}
		return preset, nil
	}

	ids := make([]models.ULID, 0, len(out.PresetIDs))
	for _, raw := range out.PresetIDs {
		id, err := models.ParseULID(raw)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	preset, err := e.Presets.FindForPlatform(ctx, ids, userID, req.Platform)
	if err != nil {
		return nil, recerr.Wrap(recerr.KindTransient, err, "finding preset")
	}
	if preset == nil {
		return nil, recerr.New(recerr.KindTerminal, "no output preset for %s", req.Platform)
	}
	return preset, nil
}

// presetMetadataConfig lifts a preset's metadata into a resolver layer.
func presetMetadataConfig(m *models.PresetMetadata) *resolve.MetadataConfig {
	if m == nil {
		return nil
	}
	cfg := &resolve.MetadataConfig{
		Tags:  m.Tags,
		Extra: m.Extra,
	}
	if m.TitleTemplate != "" {
		cfg.TitleTemplate = resolve.String(m.TitleTemplate)
	}
	if m.DescriptionTemplate != "" {
		cfg.DescriptionTemplate = resolve.String(m.DescriptionTemplate)
	}
	if m.Privacy != "" {
		cfg.Privacy = resolve.String(m.Privacy)
	}
	return cfg
}

// thumbnailPath resolves the preset's thumbnail selection to a file path,
// or "" when unset or missing on disk.
func (e *Env) thumbnailPath(slug int, m *models.PresetMetadata) string {
	if m == nil || m.ThumbnailName == "" {
		return ""
	}
	path := filepath.Join(e.Store.ThumbnailsDir(slug), m.ThumbnailName)
	if !artifacts.FileExists(path) {
		return ""
	}
	return path
}

// uploadExtras assembles the platform-specific extras from preset and
// effective metadata.
func uploadExtras(pm *models.PresetMetadata, meta *resolve.MetadataConfig) models.JSONMap {
	extra := models.JSONMap{}
	if meta != nil && meta.Privacy != nil && *meta.Privacy != "" {
		extra["privacy"] = *meta.Privacy
	}
	if pm != nil {
		if pm.PlaylistID != "" {
			extra["playlist_id"] = pm.PlaylistID
		}
		if pm.AlbumID != "" {
			extra["album_id"] = pm.AlbumID
		}
	}
	if meta != nil {
		for k, v := range meta.Extra {
			extra[k] = v
		}
	}
	if len(extra) == 0 {
		return nil
	}
	return extra
}

func titleTemplate(meta *resolve.MetadataConfig) string {
	if meta != nil && meta.TitleTemplate != nil && *meta.TitleTemplate != "" {
		return *meta.TitleTemplate
	}
	return "{display_name}"
}

func descriptionTemplate(meta *resolve.MetadataConfig) string {
	if meta != nil && meta.DescriptionTemplate != nil {
		return *meta.DescriptionTemplate
	}
	return ""
}

// renderTemplate substitutes recording context into a metadata template.
// Supported placeholders: {display_name}, {date}, {year}, {duration},
// {topics}.
func renderTemplate(tmpl string, rec *models.Recording, meta *resolve.MetadataConfig) string {
	if tmpl == "" {
		return ""
	}

	date, year := "", ""
	if rec.StartTime != nil {
		date = rec.StartTime.Format("2006-01-02")
		year = rec.StartTime.Format("2006")
	}

	topics := make([]format.Topic, len(rec.TopicsWithTimestamps))
	for i, t := range rec.TopicsWithTimestamps {
		topics[i] = format.Topic{Label: t.Title, Seconds: t.StartSeconds}
	}
	rendered := format.Topics(topics, meta.TopicsFormatValue(), meta.IncludeTimestampsValue())

	r := strings.NewReplacer(
		"{display_name}", rec.DisplayName,
		"{date}", date,
		"{year}", year,
		"{duration}", format.DurationSeconds(rec.DurationSeconds),
		"{topics}", rendered,
	)
	return strings.TrimSpace(r.Replace(tmpl))
}

// uploadFailureTag maps an upload error onto the persisted reason tag:
// credential-error and resource-not-found never retry, token-refresh
// exhaustion and generic failures do.
func uploadFailureTag(err error) string {
	if errors.Is(err, tokens.ErrRefreshFailed) {
		return "token-refresh-failed"
	}
	switch recerr.KindOf(err) {
	case recerr.KindAuthExpired:
		return "credential-error"
	case recerr.KindNotFound:
		return "resource-not-found"
	default:
		return "generic"
	}
}
