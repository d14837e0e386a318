package steps

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmylchreest/recarr/internal/artifacts"
	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/providers"
	"github.com/jmylchreest/recarr/internal/recerr"
	"github.com/jmylchreest/recarr/internal/status"
	"github.com/jmylchreest/recarr/internal/tokens"
)

// Download fetches the source media onto local disk. It is idempotent:
// a recording already downloaded with its file intact is a no-op, which
// keeps re-delivered tasks and chain-advance retries safe.
func (e *Env) Download(ctx context.Context, req Request) (models.JSONMap, error) {
	rec, err := e.loadRecording(ctx, req)
	if err != nil {
		return nil, err
	}
	user, err := e.loadUser(ctx, rec.UserID)
	if err != nil {
		return nil, err
	}

	res, err := e.ResolveConfigs(ctx, rec, req.Override)
	if err != nil {
		return nil, err
	}
	force := res.Processing.ForceDownload()

	dest := e.Store.RecordingVideo(user.Slug, rec.ID)
	if !force && rec.Status == models.StatusDownloaded && artifacts.FileExists(rec.LocalVideoPath) {
		return result(rec, "already_downloaded"), nil
	}
	if !status.AllowDownload(rec, models.Now(), force) {
		return nil, recerr.New(recerr.KindAdmission, "recording %d not downloadable in status %s", rec.ID, rec.Status)
	}

	meta := rec.SourceMetadata
	if meta == nil || meta.DownloadURL == "" {
		return nil, recerr.New(recerr.KindTerminal, "recording %d has no download url", rec.ID)
	}

	e.clearOwnFailure(ctx, rec, "download")

	if meta.FileSizeBytes > 0 {
		current, cerr := e.Store.CalcUserStorageBytes(user.Slug)
		if cerr != nil {
			return nil, recerr.Wrap(recerr.KindTransient, cerr, "measuring storage")
		}
		if qerr := e.Quota.CheckStorage(ctx, rec.UserID, current, meta.FileSizeBytes); qerr != nil {
			return nil, qerr
		}
	}

	if err := e.refreshSourceToken(ctx, rec, meta, res.Processing.TokenMaxAgeMinutes()); err != nil {
		return nil, err
	}

	if err := e.Store.EnsureUserDirs(user.Slug); err != nil {
		return nil, recerr.Wrap(recerr.KindTransient, err, "preparing user directories")
	}

	rec.Status = models.StatusDownloading
	if err := e.Recordings.Update(ctx, rec); err != nil {
		return nil, recerr.Wrap(recerr.KindTransient, err, "marking downloading")
	}

	timing := e.startTiming(ctx, rec.ID, "download", "")
	written, err := e.fetchMedia(ctx, user.Slug, dest, meta)
	if err != nil {
		e.finishTiming(ctx, timing, "failed", err)
		// Put the recording back where the admission check accepts it, so
		// a retry does not get stuck in downloading.
		rec.Status = models.StatusInitialized
		if uerr := e.Recordings.Update(ctx, rec); uerr != nil {
			e.logger().Warn("download status not restored",
				slog.Int64("recording_id", rec.ID),
				slog.Any("error", uerr),
			)
		}
		return nil, err
	}

	rec.LocalVideoPath = dest
	rec.Status = models.StatusDownloaded
	if err := e.Recordings.Update(ctx, rec); err != nil {
		return nil, recerr.Wrap(recerr.KindTransient, err, "persisting download")
	}
	e.finishTiming(ctx, timing, "completed", nil)

	if _, aerr := e.Quota.AccountStorage(ctx, user, e.Store); aerr != nil {
		e.logger().Warn("storage accounting failed",
			slog.String("user_id", user.ID.String()),
			slog.Any("error", aerr),
		)
	}

	e.logger().Info("media downloaded",
		slog.Int64("recording_id", rec.ID),
		slog.Int64("bytes", written),
	)
	return result(rec, "downloaded"), nil
}

// refreshSourceToken mints a fresh provider token when the stored one is
// stale, persisting it back onto the source metadata.
func (e *Env) refreshSourceToken(ctx context.Context, rec *models.Recording, meta *models.SourceMetadata, maxAgeMinutes int) error {
	if !meta.TokenStale(models.Now(), time.Duration(maxAgeMinutes)*time.Minute) {
		return nil
	}
	if meta.AccountName == "" {
		// Nothing to refresh against; the URL may be pre-signed.
		return nil
	}

	tok, err := e.meetingToken(ctx, rec.UserID, meta.AccountName)
	if err != nil {
		return err
	}

	meta.AccessToken = tok.Value
	issued := models.Now()
	meta.TokenIssuedAt = &issued
	if err := e.Recordings.SaveSourceMetadata(ctx, meta); err != nil {
		return recerr.Wrap(recerr.KindTransient, err, "persisting refreshed token")
	}
	return nil
}

// meetingToken resolves the account credential and returns a cached or
// freshly minted access token for it.
func (e *Env) meetingToken(ctx context.Context, userID models.ULID, account string) (tokens.Token, error) {
	var creds providers.MeetingCredentials
	if err := e.Vault.Fetch(ctx, userID, "meeting", account, &creds); err != nil {
		return tokens.Token{}, recerr.Wrap(recerr.KindAuthExpired, err, "loading meeting credential %q", account)
	}
	key := fmt.Sprintf("meeting/%s/%s", userID, account)
	return e.Tokens.Get(ctx, key, func(ctx context.Context) (tokens.Token, error) {
		return e.Meeting.AccessToken(ctx, creds)
	})
}

// fetchMedia streams the provider media to its canonical path.
func (e *Env) fetchMedia(ctx context.Context, slug int, dest string, meta *models.SourceMetadata) (int64, error) {
	httpReq, err := http.NewRequest(http.MethodGet, meta.DownloadURL, nil)
	if err != nil {
		return 0, recerr.Wrap(recerr.KindTerminal, err, "building download request")
	}
	if meta.AccessToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+meta.AccessToken)
	}
	if meta.Passcode != "" {
		q := httpReq.URL.Query()
		q.Set("pwd", meta.Passcode)
		httpReq.URL.RawQuery = q.Encode()
	}

	resp, err := e.HTTP.DoWithContext(ctx, httpReq)
	if err != nil {
		return 0, recerr.Wrap(recerr.KindTransient, err, "downloading media")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, classifyHTTP("download", resp.StatusCode)
	}

	written, err := e.Store.WriteUserFile(slug, dest, resp.Body)
	if err != nil {
		return 0, recerr.Wrap(recerr.KindTransient, err, "writing media file")
	}
	return written, nil
}
