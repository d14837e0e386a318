package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmylchreest/recarr/internal/artifacts"
	"github.com/jmylchreest/recarr/internal/credentials"
	"github.com/jmylchreest/recarr/internal/httpclient"
	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/providers"
	"github.com/jmylchreest/recarr/internal/recerr"
	"github.com/jmylchreest/recarr/internal/tokens"
	"github.com/jmylchreest/recarr/pkg/urllist"
)

// videoExtensions are the media files the folder fetchers pick up.
var videoExtensions = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".mov":  true,
	".webm": true,
	".avi":  true,
}

// MeetingFetcher lists cloud recordings from the meeting provider.
// Master-account credentials fan out over every active user email;
// per-email listing failures are logged and skipped so one deactivated
// host does not sink the whole sync.
type MeetingFetcher struct {
	client providers.MeetingClient
	vault  *credentials.Vault
	tokens *tokens.Manager
	logger *slog.Logger
}

// NewMeetingFetcher creates the meeting-provider fetcher.
func NewMeetingFetcher(client providers.MeetingClient, vault *credentials.Vault, tm *tokens.Manager, logger *slog.Logger) *MeetingFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &MeetingFetcher{client: client, vault: vault, tokens: tm, logger: logger}
}

func (f *MeetingFetcher) Kind() models.SourceKind { return models.SourceKindMeeting }

func (f *MeetingFetcher) Fetch(ctx context.Context, src *models.InputSource, from, to time.Time) ([]Incoming, error) {
	if !src.HasCredential() {
		return nil, recerr.New(recerr.KindTerminal, "meeting source %s has no credential", src.Name)
	}

	var creds providers.MeetingCredentials
	cred, err := f.vault.FetchByID(ctx, *src.CredentialID, src.UserID, &creds)
	if err != nil {
		return nil, recerr.Wrap(recerr.KindAuthExpired, err, "loading meeting credential")
	}

	key := fmt.Sprintf("meeting/%s/%s", src.UserID, cred.AccountName)
	tok, err := f.tokens.Get(ctx, key, func(ctx context.Context) (tokens.Token, error) {
		return f.client.AccessToken(ctx, creds)
	})
	if err != nil {
		return nil, err
	}

	emails := []string{"me"}
	if creds.MasterAccount {
		emails, err = f.client.ListUsers(ctx, tok.Value)
		if err != nil {
			return nil, err
		}
	}

	var entries []Incoming
	for _, email := range emails {
		recs, err := f.client.ListRecordings(ctx, tok.Value, email, from, to)
		if err != nil {
			if !creds.MasterAccount {
				return nil, err
			}
			f.logger.Warn("skipping user in master-account sync",
				slog.String("email", email),
				slog.Any("error", err),
			)
			continue
		}
		for _, rec := range recs {
			entries = append(entries, meetingIncoming(rec, cred.AccountName))
		}
	}
	return entries, nil
}

// meetingIncoming maps one provider recording to the upsert shape.
func meetingIncoming(rec providers.MeetingRecording, account string) Incoming {
	var start *models.Time
	if !rec.StartTime.IsZero() {
		t := models.Time(rec.StartTime)
		start = &t
	}
	var issued *models.Time
	if rec.AccessToken != "" {
		now := models.Time(time.Now().UTC())
		issued = &now
	}
	return Incoming{
		SourceKey:       rec.MeetingID,
		DisplayName:     rec.Topic,
		StartTime:       start,
		DurationSeconds: rec.DurationSeconds,
		SizeBytes:       rec.FileSizeBytes,
		Meta: &models.SourceMetadata{
			DownloadURL:     rec.DownloadURL,
			AccessToken:     rec.AccessToken,
			TokenIssuedAt:   issued,
			Passcode:        rec.Passcode,
			FileSizeBytes:   rec.FileSizeBytes,
			StillProcessing: rec.StillProcessing,
			AccountName:     account,
			Payload: models.JSONMap{
				"host_email": rec.HostEmail,
			},
		},
	}
}

// URLListFetcher reads a URL list: either a remote list file named by the
// "url" config key, or inline entries under the "urls" config key.
type URLListFetcher struct {
	http *httpclient.Client
}

// NewURLListFetcher creates the URL list fetcher.
func NewURLListFetcher(hc *httpclient.Client) *URLListFetcher {
	return &URLListFetcher{http: hc}
}

func (f *URLListFetcher) Kind() models.SourceKind { return models.SourceKindURLList }

func (f *URLListFetcher) Fetch(ctx context.Context, src *models.InputSource, _, _ time.Time) ([]Incoming, error) {
	entries, err := f.load(ctx, src)
	if err != nil {
		return nil, err
	}

	out := make([]Incoming, 0, len(entries))
	for _, e := range entries {
		name := e.Title
		if name == "" {
			name = filepath.Base(e.URL)
		}
		out = append(out, Incoming{
			SourceKey:   e.URL,
			DisplayName: name,
			Meta: &models.SourceMetadata{
				DownloadURL: e.URL,
			},
		})
	}
	return out, nil
}

func (f *URLListFetcher) load(ctx context.Context, src *models.InputSource) ([]urllist.Entry, error) {
	if listURL := src.ConfigString("url"); listURL != "" {
		resp, err := f.http.Get(ctx, listURL)
		if err != nil {
			return nil, recerr.Wrap(recerr.KindTransient, err, "fetching url list")
		}
		defer resp.Body.Close()
		if resp.StatusCode != 200 {
			return nil, recerr.New(recerr.KindTransient, "fetching url list: status %d", resp.StatusCode)
		}
		entries, err := urllist.ParseAll(resp.Body)
		if err != nil {
			return nil, recerr.Wrap(recerr.KindTerminal, err, "parsing url list")
		}
		return entries, nil
	}

	raw, ok := src.Config["urls"].([]any)
	if !ok {
		return nil, recerr.New(recerr.KindTerminal, "urllist source %s has neither url nor urls configured", src.Name)
	}
	var entries []urllist.Entry
	p := &urllist.Parser{OnEntry: func(e *urllist.Entry) error {
		entries = append(entries, *e)
		return nil
	}}
	var lines []string
	for _, v := range raw {
		if s, ok := v.(string); ok {
			lines = append(lines, s)
		}
	}
	if err := p.Parse(strings.NewReader(strings.Join(lines, "\n"))); err != nil {
		return nil, recerr.Wrap(recerr.KindTerminal, err, "parsing inline url list")
	}
	return entries, nil
}

// CloudFolderFetcher lists media files in a mounted cloud-drive folder.
// Config keys: path (required, absolute), glob (filename pattern,
// default every known video extension), recursive (bool).
type CloudFolderFetcher struct{}

// NewCloudFolderFetcher creates the cloud-folder fetcher.
func NewCloudFolderFetcher() *CloudFolderFetcher { return &CloudFolderFetcher{} }

func (f *CloudFolderFetcher) Kind() models.SourceKind { return models.SourceKindCloudFolder }

func (f *CloudFolderFetcher) Fetch(_ context.Context, src *models.InputSource, from, to time.Time) ([]Incoming, error) {
	root := src.ConfigString("path")
	if root == "" {
		return nil, recerr.New(recerr.KindTerminal, "cloudfolder source %s has no path configured", src.Name)
	}
	return scanFolder(root, src.ConfigString("glob"), src.ConfigBool("recursive"), from, to, false)
}

// LocalFetcher scans a directory under the artifact root for media that
// was placed there out of band. Matched files enter the pipeline already
// downloaded.
type LocalFetcher struct {
	store *artifacts.Store
}

// NewLocalFetcher creates the local-scan fetcher.
func NewLocalFetcher(store *artifacts.Store) *LocalFetcher {
	return &LocalFetcher{store: store}
}

func (f *LocalFetcher) Kind() models.SourceKind { return models.SourceKindLocal }

func (f *LocalFetcher) Fetch(_ context.Context, src *models.InputSource, from, to time.Time) ([]Incoming, error) {
	rel := src.ConfigString("path")
	root := filepath.Join(f.store.Root(), filepath.Clean("/"+rel))
	return scanFolder(root, src.ConfigString("glob"), src.ConfigBool("recursive"), from, to, true)
}

// scanFolder walks a directory and maps each matching media file to an
// Incoming entry keyed by its path. File modification time stands in for
// the recording start time and gates on [from, to]. With local set, the
// file is treated as already-downloaded media.
func scanFolder(root, glob string, recursive bool, from, to time.Time, local bool) ([]Incoming, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, recerr.New(recerr.KindTerminal, "folder %s does not exist", root)
		}
		return nil, recerr.Wrap(recerr.KindTransient, err, "reading folder %s", root)
	}
	if !info.IsDir() {
		return nil, recerr.New(recerr.KindTerminal, "%s is not a directory", root)
	}

	var entries []Incoming
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if !videoExtensions[strings.ToLower(filepath.Ext(name))] {
			return nil
		}
		if glob != "" {
			ok, err := filepath.Match(glob, name)
			if err != nil {
				return fmt.Errorf("invalid glob %q: %w", glob, err)
			}
			if !ok {
				return nil
			}
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		mod := fi.ModTime().UTC()
		if mod.Before(from) || mod.After(to) {
			return nil
		}

		start := models.Time(mod)
		in := Incoming{
			SourceKey:   path,
			DisplayName: strings.TrimSuffix(name, filepath.Ext(name)),
			StartTime:   &start,
			SizeBytes:   fi.Size(),
		}
		if local {
			in.LocalPath = path
		} else {
			in.Meta = &models.SourceMetadata{
				DownloadURL:   "file://" + path,
				FileSizeBytes: fi.Size(),
			}
		}
		entries = append(entries, in)
		return nil
	})
	if walkErr != nil {
		return nil, recerr.Wrap(recerr.KindTransient, walkErr, "scanning folder %s", root)
	}
	return entries, nil
}
