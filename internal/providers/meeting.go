package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmylchreest/recarr/internal/httpclient"
	"github.com/jmylchreest/recarr/internal/recerr"
	"github.com/jmylchreest/recarr/internal/tokens"
)

// MeetingCredentials is the unsealed credential payload for the
// meeting provider: a server-to-server OAuth app bound to an account.
type MeetingCredentials struct {
	AccountID     string `json:"account_id"`
	ClientID      string `json:"client_id"`
	ClientSecret  string `json:"client_secret"`
	MasterAccount bool   `json:"master_account,omitempty"`
}

// MeetingRecording is one cloud recording as the provider reports it.
type MeetingRecording struct {
	MeetingID       string
	Topic           string
	HostEmail       string
	StartTime       time.Time
	DurationSeconds int
	FileSizeBytes   int64
	DownloadURL     string
	AccessToken     string
	Passcode        string
	StillProcessing bool
}

// MeetingClient is the provider API surface source sync and downloads
// depend on.
type MeetingClient interface {
	// AccessToken mints a short-lived account token.
	AccessToken(ctx context.Context, creds MeetingCredentials) (tokens.Token, error)

	// ListUsers enumerates active user emails; master accounts sync
	// per email.
	ListUsers(ctx context.Context, token string) ([]string, error)

	// ListRecordings lists a user's cloud recordings in [from, to].
	ListRecordings(ctx context.Context, token, email string, from, to time.Time) ([]MeetingRecording, error)
}

const meetingPageSize = "300"

type meetingClient struct {
	baseURL  string
	tokenURL string
	http     *httpclient.Client
}

// NewMeetingClient creates the HTTP meeting-provider adapter.
func NewMeetingClient(baseURL, tokenURL string, hc *httpclient.Client) MeetingClient {
	return &meetingClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		tokenURL: tokenURL,
		http:     hc,
	}
}

var _ MeetingClient = (*meetingClient)(nil)

func (c *meetingClient) AccessToken(ctx context.Context, creds MeetingCredentials) (tokens.Token, error) {
	form := url.Values{
		"grant_type": {"account_credentials"},
		"account_id": {creds.AccountID},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return tokens.Token{}, fmt.Errorf("building token request: %w", err)
	}
	req.SetBasicAuth(creds.ClientID, creds.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(req, "meeting token")
	if err != nil {
		return tokens.Token{}, err
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := decodeJSON("meeting token", body, &payload); err != nil {
		return tokens.Token{}, err
	}
	if payload.AccessToken == "" {
		return tokens.Token{}, recerr.New(recerr.KindAuthExpired, "meeting token: empty access_token in response")
	}
	return tokens.Token{
		Value:     payload.AccessToken,
		ExpiresAt: expiryFrom(time.Now(), payload.ExpiresIn),
	}, nil
}

func (c *meetingClient) ListUsers(ctx context.Context, token string) ([]string, error) {
	var emails []string
	pageToken := ""
	for {
		q := url.Values{"status": {"active"}, "page_size": {meetingPageSize}}
		if pageToken != "" {
			q.Set("next_page_token", pageToken)
		}
		body, err := c.get(ctx, token, "/users?"+q.Encode(), "meeting users")
		if err != nil {
			return nil, err
		}

		var page struct {
			NextPageToken string `json:"next_page_token"`
			Users         []struct {
				Email string `json:"email"`
			} `json:"users"`
		}
		if err := decodeJSON("meeting users", body, &page); err != nil {
			return nil, err
		}
		for _, u := range page.Users {
			if u.Email != "" {
				emails = append(emails, u.Email)
			}
		}
		if page.NextPageToken == "" {
			return emails, nil
		}
		pageToken = page.NextPageToken
	}
}

func (c *meetingClient) ListRecordings(ctx context.Context, token, email string, from, to time.Time) ([]MeetingRecording, error) {
	var recordings []MeetingRecording
	pageToken := ""
	for {
		q := url.Values{
			"from":           {from.UTC().Format("2006-01-02")},
			"to":             {to.UTC().Format("2006-01-02")},
			"page_size":      {meetingPageSize},
			"include_fields": {"download_access_token"},
		}
		if pageToken != "" {
			q.Set("next_page_token", pageToken)
		}
		path := "/users/" + url.PathEscape(email) + "/recordings?" + q.Encode()
		body, err := c.get(ctx, token, path, "meeting recordings")
		if err != nil {
			return nil, err
		}

		var page meetingRecordingsPage
		if err := decodeJSON("meeting recordings", body, &page); err != nil {
			return nil, err
		}
		for _, m := range page.Meetings {
			if rec, ok := m.toRecording(email); ok {
				recordings = append(recordings, rec)
			}
		}
		if page.NextPageToken == "" {
			return recordings, nil
		}
		pageToken = page.NextPageToken
	}
}

type meetingRecordingsPage struct {
	NextPageToken string `json:"next_page_token"`
	Meetings      []meetingEntry `json:"meetings"`
}

type meetingEntry struct {
	ID              int64              `json:"id"`
	UUID            string             `json:"uuid"`
	Topic           string             `json:"topic"`
	StartTime       string             `json:"start_time"`
	DurationMinutes int                `json:"duration"`
	SharePasscode   string             `json:"recording_play_passcode"`
	DownloadToken   string             `json:"download_access_token"`
	RecordingFiles  []meetingRecording `json:"recording_files"`
}

type meetingRecording struct {
	FileType      string `json:"file_type"`
	FileSize      int64  `json:"file_size"`
	Status        string `json:"status"`
	RecordingType string `json:"recording_type"`
	DownloadURL   string `json:"download_url"`
}

// toRecording flattens one meeting to the MP4 recording file the
// pipeline downloads. Meetings without an MP4 file are skipped.
func (m *meetingEntry) toRecording(email string) (MeetingRecording, bool) {
	for _, f := range m.RecordingFiles {
		if !strings.EqualFold(f.FileType, "MP4") {
			continue
		}
		start, _ := time.Parse(time.RFC3339, m.StartTime)
		return MeetingRecording{
			MeetingID:       m.UUID,
			Topic:           m.Topic,
			HostEmail:       email,
			StartTime:       start,
			DurationSeconds: m.DurationMinutes * 60,
			FileSizeBytes:   f.FileSize,
			DownloadURL:     f.DownloadURL,
			AccessToken:     m.DownloadToken,
			Passcode:        m.SharePasscode,
			StillProcessing: !strings.EqualFold(f.Status, "completed"),
		}, true
	}
	return MeetingRecording{}, false
}

func (c *meetingClient) get(ctx context.Context, token, path, op string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return c.do(req, op)
}

func (c *meetingClient) do(req *http.Request, op string) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, recerr.Wrap(recerr.KindTransient, err, "%s", op)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, recerr.Wrap(recerr.KindTransient, err, "%s: reading response", op)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(op, resp.StatusCode)
	}
	return body, nil
}
