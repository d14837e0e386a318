package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/recarr/internal/httpclient"
	"github.com/jmylchreest/recarr/internal/recerr"
)

// testClient builds a resilient client that fails fast in tests.
func testClient() *httpclient.Client {
	cfg := httpclient.DefaultConfig()
	cfg.RetryAttempts = 0
	cfg.Timeout = 5 * time.Second
	return httpclient.New(cfg)
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		kind   recerr.Kind
	}{
		{http.StatusUnauthorized, recerr.KindAuthExpired},
		{http.StatusForbidden, recerr.KindAuthExpired},
		{http.StatusNotFound, recerr.KindNotFound},
		{http.StatusTooManyRequests, recerr.KindTransient},
		{http.StatusBadGateway, recerr.KindTransient},
		{http.StatusBadRequest, recerr.KindTerminal},
		{http.StatusConflict, recerr.KindTerminal},
	}
	for _, tt := range tests {
		err := classifyStatus("op", tt.status)
		assert.Equal(t, tt.kind, recerr.KindOf(err), "status %d", tt.status)
	}
}

func TestUploaderRegistry(t *testing.T) {
	reg := NewUploaderRegistry()
	reg.Register(&StubUploader{PlatformName: "videotube"})
	reg.Register(&StubUploader{PlatformName: "podbay"})

	u, err := reg.Get("videotube")
	require.NoError(t, err)
	assert.Equal(t, "videotube", u.Platform())

	_, err = reg.Get("nowhere")
	require.Error(t, err)
	assert.Equal(t, recerr.KindTerminal, recerr.KindOf(err))
	assert.False(t, recerr.Retryable(err))

	assert.Equal(t, []string{"podbay", "videotube"}, reg.Platforms())
}

func TestMeetingClient_AccessToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "client-id", user)
		assert.Equal(t, "client-secret", pass)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "account_credentials", r.Form.Get("grant_type"))
		assert.Equal(t, "acc-1", r.Form.Get("account_id"))

		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-abc",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	client := NewMeetingClient(server.URL, server.URL+"/oauth/token", testClient())
	tok, err := client.AccessToken(context.Background(), MeetingCredentials{
		AccountID:    "acc-1",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "tok-abc", tok.Value)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.ExpiresAt, 5*time.Second)
}

func TestMeetingClient_AccessTokenRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewMeetingClient(server.URL, server.URL+"/oauth/token", testClient())
	_, err := client.AccessToken(context.Background(), MeetingCredentials{})
	require.Error(t, err)
	assert.True(t, recerr.Is(err, recerr.KindAuthExpired))
}

func TestMeetingClient_ListRecordingsPaginates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "/users/alice@example.com/recordings", r.URL.Path)
		assert.Equal(t, "download_access_token", r.URL.Query().Get("include_fields"))

		page := r.URL.Query().Get("next_page_token")
		switch page {
		case "":
			fmt.Fprint(w, `{
				"next_page_token": "p2",
				"meetings": [{
					"uuid": "m-1", "topic": "Standup",
					"start_time": "2026-08-01T09:00:00Z", "duration": 30,
					"download_access_token": "dl-tok",
					"recording_files": [
						{"file_type": "CHAT", "download_url": "http://x/chat"},
						{"file_type": "MP4", "file_size": 1000, "status": "completed", "download_url": "http://x/video.mp4"}
					]
				}]
			}`)
		case "p2":
			fmt.Fprint(w, `{
				"meetings": [
					{
						"uuid": "m-2", "topic": "Retro",
						"start_time": "2026-08-02T10:00:00Z", "duration": 45,
						"recording_files": [
							{"file_type": "MP4", "file_size": 2000, "status": "processing", "download_url": "http://x/retro.mp4"}
						]
					},
					{
						"uuid": "m-3", "topic": "Audio only",
						"recording_files": [{"file_type": "M4A", "download_url": "http://x/a.m4a"}]
					}
				]
			}`)
		default:
			t.Fatalf("unexpected page token %q", page)
		}
	}))
	defer server.Close()

	client := NewMeetingClient(server.URL, server.URL+"/oauth/token", testClient())
	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 7)
	recs, err := client.ListRecordings(context.Background(), "tok", "alice@example.com", from, to)
	require.NoError(t, err)

	// The audio-only meeting has no MP4 and is skipped.
	require.Len(t, recs, 2)
	assert.Equal(t, "m-1", recs[0].MeetingID)
	assert.Equal(t, "Standup", recs[0].Topic)
	assert.Equal(t, 1800, recs[0].DurationSeconds)
	assert.Equal(t, "dl-tok", recs[0].AccessToken)
	assert.False(t, recs[0].StillProcessing)
	assert.Equal(t, "alice@example.com", recs[0].HostEmail)

	assert.Equal(t, "m-2", recs[1].MeetingID)
	assert.True(t, recs[1].StillProcessing)
}

func TestMeetingClient_ListUsers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("next_page_token") == "" {
			fmt.Fprint(w, `{"next_page_token": "n", "users": [{"email": "a@x.com"}, {"email": "b@x.com"}]}`)
			return
		}
		fmt.Fprint(w, `{"users": [{"email": "c@x.com"}]}`)
	}))
	defer server.Close()

	client := NewMeetingClient(server.URL, server.URL+"/oauth/token", testClient())
	emails, err := client.ListUsers(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x.com", "b@x.com", "c@x.com"}, emails)
}
