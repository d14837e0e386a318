package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/recerr"
)

func TestHTTPUploader(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "session.mp4")
	thumb := filepath.Join(dir, "session.png")
	require.NoError(t, os.WriteFile(video, []byte("fake video bytes"), 0o644))
	require.NoError(t, os.WriteFile(thumb, []byte("fake png bytes"), 0o644))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/videos", r.URL.Path)
		assert.Equal(t, "Bearer gw-key", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "youtube", r.FormValue("platform"))
		assert.Equal(t, "Weekly sync", r.FormValue("title"))
		assert.Equal(t, "notes attached", r.FormValue("description"))
		assert.Equal(t, "team,weekly", r.FormValue("tags"))
		assert.Equal(t, "unlisted", r.FormValue("extra.privacy"))
		assert.JSONEq(t, `{"refresh_token":"rt-1"}`, r.FormValue("credentials"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "session.mp4", header.Filename)

		tf, theader, err := r.FormFile("thumbnail")
		require.NoError(t, err)
		defer tf.Close()
		assert.Equal(t, "session.png", theader.Filename)

		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": "yt-abc123", "url": "https://youtu.be/abc123", "extras": {"privacy": "unlisted"}}`)
	}))
	defer server.Close()

	up := NewHTTPUploader("youtube", server.URL, "gw-key", testClient())
	assert.Equal(t, "youtube", up.Platform())

	result, err := up.Upload(context.Background(), UploadRequest{
		Credentials:   json.RawMessage(`{"refresh_token":"rt-1"}`),
		VideoPath:     video,
		ThumbnailPath: thumb,
		Title:         "Weekly sync",
		Description:   "notes attached",
		Tags:          []string{"team", "weekly"},
		Extra:         models.JSONMap{"privacy": "unlisted"},
	})
	require.NoError(t, err)

	assert.Equal(t, "yt-abc123", result.ExternalID)
	assert.Equal(t, "https://youtu.be/abc123", result.ExternalURL)
	assert.Equal(t, "unlisted", result.Extras["privacy"])
}

func TestHTTPUploader_MissingVideo(t *testing.T) {
	up := NewHTTPUploader("youtube", "http://unused", "key", testClient())
	_, err := up.Upload(context.Background(), UploadRequest{VideoPath: "/nope/session.mp4"})
	require.Error(t, err)
	assert.True(t, recerr.Is(err, recerr.KindTerminal))
}

func TestHTTPUploader_MissingThumbnailIsTolerated(t *testing.T) {
	video := filepath.Join(t.TempDir(), "session.mp4")
	require.NoError(t, os.WriteFile(video, []byte("x"), 0o644))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, _, err := r.FormFile("thumbnail")
		assert.Error(t, err)
		fmt.Fprint(w, `{"id": "yt-1", "url": "https://youtu.be/1"}`)
	}))
	defer server.Close()

	up := NewHTTPUploader("youtube", server.URL, "key", testClient())
	result, err := up.Upload(context.Background(), UploadRequest{
		VideoPath:     video,
		ThumbnailPath: "/nope/session.png",
	})
	require.NoError(t, err)
	assert.Equal(t, "yt-1", result.ExternalID)
}

func TestHTTPUploader_MissingIDInResponse(t *testing.T) {
	video := filepath.Join(t.TempDir(), "session.mp4")
	require.NoError(t, os.WriteFile(video, []byte("x"), 0o644))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"url": "https://youtu.be/1"}`)
	}))
	defer server.Close()

	up := NewHTTPUploader("youtube", server.URL, "key", testClient())
	_, err := up.Upload(context.Background(), UploadRequest{VideoPath: video})
	require.Error(t, err)
	assert.True(t, recerr.Is(err, recerr.KindTerminal))
}

func TestHTTPUploader_AuthFailure(t *testing.T) {
	video := filepath.Join(t.TempDir(), "session.mp4")
	require.NoError(t, os.WriteFile(video, []byte("x"), 0o644))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	up := NewHTTPUploader("youtube", server.URL, "bad-key", testClient())
	_, err := up.Upload(context.Background(), UploadRequest{VideoPath: video})
	require.Error(t, err)
	assert.True(t, recerr.Is(err, recerr.KindAuthExpired))
	assert.False(t, recerr.Retryable(err))
}
