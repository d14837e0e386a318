package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmylchreest/recarr/internal/httpclient"
	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/recerr"
)

// httpUploader publishes through an upload gateway: one multipart POST
// carrying the video, optional thumbnail, rendered metadata, and the
// caller's sealed platform credential. The gateway owns the
// platform-specific API conversation.
type httpUploader struct {
	platform string
	baseURL  string
	apiKey   string
	http     *httpclient.Client
}

// NewHTTPUploader creates an upload-gateway adapter for one platform.
func NewHTTPUploader(platform, baseURL, apiKey string, hc *httpclient.Client) Uploader {
	return &httpUploader{
		platform: platform,
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		http:     hc,
	}
}

var _ Uploader = (*httpUploader)(nil)

func (u *httpUploader) Platform() string { return u.platform }

func (u *httpUploader) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	f, err := os.Open(req.VideoPath)
	if err != nil {
		return nil, recerr.Wrap(recerr.KindTerminal, err, "opening media for upload")
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(req.VideoPath))
	if err != nil {
		return nil, fmt.Errorf("building upload form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("reading media for upload: %w", err)
	}

	if req.ThumbnailPath != "" {
		tf, err := os.Open(req.ThumbnailPath)
		if err == nil {
			thumb, err := mw.CreateFormFile("thumbnail", filepath.Base(req.ThumbnailPath))
			if err != nil {
				tf.Close()
				return nil, fmt.Errorf("building upload form: %w", err)
			}
			if _, err := io.Copy(thumb, tf); err != nil {
				tf.Close()
				return nil, fmt.Errorf("reading thumbnail for upload: %w", err)
			}
			tf.Close()
		}
	}

	fields := map[string]string{
		"platform":    u.platform,
		"title":       req.Title,
		"description": req.Description,
		"tags":        strings.Join(req.Tags, ","),
	}
	for key, value := range fields {
		if err := mw.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("building upload form: %w", err)
		}
	}
	for key, value := range req.Extra {
		if err := mw.WriteField("extra."+key, fmt.Sprint(value)); err != nil {
			return nil, fmt.Errorf("building upload form: %w", err)
		}
	}
	if len(req.Credentials) > 0 {
		if err := mw.WriteField("credentials", string(req.Credentials)); err != nil {
			return nil, fmt.Errorf("building upload form: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("building upload form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/videos", &buf)
	if err != nil {
		return nil, fmt.Errorf("building upload request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+u.apiKey)
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := u.http.Do(httpReq)
	if err != nil {
		return nil, recerr.Wrap(recerr.KindTransient, err, "upload request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, recerr.Wrap(recerr.KindTransient, err, "upload: reading response")
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, classifyStatus("upload", resp.StatusCode)
	}

	var payload struct {
		ID     string         `json:"id"`
		URL    string         `json:"url"`
		Extras map[string]any `json:"extras"`
	}
	if err := decodeJSON("upload", body, &payload); err != nil {
		return nil, err
	}
	if payload.ID == "" {
		return nil, recerr.New(recerr.KindTerminal, "upload: response missing video id")
	}

	return &UploadResult{
		ExternalID:  payload.ID,
		ExternalURL: payload.URL,
		Extras:      models.JSONMap(payload.Extras),
	}, nil
}
