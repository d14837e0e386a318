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
	"strconv"
	"strings"

	"github.com/jmylchreest/recarr/internal/httpclient"
	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/recerr"
)

type httpTranscriber struct {
	baseURL string
	apiKey  string
	model   string
	http    *httpclient.Client
}

// NewHTTPTranscriber creates the transcription adapter. The provider
// speaks the common verbose-JSON transcription API: multipart upload,
// word and segment timestamps in the response.
func NewHTTPTranscriber(baseURL, apiKey, model string, hc *httpclient.Client) Transcriber {
	return &httpTranscriber{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		http:    hc,
	}
}

var _ Transcriber = (*httpTranscriber)(nil)

func (t *httpTranscriber) Transcribe(ctx context.Context, req TranscribeRequest) (*Transcription, error) {
	f, err := os.Open(req.MediaPath)
	if err != nil {
		return nil, recerr.Wrap(recerr.KindTerminal, err, "opening media for transcription")
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(req.MediaPath))
	if err != nil {
		return nil, fmt.Errorf("building transcription form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("reading media for transcription: %w", err)
	}

	fields := map[string]string{
		"model":           t.model,
		"response_format": "verbose_json",
		"temperature":     strconv.FormatFloat(req.Temperature, 'f', -1, 64),
	}
	if req.Language != "" {
		fields["language"] = req.Language
	}
	if req.Prompt != "" {
		fields["prompt"] = req.Prompt
	}
	for key, value := range fields {
		if err := mw.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("building transcription form: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("building transcription form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return nil, fmt.Errorf("building transcription request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.http.Do(httpReq)
	if err != nil {
		return nil, recerr.Wrap(recerr.KindTransient, err, "transcription request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, recerr.Wrap(recerr.KindTransient, err, "transcription: reading response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus("transcription", resp.StatusCode)
	}

	var payload struct {
		Language string  `json:"language"`
		Duration float64 `json:"duration"`
		Text     string  `json:"text"`
		Words    []struct {
			Word  string  `json:"word"`
			Start float64 `json:"start"`
			End   float64 `json:"end"`
		} `json:"words"`
		Segments []struct {
			ID    int     `json:"id"`
			Text  string  `json:"text"`
			Start float64 `json:"start"`
			End   float64 `json:"end"`
		} `json:"segments"`
		Usage map[string]any `json:"usage"`
	}
	if err := decodeJSON("transcription", body, &payload); err != nil {
		return nil, err
	}

	result := &Transcription{
		Language:        payload.Language,
		Model:           t.model,
		DurationSeconds: payload.Duration,
		Text:            payload.Text,
		Usage:           models.JSONMap(payload.Usage),
	}
	for _, w := range payload.Words {
		result.Words = append(result.Words, Word{Text: w.Word, Start: w.Start, End: w.End})
	}
	for _, s := range payload.Segments {
		result.Segments = append(result.Segments, Segment{
			ID:    s.ID,
			Text:  strings.TrimSpace(s.Text),
			Start: s.Start,
			End:   s.End,
		})
	}
	return result, nil
}
