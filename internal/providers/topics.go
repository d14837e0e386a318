package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jmylchreest/recarr/internal/httpclient"
	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/recerr"
)

// Granularities accepted by the topic extractor.
const (
	GranularityShort = "short"
	GranularityLong  = "long"
)

const topicsSystemPrompt = `You segment meeting transcripts into topics.
Reply with a JSON array only, no prose. Each element:
{"title": "<topic>", "start_seconds": <offset of the first related utterance>}.
Granularity %q: "short" means 3-7 broad topics, "long" means a detailed agenda.`

type httpTopicExtractor struct {
	baseURL string
	apiKey  string
	http    *httpclient.Client
}

// NewHTTPTopicExtractor creates the topic-extraction adapter over a
// chat-completions style API. The model comes per request so the
// caller can run its primary/fallback tiers.
func NewHTTPTopicExtractor(baseURL, apiKey string, hc *httpclient.Client) TopicExtractor {
	return &httpTopicExtractor{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    hc,
	}
}

var _ TopicExtractor = (*httpTopicExtractor)(nil)

func (t *httpTopicExtractor) Extract(ctx context.Context, req TopicsRequest) (*TopicsResult, error) {
	if req.Model == "" {
		return nil, recerr.New(recerr.KindTerminal, "topics: no model configured")
	}

	payload := map[string]any{
		"model":       req.Model,
		"temperature": 0.2,
		"messages": []map[string]string{
			{"role": "system", "content": fmt.Sprintf(topicsSystemPrompt, req.Granularity)},
			{"role": "user", "content": req.Transcript},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding topics request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building topics request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(httpReq)
	if err != nil {
		return nil, recerr.Wrap(recerr.KindTransient, err, "topics request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, recerr.Wrap(recerr.KindTransient, err, "topics: reading response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus("topics", resp.StatusCode)
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := decodeJSON("topics", respBody, &completion); err != nil {
		return nil, err
	}
	if len(completion.Choices) == 0 {
		return nil, recerr.New(recerr.KindTransient, "topics: provider returned no choices")
	}

	topics, err := parseTopicList(completion.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	return &TopicsResult{Model: req.Model, Topics: topics}, nil
}

// parseTopicList parses the model's JSON answer, tolerating markdown
// code fences some models insist on.
func parseTopicList(content string) ([]models.Topic, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
		content = strings.TrimSpace(content)
	}

	var topics []models.Topic
	if err := json.Unmarshal([]byte(content), &topics); err != nil {
		return nil, recerr.Wrap(recerr.KindTerminal, err, "topics: model answer is not a topic list")
	}
	if len(topics) == 0 {
		return nil, recerr.New(recerr.KindTerminal, "topics: model returned an empty topic list")
	}
	return topics, nil
}
