// Package providers holds the adapters for every external service the
// pipeline calls: the meeting provider API, the transcription and
// topic-extraction HTTP providers, and the per-platform uploaders.
// Wire formats live entirely inside this package; callers see typed
// requests and results plus classified errors.
package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/recerr"
)

// Word is one transcribed word with its position.
type Word struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Segment is one transcribed utterance.
type Segment struct {
	ID    int     `json:"id"`
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Transcription is the full result of one transcription call.
type Transcription struct {
	Language        string         `json:"language"`
	Model           string         `json:"model"`
	DurationSeconds float64        `json:"duration_seconds"`
	Text            string         `json:"text"`
	Words           []Word         `json:"words"`
	Segments        []Segment      `json:"segments"`
	Usage           models.JSONMap `json:"usage,omitempty"`
}

// TranscribeRequest asks for a transcription of one local media file.
type TranscribeRequest struct {
	MediaPath   string
	Language    string
	Prompt      string
	Temperature float64
}

// Transcriber turns a media file into a transcription.
type Transcriber interface {
	Transcribe(ctx context.Context, req TranscribeRequest) (*Transcription, error)
}

// TopicsRequest asks for topics over a transcript.
type TopicsRequest struct {
	Transcript  string
	Granularity string // "short" or "long"
	Model       string
}

// TopicsResult is the extracted topic list.
type TopicsResult struct {
	Model  string
	Topics []models.Topic
}

// TopicExtractor derives topics from a transcript. Model fallback is
// the caller's business: the extractor runs exactly the model it is
// given.
type TopicExtractor interface {
	Extract(ctx context.Context, req TopicsRequest) (*TopicsResult, error)
}

// UploadRequest carries everything an uploader needs for one video.
// Credentials arrive unsealed; the shape is platform-specific.
type UploadRequest struct {
	Credentials   json.RawMessage
	VideoPath     string
	ThumbnailPath string
	Title         string
	Description   string
	Tags          []string
	Extra         models.JSONMap
}

// UploadResult is what a platform reports back for a finished upload.
type UploadResult struct {
	ExternalID  string
	ExternalURL string
	Extras      models.JSONMap
}

// Uploader publishes a video to one platform.
type Uploader interface {
	Platform() string
	Upload(ctx context.Context, req UploadRequest) (*UploadResult, error)
}

// UploaderRegistry maps platform names to uploaders.
type UploaderRegistry struct {
	mu        sync.RWMutex
	uploaders map[string]Uploader
}

// NewUploaderRegistry creates an empty registry.
func NewUploaderRegistry() *UploaderRegistry {
	return &UploaderRegistry{uploaders: make(map[string]Uploader)}
}

// Register adds an uploader, replacing any previous one for the same
// platform.
func (r *UploaderRegistry) Register(u Uploader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploaders[u.Platform()] = u
}

// Get returns the uploader for platform. Unknown platforms are a
// terminal error: retrying cannot make an adapter appear.
func (r *UploaderRegistry) Get(platform string) (Uploader, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.uploaders[platform]
	if !ok {
		return nil, recerr.New(recerr.KindTerminal, "no uploader registered for platform %q", platform)
	}
	return u, nil
}

// Platforms returns the registered platform names, sorted.
func (r *UploaderRegistry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.uploaders))
	for name := range r.uploaders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// classifyStatus maps a provider HTTP status to an error kind so the
// dispatcher retries only what can succeed on a second try.
func classifyStatus(op string, status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return recerr.New(recerr.KindAuthExpired, "%s: provider returned %d", op, status)
	case status == http.StatusNotFound:
		return recerr.New(recerr.KindNotFound, "%s: provider returned 404", op)
	case status == http.StatusTooManyRequests || status >= 500:
		return recerr.New(recerr.KindTransient, "%s: provider returned %d", op, status)
	default:
		return recerr.New(recerr.KindTerminal, "%s: provider returned %d", op, status)
	}
}

// decodeJSON decodes a provider response body, classifying parse
// failures as terminal.
func decodeJSON(op string, data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return recerr.Wrap(recerr.KindTerminal, err, "%s: decoding provider response", op)
	}
	return nil
}

// expiryFrom turns an expires_in count of seconds into an absolute
// time, with a floor so a broken provider cannot hand out instantly
// dead tokens.
func expiryFrom(now time.Time, expiresIn int64) time.Time {
	if expiresIn < 60 {
		expiresIn = 60
	}
	return now.Add(time.Duration(expiresIn) * time.Second)
}
