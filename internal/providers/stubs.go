package providers

import (
	"context"
	"time"

	"github.com/jmylchreest/recarr/internal/tokens"
)

// The stubs back every adapter interface with swappable functions so
// pipeline and scenario tests run without network.

// StubTranscriber implements Transcriber with a function.
type StubTranscriber struct {
	TranscribeFunc func(ctx context.Context, req TranscribeRequest) (*Transcription, error)
}

func (s *StubTranscriber) Transcribe(ctx context.Context, req TranscribeRequest) (*Transcription, error) {
	return s.TranscribeFunc(ctx, req)
}

// StubTopicExtractor implements TopicExtractor with a function.
type StubTopicExtractor struct {
	ExtractFunc func(ctx context.Context, req TopicsRequest) (*TopicsResult, error)
}

func (s *StubTopicExtractor) Extract(ctx context.Context, req TopicsRequest) (*TopicsResult, error) {
	return s.ExtractFunc(ctx, req)
}

// StubUploader implements Uploader with a function.
type StubUploader struct {
	PlatformName string
	UploadFunc   func(ctx context.Context, req UploadRequest) (*UploadResult, error)
}

func (s *StubUploader) Platform() string { return s.PlatformName }

func (s *StubUploader) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	return s.UploadFunc(ctx, req)
}

// StubMeetingClient implements MeetingClient with functions. Nil
// functions return empty results.
type StubMeetingClient struct {
	AccessTokenFunc    func(ctx context.Context, creds MeetingCredentials) (tokens.Token, error)
	ListUsersFunc      func(ctx context.Context, token string) ([]string, error)
	ListRecordingsFunc func(ctx context.Context, token, email string, from, to time.Time) ([]MeetingRecording, error)
}

func (s *StubMeetingClient) AccessToken(ctx context.Context, creds MeetingCredentials) (tokens.Token, error) {
	if s.AccessTokenFunc == nil {
		return tokens.Token{Value: "stub-token", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}
	return s.AccessTokenFunc(ctx, creds)
}

func (s *StubMeetingClient) ListUsers(ctx context.Context, token string) ([]string, error) {
	if s.ListUsersFunc == nil {
		return nil, nil
	}
	return s.ListUsersFunc(ctx, token)
}

func (s *StubMeetingClient) ListRecordings(ctx context.Context, token, email string, from, to time.Time) ([]MeetingRecording, error) {
	if s.ListRecordingsFunc == nil {
		return nil, nil
	}
	return s.ListRecordingsFunc(ctx, token, email, from, to)
}
