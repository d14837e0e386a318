package urllist

import (
	"bytes"
	"compress/gzip"
	"errors"
	"strings"
	"testing"

	"github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"
)

func TestParser_BasicParsing(t *testing.T) {
	content := `# weekly uploads
All Hands March|https://example.com/recordings/all-hands.mp4
https://example.com/recordings/standup.mp4

# trailing comment
Town Hall | https://example.com/recordings/town-hall.mp4
`

	var entries []*Entry
	p := &Parser{
		OnEntry: func(entry *Entry) error {
			entries = append(entries, entry)
			return nil
		},
	}

	if err := p.Parse(strings.NewReader(content)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	e1 := entries[0]
	if e1.Title != "All Hands March" {
		t.Errorf("expected title 'All Hands March', got '%s'", e1.Title)
	}
	if e1.URL != "https://example.com/recordings/all-hands.mp4" {
		t.Errorf("unexpected URL '%s'", e1.URL)
	}

	e2 := entries[1]
	if e2.Title != "" {
		t.Errorf("expected empty title, got '%s'", e2.Title)
	}
	if e2.URL != "https://example.com/recordings/standup.mp4" {
		t.Errorf("unexpected URL '%s'", e2.URL)
	}

	e3 := entries[2]
	if e3.Title != "Town Hall" {
		t.Errorf("expected title 'Town Hall', got '%s'", e3.Title)
	}
	if e3.URL != "https://example.com/recordings/town-hall.mp4" {
		t.Errorf("unexpected URL '%s'", e3.URL)
	}
}

func TestParser_InvalidLines(t *testing.T) {
	content := `ftp://example.com/nope.mp4
Broken|not a url at all
https://example.com/ok.mp4
`

	var entries []*Entry
	var errLines []int
	p := &Parser{
		OnEntry: func(entry *Entry) error {
			entries = append(entries, entry)
			return nil
		},
		OnError: func(lineNum int, err error) {
			errLines = append(errLines, lineNum)
		},
	}

	if err := p.Parse(strings.NewReader(content)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].URL != "https://example.com/ok.mp4" {
		t.Errorf("unexpected URL '%s'", entries[0].URL)
	}
	if len(errLines) != 2 {
		t.Fatalf("expected 2 error callbacks, got %d", len(errLines))
	}
}

func TestParser_CallbackError(t *testing.T) {
	wantErr := errors.New("stop")
	p := &Parser{
		OnEntry: func(entry *Entry) error {
			return wantErr
		},
	}
	err := p.Parse(strings.NewReader("https://example.com/a.mp4\n"))
	if err == nil || !errors.Is(err, wantErr) {
		t.Fatalf("expected callback error, got %v", err)
	}
}

func TestParseCompressed_Plain(t *testing.T) {
	entries, err := ParseAll(strings.NewReader("A|https://example.com/a.mp4\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].Title != "A" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestParseCompressed_Gzip(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write([]byte("A|https://example.com/a.mp4\nhttps://example.com/b.mp4\n")); err != nil {
		t.Fatalf("writing gzip: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("closing gzip: %v", err)
	}

	entries, err := ParseAll(&buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
}

func TestParseCompressed_Bzip2(t *testing.T) {
	var buf bytes.Buffer
	bw, err := bzip2.NewWriter(&buf, &bzip2.WriterConfig{Level: bzip2.BestSpeed})
	if err != nil {
		t.Fatalf("creating bzip2 writer: %v", err)
	}
	if _, err := bw.Write([]byte("https://example.com/a.mp4\n")); err != nil {
		t.Fatalf("writing bzip2: %v", err)
	}
	if err := bw.Close(); err != nil {
		t.Fatalf("closing bzip2: %v", err)
	}

	entries, err := ParseAll(&buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
}

func TestParseCompressed_XZ(t *testing.T) {
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatalf("creating xz writer: %v", err)
	}
	if _, err := xw.Write([]byte("https://example.com/a.mp4\n")); err != nil {
		t.Fatalf("writing xz: %v", err)
	}
	if err := xw.Close(); err != nil {
		t.Fatalf("closing xz: %v", err)
	}

	entries, err := ParseAll(&buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
}

func TestParseCompressed_Empty(t *testing.T) {
	entries, err := ParseAll(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
}
