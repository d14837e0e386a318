// Package urllist parses URL list files: one media URL per line, with an
// optional display title separated by a pipe. It supports plain text and
// gzip, bzip2, or xz compressed input.
package urllist

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/ulikunitz/xz"
)

// Entry represents a single line of a URL list.
type Entry struct {
	// Title is the display title, empty when the line carried only a URL.
	Title string

	// URL is the media URL.
	URL string
}

// Parser provides streaming URL list parsing with callback-based
// processing.
type Parser struct {
	// OnEntry is called for each parsed entry.
	OnEntry func(entry *Entry) error

	// OnError is called for recoverable parsing errors.
	// If nil, errors are silently ignored.
	OnError func(lineNum int, err error)
}

// Parse parses a URL list from a reader, calling OnEntry for each line.
// Lines are "title|url" or a bare URL; blank lines and lines starting
// with # are skipped.
func (p *Parser) Parse(r io.Reader) error {
	if p.OnEntry == nil {
		return fmt.Errorf("OnEntry callback is required")
	}

	scanner := bufio.NewScanner(r)
	const maxLineSize = 64 * 1024
	buf := make([]byte, maxLineSize)
	scanner.Buffer(buf, maxLineSize)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		entry, err := parseLine(line)
		if err != nil {
			p.handleError(lineNum, err)
			continue
		}
		if err := p.OnEntry(entry); err != nil {
			return fmt.Errorf("callback error at line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanning url list: %w", err)
	}
	return nil
}

// ParseCompressed parses a potentially compressed URL list.
// It auto-detects compression based on magic bytes.
func (p *Parser) ParseCompressed(r io.Reader) error {
	br := bufio.NewReader(r)

	header, err := br.Peek(6)
	if err != nil && err != io.EOF {
		return fmt.Errorf("peeking header: %w", err)
	}

	var reader io.Reader = br

	switch {
	case len(header) >= 2 && header[0] == 0x1f && header[1] == 0x8b:
		// Gzip
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return fmt.Errorf("creating gzip reader: %w", err)
		}
		defer gzr.Close()
		reader = gzr

	case len(header) >= 3 && header[0] == 'B' && header[1] == 'Z' && header[2] == 'h':
		// Bzip2
		reader = bzip2.NewReader(br)

	case len(header) >= 6 && header[0] == 0xfd && header[1] == '7' && header[2] == 'z' && header[3] == 'X' && header[4] == 'Z' && header[5] == 0x00:
		// XZ
		xzr, err := xz.NewReader(br)
		if err != nil {
			return fmt.Errorf("creating xz reader: %w", err)
		}
		reader = xzr
	}

	return p.Parse(reader)
}

// parseLine splits one list line into title and URL and validates the URL.
func parseLine(line string) (*Entry, error) {
	entry := &Entry{URL: line}
	if idx := strings.LastIndex(line, "|"); idx >= 0 {
		entry.Title = strings.TrimSpace(line[:idx])
		entry.URL = strings.TrimSpace(line[idx+1:])
	}

	u, err := url.Parse(entry.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", entry.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme %q", entry.URL)
	}
	return entry, nil
}

func (p *Parser) handleError(lineNum int, err error) {
	if p.OnError != nil {
		p.OnError(lineNum, err)
	}
}

// ParseAll collects every entry of a possibly compressed list.
func ParseAll(r io.Reader) ([]Entry, error) {
	var entries []Entry
	p := &Parser{
		OnEntry: func(e *Entry) error {
			entries = append(entries, *e)
			return nil
		},
	}
	if err := p.ParseCompressed(r); err != nil {
		return nil, err
	}
	return entries, nil
}
