package steps

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/providers"
	"github.com/jmylchreest/recarr/internal/recerr"
)

// Transcription artifact filenames inside the recording's transcription
// directory.
const (
	masterFile   = "master.json"
	segmentsFile = "segments.txt"
	wordsFile    = "words.txt"
)

// TranscriptMaster is the persisted transcription result. The derived
// cache files (segments, words) are regenerated from it when missing.
type TranscriptMaster struct {
	Language        string              `json:"language"`
	Model           string              `json:"model"`
	DurationSeconds float64             `json:"duration_seconds"`
	Text            string              `json:"text,omitempty"`
	Words           []providers.Word    `json:"words"`
	Segments        []providers.Segment `json:"segments"`
	Usage           models.JSONMap      `json:"usage,omitempty"`
}

// writeTranscript persists the master and its derived cache files.
func writeTranscript(dir string, t *TranscriptMaster) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating transcription dir: %w", err)
	}

	raw, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding transcript: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, masterFile), raw); err != nil {
		return err
	}

	if err := writeFileAtomic(filepath.Join(dir, segmentsFile), []byte(segmentsText(t.Segments))); err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, wordsFile), []byte(wordsText(t.Words)))
}

// segmentsText renders one trimmed segment per line.
func segmentsText(segments []providers.Segment) string {
	lines := make([]string, 0, len(segments))
	for _, s := range segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		lines = append(lines, text)
	}
	return strings.Join(lines, "\n")
}

// wordsText renders the raw word stream on one line.
func wordsText(words []providers.Word) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		if w.Text == "" {
			continue
		}
		parts = append(parts, w.Text)
	}
	return strings.Join(parts, " ")
}

// readMaster loads the persisted transcription result.
func readMaster(dir string) (*TranscriptMaster, error) {
	raw, err := os.ReadFile(filepath.Join(dir, masterFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, recerr.New(recerr.KindTerminal, "no transcription master in %s", dir)
		}
		return nil, fmt.Errorf("reading transcript: %w", err)
	}
	var t TranscriptMaster
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, recerr.Wrap(recerr.KindTerminal, err, "decoding transcript master")
	}
	return &t, nil
}

// readSegmentsText loads the cached segments text, regenerating it from
// the master when the cache file is missing.
func readSegmentsText(dir string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(dir, segmentsFile))
	if err == nil {
		return string(raw), nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("reading segments cache: %w", err)
	}
	master, merr := readMaster(dir)
	if merr != nil {
		return "", merr
	}
	return segmentsText(master.Segments), nil
}

// writeFileAtomic writes through a temp file in the same directory
// followed by a rename.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", filepath.Base(path), err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("setting mode on %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", filepath.Base(path), err)
	}
	return nil
}
