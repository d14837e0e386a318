package artifacts

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Layout directory names under each user root.
const (
	videoDir          = "video"
	processedAudioDir = "processed_audio"
	transcriptionsDir = "transcriptions"
	thumbnailsDir     = "thumbnails"
	tempDir           = "temp"
)

// Store maps (user slug, recording id) to canonical filesystem paths:
//
//	{root}/user_{slug:06d}/video/...
//	{root}/user_{slug:06d}/processed_audio/...
//	{root}/user_{slug:06d}/transcriptions/{recording_id}/...
//	{root}/user_{slug:06d}/thumbnails/...
//	{root}/temp/...
//
// The store is a process-wide read-only singleton after init.
type Store struct {
	root string
}

// NewStore creates a Store rooted at root, creating the root and the shared
// temp directory if missing.
func NewStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}
	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, fmt.Errorf("creating artifact root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, tempDir), dirPerm); err != nil {
		return nil, fmt.Errorf("creating temp directory: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute artifact root.
func (s *Store) Root() string {
	return s.root
}

// UserRoot returns the root directory of one user.
func (s *Store) UserRoot(slug int) string {
	return filepath.Join(s.root, fmt.Sprintf("user_%06d", slug))
}

// RecordingVideo returns the canonical raw-video path of a recording.
func (s *Store) RecordingVideo(slug int, rid int64) string {
	return filepath.Join(s.UserRoot(slug), videoDir, fmt.Sprintf("%d.mp4", rid))
}

// ProcessedVideo returns the canonical trimmed-video path.
func (s *Store) ProcessedVideo(slug int, rid int64) string {
	return filepath.Join(s.UserRoot(slug), videoDir, fmt.Sprintf("%d_processed.mp4", rid))
}

// RecordingAudio returns the canonical processed-audio path.
func (s *Store) RecordingAudio(slug int, rid int64) string {
	return filepath.Join(s.UserRoot(slug), processedAudioDir, fmt.Sprintf("%d.m4a", rid))
}

// TranscriptionDir returns the directory holding a recording's
// transcription artifacts (master.json, segments.txt, words.txt,
// subtitle files).
func (s *Store) TranscriptionDir(slug int, rid int64) string {
	return filepath.Join(s.UserRoot(slug), transcriptionsDir, fmt.Sprintf("%d", rid))
}

// ThumbnailsDir returns the user's thumbnails directory.
func (s *Store) ThumbnailsDir(slug int) string {
	return filepath.Join(s.UserRoot(slug), thumbnailsDir)
}

// TempDir returns the shared scratch directory.
func (s *Store) TempDir() string {
	return filepath.Join(s.root, tempDir)
}

// CreateTemp creates a scratch file in the shared temp directory. The
// caller closes and removes it.
func (s *Store) CreateTemp(pattern string) (*os.File, error) {
	f, err := os.CreateTemp(s.TempDir(), pattern)
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	return f, nil
}

// ValidateUserPath verifies an externally supplied path sits under the
// user's root and returns its cleaned absolute form.
func (s *Store) ValidateUserPath(slug int, p string) (string, error) {
	return resolveUnder(s.UserRoot(slug), p)
}

// WriteUserFile streams r to a path under the user's root atomically,
// returning the byte count. The path is validated first.
func (s *Store) WriteUserFile(slug int, path string, r io.Reader) (int64, error) {
	abs, err := s.ValidateUserPath(slug, path)
	if err != nil {
		return 0, err
	}
	return atomicWriteReader(abs, r)
}

// CalcUserStorageBytes sums file sizes under the user's root. A missing
// root counts as zero.
func (s *Store) CalcUserStorageBytes(slug int) (int64, error) {
	var total int64
	root := s.UserRoot(slug)
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("walking user root: %w", err)
	}
	return total, nil
}

// EnsureUserDirs creates the user's directory skeleton.
func (s *Store) EnsureUserDirs(slug int) error {
	for _, d := range []string{
		filepath.Join(s.UserRoot(slug), videoDir),
		filepath.Join(s.UserRoot(slug), processedAudioDir),
		filepath.Join(s.UserRoot(slug), transcriptionsDir),
		s.ThumbnailsDir(slug),
	} {
		if err := os.MkdirAll(d, dirPerm); err != nil {
			return fmt.Errorf("creating user directory %s: %w", d, err)
		}
	}
	return nil
}

// CopyDefaultThumbnails copies every file from srcDir into the user's
// thumbnails directory, skipping files that already exist. A missing or
// empty srcDir is a no-op.
func (s *Store) CopyDefaultThumbnails(slug int, srcDir string) (int, error) {
	if srcDir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(srcDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading default thumbnails: %w", err)
	}

	dst := s.ThumbnailsDir(slug)
	if err := os.MkdirAll(dst, dirPerm); err != nil {
		return 0, fmt.Errorf("creating thumbnails directory: %w", err)
	}

	copied := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		target := filepath.Join(dst, e.Name())
		if _, err := os.Stat(target); err == nil {
			continue
		}
		if err := copyFile(filepath.Join(srcDir, e.Name()), target); err != nil {
			return copied, fmt.Errorf("copying thumbnail %s: %w", e.Name(), err)
		}
		copied++
	}
	return copied, nil
}

// RemoveIfExists deletes a file and reports the bytes freed. Missing files
// free zero bytes without error.
func RemoveIfExists(path string) (int64, error) {
	if path == "" {
		return 0, nil
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	size := info.Size()
	if err := os.Remove(path); err != nil {
		return 0, fmt.Errorf("removing %s: %w", path, err)
	}
	return size, nil
}

// RemoveTreeIfExists deletes a directory tree and reports the bytes freed.
// A missing tree frees zero bytes without error.
func RemoveTreeIfExists(path string) (int64, error) {
	if path == "" {
		return 0, nil
	}
	var total int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("walking %s: %w", path, err)
	}
	if err := os.RemoveAll(path); err != nil {
		return 0, fmt.Errorf("removing %s: %w", path, err)
	}
	return total, nil
}

// Remover deletes artifacts on disk. It satisfies the repository layer's
// file-removal dependency without binding it to this package's Store.
type Remover struct{}

// RemoveFile deletes one file, reporting bytes freed.
func (Remover) RemoveFile(path string) (int64, error) {
	return RemoveIfExists(path)
}

// RemoveTree deletes a directory tree, reporting bytes freed.
func (Remover) RemoveTree(path string) (int64, error) {
	return RemoveTreeIfExists(path)
}

// FileExists reports whether path names an existing regular file.
func FileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
