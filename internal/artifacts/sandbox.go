// Package artifacts owns the on-disk artifact layout. All per-user media
// lives under a configured root with a predictable structure; every path an
// executor touches is produced or validated here, so path traversal from
// provider-supplied names cannot escape a user's root.
package artifacts

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// ErrPathEscapes is returned when a path would leave its allowed root.
var ErrPathEscapes = fmt.Errorf("path escapes artifact root")

// resolveUnder cleans p and verifies it sits under root. Relative paths are
// joined onto root; absolute paths must already be inside it.
func resolveUnder(root, p string) (string, error) {
	var full string
	if filepath.IsAbs(p) {
		full = filepath.Clean(p)
	} else {
		full = filepath.Join(root, filepath.Clean(p))
	}
	abs, err := filepath.Abs(full)
	if err != nil {
		return "", fmt.Errorf("getting absolute path: %w", err)
	}
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, p)
	}
	return abs, nil
}

// atomicWriteReader streams r into path via a temp file in the same
// directory followed by a rename, so readers never observe a partial file.
func atomicWriteReader(path string, r io.Reader) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return 0, fmt.Errorf("creating parent directory: %w", err)
	}

	tempName := fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), randomHex(8))
	tempPath := filepath.Join(dir, tempName)

	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}

	n, err := io.Copy(f, r)
	closeErr := f.Close()
	if err != nil {
		os.Remove(tempPath)
		return 0, fmt.Errorf("writing temp file: %w", err)
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return 0, fmt.Errorf("closing temp file: %w", closeErr)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return 0, fmt.Errorf("renaming to target: %w", err)
	}
	return n, nil
}

// copyFile copies src to dst atomically.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	_, err = atomicWriteReader(dst, in)
	return err
}

// randomHex generates a random hex string of the specified length.
func randomHex(n int) string {
	bytes := make([]byte, n/2+1)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", os.Getpid())
	}
	return hex.EncodeToString(bytes)[:n]
}
