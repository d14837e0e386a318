package media

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	// Register the thumbnail source formats image.Decode can sniff.
	_ "image/gif"
	_ "image/jpeg"
	_ "golang.org/x/image/webp"
)

// Thumbnail dimension limits. Platforms reject tiny or absurd images;
// catching them here fails the upload before any network round trip.
const (
	MinThumbnailDim = 64
	MaxThumbnailDim = 4096
)

// PrepareThumbnail decodes srcPath (png, jpeg, gif, or webp), checks
// its dimensions, and writes it as PNG into destDir. Returns the path
// of the written file. The write goes through a temp file so a crash
// never leaves a half-written thumbnail.
func PrepareThumbnail(srcPath, destDir string) (string, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("opening thumbnail %s: %w", srcPath, err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return "", fmt.Errorf("decoding thumbnail %s: %w", srcPath, err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w < MinThumbnailDim || h < MinThumbnailDim {
		return "", fmt.Errorf("thumbnail %s is %dx%d, below minimum %dpx", srcPath, w, h, MinThumbnailDim)
	}
	if w > MaxThumbnailDim || h > MaxThumbnailDim {
		return "", fmt.Errorf("thumbnail %s is %dx%d, above maximum %dpx", srcPath, w, h, MaxThumbnailDim)
	}

	base := strings.TrimSuffix(filepath.Base(srcPath), filepath.Ext(srcPath))
	destPath := filepath.Join(destDir, base+".png")

	if format == "png" {
		// Already PNG: a straight copy keeps the original encoding.
		if err := copyFile(srcPath, destPath); err != nil {
			return "", err
		}
		return destPath, nil
	}

	tmp, err := os.CreateTemp(destDir, ".thumb-*.png")
	if err != nil {
		return "", fmt.Errorf("creating temp thumbnail: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		return "", fmt.Errorf("encoding thumbnail png: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing temp thumbnail: %w", err)
	}
	if err := os.Rename(tmp.Name(), destPath); err != nil {
		return "", fmt.Errorf("placing thumbnail: %w", err)
	}
	return destPath, nil
}

func copyFile(src, dest string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".thumb-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
