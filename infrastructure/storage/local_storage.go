package storage

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	// Selfies may arrive as webp; imaging registers the other formats.
	_ "golang.org/x/image/webp"
)

const thumbnailJPEGQuality = 84

var selfieExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// LocalStorage owns the storage root with its selfies/ and thumbnails/
// subtrees. All returned paths are relative to the root with forward
// slashes so they can be served from a static mount.
type LocalStorage struct {
	root             string
	thumbnailMaxSize int
}

func NewLocalStorage(root string, thumbnailMaxSize int) (*LocalStorage, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}
	for _, dir := range []string{abs, filepath.Join(abs, "selfies"), filepath.Join(abs, "thumbnails")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage dir %s: %w", dir, err)
		}
	}
	if thumbnailMaxSize <= 0 {
		thumbnailMaxSize = 1200
	}
	return &LocalStorage{root: abs, thumbnailMaxSize: thumbnailMaxSize}, nil
}

func (s *LocalStorage) Root() string {
	return s.root
}

// SaveSelfie writes the selfie bytes under selfies/<query_id>.<ext>.
// Extensions outside the allowed set fall back to .jpg.
func (s *LocalStorage) SaveSelfie(queryID uuid.UUID, fileName string, data []byte) (string, error) {
	if fileName == "" {
		fileName = "selfie.jpg"
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	if !selfieExtensions[ext] {
		ext = ".jpg"
	}

	rel := path.Join("selfies", safeName(queryID.String())+ext)
	if err := os.WriteFile(s.AbsolutePath(rel), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write selfie: %w", err)
	}
	return rel, nil
}

// SaveThumbnail decodes the image, fits it inside the configured
// bounding square without upscaling and stores it as a JPEG under
// thumbnails/<event_id>/<safe-file-id>.jpg.
func (s *LocalStorage) SaveThumbnail(eventID uuid.UUID, driveFileID string, imageBytes []byte) (string, error) {
	img, err := imaging.Decode(bytes.NewReader(imageBytes), imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > s.thumbnailMaxSize || bounds.Dy() > s.thumbnailMaxSize {
		img = imaging.Fit(img, s.thumbnailMaxSize, s.thumbnailMaxSize, imaging.Lanczos)
	}

	rel := path.Join("thumbnails", eventID.String(), safeName(driveFileID)+".jpg")
	absPath := s.AbsolutePath(rel)
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create thumbnail dir: %w", err)
	}

	out, err := os.Create(absPath)
	if err != nil {
		return "", fmt.Errorf("failed to create thumbnail: %w", err)
	}
	defer out.Close()

	if err := imaging.Encode(out, img, imaging.JPEG, imaging.JPEGQuality(thumbnailJPEGQuality)); err != nil {
		return "", fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return rel, nil
}

// AbsolutePath resolves a stored relative path against the root.
func (s *LocalStorage) AbsolutePath(relPath string) string {
	clean := strings.Trim(strings.ReplaceAll(relPath, "\\", "/"), "/")
	return filepath.Join(s.root, filepath.FromSlash(clean))
}

// ReadFile loads a stored file by its relative path.
func (s *LocalStorage) ReadFile(relPath string) ([]byte, error) {
	return os.ReadFile(s.AbsolutePath(relPath))
}

// FileExists reports whether the relative path resolves to a file.
func (s *LocalStorage) FileExists(relPath string) bool {
	if relPath == "" {
		return false
	}
	info, err := os.Stat(s.AbsolutePath(relPath))
	return err == nil && !info.IsDir()
}

// DeleteIfExists removes the file, swallowing filesystem errors.
// Retention cleanup calls this on paths that may already be gone.
func (s *LocalStorage) DeleteIfExists(relPath string) {
	if relPath == "" {
		return
	}
	_ = os.Remove(s.AbsolutePath(relPath))
}

// safeName strips everything but alphanumerics, dash and underscore.
func safeName(value string) string {
	var b strings.Builder
	for _, r := range value {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "item"
	}
	return b.String()
}
