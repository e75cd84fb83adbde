package storage

import (
	"bytes"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T, maxSize int) *LocalStorage {
	t.Helper()
	store, err := NewLocalStorage(t.TempDir(), maxSize)
	require.NoError(t, err)
	return store
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestSaveSelfieWhitelistsExtension(t *testing.T) {
	store := newTestStorage(t, 1200)
	queryID := uuid.New()

	rel, err := store.SaveSelfie(queryID, "portrait.PNG", []byte("not-really-a-png"))
	require.NoError(t, err)
	assert.Equal(t, "selfies/"+queryID.String()+".png", rel)

	data, err := store.ReadFile(rel)
	require.NoError(t, err)
	assert.Equal(t, []byte("not-really-a-png"), data)
}

func TestSaveSelfieFallsBackToJpg(t *testing.T) {
	store := newTestStorage(t, 1200)
	queryID := uuid.New()

	rel, err := store.SaveSelfie(queryID, "payload.exe", []byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, "selfies/"+queryID.String()+".jpg", rel)

	rel, err = store.SaveSelfie(queryID, "", []byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, "selfies/"+queryID.String()+".jpg", rel)
}

func TestSaveThumbnailFitsWithinBounds(t *testing.T) {
	store := newTestStorage(t, 64)
	eventID := uuid.New()

	rel, err := store.SaveThumbnail(eventID, "drive-file-01", pngBytes(t, 400, 200))
	require.NoError(t, err)
	assert.Equal(t, "thumbnails/"+eventID.String()+"/drive-file-01.jpg", rel)

	f, err := os.Open(store.AbsolutePath(rel))
	require.NoError(t, err)
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.LessOrEqual(t, cfg.Width, 64)
	assert.LessOrEqual(t, cfg.Height, 64)
}

func TestSaveThumbnailKeepsSmallImages(t *testing.T) {
	store := newTestStorage(t, 1200)
	eventID := uuid.New()

	rel, err := store.SaveThumbnail(eventID, "small", pngBytes(t, 40, 30))
	require.NoError(t, err)

	f, err := os.Open(store.AbsolutePath(rel))
	require.NoError(t, err)
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Width)
	assert.Equal(t, 30, cfg.Height)
}

func TestSaveThumbnailRejectsGarbage(t *testing.T) {
	store := newTestStorage(t, 1200)

	_, err := store.SaveThumbnail(uuid.New(), "bad", []byte("<html>not an image</html>"))
	assert.Error(t, err)
}

func TestSafeNameSanitizes(t *testing.T) {
	assert.Equal(t, "abc-DEF_123", safeName("abc-DEF_123"))
	assert.Equal(t, "abc123", safeName("a/b\\c..12?3"))
	assert.Equal(t, "item", safeName(""))
	assert.Equal(t, "item", safeName("../../"))
}

func TestDeleteIfExists(t *testing.T) {
	store := newTestStorage(t, 1200)
	queryID := uuid.New()

	rel, err := store.SaveSelfie(queryID, "a.jpg", []byte{0xff, 0xd8})
	require.NoError(t, err)
	assert.True(t, store.FileExists(rel))

	store.DeleteIfExists(rel)
	assert.False(t, store.FileExists(rel))

	// Deleting again must be a no-op
	store.DeleteIfExists(rel)
	store.DeleteIfExists("")
}
