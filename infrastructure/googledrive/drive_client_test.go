package googledrive

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractFolderID(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"raw id", "1AbCdEfGhIjKlMnOpQrStUv", "1AbCdEfGhIjKlMnOpQrStUv"},
		{"raw id with underscore and dash", "abc_DEF-123456", "abc_DEF-123456"},
		{"too short", "abc123", ""},
		{"folders url", "https://drive.google.com/drive/folders/1AbCdEfGhIjKlMnOpQrStUv", "1AbCdEfGhIjKlMnOpQrStUv"},
		{"folders url with query", "https://drive.google.com/drive/folders/1AbCdEfGhIjKlMnOpQrStUv?usp=sharing", "1AbCdEfGhIjKlMnOpQrStUv"},
		{"folders url with trailing segment", "https://drive.google.com/drive/folders/1AbCdEfGhIjKlMnOpQrStUv/edit", "1AbCdEfGhIjKlMnOpQrStUv"},
		{"open url with id param", "https://drive.google.com/open?id=1AbCdEfGhIjKlMnOpQrStUv", "1AbCdEfGhIjKlMnOpQrStUv"},
		{"unrelated url", "https://example.com/something", ""},
		{"empty", "", ""},
		{"whitespace", "   ", ""},
		{"id with illegal chars", "1AbCdEf.GhIjKlMnOp", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractFolderID(tt.input))
		})
	}
}

func TestContentStamp(t *testing.T) {
	stamp := ContentStamp(DriveFile{
		ID:           "file-1",
		Name:         "IMG_0001.jpg",
		Size:         523144,
		ModifiedTime: "2025-06-01T10:30:00.000Z",
	})
	assert.Equal(t, "2025-06-01T10:30:00.000Z|523144|IMG_0001.jpg", stamp)

	// Missing size must read as empty, not zero
	stamp = ContentStamp(DriveFile{Name: "a.png", ModifiedTime: "2025-06-01T10:30:00.000Z"})
	assert.Equal(t, "2025-06-01T10:30:00.000Z||a.png", stamp)
}

func TestLooksLikeHTML(t *testing.T) {
	assert.True(t, looksLikeHTML([]byte("<html><body>virus scan warning</body>"), ""))
	assert.True(t, looksLikeHTML([]byte("<!DOCTYPE HTML><html>"), ""))
	assert.True(t, looksLikeHTML([]byte("   <head><title>x</title>"), ""))
	assert.True(t, looksLikeHTML([]byte("binary"), "text/html; charset=utf-8"))
	assert.False(t, looksLikeHTML([]byte{0xff, 0xd8, 0xff, 0xe0}, "image/jpeg"))

	// Marker beyond the first 320 bytes is not an HTML page
	padded := append(make([]byte, 320), []byte("<html>")...)
	assert.False(t, looksLikeHTML(padded, ""))
}

func TestLooksLikeImageBytes(t *testing.T) {
	jpeg := append([]byte{0xff, 0xd8, 0xff, 0xe0}, make([]byte, 16)...)
	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 16)...)
	gif := append([]byte("GIF89a"), make([]byte, 16)...)
	webp := append([]byte("RIFF....WEBP"), make([]byte, 16)...)
	bmp := append([]byte("BM"), make([]byte, 16)...)

	assert.True(t, looksLikeImageBytes(jpeg, ""))
	assert.True(t, looksLikeImageBytes(png, ""))
	assert.True(t, looksLikeImageBytes(gif, ""))
	assert.True(t, looksLikeImageBytes(webp, ""))
	assert.True(t, looksLikeImageBytes(bmp, ""))

	// Content type wins even without a known magic prefix
	assert.True(t, looksLikeImageBytes(make([]byte, 20), "image/heic"))

	assert.False(t, looksLikeImageBytes([]byte("short"), ""))
	assert.False(t, looksLikeImageBytes(make([]byte, 20), "application/json"))
	assert.False(t, looksLikeImageBytes(nil, "image/jpeg"))
}

func TestDownloadCandidatesOrder(t *testing.T) {
	withKey := &DriveClient{apiKey: "k3y"}
	urls := withKey.downloadCandidates("file+1")
	require.Len(t, urls, 5)
	assert.Contains(t, urls[0], "googleapis.com/drive/v3/files/file%2B1?alt=media&key=k3y")
	assert.Contains(t, urls[1], "drive.usercontent.google.com/download")
	assert.Contains(t, urls[2], "uc?export=download")
	assert.Contains(t, urls[3], "thumbnail?id=file%2B1&sz=w2200")
	assert.Contains(t, urls[4], "lh3.googleusercontent.com/d/file%2B1=w2200")

	withoutKey := &DriveClient{}
	assert.Len(t, withoutKey.downloadCandidates("file-1"), 4)
}

func TestFetchURLRejectsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := &DriveClient{httpClient: &http.Client{Timeout: 5 * time.Second}}
	_, _, err := client.fetchURL(context.Background(), srv.URL)
	assert.Error(t, err)
}

func TestFetchURLReturnsBodyAndContentType(t *testing.T) {
	body := append([]byte{0xff, 0xd8, 0xff, 0xe0}, make([]byte, 32)...)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	client := &DriveClient{httpClient: &http.Client{Timeout: 5 * time.Second}}
	data, contentType, err := client.fetchURL(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, body, data)
	assert.Equal(t, "image/jpeg", contentType)
}

func TestPublicURLBuilders(t *testing.T) {
	assert.Equal(t, "https://drive.google.com/thumbnail?id=abc&sz=w1200", PreviewURL("abc"))
	assert.Equal(t, "https://drive.google.com/uc?export=download&id=abc", PublicDownloadURL("abc"))
	assert.Equal(t, "https://drive.google.com/file/d/abc/view", FileViewURL("abc"))
}
