package googledrive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"grabpic/pkg/config"
	"grabpic/pkg/logger"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"
	userAgent      = "GrabPic/1.0"
	listPageSize   = 200
)

// DriveFile is one listed image file. ModifiedTime stays the raw
// RFC3339 string from the API because it is part of the content stamp.
type DriveFile struct {
	ID           string
	Name         string
	MimeType     string
	Size         int64
	WebViewURL   string
	ModifiedTime string
}

// DriveClient wraps the Drive v3 service for folder listing plus a
// plain HTTP client for the public download fallbacks.
type DriveClient struct {
	apiKey     string
	svc        *drive.Service
	httpClient *http.Client
}

// NewDriveClient builds the client in API-key mode by default, or in
// OAuth token-source mode when client credentials and a refresh token
// are configured (private folders). With neither, the client still
// constructs but every listing call fails; sync jobs surface that as a
// job failure.
func NewDriveClient(ctx context.Context, cfg config.DriveConfig) (*DriveClient, error) {
	client := &DriveClient{
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}

	switch {
	case cfg.ClientID != "" && cfg.ClientSecret != "" && cfg.RefreshToken != "":
		oauthConfig := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       []string{drive.DriveReadonlyScope},
			Endpoint:     google.Endpoint,
		}
		source := oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
		svc, err := drive.NewService(ctx, option.WithTokenSource(source))
		if err != nil {
			return nil, fmt.Errorf("failed to create drive service: %w", err)
		}
		client.svc = svc
	case cfg.APIKey != "":
		svc, err := drive.NewService(ctx, option.WithAPIKey(cfg.APIKey))
		if err != nil {
			return nil, fmt.Errorf("failed to create drive service: %w", err)
		}
		client.svc = svc
	default:
		logger.StartupWarn("drive_unconfigured", "No Drive credentials configured; folder sync will fail until set", nil)
	}
	return client, nil
}

// Configured reports whether the client can reach the Drive API.
func (c *DriveClient) Configured() bool {
	return c.svc != nil
}

// ListFolderImages walks the folder subtree breadth-first and returns
// every image file, up to maxImages (0 = unlimited). Nested folders
// are queued behind a visited set, so shortcut cycles terminate.
func (c *DriveClient) ListFolderImages(ctx context.Context, folderID string, maxImages int) ([]DriveFile, error) {
	if c.svc == nil {
		return nil, fmt.Errorf("drive API is not configured")
	}

	unlimited := maxImages <= 0
	var output []DriveFile
	visited := make(map[string]bool)
	pending := []string{folderID}

	for len(pending) > 0 && (unlimited || len(output) < maxImages) {
		current := pending[0]
		pending = pending[1:]
		if current == "" || visited[current] {
			continue
		}
		visited[current] = true

		query := fmt.Sprintf(
			"'%s' in parents and trashed = false and (mimeType contains 'image/' or mimeType = '%s')",
			current, folderMimeType,
		)

		pageToken := ""
		for unlimited || len(output) < maxImages {
			pageSize := int64(listPageSize)
			if !unlimited {
				remaining := maxImages - len(output)
				pageSize = int64(minInt(listPageSize, maxOf(20, remaining)))
			}

			call := c.svc.Files.List().
				Q(query).
				Fields("nextPageToken, files(id, name, mimeType, webViewLink, modifiedTime, size)").
				PageSize(pageSize).
				SupportsAllDrives(true).
				IncludeItemsFromAllDrives(true).
				Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}

			result, err := call.Do()
			if err != nil {
				return nil, fmt.Errorf("drive listing failed: %w", err)
			}

			for _, f := range result.Files {
				if f.Id == "" {
					continue
				}
				if f.MimeType == folderMimeType {
					if !visited[f.Id] {
						pending = append(pending, f.Id)
					}
					continue
				}
				if strings.HasPrefix(f.MimeType, "image/") {
					output = append(output, DriveFile{
						ID:           f.Id,
						Name:         f.Name,
						MimeType:     f.MimeType,
						Size:         f.Size,
						WebViewURL:   f.WebViewLink,
						ModifiedTime: f.ModifiedTime,
					})
					if !unlimited && len(output) >= maxImages {
						break
					}
				}
			}

			pageToken = result.NextPageToken
			if pageToken == "" {
				break
			}
		}
	}

	if !unlimited && len(output) > maxImages {
		output = output[:maxImages]
	}
	return output, nil
}

// DownloadImage fetches the file bytes, trying the API media endpoint
// first and falling back through the public mirror URLs. A 200 that
// carries an HTML interstitial counts as a failure.
func (c *DriveClient) DownloadImage(ctx context.Context, fileID string) ([]byte, error) {
	if c.svc != nil && c.apiKey == "" {
		// OAuth mode: authenticated media download
		if data, err := c.downloadViaService(ctx, fileID); err == nil {
			return data, nil
		}
	}

	for _, candidate := range c.downloadCandidates(fileID) {
		data, contentType, err := c.fetchURL(ctx, candidate)
		if err != nil {
			continue
		}
		if looksLikeHTML(data, contentType) {
			continue
		}
		if looksLikeImageBytes(data, contentType) {
			return data, nil
		}
	}
	return nil, fmt.Errorf("could not download image for drive file %s", fileID)
}

func (c *DriveClient) downloadViaService(ctx context.Context, fileID string) ([]byte, error) {
	resp, err := c.svc.Files.Get(fileID).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	contentType := resp.Header.Get("Content-Type")
	if looksLikeHTML(data, contentType) || !looksLikeImageBytes(data, contentType) {
		return nil, fmt.Errorf("media endpoint returned non-image content")
	}
	return data, nil
}

func (c *DriveClient) downloadCandidates(fileID string) []string {
	escaped := url.QueryEscape(fileID)
	candidates := make([]string, 0, 5)
	if c.apiKey != "" {
		candidates = append(candidates, fmt.Sprintf(
			"https://www.googleapis.com/drive/v3/files/%s?alt=media&key=%s",
			escaped, url.QueryEscape(c.apiKey),
		))
	}
	return append(candidates,
		fmt.Sprintf("https://drive.usercontent.google.com/download?id=%s&export=download&confirm=t", escaped),
		fmt.Sprintf("https://drive.google.com/uc?export=download&id=%s", escaped),
		fmt.Sprintf("https://drive.google.com/thumbnail?id=%s&sz=w2200", escaped),
		fmt.Sprintf("https://lh3.googleusercontent.com/d/%s=w2200", escaped),
	)
}

func (c *DriveClient) fetchURL(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "image/*,*/*;q=0.8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// ExtractFolderID pulls a folder id out of a raw id string, a
// /folders/<id> URL segment or an ?id= query parameter. Returns ""
// when nothing id-shaped is found.
func ExtractFolderID(input string) string {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return ""
	}
	if looksLikeDriveID(raw) {
		return raw
	}

	if idx := strings.Index(raw, "/folders/"); idx >= 0 {
		part := raw[idx+len("/folders/"):]
		part = strings.SplitN(part, "?", 2)[0]
		part = strings.SplitN(part, "/", 2)[0]
		if looksLikeDriveID(part) {
			return part
		}
	}

	if parsed, err := url.Parse(raw); err == nil {
		if maybe := parsed.Query().Get("id"); looksLikeDriveID(maybe) {
			return maybe
		}
	}
	return ""
}

// ContentStamp fingerprints a listed file as modifiedTime|size|name.
// Equal stamps are treated as byte-identical during sync.
func ContentStamp(f DriveFile) string {
	size := ""
	if f.Size > 0 {
		size = strconv.FormatInt(f.Size, 10)
	}
	return fmt.Sprintf("%s|%s|%s", f.ModifiedTime, size, f.Name)
}

// FileViewURL is the webViewLink fallback for a listed file.
func FileViewURL(fileID string) string {
	return fmt.Sprintf("https://drive.google.com/file/d/%s/view", fileID)
}

// PreviewURL is a public medium-resolution preview.
func PreviewURL(fileID string) string {
	return fmt.Sprintf("https://drive.google.com/thumbnail?id=%s&sz=w1200", fileID)
}

// PublicDownloadURL is the public full-resolution download endpoint.
func PublicDownloadURL(fileID string) string {
	return fmt.Sprintf("https://drive.google.com/uc?export=download&id=%s", fileID)
}

func looksLikeDriveID(value string) bool {
	value = strings.TrimSpace(value)
	if len(value) < 10 {
		return false
	}
	for _, r := range value {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !isAlnum && r != '-' && r != '_' {
			return false
		}
	}
	return true
}

func looksLikeHTML(content []byte, contentType string) bool {
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return true
	}
	prefix := content
	if len(prefix) > 320 {
		prefix = prefix[:320]
	}
	lowered := bytes.ToLower(prefix)
	return bytes.Contains(lowered, []byte("<html")) ||
		bytes.Contains(lowered, []byte("<!doctype html")) ||
		bytes.Contains(lowered, []byte("<head"))
}

func looksLikeImageBytes(content []byte, contentType string) bool {
	if len(content) < 12 {
		return false
	}
	if strings.HasPrefix(strings.TrimSpace(strings.ToLower(contentType)), "image/") {
		return true
	}
	return bytes.HasPrefix(content, []byte("\xff\xd8\xff")) ||
		bytes.HasPrefix(content, []byte("\x89PNG\r\n\x1a\n")) ||
		bytes.HasPrefix(content, []byte("RIFF")) ||
		bytes.HasPrefix(content, []byte("GIF87a")) ||
		bytes.HasPrefix(content, []byte("GIF89a")) ||
		bytes.HasPrefix(content, []byte("BM"))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxOf(a, b int) int {
	if a > b {
		return a
	}
	return b
}
