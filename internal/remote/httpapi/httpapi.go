// Package httpapi implements the HTTP API server backend variant. It
// exchanges the shared API key for a bearer token, caches the token on disk
// with a 24 h TTL, and re-authenticates once on 401.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/example/timetracker/internal/config"
	"github.com/example/timetracker/internal/remote"
)

// tokenTTL is how long an issued bearer token is trusted before
// re-authentication.
const tokenTTL = 24 * time.Hour

// Backend talks to the HTTP API server.
type Backend struct {
	cfg    config.Config
	client *http.Client
	logger *slog.Logger
	cache  *remote.ScreenshotCache

	mu          sync.Mutex
	vps         config.VPSConfig
	token       string
	initialized bool
}

// New builds the HTTP backend. Configuration files are not read until
// Initialize.
func New(cfg config.Config, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		cfg:    cfg,
		client: &http.Client{Timeout: remote.DefaultTimeout},
		logger: logger,
		cache:  remote.NewScreenshotCache(remote.DefaultCacheSize),
	}
}

// Initialize resolves the server configuration and obtains a bearer token,
// reusing the cached token while it is within its TTL.
func (b *Backend) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	vps, err := b.cfg.LoadVPSConfig()
	if err != nil {
		return fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}
	b.vps = vps
	b.vps.BaseURL = strings.TrimSuffix(b.vps.BaseURL, "/")

	cached, err := b.cfg.LoadTokenCache()
	if err == nil && cached.Valid(time.Now()) {
		b.token = cached.Token
		b.initialized = true
		return nil
	}

	if err := b.authenticateLocked(ctx); err != nil {
		return err
	}
	b.initialized = true
	return nil
}

func (b *Backend) authenticateLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.vps.BaseURL+"/auth/token", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}
	req.Header.Set("x-api-key", b.vps.APIKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: auth: %v", remote.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: auth returned %d", remote.ErrUnavailable, resp.StatusCode)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || payload.Token == "" {
		return fmt.Errorf("%w: malformed auth response", remote.ErrUnavailable)
	}

	now := time.Now()
	b.token = payload.Token
	if err := b.cfg.SaveTokenCache(config.TokenCache{
		Token:     payload.Token,
		IssuedAt:  now,
		ExpiresAt: now.Add(tokenTTL),
	}); err != nil {
		b.logger.Warn("token cache not persisted", "service", "remote", "error", err)
	}
	return nil
}

// Health probes the server's health endpoint.
func (b *Backend) Health(ctx context.Context) error {
	resp, err := b.do(ctx, http.MethodGet, "/health", nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("remote: health returned %d", resp.StatusCode)
	}
	return nil
}

func folderPath(folder remote.FolderKind) string {
	if folder == remote.FolderCaptures {
		return "screenshots"
	}
	return "timeentries"
}

// UploadJSON posts a time entry document; the server overwrites by name and
// returns the file's id.
func (b *Backend) UploadJSON(ctx context.Context, folder remote.FolderKind, name string, data []byte) (string, error) {
	endpoint := fmt.Sprintf("/%s?name=%s", folderPath(folder), url.QueryEscape(name))
	resp, err := b.do(ctx, http.MethodPost, endpoint, bytes.NewReader(data), "application/json")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	return b.uploadResult(folder, resp)
}

// UploadBinary posts a capture as multipart form data with its metadata.
func (b *Backend) UploadBinary(ctx context.Context, folder remote.FolderKind, name string, data []byte, mime string) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("name", name); err != nil {
		return "", err
	}
	if err := writer.WriteField("mimeType", mime); err != nil {
		return "", err
	}
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	resp, err := b.do(ctx, http.MethodPost, "/"+folderPath(folder), &body, writer.FormDataContentType())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	return b.uploadResult(folder, resp)
}

func (b *Backend) uploadResult(folder remote.FolderKind, resp *http.Response) (string, error) {
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("remote: upload returned %d", resp.StatusCode)
	}
	var payload struct {
		ID json.Number `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("remote: upload response: %w", err)
	}
	// Remote ids are path fragments so download and delete can address the
	// right resource without extra bookkeeping.
	return folderPath(folder) + "/" + payload.ID.String(), nil
}

// ListByNameContains lists remote files by name substring.
func (b *Backend) ListByNameContains(ctx context.Context, folder remote.FolderKind, substring string) ([]remote.File, error) {
	endpoint := fmt.Sprintf("/%s?nameContains=%s", folderPath(folder), url.QueryEscape(substring))
	resp, err := b.do(ctx, http.MethodGet, endpoint, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote: list %s returned %d", folder, resp.StatusCode)
	}

	var payload []struct {
		ID          json.Number `json:"id"`
		Name        string      `json:"name"`
		CreatedTime time.Time   `json:"createdTime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("remote: list response: %w", err)
	}

	out := make([]remote.File, 0, len(payload))
	for _, f := range payload {
		out = append(out, remote.File{
			ID:        folderPath(folder) + "/" + f.ID.String(),
			Name:      f.Name,
			CreatedAt: f.CreatedTime,
		})
	}
	return out, nil
}

// Download fetches a file's bytes, serving repeated requests from the cache.
func (b *Backend) Download(ctx context.Context, remoteID string) ([]byte, error) {
	if data, ok := b.cache.Get(remoteID); ok {
		return data, nil
	}

	resp, err := b.do(ctx, http.MethodGet, "/"+remoteID, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, remote.ErrNotFound
	default:
		return nil, fmt.Errorf("remote: download %s returned %d", remoteID, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	b.cache.Put(remoteID, data)
	return data, nil
}

// DownloadThumbnail fetches the server-rendered thumbnail of a screenshot.
func (b *Backend) DownloadThumbnail(ctx context.Context, remoteID string) ([]byte, error) {
	if !strings.HasPrefix(remoteID, "screenshots/") {
		return nil, fmt.Errorf("remote: no thumbnail for %s", remoteID)
	}
	resp, err := b.do(ctx, http.MethodGet, "/"+remoteID+"/thumbnail", nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote: thumbnail %s returned %d", remoteID, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Delete removes a remote file. Deleting a missing file is not an error.
func (b *Backend) Delete(ctx context.Context, remoteID string) error {
	resp, err := b.do(ctx, http.MethodDelete, "/"+remoteID, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("remote: delete %s returned %d", remoteID, resp.StatusCode)
	}
}

// Cleanup asks the server to bulk-delete files older than the cutoff and
// reports how many were removed.
func (b *Backend) Cleanup(ctx context.Context, cutoff time.Time) (int, error) {
	body, _ := json.Marshal(map[string]string{
		"cutoffDate": cutoff.UTC().Format(time.RFC3339),
	})
	resp, err := b.do(ctx, http.MethodPost, "/cleanup", bytes.NewReader(body), "application/json")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("remote: cleanup returned %d", resp.StatusCode)
	}

	var payload struct {
		Deleted int `json:"deleted"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("remote: cleanup response: %w", err)
	}
	return payload.Deleted, nil
}

// SetRetention pushes the remote retention window to the server.
func (b *Backend) SetRetention(ctx context.Context, days int) error {
	body, _ := json.Marshal(map[string]int{"retentionDays": days})
	resp, err := b.do(ctx, http.MethodPost, "/settings/retention", bytes.NewReader(body), "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("remote: settings/retention returned %d", resp.StatusCode)
	}
	return nil
}

// StorageStats reads the server's storage usage.
func (b *Backend) StorageStats(ctx context.Context) (remote.StorageStats, error) {
	resp, err := b.do(ctx, http.MethodGet, "/storage/stats", nil, "")
	if err != nil {
		return remote.StorageStats{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return remote.StorageStats{}, fmt.Errorf("remote: storage/stats returned %d", resp.StatusCode)
	}

	var stats remote.StorageStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return remote.StorageStats{}, fmt.Errorf("remote: stats response: %w", err)
	}
	return stats, nil
}

// do issues an authenticated request, re-authenticating once on 401. The
// request body is buffered so the retry can replay it.
func (b *Backend) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	b.mu.Lock()
	if !b.initialized {
		b.mu.Unlock()
		return nil, remote.ErrUnavailable
	}
	base := b.vps.BaseURL
	token := b.token
	apiKey := b.vps.APIKey
	b.mu.Unlock()

	var payload []byte
	if body != nil {
		var err error
		payload, err = io.ReadAll(body)
		if err != nil {
			return nil, err
		}
	}

	send := func(tok string) (*http.Response, error) {
		callCtx, cancel := context.WithTimeout(ctx, remote.DefaultTimeout)
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(callCtx, method, base+path, reader)
		if err != nil {
			cancel()
			return nil, err
		}
		req.Header.Set("x-api-key", apiKey)
		req.Header.Set("Authorization", "Bearer "+tok)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		resp, err := b.client.Do(req)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("remote: %s %s: %w", method, path, err)
		}
		resp.Body = &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}

	resp, err := send(token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	resp.Body.Close()

	b.mu.Lock()
	if err := b.authenticateLocked(ctx); err != nil {
		b.mu.Unlock()
		return nil, err
	}
	token = b.token
	b.mu.Unlock()

	return send(token)
}

type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
