// Package folder implements the cloud folder-service backend variant. It
// authenticates with the cached JSON credential file and keeps the exchanged
// access token in memory, refreshing it when it expires.
package folder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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

// Backend talks to the folder service REST surface.
type Backend struct {
	cfg    config.Config
	client *http.Client
	logger *slog.Logger
	cache  *remote.ScreenshotCache

	mu          sync.Mutex
	baseURL     string
	account     config.ServiceAccount
	token       string
	tokenExpiry time.Time
	initialized bool
}

// New builds the folder backend. credentials are not read until Initialize.
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

// Initialize loads the credential file and exchanges it for an access token.
func (b *Backend) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.initialized && time.Now().Before(b.tokenExpiry) {
		return nil
	}

	account, err := b.cfg.LoadServiceAccount()
	if err != nil {
		return fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}
	b.account = account
	b.baseURL = strings.TrimSuffix(account.FolderURI, "/")
	if b.baseURL == "" {
		return fmt.Errorf("%w: service account has no folder_uri", remote.ErrUnavailable)
	}

	if err := b.refreshTokenLocked(ctx); err != nil {
		return err
	}
	b.initialized = true
	return nil
}

func (b *Backend) refreshTokenLocked(ctx context.Context) error {
	body, _ := json.Marshal(map[string]string{
		"client_email": b.account.ClientEmail,
		"private_key":  b.account.PrivateKey,
		"grant_type":   "service_account",
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.account.TokenURI, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: token exchange: %v", remote.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: token exchange returned %d", remote.ErrUnavailable, resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("%w: token response: %v", remote.ErrUnavailable, err)
	}
	if payload.AccessToken == "" {
		return fmt.Errorf("%w: empty access token", remote.ErrUnavailable)
	}

	b.token = payload.AccessToken
	if payload.ExpiresIn <= 0 {
		payload.ExpiresIn = 3600
	}
	b.tokenExpiry = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	b.logger.Debug("folder token refreshed", "service", "remote", "expires_in", payload.ExpiresIn)
	return nil
}

func (b *Backend) ensureToken(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return "", remote.ErrUnavailable
	}
	if time.Now().After(b.tokenExpiry) {
		if err := b.refreshTokenLocked(ctx); err != nil {
			return "", err
		}
	}
	return b.token, nil
}

// UploadJSON uploads a document, overwriting any file with the same name.
func (b *Backend) UploadJSON(ctx context.Context, folder remote.FolderKind, name string, data []byte) (string, error) {
	return b.upload(ctx, folder, name, data, "application/json")
}

// UploadBinary uploads a blob, overwriting any file with the same name.
func (b *Backend) UploadBinary(ctx context.Context, folder remote.FolderKind, name string, data []byte, mime string) (string, error) {
	return b.upload(ctx, folder, name, data, mime)
}

func (b *Backend) upload(ctx context.Context, folder remote.FolderKind, name string, data []byte, mime string) (string, error) {
	// Idempotency by name: an existing file is overwritten in place and
	// keeps its id.
	existing, err := b.findByName(ctx, folder, name)
	if err == nil {
		if err := b.overwrite(ctx, existing.ID, data, mime); err != nil {
			return "", err
		}
		return existing.ID, nil
	}
	if !errors.Is(err, remote.ErrNotFound) {
		return "", err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("name", name); err != nil {
		return "", err
	}
	part, err := writer.CreateFormFile("content", name)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/folders/%s/files", b.baseURL, string(folder))
	resp, err := b.do(ctx, http.MethodPost, endpoint, &body, writer.FormDataContentType())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("remote: upload %s returned %d", name, resp.StatusCode)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("remote: upload response: %w", err)
	}
	return created.ID, nil
}

func (b *Backend) overwrite(ctx context.Context, remoteID string, data []byte, mime string) error {
	endpoint := fmt.Sprintf("%s/files/%s/content", b.baseURL, url.PathEscape(remoteID))
	resp, err := b.do(ctx, http.MethodPut, endpoint, bytes.NewReader(data), mime)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("remote: overwrite %s returned %d", remoteID, resp.StatusCode)
	}
	return nil
}

func (b *Backend) findByName(ctx context.Context, folder remote.FolderKind, name string) (remote.File, error) {
	files, err := b.ListByNameContains(ctx, folder, name)
	if err != nil {
		return remote.File{}, err
	}
	for _, f := range files {
		if f.Name == name {
			return f, nil
		}
	}
	return remote.File{}, remote.ErrNotFound
}

// ListByNameContains lists folder files whose name contains the substring.
func (b *Backend) ListByNameContains(ctx context.Context, folder remote.FolderKind, substring string) ([]remote.File, error) {
	endpoint := fmt.Sprintf("%s/folders/%s/files?nameContains=%s",
		b.baseURL, string(folder), url.QueryEscape(substring))
	resp, err := b.do(ctx, http.MethodGet, endpoint, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote: list %s returned %d", folder, resp.StatusCode)
	}

	var payload struct {
		Files []struct {
			ID          string    `json:"id"`
			Name        string    `json:"name"`
			CreatedTime time.Time `json:"createdTime"`
		} `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("remote: list response: %w", err)
	}

	out := make([]remote.File, 0, len(payload.Files))
	for _, f := range payload.Files {
		out = append(out, remote.File{ID: f.ID, Name: f.Name, CreatedAt: f.CreatedTime})
	}
	return out, nil
}

// Download fetches a file's bytes, serving repeated requests from the cache.
func (b *Backend) Download(ctx context.Context, remoteID string) ([]byte, error) {
	if data, ok := b.cache.Get(remoteID); ok {
		return data, nil
	}

	endpoint := fmt.Sprintf("%s/files/%s/content", b.baseURL, url.PathEscape(remoteID))
	resp, err := b.do(ctx, http.MethodGet, endpoint, nil, "")
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
		return nil, fmt.Errorf("remote: download %s: %w", remoteID, err)
	}
	b.cache.Put(remoteID, data)
	return data, nil
}

// Delete removes a remote file. Deleting a missing file is not an error.
func (b *Backend) Delete(ctx context.Context, remoteID string) error {
	endpoint := fmt.Sprintf("%s/files/%s", b.baseURL, url.PathEscape(remoteID))
	resp, err := b.do(ctx, http.MethodDelete, endpoint, nil, "")
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

// StorageStats has no folder-service endpoint; it reports zero values.
func (b *Backend) StorageStats(ctx context.Context) (remote.StorageStats, error) {
	return remote.StorageStats{}, nil
}

func (b *Backend) do(ctx context.Context, method, endpoint string, body io.Reader, contentType string) (*http.Response, error) {
	token, err := b.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, remote.DefaultTimeout)
	req, err := http.NewRequestWithContext(callCtx, method, endpoint, body)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("remote: %s %s: %w", method, endpoint, err)
	}
	resp.Body = &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
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
