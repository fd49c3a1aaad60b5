// Package drive talks to the remote drive-like file source used by
// scheduled ingestion. The provider exposes folder listing, content
// download and move operations over HTTP; nothing here knows about
// extraction jobs.
package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// ErrFileNotFound is returned when the source no longer has the file.
var ErrFileNotFound = errors.New("drive file not found")

// FileMeta describes one remote file.
type FileMeta struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Folder     string `json:"folder"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modified_at"`
}

// Source is the file-source surface the ingester depends on. *Client
// implements it against the HTTP provider; tests use a stub.
type Source interface {
	List(ctx context.Context, folder string) ([]FileMeta, error)
	Download(ctx context.Context, fileID string) ([]byte, error)
	Move(ctx context.Context, fileID, destFolder string) error
	CreateFolder(ctx context.Context, name, parent string) error
}

// Client is an HTTP client for the drive provider.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Source = (*Client)(nil)

// NewClient creates a drive client.
func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
		logger: logger.With("component", "drive"),
	}
}

// List returns the files directly inside a folder.
func (c *Client) List(ctx context.Context, folder string) ([]FileMeta, error) {
	endpoint := c.baseURL + "/files?folder=" + url.QueryEscape(folder)
	var resp listResponse
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list folder %s: %w", folder, err)
	}
	return resp.Files, nil
}

// Download fetches a file's content.
func (c *Client) Download(ctx context.Context, fileID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/files/"+url.PathEscape(fileID)+"/content", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, fileID)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("download returned status %d: %s", resp.StatusCode, string(body))
	}
	return io.ReadAll(resp.Body)
}

// Move relocates a file into another folder.
func (c *Client) Move(ctx context.Context, fileID, destFolder string) error {
	body := moveRequest{Folder: destFolder}
	err := c.doJSON(ctx, http.MethodPost,
		c.baseURL+"/files/"+url.PathEscape(fileID)+"/move", body, nil)
	if err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", fileID, destFolder, err)
	}
	return nil
}

// CreateFolder ensures a folder exists under the given parent. The
// provider treats an existing folder as success.
func (c *Client) CreateFolder(ctx context.Context, name, parent string) error {
	body := createFolderRequest{Name: name, Parent: parent}
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/folders", body, nil); err != nil {
		return fmt.Errorf("failed to create folder %s: %w", name, err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrFileNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("request returned status %d: %s", resp.StatusCode, string(body))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// API request/response types.

type listResponse struct {
	Files []FileMeta `json:"files"`
}

type moveRequest struct {
	Folder string `json:"folder"`
}

type createFolderRequest struct {
	Name   string `json:"name"`
	Parent string `json:"parent"`
}
