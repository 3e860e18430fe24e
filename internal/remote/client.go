// Package remote supplies the HTTP implementations of the consumed
// capabilities: the remote library API and the blob transport. The engine
// itself is storage-and-protocol agnostic; these clients are one concrete
// deployment's encodings (JSON bodies, bearer token, Range resumption).
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/versekeep/versekeep/internal/domain"
)

const (
	defaultTimeout = 30 * time.Second
	userAgent      = "versekeep/1.0"
)

// Client implements domain.RemoteLibrary against an HTTP JSON API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a remote library client.
func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		logger: logger,
	}
}

func (c *Client) SaveItem(ctx context.Context, item domain.LibraryItem) error {
	return c.doJSON(ctx, http.MethodPut, "/library/items/"+url.PathEscape(item.ID), item)
}

func (c *Client) DeleteItem(ctx context.Context, itemID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/library/items/"+url.PathEscape(itemID), nil)
}

func (c *Client) CreateCollection(ctx context.Context, col domain.LibraryCollection) error {
	return c.doJSON(ctx, http.MethodPost, "/library/collections", col)
}

func (c *Client) UpdateCollection(ctx context.Context, col domain.LibraryCollection) error {
	return c.doJSON(ctx, http.MethodPut, "/library/collections/"+url.PathEscape(col.ID), col)
}

func (c *Client) DeleteCollection(ctx context.Context, collectionID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/library/collections/"+url.PathEscape(collectionID), nil)
}

func (c *Client) SyncItems(ctx context.Context, items []domain.LibraryItem) error {
	return c.doJSON(ctx, http.MethodPost, "/library/sync/items", items)
}

func (c *Client) SyncCollections(ctx context.Context, cols []domain.LibraryCollection) error {
	return c.doJSON(ctx, http.MethodPost, "/library/sync/collections", cols)
}

// doJSON performs an authenticated request with an optional JSON body.
func (c *Client) doJSON(ctx context.Context, method, path string, body any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	reqURL := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.logger.Debug("remote request", "method", method, "url", reqURL)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("remote request failed", "error", err)
		return fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return domain.ErrAuthFailed
	case resp.StatusCode >= 400:
		return fmt.Errorf("remote returned %d for %s %s", resp.StatusCode, method, path)
	}
	return nil
}
