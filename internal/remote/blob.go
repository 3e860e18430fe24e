package remote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/versekeep/versekeep/internal/domain"
)

const progressChunk = 64 * 1024

// BlobClient implements domain.BlobTransport: it streams an item's offline
// bytes over HTTP into a local blob directory, resuming partial transfers
// with a Range request.
type BlobClient struct {
	baseURL    string
	token      string
	dir        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewBlobClient creates a blob transport writing under dir.
func NewBlobClient(baseURL, token, dir string, logger *slog.Logger) *BlobClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &BlobClient{
		baseURL: baseURL,
		token:   token,
		dir:     dir,
		// No overall timeout: transfers are long-lived and cancelled
		// through the request context.
		httpClient: &http.Client{},
		logger:     logger,
	}
}

func (b *BlobClient) SupportsResume() bool { return true }

// Fetch streams the blob for itemID starting at offset, reporting progress
// after each chunk. The transfer stops promptly when ctx is cancelled.
func (b *BlobClient) Fetch(ctx context.Context, itemID string, offset int64, onProgress domain.TransferProgressFunc) error {
	reqURL := fmt.Sprintf("%s/library/items/%s/blob", b.baseURL, url.PathEscape(itemID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		offset = 0 // Server ignored the range; restart from scratch
	case http.StatusPartialContent:
	default:
		return fmt.Errorf("blob fetch returned %d for %s", resp.StatusCode, itemID)
	}

	total := offset + resp.ContentLength
	if resp.ContentLength < 0 {
		total = 0
	}
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		if t, ok := parseContentRangeTotal(cr); ok {
			total = t
		}
	}

	if err := os.MkdirAll(b.dir, 0755); err != nil {
		return err
	}
	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(b.blobPath(itemID), flags, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	written := offset
	buf := make([]byte, progressChunk)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return werr
			}
			written += int64(n)
			if onProgress != nil {
				onProgress(written, total)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

// Delete removes the local blob. Removing an absent blob is not an error.
func (b *BlobClient) Delete(itemID string) error {
	err := os.Remove(b.blobPath(itemID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (b *BlobClient) blobPath(itemID string) string {
	return filepath.Join(b.dir, itemID+".blob")
}

// parseContentRangeTotal extracts the total from "bytes start-end/total".
func parseContentRangeTotal(cr string) (int64, bool) {
	for i := len(cr) - 1; i >= 0; i-- {
		if cr[i] == '/' {
			t, err := strconv.ParseInt(cr[i+1:], 10, 64)
			return t, err == nil
		}
	}
	return 0, false
}
