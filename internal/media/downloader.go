// Package media fetches market images from the social platform's CDN and
// stores them in a content-addressed location: an IPFS upload gateway or an
// S3-compatible bucket.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Defaults for the image pipeline.
const (
	DefaultMaxBytes      int64 = 5 * 1024 * 1024
	DefaultAllowedPrefix       = "https://pbs.twimg.com/"
	maxRedirects               = 5
)

// ErrURLNotAllowed is returned for URLs outside the allowed hosts.
var ErrURLNotAllowed = errors.New("image url not allowed")

// ErrTooLarge is returned when an image exceeds the size cap.
var ErrTooLarge = errors.New("image too large")

// Downloader fetches images from a fixed set of URL prefixes.
type Downloader struct {
	allowed    []string
	maxBytes   int64
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDownloader returns a Downloader. Empty allowed means DefaultAllowedPrefix;
// maxBytes <= 0 means DefaultMaxBytes.
func NewDownloader(allowed []string, maxBytes int64, timeout time.Duration, logger *slog.Logger) *Downloader {
	if len(allowed) == 0 {
		allowed = []string{DefaultAllowedPrefix}
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	d := &Downloader{
		allowed:  allowed,
		maxBytes: maxBytes,
		logger:   logger.With("component", "image_downloader"),
	}
	d.httpClient = &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return d.checkURL(req.URL.String())
		},
	}
	return d
}

func (d *Downloader) checkURL(url string) error {
	for _, prefix := range d.allowed {
		if strings.HasPrefix(url, prefix) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrURLNotAllowed, url)
}

// Download fetches url and returns its bytes and detected content type.
func (d *Downloader) Download(ctx context.Context, url string) ([]byte, string, error) {
	if err := d.checkURL(url); err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download image: status %d", resp.StatusCode)
	}
	if resp.ContentLength > d.maxBytes {
		return nil, "", fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, resp.ContentLength, d.maxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > d.maxBytes {
		return nil, "", fmt.Errorf("%w: max %d bytes", ErrTooLarge, d.maxBytes)
	}

	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		if header := resp.Header.Get("Content-Type"); strings.HasPrefix(header, "image/") {
			contentType = header
		}
	}

	d.logger.DebugContext(ctx, "Image downloaded", "url", url, "bytes", len(data), "content_type", contentType)
	return data, contentType, nil
}
