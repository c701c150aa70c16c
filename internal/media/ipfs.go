package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"
)

// DefaultUploadURL is the market backend's IPFS upload endpoint.
const DefaultUploadURL = "https://api.yosoku.fun/api/v1/upload-image"

const uploadFileName = "market-image.jpg"

// uriKeys are the response fields that may carry the stored image URI, in
// order of preference.
var uriKeys = []string{"gateway_url", "ipfs_url", "uri", "url", "ipfsUri", "cid"}

// IPFSUploader posts images to an HTTP endpoint that pins them to IPFS.
type IPFSUploader struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewIPFSUploader returns an uploader for endpoint.
func NewIPFSUploader(endpoint string, timeout time.Duration, logger *slog.Logger) *IPFSUploader {
	if endpoint == "" {
		endpoint = DefaultUploadURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &IPFSUploader{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "ipfs_uploader"),
	}
}

// Upload sends data as the multipart field "file" and returns the URI from
// the response.
func (u *IPFSUploader) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "image/jpeg"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, uploadFileName))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("ipfs: create part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("ipfs: write part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("ipfs: close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("ipfs: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ipfs: upload: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("ipfs: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("ipfs: upload returned status %d: %s", resp.StatusCode, truncate(string(raw), 1024))
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", fmt.Errorf("ipfs: failed to parse upload response: %s", truncate(string(raw), 1024))
	}
	for _, key := range uriKeys {
		if v, ok := fields[key].(string); ok && v != "" {
			u.logger.InfoContext(ctx, "Image uploaded to IPFS", "uri", v)
			return v, nil
		}
	}

	u.logger.ErrorContext(ctx, "Unexpected upload response", "response", truncate(string(raw), 1024))
	return "", fmt.Errorf("ipfs: unexpected upload response: %s", truncate(string(raw), 1024))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
