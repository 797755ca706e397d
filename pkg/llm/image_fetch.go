package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// supportedImageTypes are the media types vision providers accept inline.
var supportedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// ImageFetcher downloads images for providers that only accept inline data.
type ImageFetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewImageFetcher returns a fetcher that refuses images larger than maxBytes.
func NewImageFetcher(client *http.Client, maxBytes int64) *ImageFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &ImageFetcher{client: client, maxBytes: maxBytes}
}

// FetchBase64 returns the image's media type and base64-encoded bytes.
func (f *ImageFetcher) FetchBase64(ctx context.Context, imageURL string) (mediaType, data string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", "", NewError(ErrorTypeImage, "invalid image URL", false, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", "", ClassifyError(fmt.Errorf("fetch image: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		e := NewError(ErrorTypeImage, fmt.Sprintf("image fetch returned HTTP %d", resp.StatusCode), resp.StatusCode >= 500, nil)
		e.StatusCode = resp.StatusCode
		return "", "", e
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return "", "", ClassifyError(fmt.Errorf("read image: %w", err))
	}
	if int64(len(body)) > f.maxBytes {
		return "", "", NewError(ErrorTypeImage, fmt.Sprintf("image too large: exceeds %d bytes", f.maxBytes), false, nil)
	}

	mediaType = strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0])
	if !supportedImageTypes[mediaType] {
		mediaType = http.DetectContentType(body)
	}
	if !supportedImageTypes[mediaType] {
		return "", "", NewError(ErrorTypeImage, "unsupported image type "+mediaType, false, nil)
	}

	return mediaType, base64.StdEncoding.EncodeToString(body), nil
}
