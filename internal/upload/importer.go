package upload

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

const importTimeout = 20 * time.Second

// ErrInvalidSource is returned for import URLs that are not absolute http(s)
// URLs.
var ErrInvalidSource = errors.New("image URL must be an absolute http or https URL")

// Importer copies a remote image into storage. Requests to private, loopback
// and link-local addresses are refused.
type Importer struct {
	uploader *Uploader
	client   *http.Client
}

// NewImporter creates an Importer that stores images through u.
func NewImporter(u *Uploader) *Importer {
	return &Importer{uploader: u, client: NewSafeClient(importTimeout)}
}

// NewSafeClient returns an HTTP client that only connects to public
// addresses on ports 80 and 443.
func NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

// Import downloads rawURL and uploads it for uid, returning the public URL.
func (im *Importer) Import(ctx context.Context, uid, rawURL string) (string, error) {
	if uid == "" {
		return "", ErrNoUser
	}

	src, err := url.Parse(rawURL)
	if err != nil || !src.IsAbs() || (src.Scheme != "http" && src.Scheme != "https") {
		return "", ErrInvalidSource
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.String(), http.NoBody)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := im.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", src.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching %s: unexpected status %d", src.Host, resp.StatusCode)
	}

	name := path.Base(src.Path)
	if name == "." || name == "/" || name == "" {
		name = "image"
	}

	return im.uploader.Upload(ctx, uid, File{
		Name:        strings.TrimSpace(name),
		ContentType: resp.Header.Get("Content-Type"),
		Size:        resp.ContentLength,
		Body:        resp.Body,
	})
}
