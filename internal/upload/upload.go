// Package upload stores listing images in object storage.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/donaldgifford/automarket/internal/metrics"
	"github.com/donaldgifford/automarket/pkg/logger"
)

// MaxImageBytes is the largest image accepted for upload.
const MaxImageBytes = 8 << 20

const instrumentationName = "github.com/donaldgifford/automarket/internal/upload"

var (
	// ErrTooLarge is returned for images above MaxImageBytes.
	ErrTooLarge = errors.New("image exceeds 8 MiB")
	// ErrNotImage is returned when the content type is not image/*.
	ErrNotImage = errors.New("file is not an image")
	// ErrNoUser is returned when no signed-in user owns the upload.
	ErrNoUser = errors.New("upload requires a signed-in user")
)

// Storage is an object store that serves uploaded objects publicly.
type Storage interface {
	// Upload writes body at objectPath without overwriting and returns the
	// stored path.
	Upload(ctx context.Context, objectPath, contentType string, body io.Reader, size int64) (string, error)
	// PublicURL returns the public URL of a stored object.
	PublicURL(objectPath string) string
}

// File is an image selected for upload. Size may be -1 when unknown.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

var whitespace = regexp.MustCompile(`\s+`)

// ObjectPath returns "<uid>/<unixMillis>_<name>" with runs of whitespace in
// name replaced by underscores.
func ObjectPath(uid, name string, now time.Time) string {
	clean := whitespace.ReplaceAllString(path.Base(strings.ReplaceAll(name, "\\", "/")), "_")
	return uid + "/" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + clean
}

// Uploader validates images and stores them under the owner's prefix.
type Uploader struct {
	storage Storage
	log     *slog.Logger
	now     func() time.Time
	bytes   metric.Int64Counter
}

// UploaderOption configures the Uploader.
type UploaderOption func(*Uploader)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) UploaderOption {
	return func(u *Uploader) {
		u.log = l
	}
}

// WithNowFunc overrides the clock used for object names.
func WithNowFunc(f func() time.Time) UploaderOption {
	return func(u *Uploader) {
		u.now = f
	}
}

// NewUploader creates an Uploader writing to s.
func NewUploader(s Storage, opts ...UploaderOption) *Uploader {
	u := &Uploader{storage: s, now: time.Now}
	for _, opt := range opts {
		opt(u)
	}
	u.log = logger.Component(u.log, "upload")

	counter, err := otel.Meter(instrumentationName).Int64Counter("automarket.upload.bytes",
		metric.WithDescription("Bytes written to object storage."),
		metric.WithUnit("By"))
	if err != nil {
		u.log.Warn("creating upload byte counter", "error", err)
	}
	u.bytes = counter
	return u
}

// Check validates f without reading its body.
func Check(f File) error {
	if f.Size > MaxImageBytes {
		return ErrTooLarge
	}
	if !isImage(contentType(f)) {
		return ErrNotImage
	}
	return nil
}

// Upload stores f for uid and returns its public URL. Oversized and
// non-image files are rejected before anything is sent.
func (u *Uploader) Upload(ctx context.Context, uid string, f File) (string, error) {
	if uid == "" {
		return "", ErrNoUser
	}
	if err := Check(f); err != nil {
		metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		return "", err
	}

	// Size can be unknown or wrong, so bound what is actually read.
	data, err := io.ReadAll(io.LimitReader(f.Body, MaxImageBytes+1))
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("reading image: %w", err)
	}
	if len(data) > MaxImageBytes {
		metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		return "", ErrTooLarge
	}

	ct := contentType(f)
	objectPath := ObjectPath(uid, f.Name, u.now())

	stored, err := u.storage.Upload(ctx, objectPath, ct, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("uploading %s: %w", objectPath, err)
	}

	metrics.UploadsTotal.WithLabelValues("success").Inc()
	metrics.UploadBytes.Observe(float64(len(data)))
	if u.bytes != nil {
		u.bytes.Add(ctx, int64(len(data)), metric.WithAttributes(attribute.String("content_type", ct)))
	}

	u.log.Info("image uploaded", "uid", uid, "path", stored, "bytes", len(data))
	return u.storage.PublicURL(stored), nil
}

func contentType(f File) string {
	if f.ContentType != "" {
		return f.ContentType
	}
	return mime.TypeByExtension(path.Ext(f.Name))
}

func isImage(ct string) bool {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mt, "image/")
}
