package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = instrumentationName

// SupabaseStorage stores objects in a Supabase Storage bucket.
type SupabaseStorage struct {
	baseURL string
	apiKey  string
	bucket  string
	client  *http.Client
	tracer  trace.Tracer
}

// StorageOption configures SupabaseStorage.
type StorageOption func(*SupabaseStorage)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) StorageOption {
	return func(s *SupabaseStorage) {
		s.client = c
	}
}

// NewSupabaseStorage creates a storage client for bucket at the project URL
// baseURL, for example "https://xyz.supabase.co".
func NewSupabaseStorage(baseURL, apiKey, bucket string, opts ...StorageOption) *SupabaseStorage {
	s := &SupabaseStorage{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		bucket:  bucket,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tracer = otel.Tracer(tracerName)
	return s
}

// StorageError is a non-2xx response from the storage API.
type StorageError struct {
	StatusCode int
	Message    string
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error (HTTP %d): %s", e.StatusCode, e.Message)
}

// Upload implements Storage. Existing objects are never replaced.
func (s *SupabaseStorage) Upload(ctx context.Context, objectPath, contentType string, body io.Reader, size int64) (string, error) {
	ctx, span := s.tracer.Start(ctx, "storage upload",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("storage.bucket", s.bucket),
			attribute.Int64("storage.size", size),
		))
	defer span.End()

	u := s.baseURL + "/storage/v1/object/" + s.bucket + "/" + escapePath(objectPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Cache-Control", "max-age=3600")
	req.Header.Set("x-upsert", "false")

	resp, err := s.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		serr := &StorageError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
		span.SetStatus(codes.Error, serr.Error())
		return "", serr
	}

	return objectPath, nil
}

// PublicURL implements Storage.
func (s *SupabaseStorage) PublicURL(objectPath string) string {
	return s.baseURL + "/storage/v1/object/public/" + s.bucket + "/" + escapePath(objectPath)
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func errorMessage(data []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		switch {
		case body.Message != "":
			return body.Message
		case body.Error != "":
			return body.Error
		}
	}
	if s := strings.TrimSpace(string(data)); s != "" {
		return s
	}
	return "empty response"
}
