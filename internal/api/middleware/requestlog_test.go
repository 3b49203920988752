package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donaldgifford/automarket/internal/api/client"
)

func TestRequestLog(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		method        string
		path          string
		status        int
		providedReqID string
		wantLogFields []string
	}{
		{
			name:   "logs GET request with generated ID",
			method: http.MethodGet,
			path:   "/cars/7",
			status: http.StatusOK,
			wantLogFields: []string{
				"level=INFO",
				"method=GET",
				"path=/cars/7",
				"status=200",
				"duration_ms=",
				"request_id=",
			},
		},
		{
			name:   "logs POST redirect",
			method: http.MethodPost,
			path:   "/cars/new",
			status: http.StatusSeeOther,
			wantLogFields: []string{
				"method=POST",
				"status=303",
			},
		},
		{
			name:          "uses provided request ID",
			method:        http.MethodGet,
			path:          "/seller",
			status:        http.StatusOK,
			providedReqID: "custom-req-id-123",
			wantLogFields: []string{
				"request_id=custom-req-id-123",
			},
		},
		{
			name:          "client error logged at warn",
			method:        http.MethodGet,
			path:          "/cars/999",
			status:        http.StatusNotFound,
			wantLogFields: []string{"level=WARN", "status=404"},
		},
		{
			name:          "server error logged at error",
			method:        http.MethodGet,
			path:          "/",
			status:        http.StatusBadGateway,
			wantLogFields: []string{"level=ERROR", "status=502"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))

			e := echo.New()
			req := httptest.NewRequest(tt.method, tt.path, http.NoBody)
			if tt.providedReqID != "" {
				req.Header.Set(requestIDHeader, tt.providedReqID)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			var ctxID string
			handler := RequestLog(logger)(func(c echo.Context) error {
				ctxID = client.RequestIDFromContext(c.Request().Context())
				return c.NoContent(tt.status)
			})

			require.NoError(t, handler(c))

			logOutput := buf.String()
			for _, field := range tt.wantLogFields {
				assert.Contains(t, logOutput, field)
			}

			respID := rec.Header().Get(requestIDHeader)
			assert.NotEmpty(t, respID)
			assert.Equal(t, respID, ctxID, "request context should carry the request ID")

			if tt.providedReqID != "" {
				assert.Equal(t, tt.providedReqID, respID)
			}

			assert.NotEmpty(t, c.Get("request_id"))
		})
	}
}

func TestRequestLog_HandlerErrorWritten(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/boom", http.NoBody)
	rec := httptest.NewRecorder()

	handler := RequestLog(logger)(func(_ echo.Context) error {
		return echo.NewHTTPError(http.StatusForbidden, "nope")
	})

	require.NoError(t, handler(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, buf.String(), "status=403")
}

func TestRequestLog_ProbeFirstSuccessLogged(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	e := echo.New()
	handler := RequestLog(logger)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	require.NoError(t, handler(e.NewContext(req, httptest.NewRecorder())))

	assert.Contains(t, buf.String(), "path=/healthz")
	firstLogLen := buf.Len()

	for range 2 {
		req = httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
		require.NoError(t, handler(e.NewContext(req, httptest.NewRecorder())))
	}

	assert.Equal(t, firstLogLen, buf.Len(),
		"repeated successful probes should not produce log output")
}

func TestRequestLog_ProbeFailureAlwaysLogged(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	e := echo.New()
	calls := 0
	handler := RequestLog(logger)(func(c echo.Context) error {
		calls++
		if calls == 1 {
			return c.NoContent(http.StatusOK)
		}
		return c.NoContent(http.StatusServiceUnavailable)
	})

	req := httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody)
	require.NoError(t, handler(e.NewContext(req, httptest.NewRecorder())))
	firstLen := buf.Len()

	req = httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody)
	require.NoError(t, handler(e.NewContext(req, httptest.NewRecorder())))

	assert.Greater(t, buf.Len(), firstLen)
	assert.Contains(t, buf.String(), "status=503")
	assert.Contains(t, buf.String(), "level=ERROR")
}
