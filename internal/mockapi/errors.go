package mockapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"

	domain "github.com/donaldgifford/automarket/pkg/types"
)

// apiError renders the backend's error document.
type apiError struct {
	status int
	body   domain.APIErrorBody
}

func (e *apiError) Error() string  { return e.body.Message }
func (e *apiError) GetStatus() int { return e.status }

func (e *apiError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.body)
}

func newAPIError(status int, kind, msg, path string, details ...domain.FieldError) *apiError {
	ts := time.Now().UTC()
	return &apiError{
		status: status,
		body: domain.APIErrorBody{
			Error:     kind,
			Message:   msg,
			Status:    status,
			Path:      path,
			Timestamp: &ts,
			Details:   details,
		},
	}
}

func errUnauthenticated(path string) *apiError {
	return newAPIError(http.StatusUnauthorized, "Unauthorized", "Unauthorized", path)
}

func errForbidden(path string) *apiError {
	return newAPIError(http.StatusForbidden, "Forbidden", "Forbidden", path)
}

func errNotFound(path, msg string) *apiError {
	return newAPIError(http.StatusNotFound, "NotFound", msg, path)
}

func errValidation(path string, details []domain.FieldError) *apiError {
	return newAPIError(http.StatusBadRequest, "ValidationError", "Validation failed", path, details...)
}

var installOnce sync.Once

// installErrorModel makes Huma's own errors, such as request validation
// failures, use the backend error document.
func installErrorModel() {
	installOnce.Do(func() {
		huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
			details := make([]domain.FieldError, 0, len(errs))
			for _, err := range errs {
				var d huma.ErrorDetailer
				if errors.As(err, &d) {
					det := d.ErrorDetail()
					details = append(details, domain.FieldError{
						Field:   strings.TrimPrefix(det.Location, "body."),
						Message: det.Message,
					})
					continue
				}
				if err != nil {
					details = append(details, domain.FieldError{Message: err.Error()})
				}
			}

			if status == http.StatusUnprocessableEntity {
				return errValidation("", details)
			}
			kind := "InternalError"
			switch {
			case status == http.StatusNotFound:
				kind = "NotFound"
			case status < http.StatusInternalServerError:
				kind = http.StatusText(status)
			}
			return newAPIError(status, kind, msg, "", details...)
		}
		huma.NewErrorWithContext = func(ctx huma.Context, status int, msg string, errs ...error) huma.StatusError {
			err := huma.NewError(status, msg, errs...)
			if ae, ok := err.(*apiError); ok && ctx != nil {
				ae.body.Path = ctx.URL().Path
			}
			return err
		}
	})
}
