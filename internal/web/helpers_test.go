package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/donaldgifford/automarket/internal/api/client"
	"github.com/donaldgifford/automarket/internal/session"
	"github.com/donaldgifford/automarket/internal/upload"
	domain "github.com/donaldgifford/automarket/pkg/types"
)

func TestLanding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		st   session.State
		want string
	}{
		{name: "anonymous", st: session.Anonymous(), want: "/"},
		{name: "buyer", st: session.State{IsAuthed: true, Role: domain.RoleUser}, want: "/"},
		{name: "seller", st: session.State{IsAuthed: true, Role: domain.RoleSeller}, want: "/seller"},
		{name: "admin", st: session.State{IsAuthed: true, Role: domain.RoleAdmin}, want: "/seller"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Landing(tt.st))
		})
	}
}

func TestParseRoleField(t *testing.T) {
	t.Parallel()

	r, ok := parseRoleField(" seller ")
	assert.True(t, ok)
	assert.Equal(t, domain.RoleSeller, r)

	_, ok = parseRoleField("root")
	assert.False(t, ok, "unknown roles are rejected, not mapped to USER")
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("loading listings: %w", client.ErrServerUnavailable)
	assert.Contains(t, errorMessage(wrapped), "unavailable")
	assert.Contains(t, errorMessage(context.DeadlineExceeded), "did not respond")
	assert.Equal(t, "boom", errorMessage(errors.New("boom")))
	assert.Equal(t, http.StatusBadGateway, errorStatus(errors.New("boom")))
}

func TestImageErrorMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Image is too large (max 8 MB).", imageErrorMessage(upload.ErrTooLarge))
	assert.Equal(t, "Only image files can be uploaded.", imageErrorMessage(upload.ErrNotImage))
	assert.Contains(t, imageErrorMessage(errors.New("storage down")), "storage down")
}

func TestFlashEncoding(t *testing.T) {
	t.Parallel()

	msg := "Opel Astra deleted; 100% gone."
	assert.Equal(t, msg, decodeFlash(encodeFlash(msg)))
	assert.Empty(t, decodeFlash("%zz"))
}
