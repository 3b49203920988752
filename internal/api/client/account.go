package client

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	domain "github.com/donaldgifford/automarket/pkg/types"
)

// Health returns the backend's health status text, normally "OK".
func (c *Client) Health(ctx context.Context) (string, error) {
	body, err := c.roundTrip(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return "", err
	}
	return strings.Trim(strings.TrimSpace(string(body)), `"`), nil
}

// WhoAmI returns the backend's view of the caller.
func (c *Client) WhoAmI(ctx context.Context) (*domain.WhoAmI, error) {
	var who domain.WhoAmI
	if err := c.get(ctx, "/whoami", &who); err != nil {
		return nil, err
	}
	return &who, nil
}

// SetRole assigns a role to uid through the backend's development-only
// role endpoint. Callers must gate this behind an explicit debug switch.
func (c *Client) SetRole(ctx context.Context, uid string, role domain.Role) error {
	q := url.Values{}
	q.Set("uid", uid)
	q.Set("role", string(role))
	return c.post(ctx, "/admin/set-role?"+q.Encode(), nil, nil)
}
