package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	domain "github.com/donaldgifford/automarket/pkg/types"
)

// Sort orders accepted by the backend.
const (
	SortNewest    = "createdAt,desc"
	SortPriceAsc  = "priceEur,asc"
	SortPriceDesc = "priceEur,desc"
)

// ListCarsParams defines query parameters for listing queries. Zero values
// are omitted; Page is 0-based.
type ListCarsParams struct {
	Make      string
	YearFrom  int
	YearTo    int
	PriceFrom int
	PriceTo   int
	Page      int
	Size      int
	Sort      string
}

// Query encodes the parameters as a query string (without "?").
func (p *ListCarsParams) Query() string {
	q := url.Values{}
	if p == nil {
		return ""
	}
	if p.Make != "" {
		q.Set("make", p.Make)
	}
	if p.YearFrom > 0 {
		q.Set("yearFrom", strconv.Itoa(p.YearFrom))
	}
	if p.YearTo > 0 {
		q.Set("yearTo", strconv.Itoa(p.YearTo))
	}
	if p.PriceFrom > 0 {
		q.Set("priceFrom", strconv.Itoa(p.PriceFrom))
	}
	if p.PriceTo > 0 {
		q.Set("priceTo", strconv.Itoa(p.PriceTo))
	}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.Size > 0 {
		q.Set("size", strconv.Itoa(p.Size))
	}
	if p.Sort != "" {
		q.Set("sort", p.Sort)
	}
	return q.Encode()
}

// ListCars returns a page of listings matching params.
func (c *Client) ListCars(ctx context.Context, params *ListCarsParams) (*domain.Page[domain.Car], error) {
	path := "/cars"
	if q := params.Query(); q != "" {
		path += "?" + q
	}

	var page domain.Page[domain.Car]
	if err := c.get(ctx, path, &page); err != nil {
		return nil, err
	}
	if page.Content == nil {
		page.Content = []domain.Car{}
	}
	return &page, nil
}

// GetCar returns a single listing by ID.
func (c *Client) GetCar(ctx context.Context, id int64) (*domain.Car, error) {
	var car domain.Car
	if err := c.get(ctx, fmt.Sprintf("/cars/%d", id), &car); err != nil {
		return nil, err
	}
	return &car, nil
}

// CreateCar creates a listing owned by the signed-in seller.
func (c *Client) CreateCar(ctx context.Context, in domain.CarInput) (*domain.Car, error) {
	var car domain.Car
	if err := c.post(ctx, "/cars", in, &car); err != nil {
		return nil, err
	}
	return &car, nil
}

// UpdateCar replaces the writable fields of a listing.
func (c *Client) UpdateCar(ctx context.Context, id int64, in domain.CarInput) (*domain.Car, error) {
	var car domain.Car
	if err := c.put(ctx, fmt.Sprintf("/cars/%d", id), in, &car); err != nil {
		return nil, err
	}
	return &car, nil
}

// DeleteCar deletes a listing.
func (c *Client) DeleteCar(ctx context.Context, id int64) error {
	return c.del(ctx, fmt.Sprintf("/cars/%d", id), nil)
}
