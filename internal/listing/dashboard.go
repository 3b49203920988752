package listing

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/donaldgifford/automarket/internal/api/client"
	domain "github.com/donaldgifford/automarket/pkg/types"
)

// DashboardPageSize is how many listings the seller dashboard fetches.
const DashboardPageSize = 100

// Backend is the subset of the API client the dashboard uses.
type Backend interface {
	ListCars(ctx context.Context, params *client.ListCarsParams) (*domain.Page[domain.Car], error)
	DeleteCar(ctx context.Context, id int64) error
}

// Dashboard holds the listings shown on a seller dashboard. Safe for
// concurrent use.
type Dashboard struct {
	backend Backend

	mu     sync.Mutex
	cars   []domain.Car
	loaded bool
}

// NewDashboard creates an empty dashboard backed by b.
func NewDashboard(b Backend) *Dashboard {
	return &Dashboard{backend: b}
}

// DashboardView is a filtered, sorted projection of the dashboard.
type DashboardView struct {
	Listings []domain.Car
	Stats    Stats
	Query    string
	Sort     SortMode
}

// Load fetches the newest listings, replacing whatever was loaded before.
func (d *Dashboard) Load(ctx context.Context) error {
	page, err := d.backend.ListCars(ctx, &client.ListCarsParams{
		Page: 0,
		Size: DashboardPageSize,
		Sort: client.SortNewest,
	})
	if err != nil {
		return fmt.Errorf("loading listings: %w", err)
	}

	d.mu.Lock()
	d.cars = page.Content
	d.loaded = true
	d.mu.Unlock()
	return nil
}

// Loaded reports whether Load has succeeded at least once.
func (d *Dashboard) Loaded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loaded
}

// View returns the listings owned by uid, filtered by q and sorted by mode.
// Stats cover every listing the seller owns regardless of the filter.
func (d *Dashboard) View(uid, q string, mode SortMode) DashboardView {
	d.mu.Lock()
	mine := Mine(d.cars, uid)
	d.mu.Unlock()

	return DashboardView{
		Listings: Sorted(Search(mine, q), mode),
		Stats:    Summarize(mine),
		Query:    q,
		Sort:     mode,
	}
}

// Delete removes the listing on the backend and, on success, locally.
func (d *Dashboard) Delete(ctx context.Context, id int64) error {
	if err := d.backend.DeleteCar(ctx, id); err != nil {
		return fmt.Errorf("deleting listing %d: %w", id, err)
	}
	d.Remove(id)
	return nil
}

// Remove drops the listing from the local copy without refetching.
func (d *Dashboard) Remove(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cars = slices.DeleteFunc(slices.Clone(d.cars), func(c domain.Car) bool { return c.ID == id })
}
