package listing

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donaldgifford/automarket/internal/api/client"
	domain "github.com/donaldgifford/automarket/pkg/types"
)

type fakeBackend struct {
	mu        sync.Mutex
	cars      []domain.Car
	params    *client.ListCarsParams
	lists     int
	deleted   []int64
	listErr   error
	deleteErr error
}

func (f *fakeBackend) ListCars(_ context.Context, p *client.ListCarsParams) (*domain.Page[domain.Car], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	f.params = p
	if f.listErr != nil {
		return nil, f.listErr
	}
	return &domain.Page[domain.Car]{Content: f.cars, TotalElements: len(f.cars), TotalPages: 1}, nil
}

func (f *fakeBackend) DeleteCar(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func TestDashboard_Load(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{cars: fixtures()}
	d := NewDashboard(b)
	assert.False(t, d.Loaded())

	require.NoError(t, d.Load(context.Background()))
	assert.True(t, d.Loaded())

	require.NotNil(t, b.params)
	assert.Equal(t, 0, b.params.Page)
	assert.Equal(t, DashboardPageSize, b.params.Size)
	assert.Equal(t, client.SortNewest, b.params.Sort)

	v := d.View("s1", "", SortPriceAsc)
	assert.Equal(t, []int64{1, 4, 2}, ids(v.Listings))
	assert.Equal(t, 3, v.Stats.Total)
	assert.Equal(t, SortPriceAsc, v.Sort)

	filtered := d.View("s1", "toyota", SortCreated)
	assert.Equal(t, []int64{1}, ids(filtered.Listings))
	assert.Equal(t, 3, filtered.Stats.Total, "stats ignore the search filter")
}

func TestDashboard_LoadError(t *testing.T) {
	t.Parallel()

	d := NewDashboard(&fakeBackend{listErr: errors.New("boom")})
	err := d.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading listings")
	assert.False(t, d.Loaded())
}

func TestDashboard_DeleteRemovesLocally(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{cars: fixtures()}
	d := NewDashboard(b)
	require.NoError(t, d.Load(context.Background()))

	require.NoError(t, d.Delete(context.Background(), 2))
	assert.Equal(t, []int64{2}, b.deleted)
	assert.Equal(t, 1, b.lists, "no refetch after delete")
	assert.Equal(t, []int64{1, 4}, ids(d.View("s1", "", SortCreated).Listings))
	assert.Len(t, b.cars, 4, "backend slice untouched")
}

func TestDashboard_DeleteFailureKeepsListing(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{cars: fixtures(), deleteErr: errors.New("forbidden")}
	d := NewDashboard(b)
	require.NoError(t, d.Load(context.Background()))

	require.Error(t, d.Delete(context.Background(), 2))
	assert.Len(t, d.View("s1", "", SortCreated).Listings, 3)
}
