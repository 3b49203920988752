package listing

import (
	"cmp"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	domain "github.com/donaldgifford/automarket/pkg/types"
)

// SortMode orders dashboard listings.
type SortMode string

// Sort modes offered on the seller dashboard.
const (
	SortCreated   SortMode = "created"
	SortPriceAsc  SortMode = "priceAsc"
	SortPriceDesc SortMode = "priceDesc"
	SortYearDesc  SortMode = "yearDesc"
)

// SortModes lists the modes in display order.
var SortModes = []SortMode{SortCreated, SortPriceAsc, SortPriceDesc, SortYearDesc}

// ParseSortMode returns the mode named by s, falling back to SortCreated.
func ParseSortMode(s string) SortMode {
	if m := SortMode(s); slices.Contains(SortModes, m) {
		return m
	}
	return SortCreated
}

// Label is the human-readable name of the mode.
func (m SortMode) Label() string {
	switch m {
	case SortPriceAsc:
		return "Price: low to high"
	case SortPriceDesc:
		return "Price: high to low"
	case SortYearDesc:
		return "Year: newest first"
	default:
		return "Newest listings"
	}
}

// Sorted returns a sorted copy of cars. Listings without a creation time sort
// as the oldest.
func Sorted(cars []domain.Car, mode SortMode) []domain.Car {
	out := slices.Clone(cars)

	var less func(a, b domain.Car) int
	switch mode {
	case SortPriceAsc:
		less = func(a, b domain.Car) int { return cmp.Compare(a.PriceEUR, b.PriceEUR) }
	case SortPriceDesc:
		less = func(a, b domain.Car) int { return cmp.Compare(b.PriceEUR, a.PriceEUR) }
	case SortYearDesc:
		less = func(a, b domain.Car) int { return cmp.Compare(b.Year, a.Year) }
	default:
		less = func(a, b domain.Car) int { return createdAt(b).Compare(createdAt(a)) }
	}

	slices.SortStableFunc(out, less)
	return out
}

func createdAt(c domain.Car) time.Time {
	if c.CreatedAt == nil {
		return time.Time{}
	}
	return *c.CreatedAt
}

// Mine returns the listings owned by uid.
func Mine(cars []domain.Car, uid string) []domain.Car {
	out := make([]domain.Car, 0, len(cars))
	for _, c := range cars {
		if c.SellerUID == uid {
			out = append(out, c)
		}
	}
	return out
}

// Search filters cars whose make or model contains q, ignoring case, or
// whose year contains q. An empty query matches everything.
func Search(cars []domain.Car, q string) []domain.Car {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return slices.Clone(cars)
	}

	out := make([]domain.Car, 0, len(cars))
	for _, c := range cars {
		if strings.Contains(strings.ToLower(c.Make), q) ||
			strings.Contains(strings.ToLower(c.Model), q) ||
			strings.Contains(strconv.Itoa(c.Year), q) {
			out = append(out, c)
		}
	}
	return out
}

// Stats summarizes a set of listings.
type Stats struct {
	Total    int
	AvgPrice int64 // rounded to whole euros
	Newest   *time.Time
}

// Summarize computes dashboard statistics.
func Summarize(cars []domain.Car) Stats {
	st := Stats{Total: len(cars)}
	if len(cars) == 0 {
		return st
	}

	var sum float64
	for i := range cars {
		sum += cars[i].PriceEUR
		if ts := cars[i].CreatedAt; ts != nil && (st.Newest == nil || ts.After(*st.Newest)) {
			t := *ts
			st.Newest = &t
		}
	}
	st.AvgPrice = int64(math.Round(sum / float64(len(cars))))
	return st
}
