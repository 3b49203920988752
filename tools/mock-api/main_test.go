package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/donaldgifford/automarket/internal/mockapi"
	domain "github.com/donaldgifford/automarket/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadFixture(t *testing.T) {
	f, err := loadFixture(filepath.Join("testdata", "seed.json"))
	if err != nil {
		t.Fatalf("loading fixture: %v", err)
	}
	if len(f.Users) != 3 {
		t.Errorf("users=%d, want 3", len(f.Users))
	}
	if len(f.Cars) != 4 {
		t.Errorf("cars=%d, want 4", len(f.Cars))
	}
	if f.Cars[0].Seller != "seller@example.com" || f.Cars[0].Make != "Mazda" {
		t.Errorf("first car=%+v, want Mazda by seller@example.com", f.Cars[0])
	}
}

func TestLoadFixture_Missing(t *testing.T) {
	if _, err := loadFixture(filepath.Join("testdata", "missing.json")); err == nil {
		t.Fatal("expected error for missing fixture")
	}
}

func TestSeed(t *testing.T) {
	f, err := loadFixture(filepath.Join("testdata", "seed.json"))
	if err != nil {
		t.Fatalf("loading fixture: %v", err)
	}
	srv := mockapi.New(mockapi.WithLogger(testLogger()))

	users, cars := seed(srv, f)
	if users != 3 {
		t.Errorf("users=%d, want 3", users)
	}
	if cars != 3 {
		t.Errorf("cars=%d, want 3 (car with unknown seller skipped)", cars)
	}

	car, ok := srv.Car(1)
	if !ok {
		t.Fatal("expected car 1 to exist")
	}
	if car.SellerUID == "" {
		t.Error("expected seeded car to carry its seller's UID")
	}
	if _, ok := srv.Car(4); ok {
		t.Error("car with unknown seller should not be stored")
	}
}

func TestSeededServerListsCars(t *testing.T) {
	f, err := loadFixture(filepath.Join("testdata", "seed.json"))
	if err != nil {
		t.Fatalf("loading fixture: %v", err)
	}
	srv := mockapi.New(mockapi.WithLogger(testLogger()))
	seed(srv, f)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(mockapi.EndpointsFor(ts.URL).API + "/cars?sort=createdAt,desc")
	if err != nil {
		t.Fatalf("listing cars: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
	}
	var page domain.Page[domain.Car]
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if page.TotalElements != 3 {
		t.Fatalf("totalElements=%d, want 3", page.TotalElements)
	}
	if page.Content[0].Make != "Opel" {
		t.Errorf("newest car=%s, want Opel", page.Content[0].Make)
	}
}
