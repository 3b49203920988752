// Package main runs the AutoMarket backend emulator for local development.
// It serves the listings API, the identity endpoints and object storage on
// one port, optionally seeded with users and cars from a JSON fixture.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/donaldgifford/automarket/internal/mockapi"
	domain "github.com/donaldgifford/automarket/pkg/types"
)

// fixture is the seed file format. Cars name their seller by email.
type fixture struct {
	Users []fixtureUser `json:"users"`
	Cars  []fixtureCar  `json:"cars"`
}

type fixtureUser struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

type fixtureCar struct {
	domain.Car
	Seller string `json:"seller"`
}

func main() {
	port := flag.Int("port", 8089, "port to listen on")
	apiKey := flag.String("api-key", "", "API key clients must send (random when empty)")
	fixtureFile := flag.String("fixture", "tools/mock-api/testdata/seed.json", "path to seed fixture, empty to start blank")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	var opts []mockapi.Option
	opts = append(opts, mockapi.WithLogger(logger))
	if *apiKey != "" {
		opts = append(opts, mockapi.WithAPIKey(*apiKey))
	}
	srv := mockapi.New(opts...)

	if *fixtureFile != "" {
		f, err := loadFixture(*fixtureFile)
		if err != nil {
			logger.Error("failed to load fixture", "path", *fixtureFile, "error", err)
			os.Exit(1)
		}
		users, cars := seed(srv, f)
		logger.Info("loaded fixture", "users", users, "cars", cars)
	}

	addr := fmt.Sprintf(":%d", *port)
	ep := mockapi.EndpointsFor(fmt.Sprintf("http://localhost:%d", *port))
	logger.Info("starting mock backend",
		"addr", addr,
		"api_key", srv.APIKey(),
		"api_url", ep.API,
		"identity_url", ep.Identity,
		"token_url", ep.Token,
		"storage_url", ep.Storage,
		"bucket", srv.Bucket(),
	)

	hs := &http.Server{
		Addr:         addr,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	if err := hs.ListenAndServe(); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func loadFixture(path string) (*fixture, error) {
	data, err := os.ReadFile(path) //nolint:gosec // fixture path from trusted CLI flag
	if err != nil {
		return nil, fmt.Errorf("reading fixture: %w", err)
	}
	var f fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing fixture: %w", err)
	}
	return &f, nil
}

// seed registers the fixture's users and cars. Cars whose seller is not a
// fixture user are skipped.
func seed(srv *mockapi.Server, f *fixture) (users, cars int) {
	uids := make(map[string]string, len(f.Users))
	for _, u := range f.Users {
		uids[u.Email] = srv.AddUser(u.Email, u.Password, u.DisplayName, domain.ParseRole(u.Role))
	}

	batch := make([]domain.Car, 0, len(f.Cars))
	for _, c := range f.Cars {
		uid, ok := uids[c.Seller]
		if !ok {
			continue
		}
		car := c.Car
		car.SellerUID = uid
		batch = append(batch, car)
	}
	return len(uids), len(srv.Seed(batch...))
}
