package views

import (
	"bytes"
	"context"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donaldgifford/automarket/internal/listing"
	"github.com/donaldgifford/automarket/internal/session"
	domain "github.com/donaldgifford/automarket/pkg/types"
)

func render(t *testing.T, name string, p Page) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Render(name, p).Render(context.Background(), &buf))
	return buf.String()
}

func TestEuro(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   float64
		want string
	}{
		{0, "€0"},
		{999, "€999"},
		{1000, "€1,000"},
		{12500.4, "€12,500"},
		{1234567.5, "€1,234,568"},
		{-1500, "-€1,500"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Euro(tt.in))
	}
}

func TestRender_LayoutNavigation(t *testing.T) {
	t.Parallel()

	anon := render(t, Home, Page{Title: "Home", Session: session.Anonymous(), Body: HomeData{}})
	assert.Contains(t, anon, "<title>Home · AutoMarket</title>")
	assert.Contains(t, anon, `href="/login"`)
	assert.NotContains(t, anon, `href="/cars/new"`)
	assert.Contains(t, anon, "No cars found.")

	seller := render(t, Home, Page{
		Title:   "Home",
		Session: session.State{IsAuthed: true, Email: "s@example.com", Role: domain.RoleSeller},
		CSRF:    "tok",
		DocsURL: "https://docs.example.com",
		Body:    HomeData{},
	})
	assert.Contains(t, seller, `href="/cars/new"`)
	assert.Contains(t, seller, `action="/logout"`)
	assert.Contains(t, seller, `value="tok"`)
	assert.Contains(t, seller, `href="https://docs.example.com"`)
}

func TestRender_EscapesListingText(t *testing.T) {
	t.Parallel()

	car := &domain.Car{ID: 1, Make: "<script>", Model: "X", Year: 2020, PriceEUR: 1000, Description: `"quoted" & <b>bold</b>`}
	out := render(t, Car, Page{Title: "Car", Session: session.Anonymous(), Body: CarData{Car: car}})

	assert.NotContains(t, out, "<script>")
	assert.Contains(t, out, "&lt;script&gt;")
	assert.Contains(t, out, "&lt;b&gt;bold&lt;/b&gt;")
	assert.Contains(t, out, "€1,000")
	assert.NotContains(t, out, "/cars/1/edit")
}

func TestParagraphs(t *testing.T) {
	t.Parallel()

	out := string(Paragraphs("Towbar <rated 1500kg> fitted\nNew tyres\r\n\r\n\nService & MOT"))

	assert.Contains(t, out, "Towbar &lt;rated 1500kg&gt; fitted")
	assert.Contains(t, out, "New tyres")
	assert.Contains(t, out, "Service &amp; MOT")
	assert.Equal(t, 2, strings.Count(out, "<p>"))
	assert.NotContains(t, out, "<rated")
	assert.Empty(t, string(Paragraphs(" \n\n ")))
}

func TestRender_FormErrors(t *testing.T) {
	t.Parallel()

	out := render(t, Form, Page{
		Title:   "New",
		Session: session.State{IsAuthed: true, Role: domain.RoleSeller},
		Body: FormData{
			Action: "/cars/new",
			Fields: FormFields{Make: "BMW", Year: "abc"},
			Errors: map[string]string{"year": "must be a number"},
		},
	})
	assert.Contains(t, out, `value="BMW"`)
	assert.Contains(t, out, `value="abc"`)
	assert.Contains(t, out, "must be a number")
	assert.Contains(t, out, `name="image_link"`, "plain URL field when uploads are off")
}

func TestRender_Dashboard(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	view := listing.DashboardView{
		Listings: []domain.Car{{ID: 9, Make: "Audi", Model: "A4", Year: 2015, PriceEUR: 9000, CreatedAt: &ts}},
		Stats:    listing.Stats{Total: 1, AvgPrice: 9000, Newest: &ts},
		Sort:     listing.SortPriceDesc,
	}
	out := render(t, Dashboard, Page{
		Title:   "Dashboard",
		Session: session.State{IsAuthed: true, Role: domain.RoleSeller},
		Body:    DashboardData{View: view, SortModes: listing.SortModes},
	})

	assert.Contains(t, out, "Audi A4")
	assert.Contains(t, out, "2026-03-04")
	assert.Contains(t, out, `value="priceDesc" selected`)
	assert.Contains(t, out, "€9000")
}

func TestRender_AllPages(t *testing.T) {
	t.Parallel()

	bodies := map[string]any{
		Delete:    DeleteData{Car: &domain.Car{ID: 3, Make: "VW", Model: "Golf"}},
		Me:        MeData{WhoAmIError: "backend down"},
		Login:     AuthData{GoogleEnabled: true},
		Register:  AuthData{AllowSellerSignup: true, Role: "SELLER"},
		Loading:   nil,
		Forbidden: nil,
		Error:     ErrorData{Status: 404, Message: "Car not found"},
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			out := render(t, name, Page{Title: name, Session: session.Anonymous(), Body: body})
			assert.Contains(t, out, "</html>")
		})
	}
}

func TestStatic(t *testing.T) {
	t.Parallel()

	data, err := fs.ReadFile(Static(), "app.css")
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}
