package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/donaldgifford/automarket/internal/listing"
	"github.com/donaldgifford/automarket/internal/session"
	domain "github.com/donaldgifford/automarket/pkg/types"
)

// tabWriter wraps tabwriter with error tracking.
type tabWriter struct {
	*tabwriter.Writer
	err error
}

func newTabWriter(w io.Writer) *tabWriter {
	return &tabWriter{Writer: tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)}
}

func (tw *tabWriter) writef(format string, args ...any) {
	if tw.err != nil {
		return
	}
	_, tw.err = fmt.Fprintf(tw.Writer, format, args...)
}

func (tw *tabWriter) finish() error {
	if tw.err != nil {
		return tw.err
	}
	return tw.Flush()
}

func printCarTable(w io.Writer, cars []domain.Car) error {
	tw := newTabWriter(w)
	tw.writef("ID\tCAR\tYEAR\tPRICE\tLISTED\n")
	for i := range cars {
		c := &cars[i]
		tw.writef("%d\t%s\t%d\t€%.0f\t%s\n",
			c.ID,
			truncate(c.Title(), 40),
			c.Year,
			c.PriceEUR,
			formatDate(c),
		)
	}
	return tw.finish()
}

func printCarDetail(w io.Writer, c *domain.Car) error {
	tw := newTabWriter(w)
	tw.writef("ID:\t%d\n", c.ID)
	tw.writef("Car:\t%s\n", c.Title())
	tw.writef("Year:\t%d\n", c.Year)
	tw.writef("Price:\t€%.2f\n", c.PriceEUR)
	tw.writef("Image:\t%s\n", c.ImageURL)
	tw.writef("Seller:\t%s\n", c.SellerUID)
	tw.writef("Listed:\t%s\n", formatDate(c))
	if c.Description != "" {
		tw.writef("Description:\t%s\n", c.Description)
	}
	return tw.finish()
}

func printStats(w io.Writer, s listing.Stats) error {
	tw := newTabWriter(w)
	tw.writef("Listings:\t%d\n", s.Total)
	if s.Total > 0 {
		tw.writef("Average price:\t€%d\n", s.AvgPrice)
	}
	if s.Newest != nil {
		tw.writef("Newest:\t%s\n", s.Newest.Format("2006-01-02"))
	}
	tw.writef("\n")
	return tw.finish()
}

func printWhoAmI(w io.Writer, st session.State, who *domain.WhoAmI) error {
	tw := newTabWriter(w)
	tw.writef("UID:\t%s\n", st.UID)
	tw.writef("Email:\t%s\n", st.Email)
	if st.DisplayName != "" {
		tw.writef("Name:\t%s\n", st.DisplayName)
	}
	tw.writef("Role (token):\t%s\n", st.Role)
	if !st.TokenExpiry.IsZero() {
		tw.writef("Token expires:\t%s\n", st.TokenExpiry.Format("2006-01-02 15:04:05"))
	}
	if who != nil {
		tw.writef("Principal (server):\t%s\n", who.Principal)
		tw.writef("Authorities (server):\t%s\n", strings.Join(who.Authorities, ", "))
	}
	return tw.finish()
}

func formatDate(c *domain.Car) string {
	if c.CreatedAt == nil {
		return "-"
	}
	return c.CreatedAt.Format("2006-01-02")
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
