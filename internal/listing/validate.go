// Package listing holds the storefront's listing form and dashboard logic.
package listing

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	domain "github.com/donaldgifford/automarket/pkg/types"
)

// Field limits enforced before a listing is sent to the backend.
const (
	MaxNameLength        = 64
	MaxDescriptionLength = 5000
	MinYear              = 1950
)

// ValidationErrors maps a form field to its error message.
type ValidationErrors map[string]string

func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	slices.Sort(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+v[f])
	}
	return "invalid listing: " + strings.Join(parts, "; ")
}

// Validate checks in against the listing rules. Surrounding whitespace is
// ignored when checking but never removed. It returns nil when the input may
// be submitted.
func Validate(in domain.CarInput, now time.Time) error {
	errs := ValidationErrors{}

	checkName(errs, "make", in.Make)
	checkName(errs, "model", in.Model)

	if maxYear := now.Year() + 1; in.Year < MinYear || in.Year > maxYear {
		errs["year"] = fmt.Sprintf("must be between %d and %d", MinYear, maxYear)
	}

	if in.PriceEUR < 0 {
		errs["priceEur"] = "must not be negative"
	}

	if err := checkImageURL(in.ImageURL); err != "" {
		errs["imageUrl"] = err
	}

	if utf8.RuneCountInString(in.Description) > MaxDescriptionLength {
		errs["description"] = fmt.Sprintf("must be at most %d characters", MaxDescriptionLength)
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

func checkName(errs ValidationErrors, field, v string) {
	switch n := utf8.RuneCountInString(strings.TrimSpace(v)); {
	case n == 0:
		errs[field] = "is required"
	case n > MaxNameLength:
		errs[field] = fmt.Sprintf("must be at most %d characters", MaxNameLength)
	}
}

func checkImageURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "is required"
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return "must be an absolute URL"
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "must use http or https"
	}
	return ""
}
