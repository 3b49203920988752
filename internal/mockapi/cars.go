package mockapi

import (
	"cmp"
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/donaldgifford/automarket/internal/listing"
	domain "github.com/donaldgifford/automarket/pkg/types"
)

// --- Input/Output types ---

// HealthOutput is the plain-text health response.
type HealthOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

// AuthInput carries the caller's bearer token.
type AuthInput struct {
	Authorization string `header:"Authorization" doc:"Bearer ID token"`
}

// WhoAmIOutput is the response for the whoami endpoint.
type WhoAmIOutput struct {
	Body domain.WhoAmI
}

// ListCarsInput is the input for listing cars with optional filters.
type ListCarsInput struct {
	Make      string  `query:"make"      doc:"Case-insensitive make filter"`
	YearFrom  int     `query:"yearFrom"  doc:"Minimum model year"`
	YearTo    int     `query:"yearTo"    doc:"Maximum model year"`
	PriceFrom float64 `query:"priceFrom" doc:"Minimum price in EUR"`
	PriceTo   float64 `query:"priceTo"   doc:"Maximum price in EUR"`
	Page      int     `query:"page"      doc:"0-based page number"          minimum:"0"`
	Size      int     `query:"size"      doc:"Page size (default 20)"       minimum:"0" maximum:"1000"`
	Sort      string  `query:"sort"      doc:"Sort as field,dir, for example createdAt,desc"`
}

// ListCarsOutput is a page of cars.
type ListCarsOutput struct {
	Body domain.Page[domain.Car]
}

// CarIDInput identifies a car.
type CarIDInput struct {
	ID int64 `path:"id" doc:"Car ID"`
}

// CarOutput is a single car.
type CarOutput struct {
	Body domain.Car
}

// CreateCarInput is the input for creating a car.
type CreateCarInput struct {
	Authorization string `header:"Authorization" doc:"Bearer ID token"`
	Body          domain.CarInput
}

// UpdateCarInput is the input for updating a car.
type UpdateCarInput struct {
	Authorization string `header:"Authorization" doc:"Bearer ID token"`
	ID            int64  `path:"id" doc:"Car ID"`
	Body          domain.CarInput
}

// DeleteCarInput is the input for deleting a car.
type DeleteCarInput struct {
	Authorization string `header:"Authorization" doc:"Bearer ID token"`
	ID            int64  `path:"id" doc:"Car ID"`
}

// SetRoleInput is the input for the debug role assignment endpoint.
type SetRoleInput struct {
	UID  string `query:"uid"  required:"true" doc:"User ID"`
	Role string `query:"role" required:"true" doc:"New role" enum:"USER,SELLER,ADMIN"`
}

const defaultPageSize = 20

// --- Handlers ---

// Health reports that the backend is up.
func (*Server) Health(_ context.Context, _ *struct{}) (*HealthOutput, error) {
	return &HealthOutput{ContentType: "text/plain", Body: []byte("OK")}, nil
}

// WhoAmI returns the calling principal and its authorities.
func (s *Server) WhoAmI(_ context.Context, input *AuthInput) (*WhoAmIOutput, error) {
	a, err := s.principal(input.Authorization)
	if err != nil {
		return nil, errUnauthenticated("/api/whoami")
	}
	return &WhoAmIOutput{Body: domain.WhoAmI{
		Principal:   a.UID,
		Authorities: []string{"ROLE_" + string(a.Role)},
	}}, nil
}

// ListCars returns a filtered, sorted page of cars.
func (s *Server) ListCars(_ context.Context, input *ListCarsInput) (*ListCarsOutput, error) {
	size := input.Size
	if size == 0 {
		size = defaultPageSize
	}

	s.mu.Lock()
	matched := make([]domain.Car, 0, len(s.cars))
	for _, c := range s.cars {
		if matches(c, input) {
			matched = append(matched, c)
		}
	}
	s.mu.Unlock()

	sortCars(matched, input.Sort)

	total := len(matched)
	start := min(input.Page*size, total)
	end := min(start+size, total)

	resp := &ListCarsOutput{}
	resp.Body = domain.Page[domain.Car]{
		Content:       matched[start:end],
		TotalElements: total,
		TotalPages:    (total + size - 1) / size,
		Size:          size,
		Number:        input.Page,
	}
	return resp, nil
}

// GetCar returns a single car.
func (s *Server) GetCar(_ context.Context, input *CarIDInput) (*CarOutput, error) {
	s.mu.Lock()
	c, ok := s.cars[input.ID]
	s.mu.Unlock()

	if !ok {
		return nil, errNotFound(carPath(input.ID), "Car not found")
	}
	return &CarOutput{Body: c}, nil
}

// CreateCar stores a new listing owned by the caller. Sellers and admins
// only.
func (s *Server) CreateCar(_ context.Context, input *CreateCarInput) (*CarOutput, error) {
	const path = "/api/cars"

	a, err := s.principal(input.Authorization)
	if err != nil {
		return nil, errUnauthenticated(path)
	}
	if !a.Role.CanSell() {
		return nil, errForbidden(path)
	}
	if err := s.validate(input.Body); err != nil {
		return nil, errValidation(path, err)
	}

	s.mu.Lock()
	now := s.now().UTC()
	c := carFrom(input.Body)
	c.ID = s.nextID
	c.SellerUID = a.UID
	c.CreatedAt = &now
	s.nextID++
	s.cars[c.ID] = c
	s.mu.Unlock()

	s.log.Info("car created", "id", c.ID, "seller", a.UID)
	return &CarOutput{Body: c}, nil
}

// UpdateCar replaces the writable fields of a listing. Owner or admin only.
func (s *Server) UpdateCar(_ context.Context, input *UpdateCarInput) (*CarOutput, error) {
	path := carPath(input.ID)

	a, err := s.principal(input.Authorization)
	if err != nil {
		return nil, errUnauthenticated(path)
	}
	if err := s.validate(input.Body); err != nil {
		return nil, errValidation(path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.cars[input.ID]
	if !ok {
		return nil, errNotFound(path, "Car not found")
	}
	if !canModify(a, existing) {
		return nil, errForbidden(path)
	}

	c := carFrom(input.Body)
	c.ID = existing.ID
	c.SellerUID = existing.SellerUID
	c.CreatedAt = existing.CreatedAt
	s.cars[c.ID] = c
	return &CarOutput{Body: c}, nil
}

// DeleteCar removes a listing. Owner or admin only.
func (s *Server) DeleteCar(_ context.Context, input *DeleteCarInput) (*struct{}, error) {
	path := carPath(input.ID)

	a, err := s.principal(input.Authorization)
	if err != nil {
		return nil, errUnauthenticated(path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.cars[input.ID]
	if !ok {
		return nil, errNotFound(path, "Car not found")
	}
	if !canModify(a, existing) {
		return nil, errForbidden(path)
	}

	delete(s.cars, input.ID)
	return nil, nil
}

// SetRoleHTTP assigns a role to a user. Development only; unauthenticated.
func (s *Server) SetRoleHTTP(_ context.Context, input *SetRoleInput) (*struct{}, error) {
	if err := s.SetRole(input.UID, domain.ParseRole(input.Role)); err != nil {
		return nil, errNotFound("/api/admin/set-role", "User not found")
	}
	s.log.Info("role assigned", "uid", input.UID, "role", input.Role)
	return nil, nil
}

// --- Helpers ---

func carPath(id int64) string {
	return "/api/cars/" + strconv.FormatInt(id, 10)
}

func carFrom(in domain.CarInput) domain.Car {
	return domain.Car{
		Make:        in.Make,
		Model:       in.Model,
		Year:        in.Year,
		PriceEUR:    in.PriceEUR,
		ImageURL:    in.ImageURL,
		Description: in.Description,
	}
}

func canModify(a *account, c domain.Car) bool {
	return a.Role == domain.RoleAdmin || c.SellerUID == a.UID
}

// validate applies the listing rules and returns field details.
func (s *Server) validate(in domain.CarInput) []domain.FieldError {
	err := listing.Validate(in, s.now())
	if err == nil {
		return nil
	}

	var verrs listing.ValidationErrors
	if !errors.As(err, &verrs) {
		return []domain.FieldError{{Message: err.Error()}}
	}

	details := make([]domain.FieldError, 0, len(verrs))
	for field, msg := range verrs {
		details = append(details, domain.FieldError{Field: field, Message: msg})
	}
	slices.SortFunc(details, func(a, b domain.FieldError) int { return cmp.Compare(a.Field, b.Field) })
	return details
}

func matches(c domain.Car, in *ListCarsInput) bool {
	if in.Make != "" && !strings.Contains(strings.ToLower(c.Make), strings.ToLower(in.Make)) {
		return false
	}
	if in.YearFrom > 0 && c.Year < in.YearFrom {
		return false
	}
	if in.YearTo > 0 && c.Year > in.YearTo {
		return false
	}
	if in.PriceFrom > 0 && c.PriceEUR < in.PriceFrom {
		return false
	}
	if in.PriceTo > 0 && c.PriceEUR > in.PriceTo {
		return false
	}
	return true
}

// sortCars orders cars by "field,dir". Unknown fields sort by id.
func sortCars(cars []domain.Car, sortBy string) {
	field, dir, _ := strings.Cut(sortBy, ",")
	desc := strings.EqualFold(dir, "desc")

	var fn func(a, b domain.Car) int
	switch field {
	case "createdAt":
		fn = func(a, b domain.Car) int { return createdAt(a).Compare(createdAt(b)) }
	case "priceEur":
		fn = func(a, b domain.Car) int { return cmp.Compare(a.PriceEUR, b.PriceEUR) }
	case "year":
		fn = func(a, b domain.Car) int { return cmp.Compare(a.Year, b.Year) }
	case "make":
		fn = func(a, b domain.Car) int { return cmp.Compare(strings.ToLower(a.Make), strings.ToLower(b.Make)) }
	default:
		fn = func(a, b domain.Car) int { return 0 }
	}

	slices.SortFunc(cars, func(a, b domain.Car) int {
		r := fn(a, b)
		if desc {
			r = -r
		}
		if r == 0 {
			r = cmp.Compare(a.ID, b.ID)
		}
		return r
	})
}

func createdAt(c domain.Car) time.Time {
	if c.CreatedAt == nil {
		return time.Time{}
	}
	return *c.CreatedAt
}

// registerRoutes registers the listings backend endpoints with the Huma API.
func registerRoutes(api huma.API, s *Server) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health check",
		Tags:        []string{"system"},
	}, s.Health)

	huma.Register(api, huma.Operation{
		OperationID: "whoami",
		Method:      http.MethodGet,
		Path:        "/api/whoami",
		Summary:     "Describe the caller",
		Tags:        []string{"system"},
		Errors:      []int{http.StatusUnauthorized},
	}, s.WhoAmI)

	huma.Register(api, huma.Operation{
		OperationID: "list-cars",
		Method:      http.MethodGet,
		Path:        "/api/cars",
		Summary:     "List cars",
		Description: "Returns a page of cars filtered by make, year and price.",
		Tags:        []string{"cars"},
	}, s.ListCars)

	huma.Register(api, huma.Operation{
		OperationID: "get-car",
		Method:      http.MethodGet,
		Path:        "/api/cars/{id}",
		Summary:     "Get a car by ID",
		Tags:        []string{"cars"},
		Errors:      []int{http.StatusNotFound},
	}, s.GetCar)

	huma.Register(api, huma.Operation{
		OperationID:   "create-car",
		Method:        http.MethodPost,
		Path:          "/api/cars",
		Summary:       "Create a car",
		Tags:          []string{"cars"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, s.CreateCar)

	huma.Register(api, huma.Operation{
		OperationID: "update-car",
		Method:      http.MethodPut,
		Path:        "/api/cars/{id}",
		Summary:     "Update a car",
		Tags:        []string{"cars"},
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, s.UpdateCar)

	huma.Register(api, huma.Operation{
		OperationID:   "delete-car",
		Method:        http.MethodDelete,
		Path:          "/api/cars/{id}",
		Summary:       "Delete a car",
		Tags:          []string{"cars"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, s.DeleteCar)

	huma.Register(api, huma.Operation{
		OperationID: "set-role",
		Method:      http.MethodPost,
		Path:        "/api/admin/set-role",
		Summary:     "Assign a role (development only)",
		Tags:        []string{"admin"},
		Errors:      []int{http.StatusNotFound},
	}, s.SetRoleHTTP)
}
