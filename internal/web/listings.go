package web

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/donaldgifford/automarket/internal/gating"
	"github.com/donaldgifford/automarket/internal/listing"
	"github.com/donaldgifford/automarket/internal/upload"
	"github.com/donaldgifford/automarket/internal/web/views"
	domain "github.com/donaldgifford/automarket/pkg/types"
)

func (s *Server) newCar(c echo.Context) error {
	return s.renderForm(c, http.StatusOK, "/cars/new", false, views.FormFields{}, nil, "")
}

func (s *Server) createCar(c echo.Context) error {
	if s.submitter.Busy() {
		return s.submitFailed(c, "/cars/new", false, formFields(c), listing.ErrSubmitInProgress)
	}

	st := s.sessionOf(c)
	fields, in, errs := s.readForm(c, st.UID)
	if len(errs) > 0 {
		return s.renderForm(c, http.StatusUnprocessableEntity, "/cars/new", false, fields, errs, "")
	}

	car, err := s.submitter.Submit(c.Request().Context(), in, s.api.CreateCar)
	if err != nil {
		return s.submitFailed(c, "/cars/new", false, fields, err)
	}

	s.stale.Store(true)
	s.log.Info("listing created", "id", car.ID, "uid", st.UID)
	s.setFlash(c, "Listing created.")
	return c.Redirect(http.StatusSeeOther, fmt.Sprintf("/cars/%d", car.ID))
}

func (s *Server) editCar(c echo.Context) error {
	car, err := s.loadCar(c)
	if err != nil {
		return err
	}
	if !gating.CanManage(s.sessionOf(c), car) {
		return s.forbiddenView(c)
	}

	action := fmt.Sprintf("/cars/%d/edit", car.ID)
	return s.renderForm(c, http.StatusOK, action, true, views.FieldsFrom(car.Input()), nil, "")
}

func (s *Server) updateCar(c echo.Context) error {
	car, err := s.loadCar(c)
	if err != nil {
		return err
	}
	st := s.sessionOf(c)
	if !gating.CanManage(st, car) {
		return s.forbiddenView(c)
	}

	action := fmt.Sprintf("/cars/%d/edit", car.ID)
	if s.submitter.Busy() {
		return s.submitFailed(c, action, true, formFields(c), listing.ErrSubmitInProgress)
	}

	fields, in, errs := s.readForm(c, st.UID)
	if len(errs) > 0 {
		return s.renderForm(c, http.StatusUnprocessableEntity, action, true, fields, errs, "")
	}

	send := func(ctx context.Context, in domain.CarInput) (*domain.Car, error) {
		return s.api.UpdateCar(ctx, car.ID, in)
	}
	updated, err := s.submitter.Submit(c.Request().Context(), in, send)
	if err != nil {
		return s.submitFailed(c, action, true, fields, err)
	}

	s.stale.Store(true)
	s.setFlash(c, "Listing updated.")
	return c.Redirect(http.StatusSeeOther, fmt.Sprintf("/cars/%d", updated.ID))
}

func (s *Server) confirmDelete(c echo.Context) error {
	car, err := s.loadCar(c)
	if err != nil {
		return err
	}
	if !gating.CanManage(s.sessionOf(c), car) {
		return s.forbiddenView(c)
	}

	return s.render(c, http.StatusOK, views.Delete, views.Page{
		Title: "Delete " + car.Title(),
		Body:  views.DeleteData{Car: car},
	})
}

func (s *Server) deleteCar(c echo.Context) error {
	car, err := s.loadCar(c)
	if err != nil {
		return err
	}
	if !gating.CanManage(s.sessionOf(c), car) {
		return s.forbiddenView(c)
	}

	if err := s.dashboard.Delete(c.Request().Context(), car.ID); err != nil {
		s.log.Warn("delete failed", "id", car.ID, "error", err)
		return s.render(c, errorStatus(err), views.Delete, views.Page{
			Title: "Delete " + car.Title(),
			Error: errorMessage(err),
			Body:  views.DeleteData{Car: car},
		})
	}

	s.log.Info("listing deleted", "id", car.ID)
	s.setFlash(c, car.Title()+" deleted.")
	return c.Redirect(http.StatusSeeOther, "/seller")
}

func (s *Server) sellerDashboard(c echo.Context) error {
	ctx := c.Request().Context()
	page := views.Page{Title: "Seller dashboard"}

	if !s.dashboard.Loaded() || s.stale.Load() || c.QueryParam("reload") != "" {
		if err := s.dashboard.Load(ctx); err != nil {
			s.log.Warn("loading dashboard failed", "error", err)
			page.Error = errorMessage(err)
		} else {
			s.stale.Store(false)
		}
	}

	st := s.sessionOf(c)
	mode := listing.ParseSortMode(c.QueryParam("sort"))
	page.Body = views.DashboardData{
		View:      s.dashboard.View(st.UID, strings.TrimSpace(c.QueryParam("q")), mode),
		SortModes: listing.SortModes,
	}
	return s.render(c, http.StatusOK, views.Dashboard, page)
}

func (s *Server) renderForm(
	c echo.Context,
	status int,
	action string,
	editing bool,
	fields views.FormFields,
	errs map[string]string,
	msg string,
) error {
	title := "New listing"
	if editing {
		title = "Edit listing"
	}
	return s.render(c, status, views.Form, views.Page{
		Title: title,
		Error: msg,
		Body: views.FormData{
			Action:         action,
			Editing:        editing,
			Fields:         fields,
			Errors:         errs,
			UploadsEnabled: s.uploader != nil,
			MinYear:        listing.MinYear,
			MaxYear:        s.now().Year() + 1,
		},
	})
}

// submitFailed re-renders the form after Submit returned err.
func (s *Server) submitFailed(c echo.Context, action string, editing bool, fields views.FormFields, err error) error {
	var verrs listing.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return s.renderForm(c, http.StatusUnprocessableEntity, action, editing, fields, verrs, "")
	case errors.Is(err, listing.ErrSubmitInProgress):
		return s.renderForm(c, http.StatusConflict, action, editing, fields, nil,
			"This listing is already being saved.")
	default:
		s.log.Warn("saving listing failed", "action", action, "error", err)
		return s.renderForm(c, errorStatus(err), action, editing, fields, nil, errorMessage(err))
	}
}

// formFields returns the listing form as posted, without touching the image.
func formFields(c echo.Context) views.FormFields {
	return views.FormFields{
		Make:        c.FormValue("make"),
		Model:       c.FormValue("model"),
		Year:        strings.TrimSpace(c.FormValue("year")),
		Price:       strings.TrimSpace(c.FormValue("priceEur")),
		ImageURL:    strings.TrimSpace(c.FormValue("imageUrl")),
		Description: c.FormValue("description"),
	}
}

// readForm parses the listing form and resolves its image. Problems that
// keep the input from being built at all are returned per field; everything
// else is left to listing.Validate. Text fields are passed on as entered.
func (s *Server) readForm(c echo.Context, uid string) (views.FormFields, domain.CarInput, map[string]string) {
	fields := formFields(c)
	errs := map[string]string{}

	if c.FormValue("clear_image") != "" {
		fields.ImageURL = ""
	}
	if img, err := s.resolveImage(c, uid); err != nil {
		errs["image"] = imageErrorMessage(err)
	} else if img != "" {
		fields.ImageURL = img
	}

	in := domain.CarInput{
		Make:        fields.Make,
		Model:       fields.Model,
		ImageURL:    fields.ImageURL,
		Description: fields.Description,
	}
	if year, err := strconv.Atoi(fields.Year); err != nil {
		errs["year"] = "must be a number"
	} else {
		in.Year = year
	}
	if price, err := strconv.ParseFloat(fields.Price, 64); err != nil {
		errs["priceEur"] = "must be a number"
	} else {
		in.PriceEUR = price
	}

	if len(errs) > 0 {
		var verrs listing.ValidationErrors
		if errors.As(listing.Validate(in, s.now()), &verrs) {
			for field, msg := range verrs {
				if _, seen := errs[field]; !seen {
					errs[field] = msg
				}
			}
		}
	}

	return fields, in, errs
}

// resolveImage returns the URL of a newly chosen image, or "" when the form
// keeps its current one. A failed upload leaves the current image in place.
func (s *Server) resolveImage(c echo.Context, uid string) (string, error) {
	if link := strings.TrimSpace(c.FormValue("image_link")); link != "" {
		return link, nil
	}
	if s.uploader == nil {
		return "", nil
	}

	ctx := c.Request().Context()
	fh, err := c.FormFile("image")
	switch {
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	case err != nil:
		return "", fmt.Errorf("reading upload: %w", err)
	case fh.Size > 0 || fh.Filename != "":
		return s.uploadFile(ctx, uid, fh)
	}

	if src := strings.TrimSpace(c.FormValue("image_source")); src != "" && s.importer != nil {
		return s.importer.Import(ctx, uid, src)
	}
	return "", nil
}

func (s *Server) uploadFile(ctx context.Context, uid string, fh *multipart.FileHeader) (string, error) {
	f := upload.File{
		Name:        fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Size:        fh.Size,
	}
	if err := upload.Check(f); err != nil {
		return "", err
	}

	body, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("opening upload: %w", err)
	}
	defer body.Close()

	f.Body = body
	return s.uploader.Upload(ctx, uid, f)
}

func imageErrorMessage(err error) string {
	switch {
	case errors.Is(err, upload.ErrTooLarge):
		return fmt.Sprintf("Image is too large (max %d MB).", upload.MaxImageBytes>>20)
	case errors.Is(err, upload.ErrNotImage):
		return "Only image files can be uploaded."
	case errors.Is(err, upload.ErrInvalidSource):
		return "Image URL must be an absolute http or https URL."
	default:
		return "Upload failed: " + err.Error()
	}
}
