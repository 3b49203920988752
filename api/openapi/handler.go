// Package openapi serves a Swagger UI for an OpenAPI document.
package openapi

import (
	"html/template"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

var swaggerUI = template.Must(template.New("swagger").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: {{.SpecURL}},
      dom_id: "#swagger-ui",
      presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
      layout: "BaseLayout",
    });
  </script>
</body>
</html>`))

// RegisterRoutes adds a Swagger UI for the document at specURL under
// /swagger.
func RegisterRoutes(e *echo.Echo, title, specURL string) {
	e.GET("/swagger/index.html", serveUI(title, specURL))
	e.GET("/swagger", redirectToUI)
	e.GET("/swagger/", redirectToUI)
}

func serveUI(title, specURL string) echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder
		if err := swaggerUI.Execute(&b, struct{ Title, SpecURL string }{title, specURL}); err != nil {
			return c.String(http.StatusInternalServerError, "rendering swagger ui")
		}
		return c.HTML(http.StatusOK, b.String())
	}
}

func redirectToUI(c echo.Context) error {
	return c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
}
