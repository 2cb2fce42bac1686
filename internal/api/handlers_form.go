// handlers_form.go - Request form page
package api

import (
	"bytes"
	"net/http"

	"github.com/andrewbassily0/Dashboard-bot/internal/web"
	"github.com/labstack/echo/v4"
)

// CSRFContextKey is where the CSRF middleware leaves the request token.
const CSRFContextKey = "csrf"

// FormHandlerImpl implements the FormHandler interface
type FormHandlerImpl struct {
	locale    string
	csrfField string
}

// NewFormHandler creates a handler rendering the form in locale.
func NewFormHandler(locale, csrfField string) FormHandler {
	return &FormHandlerImpl{locale: locale, csrfField: csrfField}
}

// HandleRequestForm renders a fresh request form carrying the caller's CSRF
// token. The lang query parameter overrides the configured locale.
func (h *FormHandlerImpl) HandleRequestForm(c echo.Context) error {
	token, _ := c.Get(CSRFContextKey).(string)

	locale := h.locale
	if lang := c.QueryParam("lang"); lang != "" {
		locale = lang
	}

	var buf bytes.Buffer
	if err := web.RenderRequestForm(&buf, web.NewFormPage(locale, h.csrfField, token)); err != nil {
		return NewInternalError("failed to render form", err)
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}
