// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/andrewbassily0/Dashboard-bot/internal/storage"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// CSRFOptions names the cookie, header and form field carrying the
// anti-forgery token.
type CSRFOptions struct {
	CookieName   string
	HeaderName   string
	FieldName    string
	CookieSecure bool
}

// DefaultCSRFOptions matches the names the request form and the upload
// client use.
func DefaultCSRFOptions() CSRFOptions {
	return CSRFOptions{
		CookieName: "csrftoken",
		HeaderName: "X-CSRFToken",
		FieldName:  "csrfmiddlewaretoken",
	}
}

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store   storage.Store
	Ledger  UploadLedger // optional
	Feed    *Feed        // optional
	Logger  *zap.Logger
	Version string
	Locale  string
	Image   ImageOptions
	CSRF    CSRFOptions
}

// Handlers holds all handler instances
type Handlers struct {
	Health HealthHandler
	Image  ImageHandler
	Rows   RowHandler
	Form   FormHandler
	Feed   FeedHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	var publisher Publisher
	var feedHandler FeedHandler
	if deps.Feed != nil {
		publisher = deps.Feed
		feedHandler = deps.Feed
	}

	return &Handlers{
		Health: NewHealthHandler(deps.Version, deps.Ledger),
		Image:  NewImageHandler(deps.Store, deps.Ledger, publisher, deps.Image, deps.Logger),
		Rows:   NewRowHandler(deps.Store, deps.Ledger),
		Form:   NewFormHandler(deps.Locale, deps.CSRF.FieldName),
		Feed:   feedHandler,
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	// Health check
	e.GET("/api/health", handlers.Health.HandleHealth)

	// Request form page
	e.GET("/requests/new", handlers.Form.HandleRequestForm)

	// Image upload routes
	uploadGroup := e.Group("/api/upload")
	uploadGroup.POST("/image/", handlers.Image.HandleUploadImage)
	uploadGroup.GET("/image/:id", handlers.Image.HandleGetImage)
	uploadGroup.DELETE("/image/:id", handlers.Image.HandleDeleteImage)
	uploadGroup.GET("/images", handlers.Image.HandleRecentImages)

	// Row listings
	uploadGroup.GET("/rows", handlers.Rows.HandleListRows)
	uploadGroup.GET("/rows/:rowId", handlers.Rows.HandleRowFiles)
	uploadGroup.GET("/rows/:rowId/msgpack", handlers.Rows.HandleRowFilesMsgpack)

	// Upload feed
	if handlers.Feed != nil {
		e.GET("/api/ws/uploads", handlers.Feed.HandleWebSocket)
	}
}

// CSRFMiddleware validates the anti-forgery token on unsafe methods and
// issues the token cookie on safe ones. Failures answer 403.
func CSRFMiddleware(opts CSRFOptions) echo.MiddlewareFunc {
	return middleware.CSRFWithConfig(middleware.CSRFConfig{
		Skipper: func(c echo.Context) bool {
			path := c.Path()
			return path == "/api/health" ||
				path == "/api/ws/uploads" ||
				strings.HasPrefix(path, "/static/")
		},
		TokenLookup:    fmt.Sprintf("header:%s,form:%s", opts.HeaderName, opts.FieldName),
		ContextKey:     CSRFContextKey,
		CookieName:     opts.CookieName,
		CookiePath:     "/",
		CookieSecure:   opts.CookieSecure,
		CookieSameSite: http.SameSiteLaxMode,
		ErrorHandler: func(err error, c echo.Context) error {
			return NewForbiddenError("CSRF verification failed")
		},
	})
}

// SetupMiddleware configures the error handler and anti-forgery protection
func SetupMiddleware(e *echo.Echo, opts CSRFOptions) {
	// Use custom error handler
	e.HTTPErrorHandler = ErrorHandler

	e.Use(CSRFMiddleware(opts))
}
