package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/andrewbassily0/Dashboard-bot/internal/api"
	"github.com/andrewbassily0/Dashboard-bot/internal/config"
	"github.com/andrewbassily0/Dashboard-bot/internal/ledger"
	"github.com/andrewbassily0/Dashboard-bot/internal/storage"
	"github.com/andrewbassily0/Dashboard-bot/internal/web"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Get the executable's directory for config resolution
	exePath, err := os.Executable()
	if err != nil {
		fmt.Printf("Failed to get executable path: %v\n", err)
		os.Exit(1)
	}
	configPath := filepath.Join(filepath.Dir(exePath), config.FileName)
	if override := os.Getenv("ROWUPLOAD_CONFIG"); override != "" {
		configPath = override
	}

	// Load XML configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Advanced.LogLevel)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, configPath, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zcfg.Build()
}

func run(cfg *config.AppConfig, configPath string, logger *zap.Logger) error {
	// Ensure all data directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	api.ShowErrorDetails = logger.Core().Enabled(zapcore.DebugLevel)

	maxImageSize, err := cfg.GetMaxImageSize()
	if err != nil {
		return fmt.Errorf("invalid MaxImageSize: %w", err)
	}
	bodyLimit := cfg.Server.BodyLimit
	if bodyLimit == "" {
		bodyLimit = "50M"
	}

	// Initialize storage
	fileStore, err := storage.NewLocalStore(cfg.GetImagesDir(), maxImageSize)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Open the upload ledger and rebuild the image index from it
	uploads, err := ledger.Open(cfg.GetLedgerPath(), ledger.Options{
		Threads:     cfg.Advanced.DuckDBThreads,
		MemoryLimit: cfg.Advanced.DuckDBMemoryLimit,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open upload ledger: %w", err)
	}
	defer uploads.Close()

	known, err := uploads.All(context.Background())
	if err != nil {
		return fmt.Errorf("failed to read upload ledger: %w", err)
	}
	restored := fileStore.Restore(known)
	if restored != len(known) {
		logger.Warn("ledger lists images missing from disk",
			zap.Int("recorded", len(known)), zap.Int("restored", restored))
	}

	feed := api.NewFeed(cfg.Advanced.FeedBufferSize, logger)

	csrf := api.CSRFOptions{
		CookieName:   cfg.Security.CSRFCookieName,
		HeaderName:   cfg.Security.CSRFHeaderName,
		FieldName:    cfg.Security.CSRFFieldName,
		CookieSecure: cfg.Security.CookieSecure,
	}

	e := echo.New()
	e.HideBanner = true

	// Configure middleware
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			// Skip logging if disabled in config
			if !cfg.Advanced.EnableRequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return path == "/api/health" || strings.HasPrefix(path, "/static/")
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize:         1024 * 4,
		DisablePrintStack: false,
		LogLevel:          0,
	}))

	// Body limit middleware
	e.Use(middleware.BodyLimit(bodyLimit))

	// CORS configuration
	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     origins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, csrf.HeaderName},
			AllowCredentials: true,
		}))
	}

	api.SetupMiddleware(e, csrf)

	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		Store:   fileStore,
		Ledger:  uploads,
		Feed:    feed,
		Logger:  logger,
		Version: Version,
		Locale:  cfg.Upload.Locale,
		Image: api.ImageOptions{
			MaxSize:       maxImageSize,
			AllowedTypes:  cfg.GetAllowedContentTypes(),
			AllowDeletion: cfg.Security.AllowDeletion,
		},
		CSRF: csrf,
	}))

	if err := web.RegisterStaticRoutes(e); err != nil {
		logger.Warn("failed to register static routes", zap.Error(err))
	}
	e.GET("/", func(c echo.Context) error {
		return c.Redirect(http.StatusFound, "/requests/new")
	})

	// Configure server with settings from XML config
	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           Row Upload Server                               ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("║  Locale:     %-45s║\n", cfg.Upload.Locale)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Images:    %-46s║\n", cfg.GetImagesDir())
	fmt.Printf("║  Restored:  %-46d║\n", restored)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.StartServer(s)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	}
}
