// Package config provides XML-based configuration management for the upload
// server and client.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FileName is the default configuration file name, resolved next to the
// executable.
const FileName = "RowUpload.config"

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"RowUpload"`

	// Server configuration
	Server ServerConfig `xml:"Server"`

	// Storage configuration
	Storage StorageConfig `xml:"Storage"`

	// Upload behaviour shared by the endpoint and the coordinator
	Upload UploadConfig `xml:"Upload"`

	// Security configuration
	Security SecurityConfig `xml:"Security"`

	// Advanced options
	Advanced AdvancedConfig `xml:"Advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port"`
	BindAddress  string `xml:"BindAddress"`
	EnableCORS   bool   `xml:"EnableCORS"`
	AllowOrigins string `xml:"AllowOrigins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds"`
	BodyLimit    string `xml:"BodyLimit"`
}

// StorageConfig contains file storage settings
type StorageConfig struct {
	DataDirectory     string `xml:"DataDirectory"`
	ImagesDirectory   string `xml:"ImagesDirectory"`
	LedgerFile        string `xml:"LedgerFile"`
	EnablePersistence bool   `xml:"EnablePersistence"`
}

// UploadConfig contains upload endpoint and coordinator settings
type UploadConfig struct {
	Endpoint              string `xml:"Endpoint"`
	MaxConcurrent         int    `xml:"MaxConcurrentPerRow"`
	RequestTimeoutSeconds int    `xml:"RequestTimeoutSeconds"`
	MaxImageSize          string `xml:"MaxImageSize"`
	AllowedContentTypes   string `xml:"AllowedContentTypes"`
	Locale                string `xml:"Locale"`
	RowIDStrategy         string `xml:"RowIDStrategy"` // "timestamp" or "random"
}

// SecurityConfig contains anti-forgery settings
type SecurityConfig struct {
	CSRFCookieName string `xml:"CSRFCookieName"`
	CSRFHeaderName string `xml:"CSRFHeaderName"`
	CSRFFieldName  string `xml:"CSRFFieldName"`
	CookieSecure   bool   `xml:"CookieSecure"`
	AllowDeletion  bool   `xml:"AllowDeletion"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel             string `xml:"LogLevel"`
	EnableRequestLogging bool   `xml:"EnableRequestLogging"`
	DuckDBThreads        int    `xml:"DuckDBThreads"`
	DuckDBMemoryLimit    string `xml:"DuckDBMemoryLimit"`
	FeedBufferSize       int    `xml:"FeedBufferSize"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8000,
			BindAddress:  "0.0.0.0",
			EnableCORS:   false,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 30,
			IdleTimeout:  120,
			BodyLimit:    "50M",
		},
		Storage: StorageConfig{
			DataDirectory:     "./data",
			ImagesDirectory:   "./data/images",
			LedgerFile:        "./data/uploads.duckdb",
			EnablePersistence: true,
		},
		Upload: UploadConfig{
			Endpoint:              "/api/upload/image/",
			MaxConcurrent:         0,
			RequestTimeoutSeconds: 0,
			MaxImageSize:          "10M",
			AllowedContentTypes:   "image/jpeg,image/png,image/gif,image/webp",
			Locale:                "ar",
			RowIDStrategy:         "timestamp",
		},
		Security: SecurityConfig{
			CSRFCookieName: "csrftoken",
			CSRFHeaderName: "X-CSRFToken",
			CSRFFieldName:  "csrfmiddlewaretoken",
			CookieSecure:   false,
			AllowDeletion:  true,
		},
		Advanced: AdvancedConfig{
			LogLevel:             "info",
			EnableRequestLogging: true,
			DuckDBThreads:        2,
			DuckDBMemoryLimit:    "256MB",
			FeedBufferSize:       16,
		},
	}
}

// LoadConfig loads configuration from XML file
func LoadConfig(configPath string) (*AppConfig, error) {
	// If file doesn't exist, create default
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		config := DefaultConfig()
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		config.applyEnvironmentOverrides()
		config.resolvePaths(filepath.Dir(configPath))
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Start from defaults so missing elements keep sensible values
	config := DefaultConfig()
	if err := xml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply environment variable overrides
	config.applyEnvironmentOverrides()

	// Resolve relative paths
	config.resolvePaths(filepath.Dir(configPath))

	return config, nil
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- Row upload server configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	// PORT override
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	// DATA_DIR moves every storage path under the new directory
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
		c.Storage.ImagesDirectory = filepath.Join(dataDir, "images")
		c.Storage.LedgerFile = filepath.Join(dataDir, "uploads.duckdb")
	}

	if locale := os.Getenv("UPLOAD_LOCALE"); locale != "" {
		c.Upload.Locale = locale
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Advanced.LogLevel = level
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	if !filepath.IsAbs(c.Storage.DataDirectory) {
		c.Storage.DataDirectory = filepath.Join(configDir, c.Storage.DataDirectory)
	}
	if !filepath.IsAbs(c.Storage.ImagesDirectory) {
		c.Storage.ImagesDirectory = filepath.Join(configDir, c.Storage.ImagesDirectory)
	}
	if c.Storage.LedgerFile != "" && !filepath.IsAbs(c.Storage.LedgerFile) {
		c.Storage.LedgerFile = filepath.Join(configDir, c.Storage.LedgerFile)
	}
}

// GetDataDir returns the absolute data directory path
func (c *AppConfig) GetDataDir() string {
	return c.Storage.DataDirectory
}

// GetImagesDir returns the absolute image directory path
func (c *AppConfig) GetImagesDir() string {
	return c.Storage.ImagesDirectory
}

// GetLedgerPath returns the DuckDB ledger path, or "" for an in-memory
// ledger when persistence is disabled.
func (c *AppConfig) GetLedgerPath() string {
	if !c.Storage.EnablePersistence {
		return ""
	}
	return c.Storage.LedgerFile
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// GetRequestTimeout returns the per-upload client timeout; zero means none.
func (c *AppConfig) GetRequestTimeout() time.Duration {
	return time.Duration(c.Upload.RequestTimeoutSeconds) * time.Second
}

// GetMaxImageSize returns MaxImageSize in bytes.
func (c *AppConfig) GetMaxImageSize() (int64, error) {
	return ParseSize(c.Upload.MaxImageSize)
}

// GetAllowedContentTypes returns the accepted image MIME types.
func (c *AppConfig) GetAllowedContentTypes() []string {
	var types []string
	for _, t := range strings.Split(c.Upload.AllowedContentTypes, ",") {
		if t = strings.TrimSpace(strings.ToLower(t)); t != "" {
			types = append(types, t)
		}
	}
	return types
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.ImagesDirectory,
	}
	if ledger := c.GetLedgerPath(); ledger != "" {
		dirs = append(dirs, filepath.Dir(ledger))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ParseSize parses sizes such as "512", "10K", "10M", "2G" (binary units).
// An empty string means no limit and returns 0.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, nil
	}
	s = strings.TrimSuffix(s, "B")

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1 << 10
	case strings.HasSuffix(s, "M"):
		multiplier = 1 << 20
	case strings.HasSuffix(s, "G"):
		multiplier = 1 << 30
	}
	if multiplier > 1 {
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n * multiplier, nil
}
