package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port string

	DatabaseURL string

	StripeSecretKey     string
	StripeWebhookSecret string

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	EmailFrom    string

	ArtifactsDir string
	MaxDownloads int

	SiteURL        string
	AllowedOrigins []string

	DownloadRateLimit  int
	DownloadRateWindow time.Duration

	SentryDSN string
}

func New() (*Config, error) {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}

	stripeSecretKey := os.Getenv("STRIPE_SECRET_KEY")
	if stripeSecretKey == "" {
		return nil, errors.New("STRIPE_SECRET_KEY environment variable is required")
	}

	stripeWebhookSecret := os.Getenv("STRIPE_WEBHOOK_SECRET")
	if stripeWebhookSecret == "" {
		return nil, errors.New("STRIPE_WEBHOOK_SECRET environment variable is required")
	}

	maxDownloads := 3
	if v := os.Getenv("MAX_DOWNLOADS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("MAX_DOWNLOADS must be a positive integer, got %q", v)
		}
		maxDownloads = n
	}

	artifactsDir := os.Getenv("ARTIFACTS_DIR")
	if artifactsDir == "" {
		artifactsDir = "templates"
	}

	siteURL := os.Getenv("SITE_URL")
	if siteURL == "" {
		siteURL = "http://localhost:3000"
	}

	allowedOrigins := []string{siteURL}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		allowedOrigins = strings.Split(v, ",")
		for i := range allowedOrigins {
			allowedOrigins[i] = strings.TrimSpace(allowedOrigins[i])
		}
	}

	downloadRateLimit := 30
	if v := os.Getenv("DOWNLOAD_RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("DOWNLOAD_RATE_LIMIT must be a non-negative integer, got %q", v)
		}
		downloadRateLimit = n
	}

	downloadRateWindow := time.Minute
	if v := os.Getenv("DOWNLOAD_RATE_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("DOWNLOAD_RATE_WINDOW must be a positive duration, got %q", v)
		}
		downloadRateWindow = d
	}

	emailFrom := os.Getenv("EMAIL_FROM")
	if emailFrom == "" {
		emailFrom = "licenses@armstrong.academy"
	}

	return &Config{
		Port:                port,
		DatabaseURL:         dbURL,
		StripeSecretKey:     stripeSecretKey,
		StripeWebhookSecret: stripeWebhookSecret,
		SMTPHost:            os.Getenv("SMTP_HOST"),
		SMTPPort:            os.Getenv("SMTP_PORT"),
		SMTPUsername:        os.Getenv("SMTP_USERNAME"),
		SMTPPassword:        os.Getenv("SMTP_PASSWORD"),
		EmailFrom:           emailFrom,
		ArtifactsDir:        artifactsDir,
		MaxDownloads:        maxDownloads,
		SiteURL:             siteURL,
		AllowedOrigins:      allowedOrigins,
		DownloadRateLimit:   downloadRateLimit,
		DownloadRateWindow:  downloadRateWindow,
		SentryDSN:           os.Getenv("SENTRY_DSN"),
	}, nil
}
