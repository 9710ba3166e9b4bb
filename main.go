package main

import (
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/stripe/stripe-go/v82"

	"armstrong.academy/cloud/handlers"
	"armstrong.academy/cloud/internal/artifacts"
	"armstrong.academy/cloud/internal/config"
	"armstrong.academy/cloud/internal/email"
	"armstrong.academy/cloud/internal/logger"
	"armstrong.academy/cloud/storage"
)

var version = "dev"

func main() {
	if versionBytes, err := os.ReadFile("VERSION"); err == nil {
		version = strings.TrimSpace(string(versionBytes))
	}

	godotenv.Load()

	cfg, err := config.New()
	if err != nil {
		log.Fatalf("config: %s", err)
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		TracesSampleRate: 1.0,
	}); err != nil {
		log.Fatalf("sentry.Init: %s", err)
	}

	stripe.Key = cfg.StripeSecretKey

	store, err := storage.NewSQLiteStorage(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("storage: %s", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	mailer := email.NewSMTPSender(email.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.EmailFrom,
	})

	registry := artifacts.New(cfg.ArtifactsDir, nil)

	server := handlers.NewHTTPServer(cfg, store, mailer, registry)
	server.Version = version

	logger.Info("Armstrong Academy cloud API starting", map[string]interface{}{
		"version": version,
		"port":    cfg.Port,
	})

	log.Fatal(http.ListenAndServe(":"+cfg.Port, server.Mux))
}
