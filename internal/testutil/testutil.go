package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"armstrong.academy/cloud/handlers"
	"armstrong.academy/cloud/internal/artifacts"
	"armstrong.academy/cloud/internal/config"
	"armstrong.academy/cloud/models"
	"armstrong.academy/cloud/storage"
)

const (
	WebhookSecret = "whsec_test"
	TestProductID = "prod_test123"
	TestArtifact  = "saas-kit.zip"
)

// TestConfig returns a config suitable for handler tests without touching
// the environment.
func TestConfig() *config.Config {
	return &config.Config{
		Port:                "8080",
		DatabaseURL:         ":memory:",
		StripeSecretKey:     "sk_test_123",
		StripeWebhookSecret: WebhookSecret,
		MaxDownloads:        3,
		ArtifactsDir:        "templates",
		SiteURL:             "http://localhost:3000",
		AllowedOrigins:      []string{"http://localhost:3000"},
		DownloadRateLimit:   1000,
		DownloadRateWindow:  time.Minute,
	}
}

// TestArtifacts returns an in-memory registry with one known product.
func TestArtifacts() *artifacts.Registry {
	fsys := fstest.MapFS{
		TestArtifact: {Data: []byte("test zip bytes")},
	}
	return artifacts.NewWithFS(fsys, map[string]string{
		TestProductID: TestArtifact,
	})
}

// SentEmail records one delivery made through the FakeMailer.
type SentEmail struct {
	To      string
	Subject string
	Body    string
}

type FakeMailer struct {
	mu   sync.Mutex
	Sent []SentEmail
	Err  error
}

func (f *FakeMailer) Send(to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return f.Err
	}
	f.Sent = append(f.Sent, SentEmail{To: to, Subject: subject, Body: body})
	return nil
}

func (f *FakeMailer) SentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Sent)
}

// NewTestServer wires a server with memory storage, fake mailer, and the
// in-memory artifact registry.
func NewTestServer() (*handlers.Server, *storage.MemoryStorage, *FakeMailer) {
	store := storage.NewMemoryStorage()
	mailer := &FakeMailer{}
	server := handlers.NewHTTPServer(TestConfig(), store, mailer, TestArtifacts())
	return server, store, mailer
}

// CreateTestLicense saves a ready-to-redeem license and returns it.
func CreateTestLicense(t *testing.T, store storage.Storage, key, productID string) *models.License {
	t.Helper()

	license := &models.License{
		Key:             key,
		ProductID:       productID,
		Email:           "buyer@example.com",
		StripeSessionID: "cs_" + key,
		UsageCount:      0,
		MaxUses:         3,
		IsActive:        true,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}

	if err := store.SaveLicense(context.Background(), license); err != nil {
		t.Fatalf("Failed to save test license: %v", err)
	}
	return license
}

// CheckoutSessionPayload builds a Stripe event body for webhook tests.
func CheckoutSessionPayload(eventType, sessionID, customerEmail, productID string) []byte {
	sessionData := map[string]interface{}{
		"id":             sessionID,
		"amount_total":   4900,
		"currency":       "usd",
		"payment_status": "paid",
		"metadata":       map[string]interface{}{},
	}

	if customerEmail != "" {
		sessionData["customer_details"] = map[string]interface{}{
			"email": customerEmail,
		}
	}
	if productID != "" {
		sessionData["metadata"] = map[string]interface{}{
			"productId": productID,
		}
	}

	event := map[string]interface{}{
		"id":          "evt_" + sessionID,
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"data": map[string]interface{}{
			"object": sessionData,
		},
	}

	payload, _ := json.Marshal(event)
	return payload
}

// SendWebhook signs the payload with the test secret and posts it through
// the full router.
func SendWebhook(t *testing.T, server *handlers.Server, payload []byte) *httptest.ResponseRecorder {
	t.Helper()

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    WebhookSecret,
		Timestamp: time.Now(),
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewBuffer(signed.Payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)

	w := httptest.NewRecorder()
	server.Mux.ServeHTTP(w, req)
	return w
}

// SendDownload posts a redemption request through the full router.
func SendDownload(t *testing.T, server *handlers.Server, productID, licenseKey string) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(handlers.DownloadRequest{
		ProductID:  productID,
		LicenseKey: licenseKey,
	})
	if err != nil {
		t.Fatalf("Failed to marshal download request: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/registry/download", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	server.Mux.ServeHTTP(w, req)
	return w
}

// FailingStorage wraps a Storage and fails selected operations, for testing
// the 500 paths.
type FailingStorage struct {
	storage.Storage
	FailSave   bool
	FailFind   bool
	FailRedeem bool
}

func (f *FailingStorage) SaveLicense(ctx context.Context, license *models.License) error {
	if f.FailSave {
		return fmt.Errorf("storage unavailable")
	}
	return f.Storage.SaveLicense(ctx, license)
}

func (f *FailingStorage) FindLicenseBySessionID(ctx context.Context, sessionID string) (*models.License, error) {
	if f.FailFind {
		return nil, fmt.Errorf("storage unavailable")
	}
	return f.Storage.FindLicenseBySessionID(ctx, sessionID)
}

func (f *FailingStorage) RedeemLicense(ctx context.Context, key, productID string) (*storage.Redemption, error) {
	if f.FailRedeem {
		return nil, fmt.Errorf("storage unavailable")
	}
	return f.Storage.RedeemLicense(ctx, key, productID)
}
