package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"armstrong.academy/cloud/handlers"
	"armstrong.academy/cloud/internal/testutil"
	"armstrong.academy/cloud/storage"
)

func TestDownload_Success(t *testing.T) {
	server, store, _ := testutil.NewTestServer()
	testutil.CreateTestLicense(t, store, "key_valid", testutil.TestProductID)

	w := testutil.SendDownload(t, server, testutil.TestProductID, "key_valid")

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Type"); got != "application/zip" {
		t.Errorf("Expected Content-Type application/zip, got %s", got)
	}
	if got := w.Header().Get("Content-Disposition"); got != "attachment; filename="+testutil.TestArtifact {
		t.Errorf("Unexpected Content-Disposition: %s", got)
	}
	if got := w.Header().Get("X-Downloads-Left"); got != "2" {
		t.Errorf("Expected 2 downloads left, got %s", got)
	}
	if w.Body.String() != "test zip bytes" {
		t.Errorf("Unexpected artifact body: %q", w.Body.String())
	}
}

func TestDownload_TrimsInput(t *testing.T) {
	server, store, _ := testutil.NewTestServer()
	testutil.CreateTestLicense(t, store, "key_trim", testutil.TestProductID)

	w := testutil.SendDownload(t, server, "  "+testutil.TestProductID+"  ", "\tkey_trim \n")

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d with padded input, got %d", http.StatusOK, w.Code)
	}
}

func TestDownload_InvalidInput(t *testing.T) {
	tests := []struct {
		name       string
		productID  string
		licenseKey string
	}{
		{"empty product id", "", "key_valid"},
		{"empty license key", testutil.TestProductID, ""},
		{"whitespace only", "   ", " \t "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _, _ := testutil.NewTestServer()

			w := testutil.SendDownload(t, server, tt.productID, tt.licenseKey)

			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
			}
		})
	}
}

func TestDownload_InvalidKey(t *testing.T) {
	server, _, _ := testutil.NewTestServer()

	w := testutil.SendDownload(t, server, testutil.TestProductID, "key_unknown")

	if w.Code != http.StatusForbidden {
		t.Fatalf("Expected status %d, got %d", http.StatusForbidden, w.Code)
	}

	var response map[string]string
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["error"] != "Invalid or expired license key." {
		t.Errorf("Unexpected error message: %s", response["error"])
	}
}

func TestDownload_WrongProduct(t *testing.T) {
	server, store, _ := testutil.NewTestServer()
	testutil.CreateTestLicense(t, store, "key_valid", testutil.TestProductID)

	w := testutil.SendDownload(t, server, "prod_other", "key_valid")

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status %d, got %d", http.StatusForbidden, w.Code)
	}

	// Usage must not be consumed by a mismatched redemption
	license, _ := store.FindLicenseByKey(context.Background(), "key_valid")
	if license.UsageCount != 0 {
		t.Errorf("Expected usage count 0, got %d", license.UsageCount)
	}
}

func TestDownload_InactiveLicense(t *testing.T) {
	server, store, _ := testutil.NewTestServer()
	license := testutil.CreateTestLicense(t, store, "key_revoked", testutil.TestProductID)
	license.IsActive = false
	store.Licenses[license.Key] = *license

	w := testutil.SendDownload(t, server, testutil.TestProductID, "key_revoked")

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status %d, got %d", http.StatusForbidden, w.Code)
	}

	var response map[string]string
	_ = json.NewDecoder(w.Body).Decode(&response)
	if response["error"] != "Invalid or expired license key." {
		t.Errorf("Unexpected error message: %s", response["error"])
	}
}

func TestDownload_QuotaExhaustion(t *testing.T) {
	server, store, _ := testutil.NewTestServer()
	testutil.CreateTestLicense(t, store, "key_quota", testutil.TestProductID)

	for i := 1; i <= 3; i++ {
		w := testutil.SendDownload(t, server, testutil.TestProductID, "key_quota")
		if w.Code != http.StatusOK {
			t.Fatalf("Download %d: expected status %d, got %d", i, http.StatusOK, w.Code)
		}
	}

	w := testutil.SendDownload(t, server, testutil.TestProductID, "key_quota")
	if w.Code != http.StatusForbidden {
		t.Fatalf("Expected status %d on fourth download, got %d", http.StatusForbidden, w.Code)
	}

	var response map[string]string
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["error"] != "Download limit reached. Contact support to reset." {
		t.Errorf("Unexpected error message: %s", response["error"])
	}

	license, _ := store.FindLicenseByKey(context.Background(), "key_quota")
	if license.UsageCount != 3 {
		t.Errorf("Expected usage count to stay at 3, got %d", license.UsageCount)
	}
}

func TestDownload_ConcurrentRedemptions(t *testing.T) {
	server, store, _ := testutil.NewTestServer()
	testutil.CreateTestLicense(t, store, "key_race", testutil.TestProductID)

	const attempts = 12

	var wg sync.WaitGroup
	codes := make(chan int, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := testutil.SendDownload(t, server, testutil.TestProductID, "key_race")
			codes <- w.Code
		}()
	}

	wg.Wait()
	close(codes)

	successes, rejections := 0, 0
	for code := range codes {
		switch code {
		case http.StatusOK:
			successes++
		case http.StatusForbidden:
			rejections++
		default:
			t.Errorf("Unexpected status code %d", code)
		}
	}

	if successes != 3 {
		t.Errorf("Expected exactly 3 successes, got %d", successes)
	}
	if rejections != attempts-3 {
		t.Errorf("Expected %d rejections, got %d", attempts-3, rejections)
	}

	license, _ := store.FindLicenseByKey(context.Background(), "key_race")
	if license.UsageCount != 3 {
		t.Errorf("Expected final usage count 3, got %d", license.UsageCount)
	}
}

func TestDownload_ArtifactNotRegistered(t *testing.T) {
	server, store, _ := testutil.NewTestServer()
	// License exists for a product nobody registered an artifact for
	testutil.CreateTestLicense(t, store, "key_nofile", "prod_unmapped")

	w := testutil.SendDownload(t, server, "prod_unmapped", "key_nofile")

	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}

	var response map[string]string
	_ = json.NewDecoder(w.Body).Decode(&response)
	if response["error"] != "Product file not found." {
		t.Errorf("Unexpected error message: %s", response["error"])
	}
}

func TestDownload_StoreFailure(t *testing.T) {
	store := &testutil.FailingStorage{Storage: storage.NewMemoryStorage(), FailRedeem: true}
	server := handlers.NewHTTPServer(testutil.TestConfig(), store, &testutil.FakeMailer{}, testutil.TestArtifacts())

	w := testutil.SendDownload(t, server, testutil.TestProductID, "key_any")

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
}

func TestDownload_RateLimited(t *testing.T) {
	cfg := testutil.TestConfig()
	cfg.DownloadRateLimit = 2
	cfg.DownloadRateWindow = time.Minute

	store := storage.NewMemoryStorage()
	server := handlers.NewHTTPServer(cfg, store, &testutil.FakeMailer{}, testutil.TestArtifacts())
	testutil.CreateTestLicense(t, store, "key_limited", testutil.TestProductID)

	for i := 0; i < 2; i++ {
		w := testutil.SendDownload(t, server, testutil.TestProductID, "key_limited")
		if w.Code != http.StatusOK {
			t.Fatalf("Request %d: expected status %d, got %d", i+1, http.StatusOK, w.Code)
		}
	}

	w := testutil.SendDownload(t, server, testutil.TestProductID, "key_limited")
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status %d, got %d", http.StatusTooManyRequests, w.Code)
	}

	// The rate-limited attempt must not consume quota
	license, _ := store.FindLicenseByKey(context.Background(), "key_limited")
	if license.UsageCount != 2 {
		t.Errorf("Expected usage count 2, got %d", license.UsageCount)
	}
}
