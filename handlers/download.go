package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"armstrong.academy/cloud/internal/artifacts"
	"armstrong.academy/cloud/internal/logger"
)

type DownloadRequest struct {
	ProductID  string `json:"productId"`
	LicenseKey string `json:"licenseKey"`
}

// Download redeems a license and streams the product artifact. The quota
// check and the usage increment are one conditional update in the store, so
// concurrent redemptions can never overshoot max_uses.
func (s *Server) Download(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !s.Limiter.Allow(clientAddr(r)) {
		writeErrorResponse(w, http.StatusTooManyRequests, "Too many requests")
		return
	}

	var req DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "productId and licenseKey required")
		return
	}

	productID := strings.TrimSpace(req.ProductID)
	licenseKey := strings.TrimSpace(req.LicenseKey)
	if productID == "" || licenseKey == "" {
		writeErrorResponse(w, http.StatusBadRequest, "productId and licenseKey required")
		return
	}

	redemption, err := s.Storage.RedeemLicense(ctx, licenseKey, productID)
	if err != nil {
		logger.Error("License redemption failed", map[string]interface{}{
			"error":       err.Error(),
			"product_id":  productID,
			"license_key": licenseKey,
		})
		writeErrorResponse(w, http.StatusInternalServerError, "Server error")
		return
	}

	if redemption == nil {
		s.rejectRedemption(w, r, licenseKey)
		return
	}

	logger.Info("Download authorized", map[string]interface{}{
		"product_id":  productID,
		"email":       redemption.Email,
		"usage_count": redemption.UsageCount,
		"max_uses":    redemption.MaxUses,
	})

	data, filename, err := s.Artifacts.Fetch(productID)
	if err != nil {
		// The use is already consumed at this point; an unmapped product
		// is a deployment gap to fix, not something to roll back.
		if errors.Is(err, artifacts.ErrNotRegistered) {
			logger.Error("No artifact registered for purchased product", map[string]interface{}{
				"product_id": productID,
			})
			writeErrorResponse(w, http.StatusNotFound, "Product file not found.")
			return
		}
		logger.Error("Failed to read artifact", map[string]interface{}{
			"error":      err.Error(),
			"product_id": productID,
		})
		writeErrorResponse(w, http.StatusInternalServerError, "File system error.")
		return
	}

	s.Metrics.DownloadsServed.Inc()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	w.Header().Set("X-Downloads-Left", strconv.Itoa(redemption.Remaining()))
	if _, err := w.Write(data); err != nil {
		logger.Error("Failed to stream artifact", map[string]interface{}{
			"error":      err.Error(),
			"product_id": productID,
		})
	}
}

// rejectRedemption picks the 403 message. The follow-up read is advisory
// only: it can race with another redemption, so it informs the message but
// never grants access.
func (s *Server) rejectRedemption(w http.ResponseWriter, r *http.Request, licenseKey string) {
	license, err := s.Storage.FindLicenseByKey(r.Context(), licenseKey)
	if err == nil && license != nil && license.Exhausted() {
		writeErrorResponse(w, http.StatusForbidden, "Download limit reached. Contact support to reset.")
		return
	}

	writeErrorResponse(w, http.StatusForbidden, "Invalid or expired license key.")
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
