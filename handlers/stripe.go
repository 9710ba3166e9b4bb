package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"armstrong.academy/cloud/internal/email"
	"armstrong.academy/cloud/internal/logger"
	"armstrong.academy/cloud/models"
)

func (s *Server) Stripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	logger.Info("Stripe webhook received", map[string]interface{}{
		"remote_addr": r.RemoteAddr,
		"user_agent":  r.Header.Get("User-Agent"),
	})

	const MaxBodyBytes = int64(65536)
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Error("Failed to read webhook payload", map[string]interface{}{
			"error": err.Error(),
		})
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	// Signature verification comes before anything else; an unverifiable
	// body must have zero side effects.
	signatureHeader := r.Header.Get("Stripe-Signature")
	event, err := webhook.ConstructEvent(payload, signatureHeader, s.Config.StripeWebhookSecret)
	if err != nil {
		logger.Error("Webhook signature verification failed", map[string]interface{}{
			"error": err.Error(),
		})
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	logger.Info("Stripe event verified", map[string]interface{}{
		"event_type": event.Type,
		"event_id":   event.ID,
	})

	switch event.Type {
	case "checkout.session.completed":
		var checkoutSession stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &checkoutSession); err != nil {
			logger.Error("Failed to unmarshal checkout session", map[string]interface{}{
				"error":    err.Error(),
				"event_id": event.ID,
			})
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if err := s.handleCheckoutComplete(ctx, &checkoutSession); err != nil {
			logger.Error("Failed to handle checkout completion", map[string]interface{}{
				"error":      err.Error(),
				"session_id": checkoutSession.ID,
			})
			// 500 makes Stripe retry delivery; the session-id dedupe
			// keeps the retry from double-issuing.
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	default:
		logger.Info("Ignoring webhook event type", map[string]interface{}{
			"event_type": event.Type,
			"event_id":   event.ID,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]bool{"received": true}); err != nil {
		logger.Error("Failed to encode webhook response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (s *Server) handleCheckoutComplete(ctx context.Context, session *stripe.CheckoutSession) error {
	var customerEmail string
	if session.CustomerDetails != nil {
		customerEmail = session.CustomerDetails.Email
	} else {
		customerEmail = session.CustomerEmail
	}

	productID := session.Metadata["productId"]

	logger.Info("Processing checkout session", map[string]interface{}{
		"session_id":     session.ID,
		"customer_email": customerEmail,
		"product_id":     productID,
		"amount":         session.AmountTotal,
		"currency":       session.Currency,
		"payment_status": session.PaymentStatus,
	})

	// A session without a product or an email can never carry a license.
	// Acknowledge it anyway so Stripe stops redelivering.
	if productID == "" || customerEmail == "" {
		logger.Warn("Checkout session missing license metadata, skipping", map[string]interface{}{
			"session_id":     session.ID,
			"has_product_id": productID != "",
			"has_email":      customerEmail != "",
		})
		return nil
	}

	existing, err := s.Storage.FindLicenseBySessionID(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("failed to check for existing license: %w", err)
	}
	if existing != nil {
		logger.Info("License already issued for session, acknowledging replay", map[string]interface{}{
			"session_id":  session.ID,
			"license_key": existing.Key,
		})
		return nil
	}

	license := newLicense(session.ID, productID, customerEmail, s.Config.MaxDownloads)

	// The row has to exist before the email goes out. If the send fails
	// Stripe retries, the dedupe above acknowledges, and the key is still
	// on record for support to resend.
	if err := s.Storage.SaveLicense(ctx, license); err != nil {
		return fmt.Errorf("failed to save license: %w", err)
	}

	s.Metrics.LicensesIssued.Inc()

	logger.Info("License issued", map[string]interface{}{
		"license_key": license.Key,
		"product_id":  license.ProductID,
		"email":       license.Email,
		"session_id":  session.ID,
	})

	subject, body := email.LicenseEmail(license.Key, license.ProductID)
	if err := s.Mailer.Send(customerEmail, subject, body); err != nil {
		logger.Error("Failed to send license email", map[string]interface{}{
			"error":       err.Error(),
			"email":       customerEmail,
			"license_key": license.Key,
			"product_id":  license.ProductID,
			"session_id":  session.ID,
		})
		return fmt.Errorf("failed to send license email: %w", err)
	}

	logger.Info("License email sent", map[string]interface{}{
		"email":      customerEmail,
		"session_id": session.ID,
	})

	return nil
}

func newLicense(sessionID, productID, customerEmail string, maxUses int) *models.License {
	if maxUses < 1 {
		maxUses = models.DefaultMaxUses
	}

	return &models.License{
		Key:             generateLicenseKey(),
		ProductID:       productID,
		Email:           customerEmail,
		StripeSessionID: sessionID,
		UsageCount:      0,
		MaxUses:         maxUses,
		IsActive:        true,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
}

// generateLicenseKey returns an unguessable key. uuid.NewRandom draws from
// crypto/rand, so keys cannot be predicted from earlier ones.
func generateLicenseKey() string {
	return fmt.Sprintf("key_%s", uuid.Must(uuid.NewRandom()).String())
}
