package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/price"

	"armstrong.academy/cloud/internal/logger"
)

type CheckoutRequest struct {
	ProductID string `json:"productId"`
}

type CheckoutResponse struct {
	ClientSecret string `json:"clientSecret"`
}

// CreateCheckout starts an embedded-mode checkout session for a product.
// The product id rides along in the session metadata so the webhook knows
// which license to issue.
func (s *Server) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "productId required")
		return
	}

	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		writeErrorResponse(w, http.StatusBadRequest, "productId required")
		return
	}

	priceID, err := s.activePriceFor(productID)
	if err != nil {
		logger.Error("Failed to resolve price for product", map[string]interface{}{
			"error":      err.Error(),
			"product_id": productID,
		})
		writeErrorResponse(w, http.StatusNotFound, "No active price found for product")
		return
	}

	params := &stripe.CheckoutSessionParams{
		UIMode:    stripe.String(string(stripe.CheckoutSessionUIModeEmbedded)),
		Mode:      stripe.String(string(stripe.CheckoutSessionModePayment)),
		ReturnURL: stripe.String(s.Config.SiteURL + "/marketplace/success?session_id={CHECKOUT_SESSION_ID}"),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.AddMetadata("productId", productID)

	checkoutSession, err := session.New(params)
	if err != nil {
		logger.Error("Failed to create checkout session", map[string]interface{}{
			"error":      err.Error(),
			"product_id": productID,
		})
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to create checkout session")
		return
	}

	if checkoutSession.ClientSecret == "" {
		logger.Error("Checkout session has no client secret", map[string]interface{}{
			"session_id": checkoutSession.ID,
			"product_id": productID,
		})
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to create checkout session")
		return
	}

	logger.Info("Checkout session created", map[string]interface{}{
		"session_id": checkoutSession.ID,
		"product_id": productID,
	})

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(CheckoutResponse{ClientSecret: checkoutSession.ClientSecret}); err != nil {
		logger.Error("Failed to encode checkout response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (s *Server) activePriceFor(productID string) (string, error) {
	params := &stripe.PriceListParams{
		Product: stripe.String(productID),
		Active:  stripe.Bool(true),
	}
	params.Limit = stripe.Int64(1)

	iter := price.List(params)
	for iter.Next() {
		return iter.Price().ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", err
	}

	return "", fmt.Errorf("no active price found for product: %s", productID)
}
