package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/atomic"

	"armstrong.academy/cloud/internal/artifacts"
	"armstrong.academy/cloud/internal/config"
	"armstrong.academy/cloud/internal/email"
	"armstrong.academy/cloud/internal/ratelimit"
	"armstrong.academy/cloud/storage"
)

// Metrics are process-local counters surfaced on the health endpoint.
type Metrics struct {
	LicensesIssued  atomic.Int64
	DownloadsServed atomic.Int64
}

type Server struct {
	Mux       chi.Router
	Storage   storage.Storage
	Mailer    email.Sender
	Artifacts *artifacts.Registry
	Limiter   ratelimit.RateLimit
	Config    *config.Config
	Metrics   *Metrics
	Version   string
}

func NewHTTPServer(cfg *config.Config, store storage.Storage, mailer email.Sender, registry *artifacts.Registry) *Server {
	s := &Server{
		Storage:   store,
		Mailer:    mailer,
		Artifacts: registry,
		Limiter:   ratelimit.New(cfg.DownloadRateLimit, cfg.DownloadRateWindow),
		Config:    cfg,
		Metrics:   &Metrics{},
		Version:   "dev",
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Stripe-Signature"},
	}))

	r.Get("/health", s.Health)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/registry", s.RegistryHint)
		r.Post("/registry/download", s.Download)
		r.Post("/checkout", s.CreateCheckout)
		r.Post("/webhooks/stripe", s.Stripe)
	})

	s.Mux = r
	return s
}

type HealthResponse struct {
	Status          string    `json:"status"`
	Version         string    `json:"version"`
	Timestamp       time.Time `json:"timestamp"`
	LicensesIssued  int64     `json:"licenses_issued"`
	DownloadsServed int64     `json:"downloads_served"`
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:          "healthy",
		Version:         s.Version,
		Timestamp:       time.Now(),
		LicensesIssued:  s.Metrics.LicensesIssued.Load(),
		DownloadsServed: s.Metrics.DownloadsServed.Load(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// RegistryHint points CLI users at the download endpoint.
func (s *Server) RegistryHint(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"message": "Use POST /api/v1/registry/download with productId and licenseKey",
	})
}

func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
