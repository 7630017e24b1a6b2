// Package httpapi exposes the certificate services over HTTP.
package httpapi

import (
	"context"
	_ "embed"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-openapi/runtime/middleware"

	"github.com/dmitrijs2005/certkeeper/internal/logging"
	"github.com/dmitrijs2005/certkeeper/internal/server/i18n"
	"github.com/dmitrijs2005/certkeeper/internal/server/ratelimit"
	"github.com/dmitrijs2005/certkeeper/internal/server/services"
)

//go:embed openapi.yaml
var openapiSpec []byte

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Pinger reports storage health.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Services groups the operations served by the API.
type Services struct {
	Issuance     *services.IssuanceService
	Verification *services.VerificationService
	Revocation   *services.RevocationService
	Reissuance   *services.ReissuanceService
	Files        *services.FilesService
}

// API holds handler dependencies.
type API struct {
	svc        Services
	translator *i18n.Translator
	limiter    ratelimit.Limiter
	health     Pinger
	secret     []byte
	log        logging.Logger
}

// Options configure optional collaborators.
type Options struct {
	// Limiter throttles public verification; nil disables limiting.
	Limiter ratelimit.Limiter
	// Health is pinged by /healthz; nil reports healthy.
	Health Pinger
}

// New creates an API. secretKey verifies admin bearer tokens.
func New(svc Services, translator *i18n.Translator, secretKey string, log logging.Logger, opts Options) *API {
	return &API{
		svc:        svc,
		translator: translator,
		limiter:    opts.Limiter,
		health:     opts.Health,
		secret:     []byte(secretKey),
		log:        log.With("module", "http_api"),
	}
}

// Router returns the HTTP handler with all routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(a.tracing)
	r.Use(a.requestLogger)
	r.Use(a.recoverer)
	r.Use(a.locale)

	r.Get("/healthz", a.Healthz)
	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(openapiSpec)
	})
	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/openapi.yaml",
		Path:    "docs",
	}, nil))

	r.Route("/certificates", func(r chi.Router) {
		r.With(a.rateLimit).Get("/verify/{certificateID}", a.Verify)

		r.Group(func(r chi.Router) {
			r.Use(a.authenticate)
			r.Post("/issue", a.IssueFromSignup)
			r.Post("/issue-manual", a.IssueManual)
			r.Get("/{certificateID}", a.GetCertificate)
			r.Get("/{certificateID}/audit", a.AuditTrail)
			r.Post("/{certificateID}/revoke", a.Revoke)
			r.Post("/{certificateID}/reissue", a.Reissue)
			r.Patch("/{certificateID}/update-files", a.UpdateFiles)
			r.Post("/{certificateID}/regenerate", a.Regenerate)
		})
	})

	return r
}

// Healthz pings storage.
func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	if a.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.health.PingContext(ctx); err != nil {
			a.log.Warn(ctx, "health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
