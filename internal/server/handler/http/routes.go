package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/atinyakov/GophStego/internal/middleware"
)

// RouterOptions tune NewRouter.
type RouterOptions struct {
	// RequireClientCert protects the history endpoint with TLS client
	// certificates. Leave it off when serving plain HTTP.
	RequireClientCert bool
}

// NewRouter constructs and returns an HTTP handler that serves the
// steganography API under /api.
//
// Routes:
//
//	POST /api/embed     → stegoHandler.Embed (multipart, returns the carrier)
//	POST /api/extract   → stegoHandler.Extract
//	POST /api/peek      → stegoHandler.Peek
//	POST /api/capacity  → stegoHandler.Capacity
//	POST /api/detect    → stegoHandler.Detect
//	POST /api/keys      → stegoHandler.GenerateKey
//	GET  /api/history   → historyHandler.List (client certificate when required)
//
// Middleware chain (applied in order):
//  1. RequestID and Recoverer
//  2. WithRequestLogging(logger)
//  3. ClientIdentity, which records the certificate CN as the actor
func NewRouter(
	stegoHandler *StegoHandler,
	historyHandler *HistoryHandler,
	logger *zap.Logger,
	opts RouterOptions,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	// Log each request and its metadata
	r.Use(middleware.WithRequestLogging(logger))
	r.Use(middleware.ClientIdentity)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.AllowContentType("multipart/form-data"))
			r.Post("/embed", stegoHandler.Embed)
			r.Post("/extract", stegoHandler.Extract)
			r.Post("/peek", stegoHandler.Peek)
			r.Post("/capacity", stegoHandler.Capacity)
			r.Post("/detect", stegoHandler.Detect)
		})
		r.Post("/keys", stegoHandler.GenerateKey)

		r.Group(func(r chi.Router) {
			if opts.RequireClientCert {
				r.Use(middleware.RequireClientCert)
			}
			r.Get("/history", historyHandler.List)
		})
	})

	return r
}
