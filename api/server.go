/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

AUTHORIZATION:
  /api/admin/* requires a valid session token with admin tier. Everything
  else is open; the OTP flow gates account creation and login instead.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/rythmn1111/coupon-collector/auth"
	"github.com/rythmn1111/coupon-collector/ledger"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Auth routes
		r.Route("/auth", func(r chi.Router) {
			r.Post("/request_otp", h.RequestOTP)
			r.Post("/verify_otp", h.VerifyOTP)
		})

		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Post("/", h.CreateAccount)
			r.Get("/check", h.CheckAccount)
			r.Get("/{id}", h.GetAccount)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/transfers", h.GetAccountTransfers)
		})

		// Product routes
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Post("/", h.CreateProduct)
		})

		// Transfer routes
		r.Route("/transfers", func(r chi.Router) {
			r.Post("/", h.SubmitTransfer)
			r.Get("/", h.ListTransfers)
			r.Get("/{id}", h.GetTransfer)
		})

		// Admin routes (admin tier only)
		r.Route("/admin", func(r chi.Router) {
			r.Use(h.RequireTier(ledger.TierAdmin))
			r.Post("/injections", h.SubmitInjection)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

type contextKey string

// ClaimsKey is the request context key holding the session claims.
const ClaimsKey contextKey = "claims"

// RequireTier validates the bearer token and checks the account's tier.
func (h *Handler) RequireTier(tier ledger.Tier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeError(w, http.StatusUnauthorized, "Missing bearer token", nil)
				return
			}

			claims, err := auth.ValidateToken(h.JWTSecret, token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid session token", nil)
				return
			}
			if claims.Tier != tier {
				writeError(w, http.StatusForbidden, "Operation requires "+string(tier)+" tier", nil)
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
