/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:   Unique ID per request for tracing
  2. Logger:      Structured request logging (logrus) + HTTP metrics
  3. Recoverer:   Panic recovery (500 instead of crash)
  4. CORS:        Cross-origin requests for frontend
  5. Authenticate (/api only): bearer token -> ledger.Actor
  6. Throttle     (/api writes only): per-actor rate limit, 429 + Retry-After

ROUTE GROUPS:
  /healthz              Liveness
  /metrics              Prometheus scrape endpoint
  /api/users/*          Accounts, redemptions, transfers
  /api/transactions/*   Purchases, adjustments, flags
  /api/events/*         Events, membership, awards
  /api/promotions/*     Promotion catalog

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Authenticate middleware
  - throttle/: rate limiter backends
  - cmd/server/main.go: Server startup
*/
package api

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/warp/loyalty-engine/metrics"
	"github.com/warp/loyalty-engine/throttle"
)

// Options configures the router.
type Options struct {
	JWTSecret      string
	AllowedOrigins []string

	// Throttle limits write requests per actor. Nil disables throttling.
	Throttle throttle.Throttle
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts Options) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(h.Authenticate(opts.JWTSecret))
		if opts.Throttle != nil {
			r.Use(throttleWrites(opts.Throttle, h.Log))
		}

		r.Route("/users", func(r chi.Router) {
			r.Post("/", h.Register)
			r.Get("/me", h.Me)
			r.Get("/me/transactions", h.MyTransactions)
			r.Post("/me/transactions", h.RequestRedemption)
			r.Get("/{id}", h.GetUser)
			r.Patch("/{id}", h.UpdateUser)
			r.Get("/{id}/audit", h.AuditUser)
			r.Post("/{id}/transactions", h.Transfer)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Post("/", h.CreateTransaction)
			r.Get("/{id}", h.GetTransaction)
			r.Patch("/{id}/suspicious", h.SetSuspicious)
			r.Patch("/{id}/processed", h.ProcessRedemption)
		})

		r.Route("/events", func(r chi.Router) {
			r.Post("/", h.CreateEvent)
			r.Get("/{id}", h.GetEvent)
			r.Patch("/{id}", h.UpdateEvent)
			r.Delete("/{id}", h.DeleteEvent)
			r.Post("/{id}/organizers", h.AddOrganizer)
			r.Delete("/{id}/organizers/{userId}", h.RemoveOrganizer)
			r.Post("/{id}/guests", h.AddGuest)
			r.Post("/{id}/guests/me", h.JoinEvent)
			r.Delete("/{id}/guests/me", h.LeaveEvent)
			r.Post("/{id}/transactions", h.AwardEvent)
		})

		r.Get("/analytics", h.Analytics)

		r.Route("/promotions", func(r chi.Router) {
			r.Post("/", h.CreatePromotion)
			r.Get("/", h.ListPromotions)
			r.Get("/{id}", h.GetPromotion)
			r.Patch("/{id}", h.UpdatePromotion)
			r.Delete("/{id}", h.DeletePromotion)
		})
	})

	return r
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

// requestLogger logs each request and records its duration by route pattern.
func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			latency := time.Since(start)
			metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(status), latency.Seconds())

			log.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     status,
				"latency_ms": latency.Milliseconds(),
				"request_id": middleware.GetReqID(r.Context()),
			}).Info("HTTP request")
		})
	}
}

// throttleWrites rate limits POST, PATCH and DELETE per authenticated actor.
// A failing backend lets the request through.
func throttleWrites(t throttle.Throttle, log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodOptions || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			key := fmt.Sprintf("user:%d", actor(r).ID)
			d, err := t.Allow(r.Context(), key)
			if err != nil {
				log.WithError(err).WithField("key", key).Warn("throttle unavailable")
				next.ServeHTTP(w, r)
				return
			}
			if !d.Allowed {
				metrics.RecordThrottled()
				secs := int(math.Ceil(d.RetryAfter.Seconds()))
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				writeError(w, http.StatusTooManyRequests, "Too Many Requests", fmt.Errorf("retry after %ds", secs))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
