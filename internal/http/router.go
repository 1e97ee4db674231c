package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/venue-bookings/internal/availability"
	"github.com/robertarktes/venue-bookings/internal/booking"
	"github.com/robertarktes/venue-bookings/internal/domain"
	"github.com/robertarktes/venue-bookings/internal/idempotency"
	"github.com/robertarktes/venue-bookings/internal/observability"
	"github.com/robertarktes/venue-bookings/internal/payment"
	"github.com/robertarktes/venue-bookings/internal/rateLimit"
	"github.com/robertarktes/venue-bookings/internal/report"
)

// Catalog is the read side of the place listings.
type Catalog interface {
	domain.PlaceReader
	ListPlaces(ctx context.Context, ids []int64) ([]domain.Place, error)
}

// AuditHistory reads back the append-only payment audit log.
type AuditHistory interface {
	History(ctx context.Context, bookingID int64) ([]domain.PaymentEvent, error)
}

type Handlers struct {
	bookings     *booking.Service
	payments     *payment.Service
	click        *payment.Handler
	engine       *availability.Engine
	catalog      Catalog
	audit        AuditHistory
	transactions report.TransactionLister
	logger       observability.Logger
}

func NewHandlers(bookings *booking.Service, payments *payment.Service, click *payment.Handler, engine *availability.Engine, catalog Catalog, audit AuditHistory, transactions report.TransactionLister, logger observability.Logger) *Handlers {
	return &Handlers{
		bookings:     bookings,
		payments:     payments,
		click:        click,
		engine:       engine,
		catalog:      catalog,
		audit:        audit,
		transactions: transactions,
		logger:       logger,
	}
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// SetupRouter mounts the API. rl and idemp are optional.
func SetupRouter(h *Handlers, logger observability.Logger, verifier Verifier, rl *rateLimit.RateLimiter, idemp *idempotency.Idempotency) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		// Gateway webhooks authenticate by signature and always answer 200, so they
		// stay outside the rate limits.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Post("/payment/click/prepare", h.ClickPrepare)
			r.Post("/payment/click/complete", h.ClickComplete)
		})

		r.Group(func(r chi.Router) {
			if rl != nil {
				r.Use(rl.Middleware(rateLimit.ByIP))
			}
			r.Use(JWTMiddleware(verifier, logger))
			if rl != nil {
				r.Use(rl.Middleware(UserKey))
			}

			r.Post("/bookings", h.CreateBooking)
			r.Get("/bookings/{id}", h.GetBooking)
			r.Put("/bookings/{id}", h.UpdateBooking)
			r.Get("/bookings/{id}/competing", h.CompetingBookings)
			r.Post("/bookings/{id}/paid-to-host", h.PaidToHost)
			r.Post("/bookings/{id}/check-payment-smart", h.CheckPaymentSmart)
			r.Get("/bookings/{id}/payment-events", h.PaymentEvents)

			r.Group(func(r chi.Router) {
				if idemp != nil {
					r.Use(idemp.Middleware(UserKey, logger))
				}
				r.Post("/payment/create-invoice", h.CreateInvoice)
			})
			r.Get("/payment/status/{bookingId}", h.PaymentStatus)

			r.Post("/places/availability", h.FilterAvailable)
			r.Post("/places/{id}/availability", h.PlaceAvailability)

			r.Get("/agent/transactions/export", h.ExportTransactions)
		})
	})

	return r
}
