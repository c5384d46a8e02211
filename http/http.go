package http

import (
	"net/http"

	"marketplace-settlement/http/handlers"
	"marketplace-settlement/http/middleware"
	"marketplace-settlement/logger"
	"marketplace-settlement/metrics"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Routes holds the handlers mounted by NewRouter. Nil handlers leave their
// routes unmounted.
type Routes struct {
	JWTSecret string
	Log       *logger.Logger

	Health         http.HandlerFunc
	Payments       *handlers.PaymentHandler
	Reconciliation *handlers.ReconciliationHandler
	Reminders      *handlers.ReminderHandler
	Imports        *handlers.ImportHandler
	Webhooks       *handlers.WebhookHandler
	DLQ            *handlers.DLQHandler
}

// NewRouter configures all HTTP routes and middleware
func NewRouter(rt Routes) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Tracing)
	r.Use(middleware.Metrics)
	r.Use(middleware.Logger(rt.Log))
	r.Use(middleware.EnableCORS)

	if rt.Health != nil {
		r.Get("/health", rt.Health)
	}
	r.Handle("/metrics", metrics.Handler())

	// signed by Razorpay, not by our tokens
	if rt.Webhooks != nil {
		r.Post("/webhooks/razorpay", rt.Webhooks.Razorpay)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(rt.JWTSecret))

		r.Route("/payments", func(r chi.Router) {
			if p := rt.Payments; p != nil {
				r.With(middleware.RequireAdmin).Post("/settle", p.Settle)
				r.Get("/{id}/authority", p.Authority)
				r.Post("/{id}/approve", p.Approve)
				r.Post("/{id}/disapprove", p.Disapprove)
				r.With(middleware.RequireAdmin).Post("/{id}/refund", p.Refund)
			}
			if rt.Reminders != nil {
				r.Get("/{id}/reminders", rt.Reminders.History)
			}
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin)

			if h := rt.Reconciliation; h != nil {
				r.Get("/reconciliation", h.Report)
				r.Get("/reconciliation/export", h.Export)
				r.Post("/reconciliation/heal", h.Heal)
				r.Get("/bookings/{id}/check", h.CheckBooking)
			}
			if rt.Reminders != nil {
				r.Post("/reminders/run", rt.Reminders.Run)
			}
			if rt.Imports != nil {
				r.Post("/outcomes/import", rt.Imports.Outcomes)
			}
			if h := rt.DLQ; h != nil {
				r.Get("/dlq/messages", h.GetDLQMessages)
				r.Post("/dlq/messages/{id}/retry", h.RetryDLQMessage)
				r.Post("/dlq/messages/{id}/resolve", h.ResolveDLQMessage)
				r.Get("/dlq/stats", h.GetDLQStats)
			}
		})
	})

	return r
}
