package accounts_http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"ledger/internal/app/ledger"
	"ledger/internal/reconcile"
)

type RouterConfig struct {
	RequestTimeout time.Duration
	// AllowedOrigins enables CORS for the listed origins. Empty disables it.
	AllowedOrigins []string
}

// NewRouter builds the service router with the standard middleware stack.
func NewRouter(s ledger.LedgerService, sweeper reconcile.Runner, cfg RouterConfig, l *zap.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}
	RegisterRoutes(r, s, sweeper, l)
	return r
}

func RegisterRoutes(r chi.Router, s ledger.LedgerService, sweeper reconcile.Runner, l *zap.Logger) {
	handler := NewAccountHandler(s, sweeper, l.With(zap.String("component", "AccountHTTPHandler")))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Ledger service is healthy!"))
	})

	r.Route("/account", func(r chi.Router) {
		r.Get("/", handler.ListAccountsHandler)
		r.Get("/{id}/status", handler.GetAccountStatusHandler)
		r.Post("/{id}/add", handler.DepositHandler)
		r.Post("/{id}/subtract", handler.ReserveHandler)
	})

	r.Post("/reconciliation/run", handler.RunReconciliationHandler)
}
