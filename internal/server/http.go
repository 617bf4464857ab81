package server

import (
	"DefiHub/internal/engine"
	"DefiHub/internal/observability"
	"DefiHub/internal/query"
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// HTTPServer serves the JSON API: live reads and writes go to the engine,
// historical reads go to the Postgres projections via the query service.
type HTTPServer struct {
	server *http.Server
	log    zerolog.Logger
}

// Deps holds everything the HTTP handlers need.
type Deps struct {
	Engine        *engine.Engine
	Query         *query.Service // nil disables the history endpoints
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Log           zerolog.Logger
}

func NewHTTPServer(addr string, deps Deps) *HTTPServer {
	return &HTTPServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           Handler(deps),
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: deps.Log.With().Str("component", "http").Logger(),
	}
}

// Handler builds the chi router. Split out so tests can drive it with
// httptest without binding a listener.
func Handler(deps Deps) http.Handler {
	h := &handlers{
		engine:  deps.Engine,
		query:   deps.Query,
		metrics: deps.Metrics,
		log:     deps.Log.With().Str("component", "http").Logger(),
	}

	r := chi.NewRouter()
	r.Use(h.instrument)

	if deps.HealthChecker != nil {
		r.Get("/healthz", deps.HealthChecker.LivenessHandler)
		r.Get("/readyz", deps.HealthChecker.ReadinessHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/assets", h.listAssets)
		r.Get("/prices/{symbol}", h.getPrice)
		r.Get("/positions/{account}", h.getPosition)
		r.Get("/positions/{account}/health", h.getHealth)
		r.Get("/staking/{asset}", h.getStakingPool)

		if deps.Query != nil {
			r.Get("/events", h.listEvents)
			r.Get("/risky", h.listRisky)
		}

		r.Post("/supply", h.supply)
		r.Post("/borrow", h.borrow)
		r.Post("/repay", h.repay)
		r.Post("/withdraw", h.withdraw)
		r.Post("/swap", h.swap)
		r.Post("/stake", h.stake)
		r.Post("/unstake", h.unstake)
		r.Post("/claim", h.claim)
		r.Post("/liquidate", h.liquidate)
		r.Post("/protect", h.protect)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/assets", h.addAsset)
			r.Delete("/assets/{symbol}", h.removeAsset)
			r.Post("/exchange-rate", h.updateExchangeRate)
			r.Post("/reward-rate", h.updateRewardRate)
			r.Post("/protection", h.setProtection)
			r.Post("/emergency-withdraw", h.emergencyWithdraw)
		})
	})

	return r
}

// Start blocks serving until Shutdown is called or the listener fails.
func (s *HTTPServer) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("http server listening")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.server.Shutdown(ctx)
}
