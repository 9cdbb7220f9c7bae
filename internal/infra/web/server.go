package web

import (
	"context"
	"net/http"
	"strings"
	"time"

	"membership-engine/internal/domain/model"
	"membership-engine/internal/infra/metrics"
	"membership-engine/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// SubscriptionService is the slice of the engine the operational API exposes.
// Implemented by usecase.SubscriptionService.
type SubscriptionService interface {
	Subscribe(ctx context.Context, req usecase.SubscribeRequest) (*model.Entitlement, *usecase.InsertResult, error)
	CancelPending(ctx context.Context, userID, id, reason string) error
	ExpireEntitlement(ctx context.Context, userID, id string) (bool, error)
	ProcessAutoRenewal(ctx context.Context, contractID string) (*usecase.RenewalResult, error)
	GetChain(ctx context.Context, userID string) (*usecase.Chain, error)
	RunHealthCheck(ctx context.Context, userID string, repair bool) (*usecase.HealthReport, *usecase.RepairResult, error)
	CountByStatus(ctx context.Context) (map[model.EntitlementStatus]int, error)
	CountActiveByLevel(ctx context.Context) (map[string]int, error)
	TotalPointsOutstanding(ctx context.Context) (int64, error)
}

// Server is the operational HTTP surface: purchase and lifecycle entry points
// for upstream order systems, plus chain inspection and repair for operators.
type Server struct {
	svc    SubscriptionService
	apiKey string
	log    *zerolog.Logger
	srv    *http.Server
}

func NewServer(svc SubscriptionService, apiKey string, logger *zerolog.Logger) *Server {
	webLog := logger.With().Str("component", "OpsServer").Logger()
	return &Server{
		svc:    svc,
		apiKey: apiKey,
		log:    &webLog,
	}
}

// Router builds the full route tree. Health and metrics are unauthenticated;
// everything under /api/v1 requires the bearer key.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/subscriptions", s.handleSubscribe)
		r.Post("/contracts/{contractID}/renew", s.handleRenew)
		r.Get("/stats", s.handleStats)
		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/chain", s.handleGetChain)
			r.Get("/chain/health", s.handleChainHealth)
			r.Post("/chain/repair", s.handleChainRepair)
			r.Post("/entitlements/{id}/cancel", s.handleCancel)
			r.Post("/entitlements/{id}/expire", s.handleExpire)
		})
	})
	return r
}

func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	s.log.Info().Str("addr", addr).Msg("Starting ops server")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// authMiddleware provides simple Bearer token authentication for the ops API.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			s.log.Error().Msg("Ops API key is not configured")
			metrics.IncOpsRequest(r.URL.Path, "unauthorized")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			metrics.IncOpsRequest(r.URL.Path, "unauthorized")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || strings.ToLower(tokenParts[0]) != "bearer" {
			metrics.IncOpsRequest(r.URL.Path, "unauthorized")
			http.Error(w, "Unauthorized: Malformed token", http.StatusUnauthorized)
			return
		}

		if tokenParts[1] != s.apiKey {
			metrics.IncOpsRequest(r.URL.Path, "unauthorized")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
