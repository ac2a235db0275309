// Package server exposes the strategy engine over HTTP: read-only views of
// strategies and gardens, authenticated lifecycle calls and a websocket
// stream of committed events.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	strategyerrors "gardenchain/core/errors"
	"gardenchain/observability"
	"gardenchain/services/strategyd/audit"
	"gardenchain/services/strategyd/node"
	"gardenchain/state/bank"
)

const moduleName = "strategyd"

// Config captures the dependencies required to construct the server.
type Config struct {
	Node      *node.Node
	Audit     *audit.Store
	Auth      AuthConfig
	RateLimit RateLimit
	Logger    *slog.Logger
}

// Server serves the strategyd API.
type Server struct {
	node    *node.Node
	audit   *audit.Store
	auth    *authenticator
	limiter *rateLimiter
	logger  *slog.Logger
	router  http.Handler
}

// New constructs the HTTP router.
func New(cfg Config) (*Server, error) {
	if cfg.Node == nil {
		return nil, errors.New("server: node required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		node:    cfg.Node,
		audit:   cfg.Audit,
		auth:    newAuthenticator(cfg.Auth, logger),
		limiter: newRateLimiter(cfg.RateLimit),
		logger:  logger,
	}
	s.router = s.buildRouter()
	return s, nil
}

// Handler exposes the router wrapped in request tracing.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, moduleName)
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)
	r.Use(s.limiter.middleware)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Get("/events", s.handleEvents)

		api.Get("/strategies", s.handleListStrategies)
		api.Get("/strategies/{address}", s.handleGetStrategy)
		api.Get("/strategies/{address}/nav", s.handleGetNAV)
		api.Get("/strategies/{address}/votes/{voter}", s.handleGetVotes)
		api.Get("/strategies/{address}/trades", s.handleGetTrades)
		api.Get("/strategies/{address}/history", s.handleGetHistory)
		api.Get("/gardens", s.handleListGardens)
		api.Get("/gardens/{address}", s.handleGetGarden)
		api.Get("/gardens/{address}/accounts/{account}", s.handleGetAccount)

		api.Group(func(authed chi.Router) {
			authed.Use(s.auth.middleware())
			authed.Post("/strategies", s.handlePropose)
			authed.Post("/strategies/{address}/unwind", s.handleUnwind)
			authed.Post("/strategies/{address}/expire", s.handleExpire)
			authed.Post("/gardens/{address}/deposit", s.handleDeposit)
			authed.Post("/gardens/{address}/withdraw", s.handleWithdraw)
			authed.Post("/gardens/{address}/claim", s.handleClaim)
		})
		api.Group(func(keeper chi.Router) {
			keeper.Use(s.auth.middleware(s.auth.cfg.KeeperScope))
			keeper.Post("/strategies/{address}/resolve", s.handleResolve)
			keeper.Post("/strategies/{address}/execute", s.handleExecute)
			keeper.Post("/strategies/{address}/finalize", s.handleFinalize)
		})
		api.Group(func(admin chi.Router) {
			admin.Use(s.auth.middleware(s.auth.cfg.AdminScope))
			admin.Post("/admin/mint", s.handleMint)
			admin.Post("/admin/prices", s.handleSetPrice)
			admin.Post("/admin/pauses", s.handleSetPause)
		})
	})
	return r
}

// observe records request latency and outcome against the route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		observability.API().Observe(r.Method+" "+route, status, elapsed)
		s.logger.Info("request served",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "height": s.node.Host.Height()})
}

type errorResponse struct {
	Error string `json:"error"`
	Class string `json:"class,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeError maps engine failures onto HTTP statuses by error class.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	class := strategyerrors.Classify(err)
	status := statusFor(err, class)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err, "class", class.String())
	}
	resp := errorResponse{Error: err.Error()}
	if class != strategyerrors.ClassUnknown {
		resp.Class = class.String()
	}
	writeJSON(w, status, resp)
}

func statusFor(err error, class strategyerrors.Class) int {
	switch {
	case errors.Is(err, strategyerrors.ErrStrategyNotFound), errors.Is(err, node.ErrUnknownGarden):
		return http.StatusNotFound
	case errors.Is(err, bank.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	}
	switch class {
	case strategyerrors.ClassAuthorization:
		return http.StatusForbidden
	case strategyerrors.ClassTemporal:
		return http.StatusTooEarly
	case strategyerrors.ClassEconomic, strategyerrors.ClassValidation:
		return http.StatusUnprocessableEntity
	case strategyerrors.ClassStateConflict:
		return http.StatusConflict
	case strategyerrors.ClassComputation:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
