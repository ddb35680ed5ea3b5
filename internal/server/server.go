package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dave999999/SmartPick1-sub001/internal/auth"
	"github.com/dave999999/SmartPick1-sub001/internal/backup"
	"github.com/dave999999/SmartPick1-sub001/internal/handler"
	"github.com/dave999999/SmartPick1-sub001/internal/ledger"
	"github.com/dave999999/SmartPick1-sub001/internal/middleware"
	"github.com/dave999999/SmartPick1-sub001/internal/penalty"
	"github.com/dave999999/SmartPick1-sub001/internal/pickup"
	"github.com/dave999999/SmartPick1-sub001/internal/ratelimit"
	"github.com/dave999999/SmartPick1-sub001/internal/reservation"
	"github.com/dave999999/SmartPick1-sub001/internal/sweep"
	ws "github.com/dave999999/SmartPick1-sub001/internal/websocket"
)

// Deps are the services the HTTP layer is built on.
type Deps struct {
	Reservations *reservation.Service
	Pickups      *pickup.Service
	Ledger       *ledger.Service
	Penalties    *penalty.Engine
	Sweeper      *sweep.Sweeper
	// Backups may be nil, in which case snapshot endpoints report backups as
	// not configured.
	Backups  *backup.Manager
	Hub      *ws.Hub
	Verifier *auth.Verifier
	Limiter  ratelimit.Limiter
	// OriginPatterns are the hosts allowed to open WebSockets cross-origin.
	OriginPatterns []string
}

type Server struct {
	reservationH *handler.ReservationHandler
	penaltyH     *handler.PenaltyHandler
	pointsH      *handler.PointsHandler
	adminH       *handler.AdminHandler
	liveH        *handler.LiveHandler
	verifier     *auth.Verifier
	limiter      ratelimit.Limiter
	logger       *slog.Logger
}

func New(d Deps, logger *slog.Logger) *Server {
	if d.Backups == nil {
		d.Backups = backup.NewManager(backup.Config{}, nil, logger.With("component", "backup"))
	}
	return &Server{
		reservationH: handler.NewReservationHandler(d.Reservations, d.Pickups, logger.With("component", "reservation_handler")),
		penaltyH:     handler.NewPenaltyHandler(d.Penalties, logger.With("component", "penalty_handler")),
		pointsH:      handler.NewPointsHandler(d.Ledger, logger.With("component", "points_handler")),
		adminH:       handler.NewAdminHandler(d.Sweeper, d.Ledger, d.Penalties, d.Backups, logger.With("component", "admin_handler")),
		liveH:        handler.NewLiveHandler(d.Reservations, d.Hub, d.OriginPatterns, logger.With("component", "live")),
		verifier:     d.Verifier,
		limiter:      d.Limiter,
		logger:       logger,
	}
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("GET /health", s.healthHandler)

	// Protected routes, wrapped with RequireAuth middleware
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.verifier)
	outerMux.Handle("/", authMiddleware(protectedMux))

	// Apply request logging middleware
	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.Handler {
	keyFunc := func(r *http.Request) string {
		return "ws:" + middleware.RealIP(r)
	}
	return middleware.RateLimit(s.limiter, keyFunc, 60, time.Minute, s.logger)(h)
}

func only(h http.HandlerFunc, roles ...string) http.Handler {
	return middleware.RequireRole(roles...)(h)
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	const (
		customer = auth.RoleCustomer
		partner  = auth.RolePartner
		admin    = auth.RoleAdmin
	)

	// Reservations
	mux.Handle("POST /api/reservations", only(s.reservationH.Create, customer))
	mux.Handle("GET /api/reservations", only(s.reservationH.List, customer))
	mux.Handle("GET /api/reservations/{id}", only(s.reservationH.Get, customer, partner))
	mux.Handle("POST /api/reservations/{id}/cancel", only(s.reservationH.Cancel, customer))

	// Pickup confirmation
	mux.Handle("POST /api/reservations/{id}/confirm", only(s.reservationH.Confirm, partner))
	mux.Handle("POST /api/pickups/scan", only(s.reservationH.Scan, partner))
	mux.Handle("GET /api/partner/reservations", only(s.reservationH.ListForPartner, partner))

	// Penalties
	mux.Handle("GET /api/penalties", only(s.penaltyH.Summary, customer))
	mux.Handle("POST /api/penalties/{id}/lift", only(s.penaltyH.Lift, customer))
	mux.Handle("POST /api/penalties/{id}/acknowledge", only(s.penaltyH.Acknowledge, customer))

	// Points
	mux.Handle("GET /api/points", only(s.pointsH.Account, customer, partner))
	mux.Handle("GET /api/points/history", only(s.pointsH.History, customer, partner))

	// Internal
	mux.Handle("POST /internal/sweep", only(s.adminH.Sweep, admin))
	mux.Handle("POST /internal/points/credit", only(s.adminH.Credit, admin))
	mux.Handle("POST /internal/users/{id}/reset-missed", only(s.adminH.ResetMissed, admin))
	mux.Handle("GET /internal/backups", only(s.adminH.Backups, admin))
	mux.Handle("POST /internal/backups", only(s.adminH.RunBackup, admin))

	// WebSocket
	mux.Handle("GET /ws/reservations/{id}", middleware.RequireRole(customer)(s.rateLimitedHandler(s.liveH.Subscribe)))
}
