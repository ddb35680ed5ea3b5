package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dave999999/SmartPick1-sub001/internal/apperr"
)

type GuardConfig struct {
	PartnerLimit  int
	PartnerWindow time.Duration
	IPLimit       int
	IPWindow      time.Duration
	// Replay limits repeated attempts by one partner on one reservation.
	ReplayLimit  int
	ReplayWindow time.Duration
}

func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		PartnerLimit:  30,
		PartnerWindow: time.Minute,
		IPLimit:       120,
		IPWindow:      time.Minute,
		ReplayLimit:   5,
		ReplayWindow:  10 * time.Second,
	}
}

// Guard bounds pickup confirmations per partner, per client IP, and per
// (partner, reservation). Limiter failures let the request through.
type Guard struct {
	limiter Limiter
	cfg     GuardConfig
	logger  *slog.Logger
}

func NewGuard(limiter Limiter, cfg GuardConfig, logger *slog.Logger) *Guard {
	return &Guard{limiter: limiter, cfg: cfg, logger: logger}
}

type check struct {
	scope  string
	key    string
	limit  int
	window time.Duration
}

// CheckConfirm returns apperr.ErrRateLimited when any bound is exceeded.
// subject is the reservation id or scanned code being confirmed.
func (g *Guard) CheckConfirm(ctx context.Context, partnerID, subject, ip string) error {
	checks := []check{
		{"partner", "confirm:partner:" + partnerID, g.cfg.PartnerLimit, g.cfg.PartnerWindow},
		{"replay", "confirm:replay:" + partnerID + ":" + subject, g.cfg.ReplayLimit, g.cfg.ReplayWindow},
	}
	if ip != "" {
		checks = append(checks, check{"ip", "confirm:ip:" + ip, g.cfg.IPLimit, g.cfg.IPWindow})
	}

	for _, c := range checks {
		if c.limit <= 0 {
			continue
		}
		ok, err := g.limiter.Allow(ctx, c.key, c.limit, c.window)
		if err != nil {
			g.logger.WarnContext(ctx, "rate limiter unavailable, allowing request", "scope", c.scope, "error", err)
			continue
		}
		if !ok {
			g.logger.InfoContext(ctx, "confirmation rate limited", "scope", c.scope, "partner_id", partnerID, "ip", ip)
			return fmt.Errorf("%s limit of %d per %s: %w", c.scope, c.limit, c.window, apperr.ErrRateLimited)
		}
	}
	return nil
}
