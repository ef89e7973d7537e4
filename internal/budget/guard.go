package budget

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cvforge/backend/internal/metrics"
	"github.com/cvforge/backend/internal/tracker"
	"github.com/cvforge/backend/pkg/logger"
)

// ExceededError is raised before any remote call when a spend ceiling would
// be breached.
type ExceededError struct {
	Scope      string
	UserID     string
	SpentUSD   float64
	CeilingUSD float64
}

func (e *ExceededError) Error() string {
	if e.Scope == "user" {
		return fmt.Sprintf("budget exceeded for user %s: spent $%.4f of $%.2f ceiling", e.UserID, e.SpentUSD, e.CeilingUSD)
	}
	return fmt.Sprintf("global budget exceeded: spent $%.4f of $%.2f ceiling", e.SpentUSD, e.CeilingUSD)
}

// Status reports current usage against a ceiling, for budget displays.
type Status struct {
	UserID     string  `json:"user_id,omitempty"`
	UsedUSD    float64 `json:"used_usd"`
	CeilingUSD float64 `json:"ceiling_usd"`
	Remaining  float64 `json:"remaining_usd"`
}

// Guard enforces per-user and global spend ceilings over the tracker's
// rolling ledger. The ledger is derived by summing call records, never stored
// independently.
type Guard struct {
	tracker       *tracker.Tracker
	userCeiling   float64
	globalCeiling float64
	window        time.Duration
}

func NewGuard(t *tracker.Tracker, userCeilingUSD, globalCeilingUSD float64, window time.Duration) *Guard {
	if window == 0 {
		window = 24 * time.Hour
	}
	return &Guard{
		tracker:       t,
		userCeiling:   userCeilingUSD,
		globalCeiling: globalCeilingUSD,
		window:        window,
	}
}

// Check returns an ExceededError when the user's or the global recorded
// spend has already met its ceiling, or when estimatedCost would push it
// over. A zero ceiling disables that scope.
func (g *Guard) Check(userID string, estimatedCost float64) error {
	if g.userCeiling > 0 {
		spent := g.tracker.Spend(userID, g.window)
		if spent >= g.userCeiling || spent+estimatedCost > g.userCeiling {
			metrics.BudgetRejections.WithLabelValues("user").Inc()
			logger.Warn("User budget ceiling reached",
				zap.String("user_id", userID),
				zap.Float64("spent_usd", spent),
				zap.Float64("ceiling_usd", g.userCeiling),
			)
			return &ExceededError{Scope: "user", UserID: userID, SpentUSD: spent, CeilingUSD: g.userCeiling}
		}
	}

	if g.globalCeiling > 0 {
		spent := g.tracker.Spend("", g.window)
		if spent >= g.globalCeiling || spent+estimatedCost > g.globalCeiling {
			metrics.BudgetRejections.WithLabelValues("global").Inc()
			logger.Warn("Global budget ceiling reached",
				zap.Float64("spent_usd", spent),
				zap.Float64("ceiling_usd", g.globalCeiling),
			)
			return &ExceededError{Scope: "global", SpentUSD: spent, CeilingUSD: g.globalCeiling}
		}
	}

	return nil
}

func (g *Guard) UserStatus(userID string) Status {
	used := g.tracker.Spend(userID, g.window)
	return Status{
		UserID:     userID,
		UsedUSD:    used,
		CeilingUSD: g.userCeiling,
		Remaining:  max(g.userCeiling-used, 0),
	}
}

func (g *Guard) GlobalStatus() Status {
	used := g.tracker.Spend("", g.window)
	return Status{
		UsedUSD:    used,
		CeilingUSD: g.globalCeiling,
		Remaining:  max(g.globalCeiling-used, 0),
	}
}
