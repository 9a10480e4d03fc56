// Package budget enforces period-to-date spend ceilings. Spend is always
// recomputed from persisted logs; there is no in-process counter to go stale.
package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/costspent/llm-gateway/internal/db"
	"gorm.io/gorm"
)

// Result reports one budget decision.
type Result struct {
	Allowed    bool
	SpentUSD   float64
	CeilingUSD float64
}

// Guard checks organization spend against a monthly ceiling.
type Guard struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGuard creates a Guard over the given store.
func NewGuard(database *gorm.DB) *Guard {
	return &Guard{db: database, now: time.Now}
}

// Check sums the current calendar month's logged cost for the org and admits
// the request when spent + estimate stays within the ceiling. A request that
// lands exactly at the ceiling passes; the next one is blocked.
//
// A nil ceiling admits everything. A store failure fails closed: allowing a
// request we cannot price against history risks unbounded overspend.
func (g *Guard) Check(ctx context.Context, orgID string, ceiling *float64, estimateUSD float64) (Result, error) {
	if ceiling == nil {
		return Result{Allowed: true}, nil
	}

	spent, err := db.MonthlySpend(ctx, g.db, orgID, g.now())
	if err != nil {
		return Result{Allowed: false, CeilingUSD: *ceiling}, fmt.Errorf("budget spend query: %w", err)
	}

	res := Result{SpentUSD: spent, CeilingUSD: *ceiling}
	if spent >= *ceiling {
		return res, nil
	}
	if estimateUSD > 0 && spent+estimateUSD > *ceiling {
		return res, nil
	}
	res.Allowed = true
	return res, nil
}
