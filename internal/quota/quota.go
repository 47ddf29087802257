// Package quota enforces per-plan limits on uploads before a job is accepted.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/endrilickollari/ldp/internal/models"
)

// Plans maps a plan name to its limits. Unknown plans fall back to free.
var Plans = map[string]models.PlanLimit{
	"free":          {Plan: "free", MonthlyDocs: 10, MaxFileBytes: 5 << 20},
	"premium":       {Plan: "premium", MonthlyDocs: 100, MaxFileBytes: 25 << 20},
	"extra_premium": {Plan: "extra_premium", MonthlyDocs: 500, MaxFileBytes: 100 << 20},
}

// Limits resolves the plan limits for a plan name.
func Limits(plan string) models.PlanLimit {
	if l, ok := Plans[plan]; ok {
		return l
	}
	return Plans["free"]
}

// MonthCounter reports how many documents a user has submitted in the
// calendar month containing the given instant.
type MonthCounter interface {
	CountMonth(ctx context.Context, userID string, at time.Time) (int, error)
}

// Gate checks a prospective upload against the user's plan.
type Gate struct {
	counter MonthCounter
	now     func() time.Time
}

func NewGate(counter MonthCounter) *Gate {
	return &Gate{counter: counter, now: func() time.Time { return time.Now().UTC() }}
}

// Check returns nil when the upload is allowed, a file_too_large or
// monthly_limit_exceeded fault when it is not.
func (g *Gate) Check(ctx context.Context, user models.User, fileSize int64) error {
	limits := Limits(user.Plan)

	if fileSize > limits.MaxFileBytes {
		return models.Faultf(models.FaultFileTooLarge,
			"file size %d exceeds %s plan limit of %d bytes", fileSize, limits.Plan, limits.MaxFileBytes)
	}

	used, err := g.counter.CountMonth(ctx, user.ID, g.now())
	if err != nil {
		return fmt.Errorf("count monthly usage: %w", err)
	}
	if used >= limits.MonthlyDocs {
		return models.Faultf(models.FaultMonthlyLimitExceeded,
			"monthly document limit of %d reached for %s plan", limits.MonthlyDocs, limits.Plan)
	}
	return nil
}
