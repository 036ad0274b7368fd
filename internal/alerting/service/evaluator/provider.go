package evaluator

import (
	"context"
	"time"
)

// AccountBalance is the current balance of one account, with the
// balance as of the previous evaluation pass when the data layer can
// supply it.
type AccountBalance struct {
	AccountID   string
	Current     float64
	Previous    float64
	HasPrevious bool
}

// Transaction is one posted transaction.
type Transaction struct {
	ID        string
	AccountID string
	Merchant  string
	Amount    float64
	PostedAt  time.Time
}

// GoalProgress is a savings goal's completion percentage.
type GoalProgress struct {
	GoalID  string
	Percent float64
}

// BudgetProgress is cumulative spend against a budget for the current
// period. PeriodKey identifies the period (e.g. "2026-08") so that
// milestone fingerprints reset when the period rolls over.
type BudgetProgress struct {
	BudgetID  string
	PeriodKey string
	Percent   float64
}

// Bill is an upcoming bill occurrence.
type Bill struct {
	BillID  string
	Name    string
	Amount  float64
	DueDate time.Time
}

// DataProvider is the read-only view of financial state the evaluator
// works from. Implementations signal a systemic outage by returning a
// model.ContextUnavailableError, which aborts the whole batch; any
// other error is treated as a per-alert problem and only skips that
// alert.
type DataProvider interface {
	AccountBalance(ctx context.Context, userID, accountID string) (*AccountBalance, error)
	TransactionsSince(ctx context.Context, userID string, since time.Time) ([]Transaction, error)
	GoalProgress(ctx context.Context, userID, goalID string) (*GoalProgress, error)
	BudgetProgress(ctx context.Context, userID, budgetID string) (*BudgetProgress, error)
	UpcomingBills(ctx context.Context, userID string, within time.Duration) ([]Bill, error)
}
