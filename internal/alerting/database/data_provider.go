package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lennylmiller/pfm-backend-simulator-sub001/internal/alerting/model"
	"github.com/lennylmiller/pfm-backend-simulator-sub001/internal/alerting/service/evaluator"
)

// SQLDataProvider reads financial state from the core schema. Every
// query error is wrapped as a context-unavailable error because a
// failing database is a systemic outage, not a per-alert condition.
type SQLDataProvider struct {
	DB *Database
}

func NewSQLDataProvider(db *Database) *SQLDataProvider {
	return &SQLDataProvider{DB: db}
}

func (p *SQLDataProvider) AccountBalance(ctx context.Context, userID, accountID string) (*evaluator.AccountBalance, error) {
	const q = `
SELECT balance, previous_balance
FROM accounts
WHERE user_id = $1 AND id = $2 AND deleted_at IS NULL`
	var cur float64
	var prev sql.NullFloat64
	err := p.DB.QueryRowContext(ctx, q, userID, accountID).Scan(&cur, &prev)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account %s not found", accountID)
	}
	if err != nil {
		return nil, model.ContextUnavailable(fmt.Errorf("load account balance: %w", err))
	}
	b := &evaluator.AccountBalance{AccountID: accountID, Current: cur}
	if prev.Valid {
		b.Previous = prev.Float64
		b.HasPrevious = true
	}
	return b, nil
}

func (p *SQLDataProvider) TransactionsSince(ctx context.Context, userID string, since time.Time) ([]evaluator.Transaction, error) {
	const q = `
SELECT t.id, t.account_id, COALESCE(t.merchant_name, ''), t.amount, t.posted_at
FROM transactions t
JOIN accounts a ON a.id = t.account_id
WHERE a.user_id = $1 AND t.posted_at >= $2 AND t.deleted_at IS NULL
ORDER BY t.posted_at ASC`
	rows, err := p.DB.QueryContext(ctx, q, userID, since)
	if err != nil {
		return nil, model.ContextUnavailable(fmt.Errorf("load transactions: %w", err))
	}
	defer rows.Close()

	var out []evaluator.Transaction
	for rows.Next() {
		var t evaluator.Transaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Merchant, &t.Amount, &t.PostedAt); err != nil {
			return nil, model.ContextUnavailable(fmt.Errorf("scan transaction: %w", err))
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, model.ContextUnavailable(fmt.Errorf("iterate transactions: %w", err))
	}
	return out, nil
}

func (p *SQLDataProvider) GoalProgress(ctx context.Context, userID, goalID string) (*evaluator.GoalProgress, error) {
	const q = `
SELECT CASE WHEN target_amount > 0 THEN current_amount / target_amount * 100 ELSE 0 END
FROM goals
WHERE user_id = $1 AND id = $2 AND deleted_at IS NULL`
	var pct float64
	err := p.DB.QueryRowContext(ctx, q, userID, goalID).Scan(&pct)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("goal %s not found", goalID)
	}
	if err != nil {
		return nil, model.ContextUnavailable(fmt.Errorf("load goal progress: %w", err))
	}
	return &evaluator.GoalProgress{GoalID: goalID, Percent: pct}, nil
}

func (p *SQLDataProvider) BudgetProgress(ctx context.Context, userID, budgetID string) (*evaluator.BudgetProgress, error) {
	// spend is summed over the budget's current calendar-month period
	const q = `
SELECT b.amount,
       COALESCE(SUM(t.amount) FILTER (WHERE t.amount > 0), 0)
FROM budgets b
LEFT JOIN transactions t
  ON t.budget_id = b.id
 AND t.posted_at >= date_trunc('month', now())
 AND t.deleted_at IS NULL
WHERE b.user_id = $1 AND b.id = $2 AND b.deleted_at IS NULL
GROUP BY b.amount`
	var budget, spent float64
	err := p.DB.QueryRowContext(ctx, q, userID, budgetID).Scan(&budget, &spent)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("budget %s not found", budgetID)
	}
	if err != nil {
		return nil, model.ContextUnavailable(fmt.Errorf("load budget progress: %w", err))
	}
	pct := 0.0
	if budget > 0 {
		pct = spent / budget * 100
	}
	return &evaluator.BudgetProgress{
		BudgetID:  budgetID,
		PeriodKey: time.Now().UTC().Format("2006-01"),
		Percent:   pct,
	}, nil
}

func (p *SQLDataProvider) UpcomingBills(ctx context.Context, userID string, within time.Duration) ([]evaluator.Bill, error) {
	const q = `
SELECT id, name, amount, due_date
FROM bills
WHERE user_id = $1 AND due_date >= CURRENT_DATE AND due_date <= $2 AND deleted_at IS NULL
ORDER BY due_date ASC`
	horizon := time.Now().UTC().Add(within)
	rows, err := p.DB.QueryContext(ctx, q, userID, horizon)
	if err != nil {
		return nil, model.ContextUnavailable(fmt.Errorf("load bills: %w", err))
	}
	defer rows.Close()

	var out []evaluator.Bill
	for rows.Next() {
		var b evaluator.Bill
		if err := rows.Scan(&b.BillID, &b.Name, &b.Amount, &b.DueDate); err != nil {
			return nil, model.ContextUnavailable(fmt.Errorf("scan bill: %w", err))
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, model.ContextUnavailable(fmt.Errorf("iterate bills: %w", err))
	}
	return out, nil
}
