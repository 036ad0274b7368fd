package evaluator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lennylmiller/pfm-backend-simulator-sub001/internal/alerting/model"
)

// candidate is one condition instance that qualifies for firing,
// before the cooldown check.
type candidate struct {
	discriminator string
	title         string
	body          string
	context       map[string]string
	// idempotent candidates are transaction-scoped: their fingerprint
	// mark is re-run dedup with a long TTL, not a cooldown.
	idempotent bool
}

// candidatesFor applies the type's trigger predicate against current
// financial context. The switch is exhaustive over the closed set of
// alert types.
func (e *Evaluator) candidatesFor(ctx context.Context, a *model.Alert, now time.Time) ([]candidate, error) {
	switch a.Type {
	case model.TypeAccountThreshold:
		return e.accountThreshold(ctx, a)
	case model.TypeGoal:
		return e.goalMilestones(ctx, a)
	case model.TypeMerchantName:
		return e.merchantName(ctx, a, now)
	case model.TypeSpendingTarget:
		return e.spendingTarget(ctx, a)
	case model.TypeTransactionLimit:
		return e.transactionLimit(ctx, a, now)
	case model.TypeUpcomingBill:
		return e.upcomingBill(ctx, a, now)
	default:
		return nil, fmt.Errorf("unknown alert type %q", a.Type)
	}
}

func (e *Evaluator) accountThreshold(ctx context.Context, a *model.Alert) ([]candidate, error) {
	cond := a.Condition
	if cond.AccountID == "" || (cond.Direction != model.DirectionAbove && cond.Direction != model.DirectionBelow) {
		return nil, fmt.Errorf("malformed account threshold condition for alert %s", a.ID)
	}
	bal, err := e.Data.AccountBalance(ctx, a.UserID, cond.AccountID)
	if err != nil {
		return nil, err
	}
	if bal == nil {
		return nil, fmt.Errorf("account %s not found", cond.AccountID)
	}

	var met, crossed bool
	switch cond.Direction {
	case model.DirectionBelow:
		met = bal.Current < cond.Threshold
		crossed = bal.HasPrevious && bal.Previous >= cond.Threshold && met
	case model.DirectionAbove:
		met = bal.Current > cond.Threshold
		crossed = bal.HasPrevious && bal.Previous <= cond.Threshold && met
	}
	// Without a previous reading, fall back to the level check; the
	// cooldown window stops it re-firing every pass.
	if !met || (bal.HasPrevious && !crossed) {
		return nil, nil
	}
	return []candidate{{
		discriminator: thresholdDiscriminator(string(cond.Direction)),
		title:         fmt.Sprintf("Account balance %s $%.2f", cond.Direction, cond.Threshold),
		body:          fmt.Sprintf("Balance is now $%.2f", bal.Current),
		context: map[string]string{
			"accountId": cond.AccountID,
			"balance":   fmt.Sprintf("%.2f", bal.Current),
		},
	}}, nil
}

func (e *Evaluator) goalMilestones(ctx context.Context, a *model.Alert) ([]candidate, error) {
	if a.Condition.GoalID == "" {
		return nil, fmt.Errorf("malformed goal condition for alert %s", a.ID)
	}
	gp, err := e.Data.GoalProgress(ctx, a.UserID, a.Condition.GoalID)
	if err != nil {
		return nil, err
	}
	if gp == nil {
		return nil, fmt.Errorf("goal %s not found", a.Condition.GoalID)
	}
	// Every reached-but-unvisited milestone fires independently:
	// jumping 24% -> 51% yields both the 25% and 50% events. Visited
	// state is the fingerprint mark itself.
	var out []candidate
	for _, m := range e.Policy.GoalMilestones {
		if gp.Percent < float64(m) {
			break
		}
		out = append(out, candidate{
			discriminator: milestoneDiscriminator("", m),
			title:         fmt.Sprintf("Goal %d%% milestone reached", m),
			body:          fmt.Sprintf("Goal progress is at %.0f%%", gp.Percent),
			context: map[string]string{
				"goalId":    a.Condition.GoalID,
				"milestone": fmt.Sprintf("%d", m),
			},
		})
	}
	return out, nil
}

func (e *Evaluator) merchantName(ctx context.Context, a *model.Alert, now time.Time) ([]candidate, error) {
	pattern := strings.TrimSpace(a.Condition.MerchantPattern)
	if pattern == "" {
		return nil, fmt.Errorf("malformed merchant condition for alert %s", a.ID)
	}
	txns, err := e.Data.TransactionsSince(ctx, a.UserID, now.Add(-e.Lookback))
	if err != nil {
		return nil, err
	}
	var out []candidate
	for _, t := range txns {
		if !merchantMatches(t.Merchant, pattern, a.Condition.ExactMatch) {
			continue
		}
		out = append(out, candidate{
			discriminator: merchantDiscriminator(t.Merchant),
			title:         fmt.Sprintf("Transaction at %s", t.Merchant),
			body:          fmt.Sprintf("$%.2f spent at %s", t.Amount, t.Merchant),
			context: map[string]string{
				"transactionId": t.ID,
				"merchant":      t.Merchant,
			},
		})
	}
	return out, nil
}

func merchantMatches(merchant, pattern string, exact bool) bool {
	m := strings.ToLower(strings.TrimSpace(merchant))
	p := strings.ToLower(pattern)
	if exact {
		return m == p
	}
	return strings.Contains(m, p)
}

func (e *Evaluator) spendingTarget(ctx context.Context, a *model.Alert) ([]candidate, error) {
	if a.Condition.BudgetID == "" {
		return nil, fmt.Errorf("malformed spending target condition for alert %s", a.ID)
	}
	bp, err := e.Data.BudgetProgress(ctx, a.UserID, a.Condition.BudgetID)
	if err != nil {
		return nil, err
	}
	if bp == nil {
		return nil, fmt.Errorf("budget %s not found", a.Condition.BudgetID)
	}
	var out []candidate
	for _, m := range e.Policy.SpendingMilestones {
		if bp.Percent < float64(m) {
			break
		}
		out = append(out, candidate{
			discriminator: milestoneDiscriminator(bp.PeriodKey, m),
			title:         fmt.Sprintf("Spending at %d%% of budget", m),
			body:          fmt.Sprintf("You have used %.0f%% of this period's budget", bp.Percent),
			context: map[string]string{
				"budgetId":  a.Condition.BudgetID,
				"period":    bp.PeriodKey,
				"milestone": fmt.Sprintf("%d", m),
			},
		})
	}
	return out, nil
}

func (e *Evaluator) transactionLimit(ctx context.Context, a *model.Alert, now time.Time) ([]candidate, error) {
	if a.Condition.Limit <= 0 {
		return nil, fmt.Errorf("malformed transaction limit condition for alert %s", a.ID)
	}
	txns, err := e.Data.TransactionsSince(ctx, a.UserID, now.Add(-e.Lookback))
	if err != nil {
		return nil, err
	}
	// Security-critical: every qualifying transaction fires. The
	// transaction id in the discriminator keeps re-runs idempotent
	// without suppressing distinct occurrences.
	var out []candidate
	for _, t := range txns {
		if t.Amount < a.Condition.Limit {
			continue
		}
		out = append(out, candidate{
			discriminator: transactionDiscriminator(t.ID),
			title:         fmt.Sprintf("Large transaction: $%.2f", t.Amount),
			body:          fmt.Sprintf("A transaction of $%.2f at %s met your $%.2f limit", t.Amount, t.Merchant, a.Condition.Limit),
			context: map[string]string{
				"transactionId": t.ID,
				"amount":        fmt.Sprintf("%.2f", t.Amount),
			},
			idempotent: true,
		})
	}
	return out, nil
}

func (e *Evaluator) upcomingBill(ctx context.Context, a *model.Alert, now time.Time) ([]candidate, error) {
	leadDays := a.Condition.LeadDays
	if leadDays <= 0 {
		return nil, fmt.Errorf("malformed upcoming bill condition for alert %s", a.ID)
	}
	bills, err := e.Data.UpcomingBills(ctx, a.UserID, e.Policy.BillLeadMax)
	if err != nil {
		return nil, err
	}
	today := now.UTC().Format("2006-01-02")
	var out []candidate
	for _, b := range bills {
		if a.Condition.BillID != "" && b.BillID != a.Condition.BillID {
			continue
		}
		days := daysUntil(now, b.DueDate)
		if days < 0 || days > leadDays {
			continue
		}
		due := b.DueDate.UTC().Format("2006-01-02")
		out = append(out, candidate{
			// one firing per bill occurrence per day
			discriminator: billDiscriminator(b.BillID, due, today),
			title:         fmt.Sprintf("%s due in %d day(s)", b.Name, days),
			body:          fmt.Sprintf("$%.2f due on %s", b.Amount, due),
			context: map[string]string{
				"billId":  b.BillID,
				"dueDate": due,
			},
		})
	}
	return out, nil
}

// daysUntil counts whole calendar days from now to due, in UTC.
func daysUntil(now, due time.Time) int {
	n := now.UTC().Truncate(24 * time.Hour)
	d := due.UTC().Truncate(24 * time.Hour)
	return int(d.Sub(n) / (24 * time.Hour))
}
