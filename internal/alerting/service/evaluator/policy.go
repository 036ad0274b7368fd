package evaluator

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lennylmiller/pfm-backend-simulator-sub001/internal/alerting/model"
)

// Policy holds the trigger-dedup defaults: per-type cooldown windows
// and milestone sets. Values reflect documented product defaults and
// can be overridden from a YAML policy file at startup.
type Policy struct {
	Cooldowns          map[model.AlertType]time.Duration
	GoalMilestones     []int
	SpendingMilestones []int
	// IdempotencyTTL bounds how long transaction-scoped fingerprints
	// are remembered. It is re-run dedup, not a cooldown: distinct
	// transactions always carry distinct fingerprints.
	IdempotencyTTL time.Duration
	// BillLeadMax bounds how far ahead upcoming bills are fetched.
	BillLeadMax time.Duration
}

// DefaultPolicy returns the documented defaults.
func DefaultPolicy() *Policy {
	return &Policy{
		Cooldowns: map[model.AlertType]time.Duration{
			model.TypeAccountThreshold: 24 * time.Hour,
			model.TypeGoal:             0, // milestones are visited once
			model.TypeMerchantName:     time.Hour,
			model.TypeSpendingTarget:   0, // period-scoped fingerprints
			model.TypeUpcomingBill:     24 * time.Hour,
			model.TypeTransactionLimit: 0, // no cooldown, ever
		},
		GoalMilestones:     model.GoalMilestones,
		SpendingMilestones: model.SpendingMilestones,
		IdempotencyTTL:     30 * 24 * time.Hour,
		BillLeadMax:        31 * 24 * time.Hour,
	}
}

// CooldownFor resolves the window for one alert: a per-alert override
// wins over the type default.
func (p *Policy) CooldownFor(a *model.Alert) time.Duration {
	if a.Type == model.TypeTransactionLimit {
		return 0
	}
	if a.Cooldown > 0 {
		return a.Cooldown
	}
	return p.Cooldowns[a.Type]
}

type policyFile struct {
	Cooldowns          map[string]string `yaml:"cooldowns"`
	GoalMilestones     []int             `yaml:"goalMilestones"`
	SpendingMilestones []int             `yaml:"spendingMilestones"`
	IdempotencyTTL     string            `yaml:"idempotencyTTL"`
	BillLeadMax        string            `yaml:"billLeadMax"`
}

// LoadPolicyFile overlays a YAML policy file onto the defaults. An
// empty path returns the defaults unchanged.
func LoadPolicyFile(path string) (*Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file %s: %w", path, err)
	}
	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	for name, raw := range f.Cooldowns {
		t := model.AlertType(name)
		if !t.Valid() {
			return nil, fmt.Errorf("policy file: unknown alert type %q", name)
		}
		if t == model.TypeTransactionLimit {
			return nil, fmt.Errorf("policy file: transaction_limit cannot have a cooldown")
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("policy file: cooldown for %s: %w", name, err)
		}
		p.Cooldowns[t] = d
	}
	if len(f.GoalMilestones) > 0 {
		ms, err := sortedMilestones("goalMilestones", f.GoalMilestones)
		if err != nil {
			return nil, err
		}
		p.GoalMilestones = ms
	}
	if len(f.SpendingMilestones) > 0 {
		ms, err := sortedMilestones("spendingMilestones", f.SpendingMilestones)
		if err != nil {
			return nil, err
		}
		p.SpendingMilestones = ms
	}
	if f.IdempotencyTTL != "" {
		d, err := time.ParseDuration(f.IdempotencyTTL)
		if err != nil {
			return nil, fmt.Errorf("policy file: idempotencyTTL: %w", err)
		}
		p.IdempotencyTTL = d
	}
	if f.BillLeadMax != "" {
		d, err := time.ParseDuration(f.BillLeadMax)
		if err != nil {
			return nil, fmt.Errorf("policy file: billLeadMax: %w", err)
		}
		p.BillLeadMax = d
	}
	return p, nil
}

// sortedMilestones normalizes a milestone override. The predicate loops
// stop at the first unreached value, so the set must be ascending.
func sortedMilestones(name string, ms []int) ([]int, error) {
	out := append([]int(nil), ms...)
	for _, m := range out {
		if m <= 0 {
			return nil, fmt.Errorf("policy file: %s: milestone %d must be positive", name, m)
		}
	}
	sort.Ints(out)
	return out, nil
}
