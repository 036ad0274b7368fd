package evaluator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lennylmiller/pfm-backend-simulator-sub001/internal/alerting/model"
)

func writePolicy(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadPolicyFileOverrides(t *testing.T) {
	path := writePolicy(t, `
cooldowns:
  merchant_name: 30m
  upcoming_bill: 48h
goalMilestones: [10, 50, 100]
idempotencyTTL: 720h
`)
	p, err := LoadPolicyFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.Cooldowns[model.TypeMerchantName] != 30*time.Minute {
		t.Fatalf("merchant cooldown not overridden: %v", p.Cooldowns[model.TypeMerchantName])
	}
	if p.Cooldowns[model.TypeUpcomingBill] != 48*time.Hour {
		t.Fatalf("bill cooldown not overridden: %v", p.Cooldowns[model.TypeUpcomingBill])
	}
	// untouched defaults survive
	if p.Cooldowns[model.TypeAccountThreshold] != 24*time.Hour {
		t.Fatalf("threshold default lost: %v", p.Cooldowns[model.TypeAccountThreshold])
	}
	if len(p.GoalMilestones) != 3 || p.GoalMilestones[0] != 10 {
		t.Fatalf("milestones not overridden: %v", p.GoalMilestones)
	}
	if p.IdempotencyTTL != 720*time.Hour {
		t.Fatalf("idempotency ttl not overridden: %v", p.IdempotencyTTL)
	}
}

func TestLoadPolicyFileSortsMilestones(t *testing.T) {
	// the milestone loops stop at the first unreached value, so an
	// unsorted override would silently skip reached milestones
	path := writePolicy(t, "goalMilestones: [100, 50, 10]\nspendingMilestones: [90, 80]\n")
	p, err := LoadPolicyFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.GoalMilestones[0] != 10 || p.GoalMilestones[1] != 50 || p.GoalMilestones[2] != 100 {
		t.Fatalf("goal milestones not sorted: %v", p.GoalMilestones)
	}
	if p.SpendingMilestones[0] != 80 || p.SpendingMilestones[1] != 90 {
		t.Fatalf("spending milestones not sorted: %v", p.SpendingMilestones)
	}
}

func TestLoadPolicyFileRejectsNonPositiveMilestone(t *testing.T) {
	path := writePolicy(t, "goalMilestones: [0, 50]\n")
	if _, err := LoadPolicyFile(path); err == nil {
		t.Fatal("a non-positive milestone must be rejected")
	}
	path = writePolicy(t, "spendingMilestones: [-10]\n")
	if _, err := LoadPolicyFile(path); err == nil {
		t.Fatal("a negative milestone must be rejected")
	}
}

func TestLoadPolicyFileRejectsTransactionLimitCooldown(t *testing.T) {
	path := writePolicy(t, "cooldowns:\n  transaction_limit: 1h\n")
	if _, err := LoadPolicyFile(path); err == nil {
		t.Fatal("a transaction_limit cooldown must be rejected")
	}
}

func TestLoadPolicyFileRejectsUnknownType(t *testing.T) {
	path := writePolicy(t, "cooldowns:\n  nonsense: 1h\n")
	if _, err := LoadPolicyFile(path); err == nil {
		t.Fatal("unknown alert types must be rejected")
	}
}

func TestLoadPolicyFileEmptyPathIsDefaults(t *testing.T) {
	p, err := LoadPolicyFile("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.Cooldowns[model.TypeMerchantName] != time.Hour {
		t.Fatalf("expected defaults, got %v", p.Cooldowns[model.TypeMerchantName])
	}
}

func TestFingerprintShape(t *testing.T) {
	fp := Fingerprint("alert-1", merchantDiscriminator("  STARBUCKS   #1234 "))
	if fp != "alert-1|merchant=starbucks #1234" {
		t.Fatalf("unexpected fingerprint %q", fp)
	}
	if milestoneDiscriminator("", 50) != "milestone=50" {
		t.Fatal("goal milestone discriminator changed")
	}
	if milestoneDiscriminator("2026-08", 80) != "period=2026-08|milestone=80" {
		t.Fatal("spending milestone discriminator changed")
	}
}
