package evaluator

import (
	"fmt"
	"strings"
)

// Fingerprint builds the deduplication identifier for one instance of
// an alert condition: the alert id plus a type-specific discriminator
// (threshold side, milestone value, bill occurrence date, ...).
func Fingerprint(alertID, discriminator string) string {
	return alertID + "|" + discriminator
}

// thresholdDiscriminator identifies which side of the threshold fired.
func thresholdDiscriminator(direction string) string {
	return "side=" + direction
}

// milestoneDiscriminator identifies one progress milestone. scope is
// empty for goals (milestones are visited once per goal) and the
// budget period key for spending targets.
func milestoneDiscriminator(scope string, milestone int) string {
	if scope == "" {
		return fmt.Sprintf("milestone=%d", milestone)
	}
	return fmt.Sprintf("period=%s|milestone=%d", scope, milestone)
}

// merchantDiscriminator identifies a merchant match. The merchant name
// is normalized so case and spacing differences dedupe together.
func merchantDiscriminator(merchant string) string {
	return "merchant=" + strings.ToLower(strings.Join(strings.Fields(merchant), " "))
}

// transactionDiscriminator identifies a single qualifying transaction.
func transactionDiscriminator(txnID string) string {
	return "txn=" + txnID
}

// billDiscriminator identifies one bill occurrence on one calendar
// day, so a bill inside its lead window fires at most once per day.
func billDiscriminator(billID, dueDate, day string) string {
	return fmt.Sprintf("bill=%s|due=%s|day=%s", billID, dueDate, day)
}
