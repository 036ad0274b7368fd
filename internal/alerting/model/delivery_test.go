package model

import "testing"

func TestDeliveryStatusTransitions(t *testing.T) {
	if !StatusPending.CanTransition(StatusSent) {
		t.Fatal("pending -> sent must be legal")
	}
	if !StatusPending.CanTransition(StatusDelivered) {
		t.Fatal("pending -> delivered must be legal for synchronous confirmation")
	}
	if !StatusSent.CanTransition(StatusBounced) {
		t.Fatal("sent -> bounced must be legal")
	}
	if StatusPending.CanTransition(StatusBounced) {
		t.Fatal("bounced is only reachable from sent")
	}
	for _, terminal := range []DeliveryStatus{StatusDelivered, StatusFailed, StatusBounced} {
		for _, next := range []DeliveryStatus{StatusPending, StatusSent, StatusDelivered, StatusFailed} {
			if terminal.CanTransition(next) {
				t.Fatalf("terminal state %s must not transition to %s", terminal, next)
			}
		}
	}
}

func TestChannelExternal(t *testing.T) {
	if ChannelInApp.External() {
		t.Fatal("in-app is a local write")
	}
	if !ChannelEmail.External() || !ChannelSMS.External() {
		t.Fatal("email and sms go through providers")
	}
}
