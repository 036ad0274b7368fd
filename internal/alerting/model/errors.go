package model

import (
	"errors"
	"fmt"
)

// TransientDeliveryError is a timeout or server-side provider failure.
// Deliveries failing this way are retried per the backoff policy.
type TransientDeliveryError struct {
	Err error
}

func (e *TransientDeliveryError) Error() string {
	return fmt.Sprintf("transient delivery error: %v", e.Err)
}

func (e *TransientDeliveryError) Unwrap() error { return e.Err }

// PermanentDeliveryError is an invalid destination or client-side
// rejection. No retry; the delivery is flagged for preference review.
type PermanentDeliveryError struct {
	Err error
}

func (e *PermanentDeliveryError) Error() string {
	return fmt.Sprintf("permanent delivery error: %v", e.Err)
}

func (e *PermanentDeliveryError) Unwrap() error { return e.Err }

// ContextUnavailableError is a systemic data-provider failure. It
// aborts the whole evaluation batch, which the scheduler retries.
type ContextUnavailableError struct {
	Err error
}

func (e *ContextUnavailableError) Error() string {
	return fmt.Sprintf("context unavailable: %v", e.Err)
}

func (e *ContextUnavailableError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable delivery error.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientDeliveryError{Err: err}
}

// ContextUnavailable wraps err as a systemic data-provider failure.
func ContextUnavailable(err error) error {
	if err == nil {
		return nil
	}
	return &ContextUnavailableError{Err: err}
}

// Permanent wraps err as a non-retryable delivery error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentDeliveryError{Err: err}
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var t *TransientDeliveryError
	return errors.As(err, &t)
}

// IsPermanent reports whether err is a non-retryable delivery failure.
func IsPermanent(err error) bool {
	var p *PermanentDeliveryError
	return errors.As(err, &p)
}

// IsContextUnavailable reports whether err is a systemic data-provider
// failure that should abort the batch.
func IsContextUnavailable(err error) bool {
	var c *ContextUnavailableError
	return errors.As(err, &c)
}
