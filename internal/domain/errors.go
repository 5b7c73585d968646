package domain

import (
	"errors"
	"fmt"
)

// Job management errors, surfaced synchronously to the caller.
var (
	ErrDuplicateJobID  = errors.New("job id already registered")
	ErrJobNotFound     = errors.New("job not found")
	ErrInvalidSchedule = errors.New("invalid schedule")
)

// ProviderError reports a failed marketplace search. It aborts only the
// current run; the job's ledger and last-run marker stay untouched so the
// next trigger retries the same window.
type ProviderError struct {
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider: status %d", e.StatusCode)
	}
	return fmt.Sprintf("provider: %v", e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// CaptureError reports a failed artifact capture for a single item.
// Isolated to that item; the run continues.
type CaptureError struct {
	ItemID string
	Err    error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture %s: %v", e.ItemID, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// DeliveryError reports a failed batch delivery. Isolated to that batch;
// earlier batches' ledger write-backs stand and later batches still attempt.
type DeliveryError struct {
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("delivery: status %d", e.StatusCode)
	}
	return fmt.Sprintf("delivery: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
