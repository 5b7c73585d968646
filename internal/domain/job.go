package domain

import "time"

// WatchJob is a persisted recurring search. The schedule is always a
// resolved cron expression by the time a job is persisted; symbolic
// interval tags are expanded at registration.
type WatchJob struct {
	ID       string
	Schedule string
	Filter   SearchFilter

	// LastRun is the completion time of the last run that delivered
	// at least one batch. Nil until the first delivery.
	LastRun *time.Time

	// SentItemIDs is the dedup ledger, oldest entry first. Grows on
	// every successful batch delivery, trimmed to LedgerCap by the store.
	SentItemIDs []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LedgerCap bounds the persisted dedup ledger. Write-backs keep the
// most recent entries and drop the oldest beyond this count.
const LedgerCap = 500
