package domain

import "time"

// Listing is one marketplace result. Ephemeral: only its ID survives a
// run, recorded in the owning job's dedup ledger.
type Listing struct {
	ID     string
	Seller string
	Price  int64
	URL    string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Age reports how long ago the listing was last updated.
func (l Listing) Age(now time.Time) time.Duration {
	return now.Sub(l.UpdatedAt)
}
