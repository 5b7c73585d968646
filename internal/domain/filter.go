package domain

// Default search bounds applied when a filter leaves them unset.
const (
	DefaultPowerLevelMax = 1000
	DefaultLevelMax      = 100
	DefaultResultLimit   = 20
)

// AffixConstraint names one affix/effect the listing must carry,
// optionally bounded by a numeric roll range.
type AffixConstraint struct {
	ID  string   `json:"id"`
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// SearchFilter is the query half of a WatchJob: what to search for and
// who to notify. Persisted as JSON alongside the job record.
type SearchFilter struct {
	ItemTypes []string `json:"item_types"`
	Classes   []string `json:"classes,omitempty"`

	PowerLevelMin int `json:"power_level_min"`
	PowerLevelMax int `json:"power_level_max"`

	Affixes []AffixConstraint `json:"affixes,omitempty"`

	Limit int `json:"limit"`

	// Recipient is the messaging user mentioned in delivered batches.
	Recipient string `json:"recipient"`
}

// WithDefaults returns a copy with unset numeric bounds filled in.
func (f SearchFilter) WithDefaults() SearchFilter {
	if f.PowerLevelMax == 0 {
		f.PowerLevelMax = DefaultPowerLevelMax
	}
	if f.Limit == 0 {
		f.Limit = DefaultResultLimit
	}
	return f
}
