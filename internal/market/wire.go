package market

import (
	"time"

	"github.com/peedubyah/tradebot/internal/domain"
)

// Wire types for the provider's search payload. Field names and shapes
// follow the provider contract exactly; changing them breaks the query.

type searchInput struct {
	JSON searchPayload `json:"json"`
}

type searchPayload struct {
	Mode          []string       `json:"mode"`
	ItemType      []string       `json:"itemType"`
	Class         []string       `json:"class"`
	Sockets       []string       `json:"sockets"`
	Category      []string       `json:"category"`
	Price         priceRange     `json:"price"`
	PowerLevel    [2]int         `json:"powerLevel"`
	LevelRequired [2]int         `json:"levelRequired"`
	Sort          sortSpec       `json:"sort"`
	Sold          bool           `json:"sold"`
	ExactPrice    bool           `json:"exactPrice"`
	Cursor        int            `json:"cursor"`
	Limit         int            `json:"limit"`
	EffectsGroup  []effectsGroup `json:"effectsGroup"`
}

type priceRange struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

// sortSpec orders results newest-update first, then newest-created.
type sortSpec struct {
	UpdatedAt int `json:"updatedAt"`
	CreatedAt int `json:"createdAt"`
}

type effectsGroup struct {
	Type       string      `json:"type"`
	Effects    []effect    `json:"effects"`
	Value      interface{} `json:"value"`
	EffectType string      `json:"effectType"`
}

type effect struct {
	ID    string       `json:"id"`
	Value *effectValue `json:"value,omitempty"`
}

type effectValue struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

func newSearchPayload(filter domain.SearchFilter) searchPayload {
	effects := make([]effect, 0, len(filter.Affixes))
	for _, a := range filter.Affixes {
		e := effect{ID: a.ID}
		if a.Min != nil || a.Max != nil {
			e.Value = &effectValue{Min: a.Min, Max: a.Max}
		}
		effects = append(effects, e)
	}

	p := searchPayload{
		Mode:          []string{"season softcore"},
		ItemType:      emptyNotNil(filter.ItemTypes),
		Class:         emptyNotNil(filter.Classes),
		Sockets:       []string{},
		Category:      []string{},
		Price:         priceRange{Min: 0, Max: 9999999999},
		PowerLevel:    [2]int{filter.PowerLevelMin, filter.PowerLevelMax},
		LevelRequired: [2]int{0, domain.DefaultLevelMax},
		Sort:          sortSpec{UpdatedAt: -1, CreatedAt: -1},
		Sold:          false,
		ExactPrice:    false,
		Cursor:        1,
		Limit:         filter.Limit,
	}

	if len(effects) > 0 {
		p.EffectsGroup = []effectsGroup{{
			Type:       "and",
			Effects:    effects,
			EffectType: "affixes",
		}}
	} else {
		p.EffectsGroup = []effectsGroup{}
	}

	return p
}

// emptyNotNil keeps empty slices serializing as [] rather than null.
func emptyNotNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Response envelope. Matching listings live at a fixed nested path:
// envelope[0].result.data.json.data.
type searchEnvelope []struct {
	Result struct {
		Data struct {
			JSON struct {
				Data []listingRecord `json:"data"`
			} `json:"json"`
		} `json:"data"`
	} `json:"result"`
}

type listingRecord struct {
	ID        string    `json:"_id"`
	Price     int64     `json:"price"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	UserID    struct {
		Name string `json:"name"`
	} `json:"userId"`
}
