package notify

import (
	"fmt"
	"net/url"
	"time"

	"github.com/peedubyah/tradebot/internal/domain"
)

const embedColor = 0x0099ff

// Embed is one rich-content block in a webhook message.
type Embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	URL         string       `json:"url"`
	Color       int          `json:"color"`
	Fields      []EmbedField `json:"fields"`
	Image       *EmbedImage  `json:"image,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type EmbedImage struct {
	URL string `json:"url"`
}

type EmbedFooter struct {
	Text string `json:"text"`
}

// buildEmbed renders one listing as an embed. imageName references an
// attached file part; empty means no image block.
func buildEmbed(listing domain.Listing, imageName string, now time.Time) Embed {
	title := listing.Seller
	if title == "" {
		title = "Unknown Seller"
	}

	e := Embed{
		Title:       title,
		Description: "**Click on the btag to view listing**",
		URL:         listing.URL,
		Color:       embedColor,
		Fields: []EmbedField{
			{Name: "Price", Value: formatPrice(listing.Price), Inline: true},
			{Name: "Listing Age", Value: humanizeDuration(listing.Age(now)), Inline: true},
		},
	}

	if imageName != "" {
		e.Image = &EmbedImage{URL: "attachment://" + imageName}
	}
	if !listing.UpdatedAt.IsZero() {
		e.Timestamp = listing.UpdatedAt.UTC().Format(time.RFC3339)
	}
	if host := listingHost(listing.URL); host != "" {
		e.Footer = &EmbedFooter{Text: host}
	}

	return e
}

func formatPrice(price int64) string {
	millions := float64(price) / 1e6
	if millions == float64(int64(millions)) {
		return fmt.Sprintf("%d Million(s)", int64(millions))
	}
	return fmt.Sprintf("%.1f Million(s)", millions)
}

// humanizeDuration renders a duration in the largest sensible unit.
func humanizeDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "moments ago"
	case d < time.Hour:
		m := int(d.Minutes())
		return fmt.Sprintf("%d minute%s ago", m, plural(m))
	case d < 24*time.Hour:
		h := int(d.Hours())
		return fmt.Sprintf("%d hour%s ago", h, plural(h))
	default:
		days := int(d.Hours() / 24)
		return fmt.Sprintf("%d day%s ago", days, plural(days))
	}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func listingHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
