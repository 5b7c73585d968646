// Package market implements the provider search client: it serializes a
// SearchFilter into the provider's batched-query wire format, executes the
// request, and normalizes the response into domain listings.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/peedubyah/tradebot/internal/circuitbreaker"
	"github.com/peedubyah/tradebot/internal/domain"
)

const (
	searchPath   = "/api/trpc/offer.search"
	listingsPath = "/listings/items/"

	defaultTimeout = 30 * time.Second
)

// Client queries the marketplace search endpoint. It does not retry:
// retry policy belongs to the scheduling layer, which simply runs the
// same window again on the next trigger.
type Client struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	timeout time.Duration
	breaker *circuitbreaker.Breaker
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		limiter: rate.NewLimiter(rate.Every(time.Second), 2),
		timeout: defaultTimeout,
	}
}

// WithTimeout overrides the per-request timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.timeout = d
	return c
}

// WithBreaker guards the provider endpoint with a circuit breaker. An
// open circuit fails searches fast as ProviderError until the cooldown
// elapses.
func (c *Client) WithBreaker(b *circuitbreaker.Breaker) *Client {
	c.breaker = b
	return c
}

// WithRateLimit overrides the provider request rate limit.
func (c *Client) WithRateLimit(limit rate.Limit, burst int) *Client {
	c.limiter = rate.NewLimiter(limit, burst)
	return c
}

// ListingURL returns the public page for a listing ID.
func (c *Client) ListingURL(itemID string) string {
	return c.baseURL + listingsPath + itemID
}

// Search executes one provider query and returns matching listings in
// provider order (most recently updated first). Non-2xx responses and
// unexpected response shapes surface as *domain.ProviderError.
func (c *Client) Search(ctx context.Context, filter domain.SearchFilter) ([]domain.Listing, error) {
	if c.breaker != nil {
		if err := c.breaker.Allow(c.baseURL); err != nil {
			return nil, &domain.ProviderError{Err: err}
		}
	}

	listings, err := c.search(ctx, filter)

	if c.breaker != nil {
		if err != nil {
			c.breaker.RecordFailure(c.baseURL)
		} else {
			c.breaker.RecordSuccess(c.baseURL)
		}
	}

	return listings, err
}

func (c *Client) search(ctx context.Context, filter domain.SearchFilter) ([]domain.Listing, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &domain.ProviderError{Err: err}
	}

	reqURL, err := c.searchURL(filter.WithDefaults())
	if err != nil {
		return nil, &domain.ProviderError{Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &domain.ProviderError{Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &domain.ProviderError{Err: fmt.Errorf("search: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &domain.ProviderError{StatusCode: resp.StatusCode}
	}

	var envelope searchEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, &domain.ProviderError{Err: fmt.Errorf("decode: %w", err)}
	}
	if len(envelope) == 0 {
		return nil, &domain.ProviderError{Err: fmt.Errorf("empty response envelope")}
	}

	records := envelope[0].Result.Data.JSON.Data
	listings := make([]domain.Listing, 0, len(records))
	for _, r := range records {
		listings = append(listings, domain.Listing{
			ID:        r.ID,
			Seller:    r.UserID.Name,
			Price:     r.Price,
			URL:       c.ListingURL(r.ID),
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
		})
	}

	return listings, nil
}

// searchURL builds the batched-query GET URL: the entire payload travels
// in a single URL-encoded JSON "input" parameter keyed by batch index.
func (c *Client) searchURL(filter domain.SearchFilter) (string, error) {
	input := map[string]searchInput{
		"0": {JSON: newSearchPayload(filter)},
	}

	encoded, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("marshal input: %w", err)
	}

	return c.baseURL + searchPath + "?batch=1&input=" + url.QueryEscape(string(encoded)), nil
}
