package market

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/peedubyah/tradebot/internal/circuitbreaker"
	"github.com/peedubyah/tradebot/internal/domain"
)

func envelopeJSON(records string) string {
	return `[{"result":{"data":{"json":{"data":` + records + `}}}}]`
}

func TestClient_Search_ParsesListings(t *testing.T) {
	records := `[
		{"_id":"item-1","price":150000000,"createdAt":"2024-06-01T10:00:00Z","updatedAt":"2024-06-02T10:00:00Z","userId":{"name":"SellerOne#1234"}},
		{"_id":"item-2","price":50000000,"createdAt":"2024-06-01T09:00:00Z","updatedAt":"2024-06-01T09:30:00Z","userId":{"name":"SellerTwo#5678"}}
	]`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(envelopeJSON(records)))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	listings, err := client.Search(context.Background(), domain.SearchFilter{
		ItemTypes: []string{"boots"},
	})
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}

	if len(listings) != 2 {
		t.Fatalf("got %d listings, want 2", len(listings))
	}

	// Provider order is preserved.
	if listings[0].ID != "item-1" || listings[1].ID != "item-2" {
		t.Errorf("order not preserved: %q, %q", listings[0].ID, listings[1].ID)
	}
	if listings[0].Seller != "SellerOne#1234" {
		t.Errorf("Seller = %q", listings[0].Seller)
	}
	if listings[0].Price != 150000000 {
		t.Errorf("Price = %d", listings[0].Price)
	}
	if listings[0].URL != server.URL+"/listings/items/item-1" {
		t.Errorf("URL = %q", listings[0].URL)
	}
}

func TestClient_Search_RequestShape(t *testing.T) {
	var gotPath string
	var gotInput string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotInput = r.URL.Query().Get("input")
		w.Write([]byte(envelopeJSON("[]")))
	}))
	defer server.Close()

	minRoll := 40.0
	client := NewClient(server.URL)
	_, err := client.Search(context.Background(), domain.SearchFilter{
		ItemTypes: []string{"boots"},
		Affixes:   []domain.AffixConstraint{{ID: "5001", Min: &minRoll}},
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}

	if gotPath != "/api/trpc/offer.search" {
		t.Errorf("path = %q", gotPath)
	}

	var input map[string]struct {
		JSON searchPayload `json:"json"`
	}
	if err := json.Unmarshal([]byte(gotInput), &input); err != nil {
		t.Fatalf("input param is not valid JSON: %v", err)
	}

	payload, ok := input["0"]
	if !ok {
		t.Fatal("input missing batch key \"0\"")
	}

	p := payload.JSON
	if len(p.ItemType) != 1 || p.ItemType[0] != "boots" {
		t.Errorf("itemType = %v", p.ItemType)
	}
	if p.PowerLevel != [2]int{0, 1000} {
		t.Errorf("powerLevel = %v, want default [0,1000]", p.PowerLevel)
	}
	if p.Limit != 10 {
		t.Errorf("limit = %d", p.Limit)
	}
	if p.Sold {
		t.Error("sold listings must be excluded")
	}
	if p.Sort.UpdatedAt != -1 || p.Sort.CreatedAt != -1 {
		t.Errorf("sort = %+v, want descending updatedAt then createdAt", p.Sort)
	}
	if len(p.EffectsGroup) != 1 {
		t.Fatalf("effectsGroup = %v", p.EffectsGroup)
	}
	group := p.EffectsGroup[0]
	if group.Type != "and" || group.EffectType != "affixes" {
		t.Errorf("group = %+v", group)
	}
	if len(group.Effects) != 1 || group.Effects[0].ID != "5001" {
		t.Fatalf("effects = %+v", group.Effects)
	}
	if group.Effects[0].Value == nil || group.Effects[0].Value.Min == nil || *group.Effects[0].Value.Min != 40.0 {
		t.Errorf("effect value = %+v, want min 40", group.Effects[0].Value)
	}
}

func TestClient_Search_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.Search(context.Background(), domain.SearchFilter{})
	if err == nil {
		t.Fatal("expected error")
	}

	var provErr *domain.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("error = %T, want *domain.ProviderError", err)
	}
	if provErr.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d", provErr.StatusCode)
	}
}

func TestClient_Search_MalformedEnvelope(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "<html>error</html>"},
		{"wrong shape", `{"items":[]}`},
		{"empty envelope", `[]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(server.URL)
			_, err := client.Search(context.Background(), domain.SearchFilter{})

			var provErr *domain.ProviderError
			if !errors.As(err, &provErr) {
				t.Fatalf("error = %v, want *domain.ProviderError", err)
			}
		})
	}
}

func TestClient_Search_BreakerOpensAfterFailures(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	breaker := circuitbreaker.New(2, time.Minute)
	client := NewClient(server.URL).WithBreaker(breaker)

	for i := 0; i < 2; i++ {
		if _, err := client.Search(context.Background(), domain.SearchFilter{}); err == nil {
			t.Fatal("expected search failure")
		}
	}

	// Third attempt is rejected without touching the endpoint.
	_, err := client.Search(context.Background(), domain.SearchFilter{})
	if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Fatalf("error = %v, want ErrCircuitOpen", err)
	}
	if hits != 2 {
		t.Errorf("endpoint hit %d times, want 2", hits)
	}

	var provErr *domain.ProviderError
	if !errors.As(err, &provErr) {
		t.Errorf("open circuit must surface as *domain.ProviderError, got %T", err)
	}
}

func TestClient_Search_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(envelopeJSON("[]")))
	}))
	defer server.Close()

	client := NewClient(server.URL).WithTimeout(20 * time.Millisecond)
	_, err := client.Search(context.Background(), domain.SearchFilter{})

	var provErr *domain.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("error = %v, want *domain.ProviderError", err)
	}
}
