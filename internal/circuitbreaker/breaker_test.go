package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/peedubyah/tradebot/internal/testutil"
)

func TestBreaker_ClosedByDefault(t *testing.T) {
	b := New(3, time.Minute)
	if err := b.Allow("https://hook.example.com"); err != nil {
		t.Fatalf("Allow on fresh breaker: %v", err)
	}
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b := New(3, time.Minute)
	url := "https://hook.example.com"

	b.RecordFailure(url)
	b.RecordFailure(url)
	if err := b.Allow(url); err != nil {
		t.Fatalf("breaker opened below threshold: %v", err)
	}

	b.RecordFailure(url)
	if err := b.Allow(url); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow = %v, want ErrCircuitOpen", err)
	}
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	b := New(1, time.Minute)
	url := "https://hook.example.com"

	clock := testutil.NewFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	b.clock = clock.Now

	b.RecordFailure(url)
	if err := b.Allow(url); !errors.Is(err, ErrCircuitOpen) {
		t.Fatal("circuit should be open")
	}

	clock.Advance(time.Minute)

	// First call after cooldown is the probe.
	if err := b.Allow(url); err != nil {
		t.Fatalf("probe rejected: %v", err)
	}
	// Concurrent calls wait for the probe to report.
	if err := b.Allow(url); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow during half-open = %v, want ErrCircuitOpen", err)
	}

	b.RecordSuccess(url)
	if err := b.Allow(url); err != nil {
		t.Fatalf("circuit did not close after probe success: %v", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New(2, time.Minute)
	url := "https://hook.example.com"

	b.RecordFailure(url)
	b.RecordSuccess(url)
	b.RecordFailure(url)

	if err := b.Allow(url); err != nil {
		t.Fatalf("breaker opened despite success reset: %v", err)
	}
}

func TestBreaker_EndpointsAreIndependent(t *testing.T) {
	b := New(1, time.Minute)

	b.RecordFailure("https://a.example.com")

	if err := b.Allow("https://b.example.com"); err != nil {
		t.Fatalf("unrelated endpoint affected: %v", err)
	}
}
