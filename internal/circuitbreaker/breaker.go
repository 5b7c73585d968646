// Package circuitbreaker stops hammering an outbound endpoint (provider
// search or notification webhook) after consecutive failures, letting a
// single probe through once the cooldown elapses.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

type endpointState struct {
	state               state
	consecutiveFailures int
	openedAt            time.Time
}

// Breaker tracks failure state per endpoint key (normally the URL).
type Breaker struct {
	mu        sync.Mutex
	endpoints map[string]*endpointState
	threshold int
	cooldown  time.Duration
	clock     func() time.Time
}

func New(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		endpoints: make(map[string]*endpointState),
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

// Allow reports whether a call to the endpoint may proceed. An open
// circuit transitions to half-open after the cooldown, admitting one
// probe call.
func (b *Breaker) Allow(endpoint string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.endpoints[endpoint]
	if !ok {
		return nil
	}

	switch s.state {
	case stateOpen:
		if b.clock().Sub(s.openedAt) >= b.cooldown {
			s.state = stateHalfOpen
			return nil
		}
		return ErrCircuitOpen
	case stateHalfOpen:
		// A probe is already in flight; reject until it reports.
		return ErrCircuitOpen
	default:
		return nil
	}
}

// RecordSuccess closes the circuit for the endpoint.
func (b *Breaker) RecordSuccess(endpoint string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.endpoints[endpoint]
	if !ok {
		return
	}
	s.state = stateClosed
	s.consecutiveFailures = 0
}

// RecordFailure counts a failure; at the threshold the circuit opens.
func (b *Breaker) RecordFailure(endpoint string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.endpoints[endpoint]
	if !ok {
		s = &endpointState{}
		b.endpoints[endpoint] = s
	}

	s.consecutiveFailures++
	if s.consecutiveFailures >= b.threshold {
		s.state = stateOpen
		s.openedAt = b.clock()
	}
}
