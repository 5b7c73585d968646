package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRetention is how long per-job counters are kept.
const DefaultRetention = 30 * 24 * time.Hour

// RedisSink keeps per-job delivery counters in hourly buckets.
// Writes are best-effort: failures are logged, never propagated.
type RedisSink struct {
	client    *redis.Client
	retention time.Duration
	clock     func() time.Time
}

func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{
		client:    client,
		retention: DefaultRetention,
		clock:     time.Now,
	}
}

// WithRetention overrides the counter TTL.
func (s *RedisSink) WithRetention(d time.Duration) *RedisSink {
	s.retention = d
	return s
}

// WithClock overrides the time source.
func (s *RedisSink) WithClock(clock func() time.Time) *RedisSink {
	s.clock = clock
	return s
}

// RecordRun increments the hourly delivery counter for a job.
func (s *RedisSink) RecordRun(ctx context.Context, jobID string, delivered int) {
	key := buildKey(jobID, s.clock())

	pipe := s.client.Pipeline()
	pipe.IncrBy(ctx, key, int64(delivered))
	pipe.Expire(ctx, key, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("analytics: redis pipeline for job %s: %v", jobID, err)
	}
}

func buildKey(jobID string, t time.Time) string {
	return fmt.Sprintf("j:%s:delivered:%s", jobID, t.UTC().Format("2006010215"))
}
