package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/peedubyah/tradebot/internal/domain"
)

// Interval tags accepted in place of a raw cron expression. Resolved to a
// concrete expression at job creation; only the expression is persisted.
var intervalTags = map[string]string{
	"hourly": "0 * * * *",
	"daily":  "0 0 * * *",
	"weekly": "0 0 * * 0",
}

// ResolveInterval maps a symbolic interval tag to its cron expression.
// Returns the input unchanged if it is not a known tag.
func ResolveInterval(s string) string {
	if expr, ok := intervalTags[s]; ok {
		return expr
	}
	return s
}

type Parser struct {
	parser cron.Parser
}

func NewParser() *Parser {
	return &Parser{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Parse validates a schedule (interval tag or five-field cron expression)
// and returns its trigger descriptor. Unparseable schedules map to
// domain.ErrInvalidSchedule so callers reject them before registration.
func (p *Parser) Parse(spec string) (Schedule, error) {
	expr := ResolveInterval(spec)

	sched, err := p.parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", domain.ErrInvalidSchedule, spec, err)
	}

	return &schedule{sched: sched}, nil
}

type Schedule interface {
	Next(after time.Time) time.Time
}

type schedule struct {
	sched cron.Schedule
}

func (s *schedule) Next(after time.Time) time.Time {
	return s.sched.Next(after)
}
