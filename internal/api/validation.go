package api

import (
	"fmt"

	"github.com/peedubyah/tradebot/internal/cron"
	"github.com/peedubyah/tradebot/internal/domain"
)

// maxJobIDLength bounds job ids so they stay usable as store keys and
// log fields.
const maxJobIDLength = 128

func validateAddJob(req AddJobRequest) error {
	if err := validateJobID(req.ID); err != nil {
		return err
	}
	if _, err := scheduleOf(req.Schedule, req.Interval); err != nil {
		return err
	}
	return validateFilter(req.Filter)
}

func validateUpdateJob(req UpdateJobRequest) error {
	if err := validateJobID(req.ID); err != nil {
		return err
	}
	if _, err := scheduleOf(req.Schedule, req.Interval); err != nil {
		return err
	}
	return validateFilter(req.Filter)
}

func validateJobID(id string) error {
	if id == "" {
		return fmt.Errorf("id is required")
	}
	if len(id) > maxJobIDLength {
		return fmt.Errorf("id exceeds %d characters", maxJobIDLength)
	}
	return nil
}

// scheduleOf picks the schedule string from the two request fields.
// Exactly one of schedule and interval must be set; syntax is checked
// here so a bad expression fails before reaching the registry.
func scheduleOf(schedule, interval string) (string, error) {
	switch {
	case schedule == "" && interval == "":
		return "", fmt.Errorf("schedule or interval is required")
	case schedule != "" && interval != "":
		return "", fmt.Errorf("schedule and interval are mutually exclusive")
	case interval != "":
		resolved := cron.ResolveInterval(interval)
		if resolved == interval {
			return "", fmt.Errorf("unknown interval %q", interval)
		}
		return interval, nil
	default:
		if _, err := cron.NewParser().Parse(schedule); err != nil {
			return "", fmt.Errorf("invalid schedule: %w", err)
		}
		return schedule, nil
	}
}

func validateFilter(f domain.SearchFilter) error {
	if f.PowerLevelMin < 0 || f.PowerLevelMax < 0 {
		return fmt.Errorf("power level bounds must not be negative")
	}
	if f.PowerLevelMax != 0 && f.PowerLevelMin > f.PowerLevelMax {
		return fmt.Errorf("power_level_min exceeds power_level_max")
	}
	if f.Limit < 0 {
		return fmt.Errorf("limit must not be negative")
	}
	for i, a := range f.Affixes {
		if a.ID == "" {
			return fmt.Errorf("affixes[%d]: id is required", i)
		}
		if a.Min != nil && a.Max != nil && *a.Min > *a.Max {
			return fmt.Errorf("affixes[%d]: min exceeds max", i)
		}
	}
	return nil
}
