package services

import (
	"time"

	"github.com/teambition/rrule-go"
)

// UpcomingServiceDates expands the configured service recurrence rule
// into the next count date keys strictly after from. Plan-creation UIs
// use these to offer the next service dates. Returns a validation error
// when no rule is configured or the rule cannot be parsed, and an empty
// slice when the rule is bounded and exhausted.
func (r *Registry) UpcomingServiceDates(from time.Time, count int) ([]string, error) {
	if r.cfg.ServiceRule == "" {
		return nil, validationErrf("no service recurrence rule is configured")
	}
	if count <= 0 {
		return nil, validationErrf("count must be positive")
	}

	rule, err := rrule.StrToRRule(r.cfg.ServiceRule)
	if err != nil {
		return nil, validationErrf("invalid service recurrence rule: %v", err)
	}
	rule.DTStart(from)

	dates := make([]string, 0, count)
	cursor := from
	for len(dates) < count {
		next := rule.After(cursor, false)
		if next.IsZero() {
			break
		}
		dates = append(dates, next.Format(DateKeyLayout))
		cursor = next
	}

	return dates, nil
}
