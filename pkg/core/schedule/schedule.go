// Package schedule provides 12-hour clock string arithmetic for service
// program time slots, e.g. "7:05am" and periods like "7:00am ~ 7:30am".
package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// PeriodSeparator joins the start and end times of a program slot.
const PeriodSeparator = " ~ "

// Fallback times used when a period string is incomplete, so partially
// entered slots never break downstream consumers.
const (
	DefaultStartTime = "7:00am"
	DefaultEndTime   = "7:05am"
)

var timePattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})(am|pm)$`)

// TimeToMinutes parses a clock string like "7:05am" into minutes since
// midnight. 12am maps to 0 and 12pm to 720. Malformed input returns 0;
// callers needing validation use IsValidTime instead.
func TimeToMinutes(t string) int {
	minutes, _ := parseTime(t)
	return minutes
}

// IsValidTime reports whether t parses as a 12-hour clock string.
func IsValidTime(t string) bool {
	_, ok := parseTime(t)
	return ok
}

func parseTime(t string) (int, bool) {
	m := timePattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(t)))
	if m == nil {
		return 0, false
	}

	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	if hour < 1 || hour > 12 || minute > 59 {
		return 0, false
	}

	// 12 is the zero hour of its half of the day.
	if hour == 12 {
		hour = 0
	}
	if m[3] == "pm" {
		hour += 12
	}

	return hour*60 + minute, true
}

// MinutesToTime is the inverse of TimeToMinutes. The total is normalized
// modulo 1440, wrapping negative values forward, so the function never
// fails on out-of-range input.
func MinutesToTime(total int) string {
	total %= 24 * 60
	if total < 0 {
		total += 24 * 60
	}

	hour := total / 60
	minute := total % 60

	meridiem := "am"
	if hour >= 12 {
		meridiem = "pm"
		hour -= 12
	}
	if hour == 0 {
		hour = 12
	}

	return fmt.Sprintf("%d:%02d%s", hour, minute, meridiem)
}

// AddMinutes shifts a clock string forward (or backward, for negative
// delta) by the given number of minutes, wrapping around midnight.
func AddMinutes(t string, delta int) string {
	return MinutesToTime(TimeToMinutes(t) + delta)
}

// SplitPeriod splits a period string into its start and end times. A
// missing end segment falls back to DefaultEndTime and a missing start
// segment to DefaultStartTime.
func SplitPeriod(period string) (start, end string) {
	parts := strings.SplitN(period, PeriodSeparator, 2)

	start = parts[0]
	if start == "" {
		start = DefaultStartTime
	}

	if len(parts) == 2 && parts[1] != "" {
		end = parts[1]
	} else {
		end = DefaultEndTime
	}

	return start, end
}

// JoinPeriod is the inverse of SplitPeriod.
func JoinPeriod(start, end string) string {
	return start + PeriodSeparator + end
}
