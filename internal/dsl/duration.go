package dsl

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/degov/workflow-core/internal/kerrors"
)

// ParseISO8601Duration parses the subset of ISO-8601 durations the DSL
// uses for timeout-equivalent fields (§6.1): PnYnMnDTnHnMnS, with years
// treated as 365 days and months as 30 days since the calendar-accurate
// variants are never actually needed for a wall-clock timeout.
func ParseISO8601Duration(s string) (time.Duration, error) {
	orig := s
	if len(s) == 0 || s[0] != 'P' {
		return 0, kerrors.NewValidationError("duration", fmt.Sprintf("%q must start with P", orig))
	}
	s = s[1:]

	datePart, timePart, hasTime := strings.Cut(s, "T")
	if !hasTime {
		datePart = s
		timePart = ""
	}

	var total time.Duration
	var err error

	total, err = accumulate(total, datePart, map[byte]time.Duration{
		'Y': 365 * 24 * time.Hour,
		'M': 30 * 24 * time.Hour,
		'D': 24 * time.Hour,
		'W': 7 * 24 * time.Hour,
	})
	if err != nil {
		return 0, kerrors.NewValidationError("duration", fmt.Sprintf("%q: %s", orig, err))
	}

	total, err = accumulate(total, timePart, map[byte]time.Duration{
		'H': time.Hour,
		'M': time.Minute,
		'S': time.Second,
	})
	if err != nil {
		return 0, kerrors.NewValidationError("duration", fmt.Sprintf("%q: %s", orig, err))
	}

	if datePart == "" && timePart == "" {
		return 0, kerrors.NewValidationError("duration", fmt.Sprintf("%q has no date or time components", orig))
	}
	return total, nil
}

func accumulate(total time.Duration, part string, units map[byte]time.Duration) (time.Duration, error) {
	start := 0
	for i := 0; i < len(part); i++ {
		c := part[i]
		if c < '0' || c > '9' {
			if i == start {
				return 0, fmt.Errorf("expected digits before unit %q", string(c))
			}
			unit, ok := units[c]
			if !ok {
				return 0, fmt.Errorf("unsupported unit %q", string(c))
			}
			n, err := strconv.Atoi(part[start:i])
			if err != nil {
				return 0, fmt.Errorf("invalid numeric component %q", part[start:i])
			}
			total += time.Duration(n) * unit
			start = i + 1
		}
	}
	if start != len(part) {
		return 0, fmt.Errorf("trailing digits %q without a unit", part[start:])
	}
	return total, nil
}
