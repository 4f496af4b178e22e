package utils

import (
	"fmt"
	"strings"
	"time"
)

// PickFirstNonEmpty picks the first non-empty value from a list of strings.
// If all values are empty, returns the empty string.
func PickFirstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

// ParseSince turns a --since value into a lookback window. It accepts a Go
// duration ("15m", "2h"), a day count ("3d") or an RFC3339 timestamp.
func ParseSince(s string, now time.Time) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if strings.HasSuffix(s, "d") {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err == nil && days > 0 {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("since must not be negative: %s", s)
		}
		return d, nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("invalid since %q: want a duration like 15m or an RFC3339 timestamp", s)
	}
	if ts.After(now) {
		return 0, fmt.Errorf("since %s is in the future", s)
	}
	return now.Sub(ts), nil
}

// ValidateFunctionName checks a Lambda function name: 1-64 characters of
// letters, digits, hyphens and underscores.
func ValidateFunctionName(name string) error {
	if len(name) < 1 || len(name) > 64 {
		return fmt.Errorf("function name must be between 1 and 64 characters")
	}
	for _, c := range name {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_') {
			return fmt.Errorf("function name %q can only contain letters, digits, hyphens and underscores", name)
		}
	}
	return nil
}

// FormatAge renders the time since t the way tables show it: 45s, 12m, 3h, 2d.
func FormatAge(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
