// Package duration renders accumulated activity time for humans.
package duration

import (
	"fmt"
	"strings"
)

// Format renders seconds as "1h 2m 3s", omitting zero units.
// Fractional seconds are truncated and negative input renders as "0s".
func Format(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int64(seconds)

	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60

	parts := make([]string, 0, 3)
	if h > 0 {
		parts = append(parts, fmt.Sprintf("%dh", h))
	}
	if m > 0 {
		parts = append(parts, fmt.Sprintf("%dm", m))
	}
	if s > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%ds", s))
	}

	return strings.Join(parts, " ")
}

// Hours converts a number of hours to seconds.
func Hours(h float64) float64 {
	return h * 3600
}
