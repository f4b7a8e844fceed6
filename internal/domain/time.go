package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MaxMinutes is the largest minute value that converts to a numeric time.
// Anything above it is well-formed input that scores as a DNF.
const MaxMinutes = 10

// dnfLiteral is the textual form of a DNF attempt, accepted case-insensitively.
const dnfLiteral = "DNF"

var timePattern = regexp.MustCompile(`^(\d{1,2})\.(\d{1,2})\.(\d{1,2})$`)

// Time is a single timed value: an attempt, an average or a best single.
// A Time is either a non-negative duration in milliseconds or a DNF marker;
// Millis is meaningless when DNF is set.
type Time struct {
	// Millis is the duration in milliseconds.
	Millis int64 `json:"millis" msgpack:"ms"`

	// DNF marks a value with no numeric time ("did not finish").
	DNF bool `json:"dnf" msgpack:"dnf"`
}

// DNFTime is the sentinel for a did-not-finish value.
var DNFTime = Time{DNF: true}

// Millis constructs a numeric Time.
func Millis(ms int64) Time { return Time{Millis: ms} }

// String renders the time for display, see FormatTime.
func (t Time) String() string { return FormatTime(t) }

// ValidateTimeFormat reports whether value is syntactically acceptable
// attempt input: "DNF" in any case, or M.S.C with one or two digits per
// group. Minutes above MaxMinutes are accepted here even though ParseTime
// turns them into a DNF; range checks on seconds and centiseconds only
// apply when minutes are within MaxMinutes.
func ValidateTimeFormat(value string) bool {
	trimmed := strings.TrimSpace(value)
	if strings.EqualFold(trimmed, dnfLiteral) {
		return true
	}

	minutes, seconds, centis, ok := splitTime(trimmed)
	if !ok {
		return false
	}
	if minutes > MaxMinutes {
		return true
	}
	return seconds < 60 && centis <= 99
}

// ParseTime converts attempt input into a Time.
//
// "DNF" (any case) and any well-formed value with more than MaxMinutes
// minutes yield DNFTime. Otherwise the value must match M.S.C with seconds
// in [0,59] and centiseconds in [0,99], and converts to
// (minutes*60+seconds)*1000 + centiseconds*10 milliseconds.
//
// Returns ErrInvalidTimeFormat for malformed input.
func ParseTime(value string) (Time, error) {
	trimmed := strings.TrimSpace(value)
	if strings.EqualFold(trimmed, dnfLiteral) {
		return DNFTime, nil
	}

	minutes, seconds, centis, ok := splitTime(trimmed)
	if !ok {
		return Time{}, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, value)
	}
	if minutes > MaxMinutes {
		return DNFTime, nil
	}
	if seconds >= 60 || centis > 99 {
		return Time{}, fmt.Errorf("%w: %q out of range", ErrInvalidTimeFormat, value)
	}

	return Millis((minutes*60+seconds)*1000 + centis*10), nil
}

// ParseAttempts parses every raw attempt and reports all malformed values
// at once. The returned error wraps ErrInvalidTimeFormat and is a
// *ValidationError listing each offending attempt by its 1-based index.
func ParseAttempts(raw []string) ([]Time, error) {
	verr := NewValidationError("attempts")
	verr.Err = ErrInvalidTimeFormat

	attempts := make([]Time, 0, len(raw))
	for i, value := range raw {
		if !ValidateTimeFormat(value) {
			verr.AddError(fmt.Sprintf("attempt %d: invalid time format %q", i+1, value))
			continue
		}
		t, err := ParseTime(value)
		if err != nil {
			verr.AddError(fmt.Sprintf("attempt %d: %v", i+1, err))
			continue
		}
		attempts = append(attempts, t)
	}

	if verr.HasErrors() {
		return nil, verr
	}
	return attempts, nil
}

// FormatTime renders t as M:SS.CC when it has whole minutes, S.CC
// otherwise, and "DNF" for a DNF value. Sub-centisecond precision is
// truncated.
func FormatTime(t Time) string {
	if t.DNF {
		return dnfLiteral
	}

	totalSeconds := t.Millis / 1000
	minutes, seconds := totalSeconds/60, totalSeconds%60
	centis := (t.Millis % 1000) / 10

	if minutes > 0 {
		return fmt.Sprintf("%d:%02d.%02d", minutes, seconds, centis)
	}
	return fmt.Sprintf("%d.%02d", seconds, centis)
}

// splitTime extracts the three numeric groups of an M.S.C value.
func splitTime(value string) (minutes, seconds, centis int64, ok bool) {
	m := timePattern.FindStringSubmatch(value)
	if m == nil {
		return 0, 0, 0, false
	}

	// The pattern guarantees at most two ASCII digits per group.
	minutes, _ = strconv.ParseInt(m[1], 10, 64)
	seconds, _ = strconv.ParseInt(m[2], 10, 64)
	centis, _ = strconv.ParseInt(m[3], 10, 64)
	return minutes, seconds, centis, true
}
