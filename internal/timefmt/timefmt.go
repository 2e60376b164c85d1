package timefmt

import (
	"fmt"
	"strings"
)

// FormatSpec holds the Go reference layouts for the two leading fields of
// a record: field 0 (date) and field 1 (time).
type FormatSpec struct {
	Date string
	Time string
}

// Layout returns the combined layout used to parse or render both leading
// fields as a single timestamp.
func (s FormatSpec) Layout() string {
	return s.Date + " " + s.Time
}

// Normalize translates user-facing date and time patterns like
// "mm/dd/yyyy" and "hh:mm" into a FormatSpec. Tokens are case-insensitive;
// any other letter or digit in a pattern is rejected.
func Normalize(datePattern, timePattern string) (FormatSpec, error) {
	date, err := normalizeDate(datePattern)
	if err != nil {
		return FormatSpec{}, fmt.Errorf("invalid date pattern %q: %w", datePattern, err)
	}
	tm, err := normalizeTime(timePattern)
	if err != nil {
		return FormatSpec{}, fmt.Errorf("invalid time pattern %q: %w", timePattern, err)
	}
	return FormatSpec{Date: date, Time: tm}, nil
}

// normalizeDate maps yyyy/yy, mm and dd to their Go layout equivalents.
func normalizeDate(pattern string) (string, error) {
	var b strings.Builder
	lower := strings.ToLower(pattern)

	for i := 0; i < len(lower); {
		switch {
		case strings.HasPrefix(lower[i:], "yyyy"):
			b.WriteString("2006")
			i += 4
		case strings.HasPrefix(lower[i:], "yy"):
			b.WriteString("06")
			i += 2
		case strings.HasPrefix(lower[i:], "mm"):
			b.WriteString("01")
			i += 2
		case strings.HasPrefix(lower[i:], "dd"):
			b.WriteString("02")
			i += 2
		default:
			c := lower[i]
			if isTokenChar(c) {
				return "", fmt.Errorf("unrecognized token at position %d", i)
			}
			b.WriteByte(pattern[i])
			i++
		}
	}

	layout := b.String()
	if !strings.Contains(layout, "06") || !strings.Contains(layout, "01") || !strings.Contains(layout, "02") {
		return "", fmt.Errorf("pattern must contain year, month and day")
	}
	return layout, nil
}

// normalizeTime maps hh, mm and ss to their Go layout equivalents. Hours
// are always 24-hour.
func normalizeTime(pattern string) (string, error) {
	var b strings.Builder
	lower := strings.ToLower(pattern)

	for i := 0; i < len(lower); {
		switch {
		case strings.HasPrefix(lower[i:], "hh"):
			b.WriteString("15")
			i += 2
		case strings.HasPrefix(lower[i:], "mm"):
			b.WriteString("04")
			i += 2
		case strings.HasPrefix(lower[i:], "ss"):
			b.WriteString("05")
			i += 2
		default:
			c := lower[i]
			if isTokenChar(c) {
				return "", fmt.Errorf("unrecognized token at position %d", i)
			}
			b.WriteByte(pattern[i])
			i++
		}
	}

	layout := b.String()
	if !strings.Contains(layout, "15") || !strings.Contains(layout, "04") {
		return "", fmt.Errorf("pattern must contain hour and minute")
	}
	return layout, nil
}

func isTokenChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}
