package normalizer

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"
)

// DecodeCharset returns the input as UTF-8 text. UTF-8 input passes through;
// anything else is decoded as Windows-1252, a superset of the ISO-8859-1 and
// Latin-1 exports seen in the wild. The decode maps every byte, so it cannot
// fail.
func DecodeCharset(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	decoded, _ := charmap.Windows1252.NewDecoder().Bytes(raw)
	return string(decoded)
}

// ParseMoney parses a locale-flexible money value into a decimal. Currency
// symbols and whitespace are stripped. When both separators appear, the
// rightmost one is the decimal separator and the other marks thousands. A
// lone comma is decimal (BR convention); a lone dot is decimal unless it
// repeats, in which case it marks thousands. Empty input is zero. Negative
// amounts clamp to zero, matching the upstream report cleaners.
func ParseMoney(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}

	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' || r == '-' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" || cleaned == "-" {
		return decimal.Zero, nil
	}

	lastComma := strings.LastIndex(cleaned, ",")
	lastDot := strings.LastIndex(cleaned, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			// 1.234,56
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			// 1,234.56
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(cleaned, ",") > 1 {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		} else {
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		}
	case lastDot >= 0:
		if strings.Count(cleaned, ".") > 1 {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
		}
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unparseable number %q", s)
	}
	if d.IsNegative() {
		return decimal.Zero, nil
	}
	return d, nil
}

// ParseCount parses an integer count, tolerating decimal notation ("3.0").
// Empty input returns (0, true, nil) with present=false.
func ParseCount(s string) (n int, present bool, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false, nil
	}
	if v, err := strconv.Atoi(s); err == nil {
		if v < 0 {
			v = 0
		}
		return v, true, nil
	}
	d, perr := ParseMoney(s)
	if perr != nil {
		return 0, true, fmt.Errorf("unparseable count %q", s)
	}
	return int(d.IntPart()), true, nil
}

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006", // day first, per the BR exports
	"2006/01/02",
	"02-01-2006",
}

var dateTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"02/01/2006 15:04:05",
	"2006-01-02 15:04",
	"02/01/2006 15:04",
}

// ParseDate parses a date or combined date-time value. When the value
// carries a time component it is returned separately in "15:04:05" form.
func ParseDate(s string) (date time.Time, clock *string, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		if t, perr := time.Parse(layout, s); perr == nil {
			return t, nil, nil
		}
	}
	for _, layout := range dateTimeLayouts {
		if t, perr := time.Parse(layout, s); perr == nil {
			c := t.Format("15:04:05")
			day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return day, &c, nil
		}
	}
	return time.Time{}, nil, fmt.Errorf("unparseable date %q", s)
}

var clockLayouts = []string{"15:04:05", "15:04", "3:04:05 PM", "3:04 PM"}

// ParseClock parses a standalone time-of-day value.
func ParseClock(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			c := t.Format("15:04:05")
			return &c
		}
	}
	return nil
}
