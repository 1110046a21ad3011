package normalizer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseMoney(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"", "0"},
		{"0", "0"},
		{"100", "100"},
		{"100.50", "100.5"},
		{"100,50", "100.5"},
		{"1.234,56", "1234.56"},
		{"1,234.56", "1234.56"},
		{"1.000.000", "1000000"},
		{"1,000,000", "1000000"},
		{"R$ 99,90", "99.9"},
		{"R$1.197", "1.197"},
		{"$ 42.00", "42"},
		{"  12,5  ", "12.5"},
		{"-10.00", "0"}, // negatives clamp to zero
		{"1.234.567,89", "1234567.89"},
	}

	for _, tc := range cases {
		got, err := ParseMoney(tc.in)
		require.NoError(t, err, "input %q", tc.in)
		require.Equal(t, tc.want, got.String(), "input %q", tc.in)
	}
}

func TestParseMoneyInvalid(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"abc", "n/a", "--"} {
		got, err := ParseMoney(in)
		if err == nil && !got.IsZero() {
			t.Fatalf("ParseMoney(%q) = %s, want zero or error", in, got)
		}
	}
}

func TestParseDate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in       string
		wantDate string
		wantTime string // "" means nil
	}{
		{"2024-01-01", "2024-01-01", ""},
		{"31/12/2024", "2024-12-31", ""},
		{"2024-01-01 15:30:00", "2024-01-01", "15:30:00"},
		{"2024-01-01T08:00:05", "2024-01-01", "08:00:05"},
		{"01/02/2024 09:15:00", "2024-02-01", "09:15:00"},
	}

	for _, tc := range cases {
		date, clock, err := ParseDate(tc.in)
		require.NoError(t, err, "input %q", tc.in)
		require.Equal(t, tc.wantDate, date.Format("2006-01-02"), "input %q", tc.in)
		if tc.wantTime == "" {
			require.Nil(t, clock, "input %q", tc.in)
		} else {
			require.NotNil(t, clock, "input %q", tc.in)
			require.Equal(t, tc.wantTime, *clock, "input %q", tc.in)
		}
	}

	for _, in := range []string{"", "not-a-date", "2024-13-40"} {
		if _, _, err := ParseDate(in); err == nil {
			t.Fatalf("ParseDate(%q) should fail", in)
		}
	}
}

func TestParseCount(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in          string
		want        int
		wantPresent bool
	}{
		{"", 0, false},
		{"3", 3, true},
		{"3.0", 3, true},
		{"-2", 0, true},
	}
	for _, tc := range cases {
		got, present, err := ParseCount(tc.in)
		require.NoError(t, err, "input %q", tc.in)
		require.Equal(t, tc.want, got, "input %q", tc.in)
		require.Equal(t, tc.wantPresent, present, "input %q", tc.in)
	}
}

func TestDecodeCharset(t *testing.T) {
	t.Parallel()

	if got := DecodeCharset([]byte("Comissão")); got != "Comissão" {
		t.Fatalf("utf-8 passthrough broken: %q", got)
	}
	// "ação" spelled in Latin-1 single bytes (0xE7 = ç, 0xE3 = ã).
	latin := []byte{'a', 0xE7, 0xE3, 'o'}
	if got := DecodeCharset(latin); got != "ação" {
		t.Fatalf("latin-1 decode gave %q", got)
	}
	// 0x93/0x94 are smart quotes in Windows-1252 but unassigned in ISO-8859-1;
	// the fallback must pick the Windows-1252 reading.
	quoted := []byte{0x93, 'o', 'k', 0x94}
	if got := DecodeCharset(quoted); got != "“ok”" {
		t.Fatalf("windows-1252 decode gave %q", got)
	}
}
