package ingester

import (
	"strings"
	"testing"
)

func TestSplitCSVLineBoundaries(t *testing.T) {
	t.Parallel()

	header := "date,product,revenue\n"
	var body strings.Builder
	for i := 0; i < 10; i++ {
		body.WriteString("2024-01-01,P,100\n")
	}
	text := header + body.String()

	// Each data line is 17 bytes; a 40-byte budget fits two lines per chunk.
	parts, err := splitCSV(text, 40)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(parts) != 5 {
		t.Fatalf("got %d parts, want 5", len(parts))
	}

	totalLines := 0
	for i, p := range parts {
		if !strings.HasPrefix(p.data, header) {
			t.Fatalf("part %d missing header", i)
		}
		if !strings.HasSuffix(p.data, "\n") {
			t.Fatalf("part %d not newline-terminated", i)
		}
		totalLines += strings.Count(p.data, "\n") - 1 // minus header
	}
	if totalLines != 10 {
		t.Fatalf("parts carry %d data lines, want 10", totalLines)
	}
}

func TestSplitCSVHeaderOnly(t *testing.T) {
	t.Parallel()

	for _, text := range []string{"date,product\n", "date,product"} {
		parts, err := splitCSV(text, 100)
		if err != nil {
			t.Fatalf("split %q: %v", text, err)
		}
		if len(parts) != 1 || parts[0].data != "date,product\n" {
			t.Fatalf("split %q gave %+v", text, parts)
		}
	}
}

func TestSplitCSVEmpty(t *testing.T) {
	t.Parallel()

	if _, err := splitCSV("", 100); err == nil {
		t.Fatal("empty input must fail")
	}
	if _, err := splitCSV("\n\n", 100); err == nil {
		t.Fatal("blank header must fail")
	}
}

func TestSplitCSVOversizedLine(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 100)
	text := "h\n" + long + "\nshort\n"
	parts, err := splitCSV(text, 10)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	// The oversized line stays whole in its own chunk.
	if !strings.Contains(parts[0].data, long) {
		t.Fatal("long line was cut")
	}
}
