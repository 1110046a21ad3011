package repository

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func datePtr(s string) *time.Time {
	d, _ := time.Parse("2006-01-02", s)
	return &d
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestFilterWhereClause(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		filter   Filter
		want     string
		wantArgs int
	}{
		{"empty", Filter{}, "", 0},
		{
			"date range",
			Filter{From: datePtr("2024-01-01"), To: datePtr("2024-01-31")},
			" WHERE date >= $1 AND date <= $2",
			2,
		},
		{
			"product substring",
			Filter{Product: "widget"},
			" WHERE product ILIKE $1",
			1,
		},
		{
			"all fields",
			Filter{
				From: datePtr("2024-01-01"), To: datePtr("2024-01-31"),
				Product:    "w",
				MinRevenue: decPtr("10"), MaxRevenue: decPtr("100"),
				Platform: "shopee", Category: "tech", SubID: "s1",
			},
			" WHERE date >= $1 AND date <= $2 AND product ILIKE $3 AND revenue >= $4 AND revenue <= $5 AND platform = $6 AND category = $7 AND sub_id = $8",
			8,
		},
	}

	for _, tc := range cases {
		where, args := tc.filter.whereClause(1)
		if where != tc.want {
			t.Fatalf("%s: where %q, want %q", tc.name, where, tc.want)
		}
		if len(args) != tc.wantArgs {
			t.Fatalf("%s: %d args, want %d", tc.name, len(args), tc.wantArgs)
		}
	}
}

func TestFilterWhereClauseOffset(t *testing.T) {
	t.Parallel()

	// Placeholders must start where the caller says, so the clause can be
	// appended after existing parameters.
	where, args := Filter{Platform: "shopee"}.whereClause(3)
	if where != " WHERE platform = $3" {
		t.Fatalf("where %q", where)
	}
	if len(args) != 1 {
		t.Fatalf("args %d", len(args))
	}
}

func TestFilterProductWildcard(t *testing.T) {
	t.Parallel()

	_, args := Filter{Product: "wid"}.whereClause(1)
	if args[0] != "%wid%" {
		t.Fatalf("product arg %v", args[0])
	}
}

func TestCapProducts(t *testing.T) {
	t.Parallel()

	products := []ProductTotal{
		{Product: "A", Revenue: decimal.RequireFromString("300"), Cost: decimal.RequireFromString("50"), Profit: decimal.RequireFromString("250"), Rows: 3},
		{Product: "B", Revenue: decimal.RequireFromString("200"), Cost: decimal.RequireFromString("40"), Profit: decimal.RequireFromString("160"), Rows: 2},
		{Product: "C", Revenue: decimal.RequireFromString("100"), Cost: decimal.RequireFromString("30"), Profit: decimal.RequireFromString("70"), Rows: 1},
		{Product: "D", Revenue: decimal.RequireFromString("50"), Cost: decimal.RequireFromString("20"), Profit: decimal.RequireFromString("30"), Rows: 1},
	}

	head, other := capProducts(products, 2)
	if len(head) != 2 || head[0].Product != "A" || head[1].Product != "B" {
		t.Fatalf("head %+v", head)
	}
	if other == nil {
		t.Fatal("expected other bucket")
	}
	if other.Revenue.String() != "150" || other.Rows != 2 {
		t.Fatalf("other %+v", other)
	}
	if other.Profit.String() != "100" {
		t.Fatalf("other profit %s", other.Profit)
	}
}

func TestCapProductsNoTail(t *testing.T) {
	t.Parallel()

	products := []ProductTotal{
		{Product: "A", Revenue: decimal.RequireFromString("1")},
	}
	head, other := capProducts(products, 10)
	if len(head) != 1 || other != nil {
		t.Fatalf("head %d other %v", len(head), other)
	}

	// k <= 0 disables capping.
	head, other = capProducts(products, 0)
	if len(head) != 1 || other != nil {
		t.Fatal("k=0 must disable capping")
	}
}
