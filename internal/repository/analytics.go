package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Filter narrows dashboard aggregations. All set fields compose as AND; the
// zero value means every row the owner has.
type Filter struct {
	From       *time.Time
	To         *time.Time
	Product    string // case-insensitive substring
	MinRevenue *decimal.Decimal
	MaxRevenue *decimal.Decimal
	Platform   string
	Category   string
	SubID      string
}

// whereClause renders the filter as SQL starting at placeholder $startArg.
// Pure; exercised directly by tests.
func (f Filter) whereClause(startArg int) (string, []interface{}) {
	var conds []string
	var args []interface{}
	next := func() int { return startArg + len(args) }

	if f.From != nil {
		conds = append(conds, fmt.Sprintf("date >= $%d", next()))
		args = append(args, *f.From)
	}
	if f.To != nil {
		conds = append(conds, fmt.Sprintf("date <= $%d", next()))
		args = append(args, *f.To)
	}
	if f.Product != "" {
		conds = append(conds, fmt.Sprintf("product ILIKE $%d", next()))
		args = append(args, "%"+f.Product+"%")
	}
	if f.MinRevenue != nil {
		conds = append(conds, fmt.Sprintf("revenue >= $%d", next()))
		args = append(args, *f.MinRevenue)
	}
	if f.MaxRevenue != nil {
		conds = append(conds, fmt.Sprintf("revenue <= $%d", next()))
		args = append(args, *f.MaxRevenue)
	}
	if f.Platform != "" {
		conds = append(conds, fmt.Sprintf("platform = $%d", next()))
		args = append(args, f.Platform)
	}
	if f.Category != "" {
		conds = append(conds, fmt.Sprintf("category = $%d", next()))
		args = append(args, f.Category)
	}
	if f.SubID != "" {
		conds = append(conds, fmt.Sprintf("sub_id = $%d", next()))
		args = append(args, f.SubID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// KPIs are the headline totals over the filtered set.
type KPIs struct {
	Revenue    decimal.Decimal `json:"revenue"`
	Cost       decimal.Decimal `json:"cost"`
	Commission decimal.Decimal `json:"commission"`
	Profit     decimal.Decimal `json:"profit"`
	Rows       int64           `json:"rows"`
	Orders     int64           `json:"orders"`
}

// DayTotal is one per-day aggregation entry. Days without rows are omitted.
type DayTotal struct {
	Date    time.Time       `json:"-"`
	Revenue decimal.Decimal `json:"revenue"`
	Cost    decimal.Decimal `json:"cost"`
	Profit  decimal.Decimal `json:"profit"`
	Rows    int64           `json:"rows"`
}

// ProductTotal is one per-product aggregation entry.
type ProductTotal struct {
	Product string          `json:"product"`
	Revenue decimal.Decimal `json:"revenue"`
	Cost    decimal.Decimal `json:"cost"`
	Profit  decimal.Decimal `json:"profit"`
	Rows    int64           `json:"rows"`
}

// Dashboard bundles every aggregation computed in one snapshot.
type Dashboard struct {
	KPIs     KPIs
	PerDay   []DayTotal
	Products []ProductTotal
	Other    *ProductTotal
}

func scanDec(dst *decimal.Decimal, raw string) error {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("parse decimal %q: %w", raw, err)
	}
	*dst = d
	return nil
}

// QueryDashboard computes KPIs, per-day and per-product aggregations over
// the filtered row set inside a single transaction, so the three views are
// one consistent snapshot.
func (r *Repository) QueryDashboard(ctx context.Context, ownerID int64, f Filter, topK int) (*Dashboard, error) {
	where, args := f.whereClause(1)
	out := &Dashboard{}

	err := r.withTenant(ctx, ownerID, func(tx pgx.Tx) error {
		var rev, cost, com, profit string
		err := tx.QueryRow(ctx, `
			SELECT COALESCE(SUM(revenue), 0)::text, COALESCE(SUM(cost), 0)::text,
				COALESCE(SUM(commission), 0)::text, COALESCE(SUM(profit), 0)::text,
				COUNT(*), COUNT(DISTINCT NULLIF(order_id, ''))
			FROM transaction_rows`+where,
			args...,
		).Scan(&rev, &cost, &com, &profit, &out.KPIs.Rows, &out.KPIs.Orders)
		if err != nil {
			return fmt.Errorf("kpi query: %w", err)
		}
		for _, pair := range []struct {
			dst *decimal.Decimal
			raw string
		}{
			{&out.KPIs.Revenue, rev}, {&out.KPIs.Cost, cost},
			{&out.KPIs.Commission, com}, {&out.KPIs.Profit, profit},
		} {
			if err := scanDec(pair.dst, pair.raw); err != nil {
				return err
			}
		}

		rows, err := tx.Query(ctx, `
			SELECT date, SUM(revenue)::text, SUM(cost)::text, SUM(profit)::text, COUNT(*)
			FROM transaction_rows`+where+`
			GROUP BY date ORDER BY date ASC`,
			args...)
		if err != nil {
			return fmt.Errorf("per-day query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var d DayTotal
			var rev, cost, profit string
			if err := rows.Scan(&d.Date, &rev, &cost, &profit, &d.Rows); err != nil {
				return err
			}
			if err := scanDec(&d.Revenue, rev); err != nil {
				return err
			}
			if err := scanDec(&d.Cost, cost); err != nil {
				return err
			}
			if err := scanDec(&d.Profit, profit); err != nil {
				return err
			}
			out.PerDay = append(out.PerDay, d)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		rows.Close()

		rows, err = tx.Query(ctx, `
			SELECT product, SUM(revenue)::text, SUM(cost)::text, SUM(profit)::text, COUNT(*)
			FROM transaction_rows`+where+`
			GROUP BY product ORDER BY SUM(revenue) DESC, product ASC`,
			args...)
		if err != nil {
			return fmt.Errorf("per-product query: %w", err)
		}
		defer rows.Close()
		var products []ProductTotal
		for rows.Next() {
			var p ProductTotal
			var rev, cost, profit string
			if err := rows.Scan(&p.Product, &rev, &cost, &profit, &p.Rows); err != nil {
				return err
			}
			if err := scanDec(&p.Revenue, rev); err != nil {
				return err
			}
			if err := scanDec(&p.Cost, cost); err != nil {
				return err
			}
			if err := scanDec(&p.Profit, profit); err != nil {
				return err
			}
			products = append(products, p)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		out.Products, out.Other = capProducts(products, topK)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// capProducts keeps the first k entries and folds the tail into an "other"
// bucket. Input is already sorted by revenue desc, name asc.
func capProducts(products []ProductTotal, k int) ([]ProductTotal, *ProductTotal) {
	if k <= 0 || len(products) <= k {
		return products, nil
	}
	head := products[:k]
	other := ProductTotal{
		Product: "other",
		Revenue: decimal.Zero,
		Cost:    decimal.Zero,
		Profit:  decimal.Zero,
	}
	for _, p := range products[k:] {
		other.Revenue = other.Revenue.Add(p.Revenue)
		other.Cost = other.Cost.Add(p.Cost)
		other.Profit = other.Profit.Add(p.Profit)
		other.Rows += p.Rows
	}
	return head, &other
}

// ClickDay is one per-day click aggregation entry.
type ClickDay struct {
	Date   time.Time `json:"-"`
	Clicks int64     `json:"clicks"`
}

// ChannelTotal is one per-channel click aggregation entry.
type ChannelTotal struct {
	Channel string `json:"channel"`
	Clicks  int64  `json:"clicks"`
}

// ClickStats aggregates the owner's click rows, optionally date-bounded.
type ClickStats struct {
	Total      int64
	PerDay     []ClickDay
	PerChannel []ChannelTotal
}

func (r *Repository) QueryClicks(ctx context.Context, ownerID int64, from, to *time.Time) (*ClickStats, error) {
	var conds []string
	var args []interface{}
	if from != nil {
		args = append(args, *from)
		conds = append(conds, fmt.Sprintf("date >= $%d", len(args)))
	}
	if to != nil {
		args = append(args, *to)
		conds = append(conds, fmt.Sprintf("date <= $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	out := &ClickStats{}
	err := r.withTenant(ctx, ownerID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT date, COALESCE(SUM(clicks), 0)
			FROM click_rows`+where+`
			GROUP BY date ORDER BY date ASC`,
			args...)
		if err != nil {
			return fmt.Errorf("clicks per-day query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var d ClickDay
			if err := rows.Scan(&d.Date, &d.Clicks); err != nil {
				return err
			}
			out.Total += d.Clicks
			out.PerDay = append(out.PerDay, d)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		rows.Close()

		rows, err = tx.Query(ctx, `
			SELECT channel, COALESCE(SUM(clicks), 0)
			FROM click_rows`+where+`
			GROUP BY channel ORDER BY SUM(clicks) DESC, channel ASC`,
			args...)
		if err != nil {
			return fmt.Errorf("clicks per-channel query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var c ChannelTotal
			if err := rows.Scan(&c.Channel, &c.Clicks); err != nil {
				return err
			}
			out.PerChannel = append(out.PerChannel, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
