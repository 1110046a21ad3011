package api

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"marketdash/internal/repository"
)

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func sampleDashboard() *repository.Dashboard {
	return &repository.Dashboard{
		KPIs: repository.KPIs{
			Revenue:    decimal.RequireFromString("300"),
			Cost:       decimal.RequireFromString("120"),
			Commission: decimal.RequireFromString("30"),
			Profit:     decimal.RequireFromString("150"),
			Rows:       2,
			Orders:     2,
		},
		PerDay: []repository.DayTotal{
			{Date: day("2024-01-01"), Revenue: decimal.RequireFromString("300"), Cost: decimal.RequireFromString("120"), Profit: decimal.RequireFromString("150"), Rows: 2},
		},
		Products: []repository.ProductTotal{
			{Product: "P2", Revenue: decimal.RequireFromString("200"), Cost: decimal.RequireFromString("80"), Profit: decimal.RequireFromString("100"), Rows: 1},
			{Product: "P1", Revenue: decimal.RequireFromString("100"), Cost: decimal.RequireFromString("40"), Profit: decimal.RequireFromString("50"), Rows: 1},
		},
	}
}

func TestDashboard(t *testing.T) {
	f := newFixture(t, nil)
	f.store.dash = sampleDashboard()
	f.store.clicks = &repository.ClickStats{
		Total: 12,
		PerDay: []repository.ClickDay{
			{Date: day("2024-01-01"), Clicks: 12},
		},
		PerChannel: []repository.ChannelTotal{
			{Channel: "organic", Clicks: 12},
		},
	}

	w := f.do(t, "GET", "/api/v1/dashboard", "")
	wantStatus(t, w, http.StatusOK)

	var body struct {
		KPIs       map[string]interface{}   `json:"kpis"`
		PerDay     []map[string]interface{} `json:"per_day"`
		PerProduct []map[string]interface{} `json:"per_product"`
		Clicks     struct {
			Total  int64                    `json:"total"`
			PerDay []map[string]interface{} `json:"per_day"`
		} `json:"clicks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	require.Equal(t, "300.00", body.KPIs["revenue"])
	require.Equal(t, "150.00", body.KPIs["profit"])
	require.Equal(t, float64(2), body.KPIs["orders"])

	require.Len(t, body.PerDay, 1)
	require.Equal(t, "2024-01-01", body.PerDay[0]["date"])

	require.Len(t, body.PerProduct, 2)
	require.Equal(t, "P2", body.PerProduct[0]["product"])
	require.Equal(t, "200.00", body.PerProduct[0]["revenue"])

	require.Equal(t, int64(12), body.Clicks.Total)
	require.Equal(t, "2024-01-01", body.Clicks.PerDay[0]["date"])
}

func TestDashboardOtherBucket(t *testing.T) {
	f := newFixture(t, nil)
	dash := sampleDashboard()
	dash.Other = &repository.ProductTotal{
		Product: "other",
		Revenue: decimal.RequireFromString("55.5"),
		Rows:    9,
	}
	f.store.dash = dash

	w := f.do(t, "GET", "/api/v1/dashboard", "")
	wantStatus(t, w, http.StatusOK)

	var body struct {
		PerProduct []map[string]interface{} `json:"per_product"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.PerProduct, 3)
	last := body.PerProduct[2]
	require.Equal(t, "other", last["product"])
	require.Equal(t, "55.50", last["revenue"])
}

func TestDashboardFilterParsing(t *testing.T) {
	f := newFixture(t, nil)
	f.store.dash = sampleDashboard()

	w := f.do(t, "GET", "/api/v1/dashboard?start=2024-01-01&end=2024-01-31&product=widget&min_revenue=10.50&platform=shopee&sub_id=abc", "")
	wantStatus(t, w, http.StatusOK)

	got := f.store.gotFilter
	require.NotNil(t, got.From)
	require.Equal(t, day("2024-01-01"), *got.From)
	require.NotNil(t, got.To)
	require.Equal(t, "widget", got.Product)
	require.NotNil(t, got.MinRevenue)
	require.True(t, got.MinRevenue.Equal(decimal.RequireFromString("10.50")))
	require.Nil(t, got.MaxRevenue)
	require.Equal(t, "shopee", got.Platform)
	require.Equal(t, "abc", got.SubID)
	require.Equal(t, 10, f.store.gotTopK)
}

func TestDashboardBadDate(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, "GET", "/api/v1/dashboard?start=01-02-2024", "")
	wantStatus(t, w, http.StatusBadRequest)
}

func TestDashboardEndBeforeStart(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, "GET", "/api/v1/dashboard?start=2024-02-01&end=2024-01-01", "")
	wantStatus(t, w, http.StatusBadRequest)
}

func TestDashboardBadMinRevenue(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, "GET", "/api/v1/dashboard?min_revenue=ten", "")
	wantStatus(t, w, http.StatusBadRequest)
}
