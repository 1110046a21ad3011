package api

import (
	"net/http"

	"github.com/shopspring/decimal"

	"marketdash/internal/apperr"
	"marketdash/internal/models"
	"marketdash/internal/repository"
)

func parseFilter(r *http.Request) (repository.Filter, error) {
	var f repository.Filter
	var err error
	if f.From, err = queryDate(r, "start"); err != nil {
		return f, err
	}
	if f.To, err = queryDate(r, "end"); err != nil {
		return f, err
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return f, apperr.New(apperr.Validation, "end date before start date")
	}
	f.Product = r.URL.Query().Get("product")
	f.Platform = r.URL.Query().Get("platform")
	f.Category = r.URL.Query().Get("category")
	f.SubID = r.URL.Query().Get("sub_id")

	for name, dst := range map[string]**decimal.Decimal{
		"min_revenue": &f.MinRevenue,
		"max_revenue": &f.MaxRevenue,
	} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		d, derr := decimal.NewFromString(raw)
		if derr != nil {
			return f, apperr.Newf(apperr.Validation, "invalid %s %q", name, raw)
		}
		*dst = &d
	}
	return f, nil
}

// handleDashboard serves KPIs plus per-day and per-product aggregations,
// cached per owner and filter set.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}

	cacheKey := r.URL.RawQuery
	if body, ok := s.cache.Get(r.Context(), owner, cacheKey); ok {
		w.Header().Set("X-Cache", "HIT")
		w.Write(body)
		return
	}

	dash, err := s.store.QueryDashboard(r.Context(), owner, f, s.cfg.TopProducts)
	if err != nil {
		writeError(w, err)
		return
	}
	clicks, err := s.store.QueryClicks(r.Context(), owner, f.From, f.To)
	if err != nil {
		writeError(w, err)
		return
	}

	body := renderDashboard(dash, clicks)
	payload := s.cache.Set(r.Context(), owner, cacheKey, body)
	w.Write(payload)
}

// renderDashboard shapes the response: decimals become cent-rounded strings
// here and nowhere earlier.
func renderDashboard(dash *repository.Dashboard, clicks *repository.ClickStats) map[string]interface{} {
	perDay := make([]map[string]interface{}, 0, len(dash.PerDay))
	for _, d := range dash.PerDay {
		perDay = append(perDay, map[string]interface{}{
			"date":    d.Date.Format(models.DateOnly),
			"revenue": money(d.Revenue),
			"cost":    money(d.Cost),
			"profit":  money(d.Profit),
			"rows":    d.Rows,
		})
	}

	products := make([]map[string]interface{}, 0, len(dash.Products)+1)
	for _, p := range dash.Products {
		products = append(products, productEntry(p))
	}
	if dash.Other != nil {
		products = append(products, productEntry(*dash.Other))
	}

	clicksPerDay := make([]map[string]interface{}, 0, len(clicks.PerDay))
	for _, c := range clicks.PerDay {
		clicksPerDay = append(clicksPerDay, map[string]interface{}{
			"date":   c.Date.Format(models.DateOnly),
			"clicks": c.Clicks,
		})
	}
	channels := make([]map[string]interface{}, 0, len(clicks.PerChannel))
	for _, c := range clicks.PerChannel {
		channels = append(channels, map[string]interface{}{
			"channel": c.Channel,
			"clicks":  c.Clicks,
		})
	}

	return map[string]interface{}{
		"kpis": map[string]interface{}{
			"revenue":    money(dash.KPIs.Revenue),
			"cost":       money(dash.KPIs.Cost),
			"commission": money(dash.KPIs.Commission),
			"profit":     money(dash.KPIs.Profit),
			"rows":       dash.KPIs.Rows,
			"orders":     dash.KPIs.Orders,
		},
		"per_day":     perDay,
		"per_product": products,
		"clicks": map[string]interface{}{
			"total":       clicks.Total,
			"per_day":     clicksPerDay,
			"per_channel": channels,
		},
	}
}

func productEntry(p repository.ProductTotal) map[string]interface{} {
	return map[string]interface{}{
		"product": p.Product,
		"revenue": money(p.Revenue),
		"cost":    money(p.Cost),
		"profit":  money(p.Profit),
		"rows":    p.Rows,
	}
}
