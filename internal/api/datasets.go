package api

import (
	"net/http"

	"marketdash/internal/models"
)

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	typ := models.DatasetType(r.URL.Query().Get("type"))
	datasets, err := s.store.ListDatasets(r.Context(), ownerFrom(r), typ)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"datasets": datasets})
}

func (s *Server) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	owner := ownerFrom(r)
	if err := s.store.DeleteDataset(r.Context(), owner, id); err != nil {
		writeError(w, err)
		return
	}
	s.cache.InvalidateOwner(r.Context(), owner)
	writeJSON(w, map[string]string{"status": "deleted"})
}

// handleListRows pages through a dataset's committed rows. Money fields are
// re-encoded as cent-rounded strings at this boundary.
func (s *Server) handleListRows(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	owner := ownerFrom(r)
	dataset, err := s.store.GetDataset(r.Context(), owner, id)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, offset := parseLimitOffset(r)

	if dataset.Type == models.DatasetClick {
		rows, err := s.store.ListClickRows(r.Context(), owner, id, limit, offset)
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]map[string]interface{}, 0, len(rows))
		for i := range rows {
			out = append(out, clickRowView(&rows[i]))
		}
		writeJSON(w, map[string]interface{}{"rows": out, "limit": limit, "offset": offset})
		return
	}

	rows, err := s.store.ListTransactionRows(r.Context(), owner, id, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]interface{}, 0, len(rows))
	for i := range rows {
		out = append(out, transactionRowView(&rows[i]))
	}
	writeJSON(w, map[string]interface{}{"rows": out, "limit": limit, "offset": offset})
}

func transactionRowView(t *models.TransactionRow) map[string]interface{} {
	v := map[string]interface{}{
		"id":         t.ID,
		"dataset_id": t.DatasetID,
		"date":       t.Date.Format(models.DateOnly),
		"product":    t.Product,
		"revenue":    money(t.Revenue),
		"commission": money(t.Commission),
		"cost":       money(t.Cost),
		"profit":     money(t.Profit),
		"quantity":   t.Quantity,
	}
	if t.Time != nil {
		v["time"] = *t.Time
	}
	for key, val := range map[string]string{
		"platform": t.Platform, "category": t.Category, "status": t.Status,
		"sub_id": t.SubID, "order_id": t.OrderID, "product_id": t.ProductID,
	} {
		if val != "" {
			v[key] = val
		}
	}
	return v
}

func clickRowView(c *models.ClickRow) map[string]interface{} {
	v := map[string]interface{}{
		"id":         c.ID,
		"dataset_id": c.DatasetID,
		"date":       c.Date.Format(models.DateOnly),
		"channel":    c.Channel,
		"clicks":     c.Clicks,
	}
	if c.Time != nil {
		v["time"] = *c.Time
	}
	if c.SubID != "" {
		v["sub_id"] = c.SubID
	}
	return v
}
