package api

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"marketdash/internal/apperr"
	"marketdash/internal/models"
)

type adSpendRequest struct {
	Date   string `json:"date"`
	SubID  string `json:"sub_id"`
	Amount string `json:"amount"`
	Clicks int    `json:"clicks"`
}

// toModel validates one ad-spend payload. Amounts arrive as strings, like
// every money field on this API.
func (req adSpendRequest) toModel(ownerID int64) (*models.AdSpend, error) {
	date, err := time.Parse(models.DateOnly, req.Date)
	if err != nil {
		return nil, apperr.Newf(apperr.Validation, "invalid date %q, want YYYY-MM-DD", req.Date)
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return nil, apperr.Newf(apperr.Validation, "invalid amount %q", req.Amount)
	}
	if amount.IsNegative() {
		return nil, apperr.New(apperr.Validation, "amount must not be negative")
	}
	if req.Clicks < 0 {
		return nil, apperr.New(apperr.Validation, "clicks must not be negative")
	}
	return &models.AdSpend{
		OwnerID: ownerID,
		Date:    date,
		SubID:   req.SubID,
		Amount:  amount,
		Clicks:  req.Clicks,
	}, nil
}

func adSpendView(s *models.AdSpend) map[string]interface{} {
	v := map[string]interface{}{
		"id":         s.ID,
		"date":       s.Date.Format(models.DateOnly),
		"amount":     money(s.Amount),
		"clicks":     s.Clicks,
		"created_at": s.CreatedAt,
	}
	if s.SubID != "" {
		v["sub_id"] = s.SubID
	}
	return v
}

func (s *Server) handleListAdSpends(w http.ResponseWriter, r *http.Request) {
	from, err := queryDate(r, "start")
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := queryDate(r, "end")
	if err != nil {
		writeError(w, err)
		return
	}
	spends, err := s.store.ListAdSpends(r.Context(), ownerFrom(r), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]interface{}, 0, len(spends))
	for i := range spends {
		out = append(out, adSpendView(&spends[i]))
	}
	writeJSON(w, map[string]interface{}{"ad_spends": out})
}

func (s *Server) handleCreateAdSpend(w http.ResponseWriter, r *http.Request) {
	var req adSpendRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	spend, err := req.toModel(ownerFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.CreateAdSpend(r.Context(), spend); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, adSpendView(spend))
}

func (s *Server) handleBulkCreateAdSpends(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AdSpends []adSpendRequest `json:"ad_spends"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.AdSpends) == 0 {
		writeError(w, apperr.New(apperr.Validation, "ad_spends must not be empty"))
		return
	}
	owner := ownerFrom(r)
	spends := make([]*models.AdSpend, 0, len(req.AdSpends))
	for i, item := range req.AdSpends {
		spend, err := item.toModel(owner)
		if err != nil {
			writeError(w, apperr.Newf(apperr.Validation, "ad_spends[%d]: %s", i, apperr.MessageOf(err)))
			return
		}
		spends = append(spends, spend)
	}
	if err := s.store.BulkCreateAdSpends(r.Context(), owner, spends); err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]interface{}, 0, len(spends))
	for _, spend := range spends {
		out = append(out, adSpendView(spend))
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, map[string]interface{}{"ad_spends": out})
}

// handlePatchAdSpend applies a partial update; absent fields keep their
// stored values.
func (s *Server) handlePatchAdSpend(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Date   *string `json:"date"`
		SubID  *string `json:"sub_id"`
		Amount *string `json:"amount"`
		Clicks *int    `json:"clicks"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	owner := ownerFrom(r)
	spend, err := s.store.GetAdSpend(r.Context(), owner, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Date != nil {
		date, perr := time.Parse(models.DateOnly, *req.Date)
		if perr != nil {
			writeError(w, apperr.Newf(apperr.Validation, "invalid date %q, want YYYY-MM-DD", *req.Date))
			return
		}
		spend.Date = date
	}
	if req.SubID != nil {
		spend.SubID = *req.SubID
	}
	if req.Amount != nil {
		amount, perr := decimal.NewFromString(*req.Amount)
		if perr != nil || amount.IsNegative() {
			writeError(w, apperr.Newf(apperr.Validation, "invalid amount %q", *req.Amount))
			return
		}
		spend.Amount = amount
	}
	if req.Clicks != nil {
		if *req.Clicks < 0 {
			writeError(w, apperr.New(apperr.Validation, "clicks must not be negative"))
			return
		}
		spend.Clicks = *req.Clicks
	}

	if err := s.store.UpdateAdSpend(r.Context(), spend); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, adSpendView(spend))
}

func (s *Server) handleDeleteAdSpend(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.DeleteAdSpend(r.Context(), ownerFrom(r), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "deleted"})
}

// handleListAllocations shows which datasets an ad spend was applied to.
func (s *Server) handleListAllocations(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	allocs, err := s.store.ListAllocations(r.Context(), ownerFrom(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"allocations": allocs})
}

// handleAllocateAdSpend distributes one ad spend's amount across a dataset's
// matching rows. Re-allocating the same pair reports already_applied rather
// than erroring.
func (s *Server) handleAllocateAdSpend(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		DatasetID int64 `json:"dataset_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.DatasetID <= 0 {
		writeError(w, apperr.New(apperr.Validation, "dataset_id is required"))
		return
	}

	owner := ownerFrom(r)
	result, err := s.orch.AllocateAdSpend(r.Context(), owner, req.DatasetID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	s.cache.InvalidateOwner(r.Context(), owner)

	writeJSON(w, map[string]interface{}{
		"ad_spend_id":     result.AdSpendID,
		"dataset_id":      result.DatasetID,
		"rows_allocated":  result.RowsAllocated,
		"amount":          money(result.Amount),
		"unallocated":     result.Unallocated,
		"already_applied": result.AlreadyApplied,
	})
}
