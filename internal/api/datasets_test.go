package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"marketdash/internal/apperr"
	"marketdash/internal/models"
)

func TestListDatasets(t *testing.T) {
	f := newFixture(t, nil)
	f.store.datasets = []models.Dataset{
		{ID: 1, Filename: "sales.csv", Type: models.DatasetTransaction, Status: models.DatasetCompleted, RowCount: 2},
	}

	w := f.do(t, "GET", "/api/v1/datasets", "")
	wantStatus(t, w, http.StatusOK)

	var body struct {
		Datasets []models.Dataset `json:"datasets"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Datasets, 1)
	require.Equal(t, "sales.csv", body.Datasets[0].Filename)
}

func TestListRowsTransaction(t *testing.T) {
	f := newFixture(t, nil)
	f.store.dataset = &models.Dataset{ID: 1, Type: models.DatasetTransaction}
	f.store.txRows = []models.TransactionRow{
		{
			ID:        11,
			DatasetID: 1,
			Date:      day("2024-01-01"),
			Product:   "P1",
			Revenue:   decimal.RequireFromString("100"),
			Profit:    decimal.RequireFromString("50"),
			Quantity:  1,
			SubID:     "abc",
		},
	}

	w := f.do(t, "GET", "/api/v1/datasets/1/rows", "")
	wantStatus(t, w, http.StatusOK)

	var body struct {
		Rows   []map[string]interface{} `json:"rows"`
		Limit  int                      `json:"limit"`
		Offset int                      `json:"offset"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 50, body.Limit)
	require.Len(t, body.Rows, 1)
	row := body.Rows[0]
	require.Equal(t, "2024-01-01", row["date"])
	require.Equal(t, "100.00", row["revenue"])
	require.Equal(t, "abc", row["sub_id"])
	// Empty optionals are omitted, not rendered as "".
	_, has := row["platform"]
	require.False(t, has)
}

func TestListRowsClick(t *testing.T) {
	f := newFixture(t, nil)
	f.store.dataset = &models.Dataset{ID: 2, Type: models.DatasetClick}
	f.store.clickRows = []models.ClickRow{
		{ID: 21, DatasetID: 2, Date: day("2024-02-01"), Channel: "organic", Clicks: 5},
	}

	w := f.do(t, "GET", "/api/v1/datasets/2/rows", "")
	wantStatus(t, w, http.StatusOK)

	var body struct {
		Rows []map[string]interface{} `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Rows, 1)
	require.Equal(t, "organic", body.Rows[0]["channel"])
	require.Equal(t, float64(5), body.Rows[0]["clicks"])
}

// A dataset belonging to another tenant reads as missing.
func TestListRowsForeignDataset(t *testing.T) {
	f := newFixture(t, nil)
	f.store.err = apperr.New(apperr.NotFound, "dataset not found")

	w := f.do(t, "GET", "/api/v1/datasets/1/rows", "")
	wantStatus(t, w, http.StatusNotFound)
}

func TestDeleteDataset(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, "DELETE", "/api/v1/datasets/3", "")
	wantStatus(t, w, http.StatusOK)
}
