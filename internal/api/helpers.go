package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"marketdash/internal/apperr"
	"marketdash/internal/models"
)

func writeJSON(w http.ResponseWriter, data interface{}) {
	json.NewEncoder(w).Encode(data)
}

// writeError renders the uniform error envelope. Internal detail is dropped
// for 5xx kinds so failures never leak implementation specifics.
func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)

	body := map[string]string{
		"kind":    string(kind),
		"message": apperr.MessageOf(err),
	}
	if status >= 500 {
		body["message"] = string(kind)
	} else if detail := apperr.DetailOf(err); detail != "" {
		body["detail"] = detail
	}

	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{"error": body})
}

func parseLimitOffset(r *http.Request) (int, int) {
	limit := 50
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// pathID parses the {id} route variable as an int64.
func pathID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Newf(apperr.Validation, "invalid id %q", raw)
	}
	return id, nil
}

// queryDate parses an optional YYYY-MM-DD query parameter.
func queryDate(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	d, err := time.Parse(models.DateOnly, raw)
	if err != nil {
		return nil, apperr.Newf(apperr.Validation, "invalid %s date %q, want YYYY-MM-DD", name, raw)
	}
	return &d, nil
}

// money renders a decimal for the wire: a string rounded to cents. Rounding
// happens only here, at the response boundary.
func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func decodeBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Wrap(apperr.Validation, "malformed request body", err)
	}
	return nil
}
