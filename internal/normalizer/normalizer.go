// Package normalizer turns raw CSV records into canonical transaction and
// click rows: header synonym detection, locale-flexible value coercion,
// derived profit, and content-addressed fingerprints for dedup.
package normalizer

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"marketdash/internal/models"
)

// RowError is a per-row rejection. Rejections never fail a job; they are
// tallied into the job's error list with the row index and reason.
type RowError struct {
	RowIndex int
	Reason   string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.RowIndex, e.Reason)
}

func reject(index int, format string, args ...interface{}) *RowError {
	return &RowError{RowIndex: index, Reason: fmt.Sprintf(format, args...)}
}

// Normalizer carries the per-file column mapping and dataset type.
type Normalizer struct {
	cols ColumnMap
	typ  models.DatasetType
	// KeepRaw preserves unmapped columns; only enabled by workers that need
	// them for diagnostics.
	KeepRaw bool
}

func New(headers []string, typ models.DatasetType) *Normalizer {
	return &Normalizer{cols: DetectColumns(headers), typ: typ}
}

// Columns exposes the detected mapping (used by workers for header checks).
func (n *Normalizer) Columns() ColumnMap { return n.cols }

// NormalizeTransaction converts one CSV record into a canonical transaction
// row. rowIndex is the 0-based data row position used in rejection reports.
func (n *Normalizer) NormalizeTransaction(record []string, rowIndex int, ownerID, datasetID int64) (*models.TransactionRow, *RowError) {
	dateRaw := n.cols.value(FieldDate, record)
	if dateRaw == "" {
		return nil, reject(rowIndex, "missing date")
	}
	date, clock, err := ParseDate(dateRaw)
	if err != nil {
		return nil, reject(rowIndex, "invalid date %q", dateRaw)
	}
	if clock == nil {
		clock = ParseClock(n.cols.value(FieldTime, record))
	}

	product := n.cols.value(FieldProduct, record)
	if product == "" {
		return nil, reject(rowIndex, "missing product")
	}

	revenue, err := ParseMoney(n.cols.value(FieldRevenue, record))
	if err != nil {
		return nil, reject(rowIndex, "invalid revenue: %v", err)
	}
	cost, err := ParseMoney(n.cols.value(FieldCost, record))
	if err != nil {
		return nil, reject(rowIndex, "invalid cost: %v", err)
	}
	commission, err := ParseMoney(n.cols.value(FieldCommission, record))
	if err != nil {
		return nil, reject(rowIndex, "invalid commission: %v", err)
	}
	quantity, present, err := ParseCount(n.cols.value(FieldQuantity, record))
	if err != nil {
		return nil, reject(rowIndex, "invalid quantity: %v", err)
	}
	if !present {
		quantity = 1
	}

	row := &models.TransactionRow{
		DatasetID:  datasetID,
		OwnerID:    ownerID,
		Date:       date,
		Time:       clock,
		Platform:   n.cols.value(FieldPlatform, record),
		Category:   n.cols.value(FieldCategory, record),
		Product:    product,
		Status:     n.cols.value(FieldStatus, record),
		SubID:      n.cols.value(FieldSubID, record),
		OrderID:    n.cols.value(FieldOrderID, record),
		ProductID:  n.cols.value(FieldProductID, record),
		Revenue:    revenue,
		Cost:       cost,
		Commission: commission,
		Profit:     revenue.Sub(cost).Sub(commission),
		Quantity:   quantity,
	}
	row.Fingerprint = TransactionFingerprint(row)
	return row, nil
}

// NormalizeClick converts one CSV record into a canonical click row.
// A missing clicks column counts each line as one click event; a missing
// channel falls back to the platform column, then to "unknown".
func (n *Normalizer) NormalizeClick(record []string, rowIndex int, ownerID, datasetID int64) (*models.ClickRow, *RowError) {
	dateRaw := n.cols.value(FieldDate, record)
	if dateRaw == "" {
		return nil, reject(rowIndex, "missing date")
	}
	date, clock, err := ParseDate(dateRaw)
	if err != nil {
		return nil, reject(rowIndex, "invalid date %q", dateRaw)
	}
	if clock == nil {
		clock = ParseClock(n.cols.value(FieldTime, record))
	}

	channel := n.cols.value(FieldChannel, record)
	if channel == "" {
		channel = n.cols.value(FieldPlatform, record)
	}
	if channel == "" {
		channel = "unknown"
	}

	clicks, present, err := ParseCount(n.cols.value(FieldClicks, record))
	if err != nil {
		return nil, reject(rowIndex, "invalid clicks: %v", err)
	}
	if !present {
		clicks = 1
	}

	row := &models.ClickRow{
		DatasetID: datasetID,
		OwnerID:   ownerID,
		Date:      date,
		Time:      clock,
		Channel:   channel,
		SubID:     n.cols.value(FieldSubID, record),
		Clicks:    clicks,
	}
	row.Fingerprint = ClickFingerprint(row)
	return row, nil
}

// DetectSeparator inspects the header line and picks the separator with the
// most occurrences among comma, semicolon and tab. Comma wins ties.
func DetectSeparator(headerLine string) rune {
	best := ','
	bestCount := strings.Count(headerLine, ",")
	if n := strings.Count(headerLine, ";"); n > bestCount {
		best, bestCount = ';', n
	}
	if n := strings.Count(headerLine, "\t"); n > bestCount {
		best = '\t'
	}
	return best
}

// OpenCSV prepares a reader over decoded CSV text: separator auto-detected
// from the header line, header row consumed and returned. The caller streams
// the remaining records.
func OpenCSV(text string) (*csv.Reader, []string, error) {
	headerLine := text
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		headerLine = text[:i]
	}
	cr := csv.NewReader(strings.NewReader(text))
	cr.Comma = DetectSeparator(headerLine)
	cr.FieldsPerRecord = -1 // ragged rows are handled per-field
	cr.LazyQuotes = true

	headers, err := cr.Read()
	if err == io.EOF {
		return nil, nil, fmt.Errorf("empty file")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("unparseable header row: %w", err)
	}
	return cr, headers, nil
}
