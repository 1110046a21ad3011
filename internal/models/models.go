package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DatasetType discriminates the two row families a dataset can hold.
type DatasetType string

const (
	DatasetTransaction DatasetType = "transaction"
	DatasetClick       DatasetType = "click"
)

// Dataset statuses.
const (
	DatasetPending    = "pending"
	DatasetProcessing = "processing"
	DatasetCompleted  = "completed"
	DatasetFailed     = "failed"
)

// Job statuses. Transitions are monotonic; completed and failed are terminal.
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Chunk statuses.
const (
	ChunkQueued = "queued"
	ChunkOK     = "ok"
	ChunkFailed = "failed"
)

// User represents the 'users' table. Users are soft-deactivated, never
// hard-deleted, so that row ownership stays resolvable.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash []byte    `json:"-"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Dataset represents the 'datasets' table: one record per successful upload.
type Dataset struct {
	ID         int64       `json:"id"`
	OwnerID    int64       `json:"owner_id"`
	Filename   string      `json:"filename"`
	Type       DatasetType `json:"type"`
	Status     string      `json:"status"`
	RowCount   int64       `json:"row_count"`
	UploadedAt time.Time   `json:"uploaded_at"`
}

// TransactionRow represents the 'transaction_rows' table.
// Invariant: Profit = Revenue - Cost - Commission.
// Fingerprint is the sole dedup key (unique per owner-agnostic table scope).
type TransactionRow struct {
	ID        int64  `json:"id"`
	DatasetID int64  `json:"dataset_id"`
	OwnerID   int64  `json:"owner_id"`
	Date      time.Time
	Time      *string `json:"time,omitempty"` // "15:04:05", nil when absent

	Platform  string `json:"platform,omitempty"`
	Category  string `json:"category,omitempty"`
	Product   string `json:"product"`
	Status    string `json:"status,omitempty"`
	SubID     string `json:"sub_id,omitempty"`
	OrderID   string `json:"order_id,omitempty"`
	ProductID string `json:"product_id,omitempty"`

	Revenue    decimal.Decimal `json:"revenue"`
	Commission decimal.Decimal `json:"commission"`
	Cost       decimal.Decimal `json:"cost"`
	Profit     decimal.Decimal `json:"profit"`
	Quantity   int             `json:"quantity"`

	Fingerprint string `json:"fingerprint"`
}

// ClickRow represents the 'click_rows' table.
type ClickRow struct {
	ID        int64  `json:"id"`
	DatasetID int64  `json:"dataset_id"`
	OwnerID   int64  `json:"owner_id"`
	Date      time.Time
	Time      *string `json:"time,omitempty"`

	Channel string `json:"channel"`
	SubID   string `json:"sub_id,omitempty"`
	Clicks  int    `json:"clicks"`

	Fingerprint string `json:"fingerprint"`
}

// AdSpend represents the 'ad_spends' table. User-authored; independent of
// datasets until allocated.
type AdSpend struct {
	ID        int64           `json:"id"`
	OwnerID   int64           `json:"owner_id"`
	Date      time.Time       `json:"-"`
	SubID     string          `json:"sub_id,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Clicks    int             `json:"clicks"`
	CreatedAt time.Time       `json:"created_at"`
}

// Job represents the 'jobs' table: one server-side record per CSV ingestion.
// Invariant: 0 <= ChunksDone <= TotalChunks; completed iff ChunksDone ==
// TotalChunks and no chunk recorded an error.
type Job struct {
	JobID       uuid.UUID       `json:"job_id"`
	DatasetID   int64           `json:"dataset_id"`
	OwnerID     int64           `json:"owner_id"`
	Type        DatasetType     `json:"type"`
	StorageKey  string          `json:"storage_key"`
	Status      string          `json:"status"`
	TotalChunks int             `json:"total_chunks"`
	ChunksDone  int             `json:"chunks_done"`
	Meta        json.RawMessage `json:"meta,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// JobChunk represents the 'job_chunks' table (persisted-chunks mode). Each
// chunk is an independently retryable unit with its own storage object.
type JobChunk struct {
	JobID      uuid.UUID `json:"job_id"`
	ChunkIndex int       `json:"chunk_index"`
	StorageKey string    `json:"storage_key"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
}

// JobError is a row-level or chunk-level failure tallied on the job record.
type JobError struct {
	ChunkIndex int    `json:"chunk_index"`
	RowIndex   int    `json:"row_index,omitempty"`
	Reason     string `json:"reason"`
}

// TerminalJobStatus reports whether a job status admits no further
// transitions.
func TerminalJobStatus(status string) bool {
	return status == JobCompleted || status == JobFailed
}

// DateOnly is the wire format for dates throughout the API.
const DateOnly = "2006-01-02"
