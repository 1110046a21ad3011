package ingester

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketdash/internal/apperr"
	"marketdash/internal/models"
	"marketdash/internal/repository"
)

// rowKey matches the repository's dedup scope: unique per (owner, fingerprint).
type rowKey struct {
	ownerID     int64
	fingerprint string
}

// fakeStore is an in-memory Store with the same dedup and idempotency rules
// as the real repository.
type fakeStore struct {
	mu sync.Mutex

	nextDatasetID int64
	datasets      map[int64]*models.Dataset
	jobs          map[uuid.UUID]*models.Job
	chunks        map[uuid.UUID]map[int]*models.JobChunk

	nextRowID int64
	txRows    map[rowKey]*models.TransactionRow
	clickRows map[rowKey]*models.ClickRow

	nextAdSpendID int64
	adSpends      map[int64]*models.AdSpend
	allocations   map[[2]int64]bool // (ad_spend_id, dataset_id)

	// failInserts makes row inserts fail with a storage error, for retry tests.
	failInserts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		datasets:    make(map[int64]*models.Dataset),
		jobs:        make(map[uuid.UUID]*models.Job),
		chunks:      make(map[uuid.UUID]map[int]*models.JobChunk),
		txRows:      make(map[rowKey]*models.TransactionRow),
		clickRows:   make(map[rowKey]*models.ClickRow),
		adSpends:    make(map[int64]*models.AdSpend),
		allocations: make(map[[2]int64]bool),
	}
}

func (f *fakeStore) CreateDataset(ctx context.Context, ownerID int64, filename string, typ models.DatasetType) (*models.Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextDatasetID++
	d := &models.Dataset{ID: f.nextDatasetID, OwnerID: ownerID, Filename: filename, Type: typ, Status: models.DatasetPending, UploadedAt: time.Now()}
	f.datasets[d.ID] = d
	return d, nil
}

func (f *fakeStore) GetDataset(ctx context.Context, ownerID, id int64) (*models.Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.datasets[id]
	if !ok || d.OwnerID != ownerID {
		return nil, apperr.New(apperr.NotFound, "dataset not found")
	}
	cp := *d
	return &cp, nil
}

func (f *fakeStore) SetDatasetStatus(ctx context.Context, ownerID, id int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.datasets[id]
	if !ok || d.OwnerID != ownerID {
		return apperr.New(apperr.NotFound, "dataset not found")
	}
	d.Status = status
	return nil
}

func (f *fakeStore) RecountDataset(ctx context.Context, ownerID, id int64, typ models.DatasetType) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	if typ == models.DatasetClick {
		for _, r := range f.clickRows {
			if r.DatasetID == id {
				count += int64(r.Clicks)
			}
		}
	} else {
		for _, r := range f.txRows {
			if r.DatasetID == id {
				count++
			}
		}
	}
	if d, ok := f.datasets[id]; ok {
		d.RowCount = count
	}
	return count, nil
}

func (f *fakeStore) DeleteDataset(ctx context.Context, ownerID, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.datasets[id]
	if !ok || d.OwnerID != ownerID {
		return apperr.New(apperr.NotFound, "dataset not found")
	}
	delete(f.datasets, id)
	for k, r := range f.txRows {
		if r.DatasetID == id {
			delete(f.txRows, k)
		}
	}
	for k, r := range f.clickRows {
		if r.DatasetID == id {
			delete(f.clickRows, k)
		}
	}
	return nil
}

func (f *fakeStore) CreateJob(ctx context.Context, j *models.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j.CreatedAt = time.Now()
	j.UpdatedAt = j.CreatedAt
	cp := *j
	f.jobs[j.JobID] = &cp
	return nil
}

func (f *fakeStore) getJob(ownerID int64, jobID uuid.UUID) (*models.Job, error) {
	j, ok := f.jobs[jobID]
	if !ok || j.OwnerID != ownerID {
		return nil, apperr.New(apperr.NotFound, "job not found")
	}
	return j, nil
}

func (f *fakeStore) GetJob(ctx context.Context, ownerID int64, jobID uuid.UUID) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, err := f.getJob(ownerID, jobID)
	if err != nil {
		return nil, err
	}
	cp := *j
	return &cp, nil
}

func (f *fakeStore) ListJobs(ctx context.Context, ownerID int64, limit, offset int) ([]models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Job
	for _, j := range f.jobs {
		if j.OwnerID == ownerID {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (f *fakeStore) SetJobStatus(ctx context.Context, ownerID int64, jobID uuid.UUID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, err := f.getJob(ownerID, jobID)
	if err != nil {
		return err
	}
	if models.TerminalJobStatus(j.Status) {
		return nil
	}
	j.Status = status
	j.UpdatedAt = time.Now()
	return nil
}

func (f *fakeStore) SetJobTotalChunks(ctx context.Context, ownerID int64, jobID uuid.UUID, total int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, err := f.getJob(ownerID, jobID)
	if err != nil {
		return err
	}
	j.TotalChunks = total
	return nil
}

func (f *fakeStore) IncrementChunksDone(ctx context.Context, ownerID int64, jobID uuid.UUID) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, err := f.getJob(ownerID, jobID)
	if err != nil {
		return 0, 0, err
	}
	j.ChunksDone++
	return j.ChunksDone, j.TotalChunks, nil
}

func (f *fakeStore) RecordJobBatch(ctx context.Context, ownerID int64, jobID uuid.UUID) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, err := f.getJob(ownerID, jobID)
	if err != nil {
		return 0, 0, err
	}
	j.TotalChunks++
	j.ChunksDone++
	j.UpdatedAt = time.Now()
	return j.ChunksDone, j.TotalChunks, nil
}

func (f *fakeStore) FailStalledJobs(ctx context.Context, cutoff time.Time, reason string) ([]models.Job, error) {
	f.mu.Lock()
	var stalled []*models.Job
	for _, j := range f.jobs {
		if j.Status == models.JobRunning && j.UpdatedAt.Before(cutoff) {
			j.Status = models.JobFailed
			j.UpdatedAt = time.Now()
			stalled = append(stalled, j)
		}
	}
	f.mu.Unlock()

	var out []models.Job
	for _, j := range stalled {
		if err := f.AppendJobErrors(ctx, j.OwnerID, j.JobID, []models.JobError{{ChunkIndex: -1, Reason: reason}}); err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, nil
}

func (f *fakeStore) metaMap(j *models.Job) map[string]json.RawMessage {
	m := map[string]json.RawMessage{}
	if len(j.Meta) > 0 {
		_ = json.Unmarshal(j.Meta, &m)
	}
	return m
}

func (f *fakeStore) AppendJobErrors(ctx context.Context, ownerID int64, jobID uuid.UUID, errs []models.JobError) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, err := f.getJob(ownerID, jobID)
	if err != nil {
		return err
	}
	m := f.metaMap(j)
	var existing []models.JobError
	if raw, ok := m["errors"]; ok {
		_ = json.Unmarshal(raw, &existing)
	}
	existing = append(existing, errs...)
	m["errors"], _ = json.Marshal(existing)
	j.Meta, _ = json.Marshal(m)
	return nil
}

func (f *fakeStore) SetJobMetaField(ctx context.Context, ownerID int64, jobID uuid.UUID, field string, value interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, err := f.getJob(ownerID, jobID)
	if err != nil {
		return err
	}
	m := f.metaMap(j)
	m[field], _ = json.Marshal(value)
	j.Meta, _ = json.Marshal(m)
	return nil
}

func (f *fakeStore) DeleteJob(ctx context.Context, ownerID int64, jobID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.getJob(ownerID, jobID); err != nil {
		return err
	}
	delete(f.jobs, jobID)
	delete(f.chunks, jobID)
	return nil
}

func (f *fakeStore) CreateChunks(ctx context.Context, ownerID int64, chunks []models.JobChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range chunks {
		if f.chunks[c.JobID] == nil {
			f.chunks[c.JobID] = make(map[int]*models.JobChunk)
		}
		cp := c
		f.chunks[c.JobID][c.ChunkIndex] = &cp
	}
	return nil
}

func (f *fakeStore) SetChunkStatus(ctx context.Context, ownerID int64, jobID uuid.UUID, index int, status, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.chunks[jobID][index]; ok {
		c.Status = status
		c.Error = errMsg
	}
	return nil
}

func (f *fakeStore) ListChunks(ctx context.Context, ownerID int64, jobID uuid.UUID) ([]models.JobChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.JobChunk
	for _, c := range f.chunks[jobID] {
		out = append(out, *c)
	}
	return out, nil
}

func (f *fakeStore) InsertTransactionRows(ctx context.Context, ownerID int64, rows []*models.TransactionRow) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInserts > 0 {
		f.failInserts--
		return 0, apperr.New(apperr.Storage, "simulated insert failure")
	}
	var inserted int64
	for _, r := range rows {
		k := rowKey{ownerID, r.Fingerprint}
		if _, dup := f.txRows[k]; dup {
			continue
		}
		cp := *r
		f.nextRowID++
		cp.ID = f.nextRowID
		f.txRows[k] = &cp
		inserted++
	}
	return inserted, nil
}

func (f *fakeStore) InsertClickRows(ctx context.Context, ownerID int64, rows []*models.ClickRow) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var inserted int64
	for _, r := range rows {
		k := rowKey{ownerID, r.Fingerprint}
		if _, dup := f.clickRows[k]; dup {
			continue
		}
		cp := *r
		f.clickRows[k] = &cp
		inserted++
	}
	return inserted, nil
}

func (f *fakeStore) addAdSpend(ownerID int64, date time.Time, subID, amount string, clicks int) *models.AdSpend {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextAdSpendID++
	s := &models.AdSpend{ID: f.nextAdSpendID, OwnerID: ownerID, Date: date, SubID: subID, Clicks: clicks, CreatedAt: time.Now()}
	s.Amount = mustDec(amount)
	f.adSpends[s.ID] = s
	return s
}

func (f *fakeStore) GetAdSpend(ctx context.Context, ownerID, id int64) (*models.AdSpend, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.adSpends[id]
	if !ok || s.OwnerID != ownerID {
		return nil, apperr.New(apperr.NotFound, "ad spend not found")
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) ListAllocationTargets(ctx context.Context, ownerID, datasetID int64, date time.Time, subID string) ([]repository.AllocationTarget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.AllocationTarget
	for _, r := range f.txRows {
		if r.DatasetID != datasetID || !r.Date.Equal(date) {
			continue
		}
		if subID != "" && r.SubID != subID {
			continue
		}
		out = append(out, repository.AllocationTarget{RowID: r.ID, Revenue: r.Revenue})
	}
	return out, nil
}

func (f *fakeStore) ApplyAllocation(ctx context.Context, ownerID, datasetID, adSpendID int64, shares []repository.RowShare, unallocated bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := [2]int64{adSpendID, datasetID}
	if f.allocations[key] {
		return apperr.New(apperr.Conflict, "ad spend already allocated to dataset")
	}
	f.allocations[key] = true
	byID := make(map[int64]*models.TransactionRow)
	for _, r := range f.txRows {
		byID[r.ID] = r
	}
	for _, share := range shares {
		if r, ok := byID[share.RowID]; ok {
			r.Cost = r.Cost.Add(share.Amount)
			r.Profit = r.Revenue.Sub(r.Cost).Sub(r.Commission)
		}
	}
	return nil
}
