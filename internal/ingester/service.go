// Package ingester runs the CSV ingestion pipeline: job orchestration on the
// API side and chunk processing on the worker side, with the task queue in
// between.
package ingester

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"marketdash/internal/apperr"
	"marketdash/internal/config"
	"marketdash/internal/eventbus"
	"marketdash/internal/models"
	"marketdash/internal/queue"
	"marketdash/internal/repository"
	"marketdash/internal/storage"
)

// presignExpiry bounds how long an upload URL stays usable.
const presignExpiry = 15 * time.Minute

// maxJobErrors caps the errors list stored on a job record.
const maxJobErrors = 200

// Store is the slice of the repository the pipeline needs. *repository.Repository
// satisfies it; tests substitute a fake.
type Store interface {
	CreateDataset(ctx context.Context, ownerID int64, filename string, typ models.DatasetType) (*models.Dataset, error)
	GetDataset(ctx context.Context, ownerID, id int64) (*models.Dataset, error)
	SetDatasetStatus(ctx context.Context, ownerID, id int64, status string) error
	RecountDataset(ctx context.Context, ownerID, id int64, typ models.DatasetType) (int64, error)
	DeleteDataset(ctx context.Context, ownerID, id int64) error

	CreateJob(ctx context.Context, j *models.Job) error
	GetJob(ctx context.Context, ownerID int64, jobID uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, ownerID int64, limit, offset int) ([]models.Job, error)
	SetJobStatus(ctx context.Context, ownerID int64, jobID uuid.UUID, status string) error
	SetJobTotalChunks(ctx context.Context, ownerID int64, jobID uuid.UUID, total int) error
	IncrementChunksDone(ctx context.Context, ownerID int64, jobID uuid.UUID) (done, total int, err error)
	RecordJobBatch(ctx context.Context, ownerID int64, jobID uuid.UUID) (done, total int, err error)
	FailStalledJobs(ctx context.Context, cutoff time.Time, reason string) ([]models.Job, error)
	AppendJobErrors(ctx context.Context, ownerID int64, jobID uuid.UUID, errs []models.JobError) error
	SetJobMetaField(ctx context.Context, ownerID int64, jobID uuid.UUID, field string, value interface{}) error
	DeleteJob(ctx context.Context, ownerID int64, jobID uuid.UUID) error

	CreateChunks(ctx context.Context, ownerID int64, chunks []models.JobChunk) error
	SetChunkStatus(ctx context.Context, ownerID int64, jobID uuid.UUID, index int, status, errMsg string) error
	ListChunks(ctx context.Context, ownerID int64, jobID uuid.UUID) ([]models.JobChunk, error)

	InsertTransactionRows(ctx context.Context, ownerID int64, rows []*models.TransactionRow) (int64, error)
	InsertClickRows(ctx context.Context, ownerID int64, rows []*models.ClickRow) (int64, error)

	GetAdSpend(ctx context.Context, ownerID, id int64) (*models.AdSpend, error)
	ListAllocationTargets(ctx context.Context, ownerID, datasetID int64, date time.Time, subID string) ([]repository.AllocationTarget, error)
	ApplyAllocation(ctx context.Context, ownerID, datasetID, adSpendID int64, shares []repository.RowShare, unallocated bool) error
}

type Service struct {
	store   Store
	objects storage.Store
	queue   queue.Queue
	bus     *eventbus.Bus
	cfg     *config.Config
	log     *logrus.Entry
}

func NewService(store Store, objects storage.Store, q queue.Queue, bus *eventbus.Bus, cfg *config.Config, log *logrus.Logger) *Service {
	return &Service{
		store:   store,
		objects: objects,
		queue:   q,
		bus:     bus,
		cfg:     cfg,
		log:     log.WithField("component", "ingester"),
	}
}

type jobMeta struct {
	Filename  string            `json:"filename"`
	Committed bool              `json:"committed,omitempty"`
	RowCount  int64             `json:"row_count,omitempty"`
	Errors    []models.JobError `json:"errors,omitempty"`
}

func decodeMeta(raw json.RawMessage) jobMeta {
	var m jobMeta
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &m)
	}
	return m
}

// CreateJob opens a new ingestion: a pending dataset, a queued job and a
// presigned URL the client PUTs the CSV to.
func (s *Service) CreateJob(ctx context.Context, ownerID int64, filename string, typ models.DatasetType) (*models.Job, string, error) {
	if filename == "" {
		return nil, "", apperr.New(apperr.Validation, "filename is required")
	}
	if typ != models.DatasetTransaction && typ != models.DatasetClick {
		return nil, "", apperr.Newf(apperr.Validation, "unknown dataset type %q", typ)
	}
	// Refuse before creating anything: an upload the queue cannot absorb
	// would only strand a pending dataset.
	if err := s.checkQueueHeadroom(ctx); err != nil {
		return nil, "", err
	}

	dataset, err := s.store.CreateDataset(ctx, ownerID, filename, typ)
	if err != nil {
		return nil, "", err
	}

	jobID := uuid.New()
	key := storage.UploadKey(jobID.String(), filename)
	uploadURL, err := s.objects.PresignPut(ctx, key, presignExpiry)
	if err != nil {
		return nil, "", err
	}

	meta, _ := json.Marshal(jobMeta{Filename: filename})
	job := &models.Job{
		JobID:      jobID,
		DatasetID:  dataset.ID,
		OwnerID:    ownerID,
		Type:       typ,
		StorageKey: key,
		Status:     models.JobQueued,
		Meta:       meta,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, "", err
	}

	s.bus.Publish(eventbus.Event{Type: eventbus.TypeJobQueued, JobID: jobID.String(), OwnerID: ownerID, Timestamp: time.Now()})
	s.log.WithFields(logrus.Fields{"job_id": jobID, "dataset_id": dataset.ID, "type": typ}).Info("job created")
	return job, uploadURL, nil
}

// CommitJob verifies the upload landed and enqueues processing. A second
// commit of the same job is a Conflict; a saturated queue is Unavailable.
func (s *Service) CommitJob(ctx context.Context, ownerID int64, jobID uuid.UUID) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}
	if models.TerminalJobStatus(job.Status) || decodeMeta(job.Meta).Committed {
		return nil, apperr.New(apperr.Conflict, "job already committed")
	}

	if _, err := s.objects.Stat(ctx, job.StorageKey); err != nil {
		if apperr.KindOf(err) == apperr.NotFound {
			return nil, apperr.New(apperr.Validation, "upload not found; PUT the file to the upload_url first")
		}
		return nil, err
	}

	// Re-checked here: the queue may have filled between create and commit.
	if err := s.checkQueueHeadroom(ctx); err != nil {
		return nil, err
	}

	// The initial task covers the whole object. In persisted-chunks mode the
	// worker splits it and fans out per-chunk tasks.
	task := &queue.Task{
		JobID:      jobID.String(),
		OwnerID:    ownerID,
		DatasetID:  job.DatasetID,
		Type:       job.Type,
		ObjectKey:  job.StorageKey,
		ChunkIndex: -1,
		EnqueuedAt: time.Now(),
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		return nil, err
	}

	if err := s.store.SetJobMetaField(ctx, ownerID, jobID, "committed", true); err != nil {
		return nil, err
	}
	if err := s.store.SetDatasetStatus(ctx, ownerID, job.DatasetID, models.DatasetProcessing); err != nil {
		return nil, err
	}
	s.log.WithField("job_id", jobID).Info("job committed")
	return s.store.GetJob(ctx, ownerID, jobID)
}

// checkQueueHeadroom enforces the high-water backpressure mark.
func (s *Service) checkQueueHeadroom(ctx context.Context) error {
	depth, err := s.queue.Depth(ctx)
	if err != nil {
		return apperr.Wrap(apperr.Upstream, "task queue unreachable", err)
	}
	if depth >= s.cfg.QueueHighWater {
		return apperr.New(apperr.Unavailable, "ingestion queue saturated, retry later")
	}
	return nil
}

// JobStatus is the client-facing job view.
type JobStatus struct {
	JobID       uuid.UUID          `json:"job_id"`
	DatasetID   int64              `json:"dataset_id"`
	Type        models.DatasetType `json:"type"`
	Status      string             `json:"status"`
	TotalChunks int                `json:"total_chunks"`
	ChunksDone  int                `json:"chunks_done"`
	RowCount    int64              `json:"row_count"`
	Errors      []models.JobError  `json:"errors"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

func statusView(job *models.Job) *JobStatus {
	meta := decodeMeta(job.Meta)
	errs := meta.Errors
	if errs == nil {
		errs = []models.JobError{}
	}
	return &JobStatus{
		JobID:       job.JobID,
		DatasetID:   job.DatasetID,
		Type:        job.Type,
		Status:      job.Status,
		TotalChunks: job.TotalChunks,
		ChunksDone:  job.ChunksDone,
		RowCount:    meta.RowCount,
		Errors:      errs,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
}

func (s *Service) GetJob(ctx context.Context, ownerID int64, jobID uuid.UUID) (*JobStatus, error) {
	job, err := s.store.GetJob(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}
	return statusView(job), nil
}

func (s *Service) ListJobs(ctx context.Context, ownerID int64, limit, offset int) ([]*JobStatus, error) {
	jobs, err := s.store.ListJobs(ctx, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]*JobStatus, 0, len(jobs))
	for i := range jobs {
		out = append(out, statusView(&jobs[i]))
	}
	return out, nil
}

// DeleteJob removes the job record, its dataset (cascading to committed
// rows) and its storage objects. This is the explicit cancel path; an
// already-running task notices the terminal record and stops cleanly.
func (s *Service) DeleteJob(ctx context.Context, ownerID int64, jobID uuid.UUID) error {
	job, err := s.store.GetJob(ctx, ownerID, jobID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteJob(ctx, ownerID, jobID); err != nil {
		return err
	}
	if err := s.store.DeleteDataset(ctx, ownerID, job.DatasetID); err != nil && apperr.KindOf(err) != apperr.NotFound {
		return err
	}
	if err := s.objects.Delete(ctx, job.StorageKey); err != nil {
		s.log.WithError(err).WithField("job_id", jobID).Warn("upload object cleanup failed")
	}
	if err := s.objects.DeletePrefix(ctx, storage.ChunkPrefix(jobID.String())); err != nil {
		s.log.WithError(err).WithField("job_id", jobID).Warn("chunk cleanup failed")
	}
	return nil
}
