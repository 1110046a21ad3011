package ingester

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"marketdash/internal/apperr"
	"marketdash/internal/config"
	"marketdash/internal/eventbus"
	"marketdash/internal/models"
	"marketdash/internal/normalizer"
	"marketdash/internal/queue"
	"marketdash/internal/storage"
)

// chunkResult tallies one processed object.
type chunkResult struct {
	rowsRead  int
	inserted  int64
	rowErrors []models.JobError
}

// ProcessTask is the worker entrypoint for one dequeued task. Transient
// failures return an error so the worker can retry; everything else is
// recorded on the job and absorbed here.
func (s *Service) ProcessTask(ctx context.Context, task *queue.Task) error {
	jobID, err := uuid.Parse(task.JobID)
	if err != nil {
		return apperr.Newf(apperr.Internal, "malformed task job id %q", task.JobID)
	}
	job, err := s.store.GetJob(ctx, task.OwnerID, jobID)
	if err != nil {
		return err
	}
	if models.TerminalJobStatus(job.Status) {
		// Deleted-and-recreated or late retry; nothing to do.
		return nil
	}

	if err := s.store.SetJobStatus(ctx, task.OwnerID, jobID, models.JobRunning); err != nil {
		return err
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeJobRunning, JobID: task.JobID, OwnerID: task.OwnerID, Timestamp: time.Now()})

	// Soft timeout: commit what we have and fail the job with a reason.
	// The worker wraps us in the hard timeout.
	soft, cancel := context.WithTimeout(ctx, s.cfg.Job.SoftTimeout())
	defer cancel()

	if task.ChunkIndex < 0 && s.cfg.PipelineMode == config.ModePersistedChunks {
		return s.splitAndFanOut(soft, task, jobID)
	}
	return s.processChunk(soft, task, jobID)
}

// splitAndFanOut turns the whole-object task into per-chunk tasks.
func (s *Service) splitAndFanOut(ctx context.Context, task *queue.Task, jobID uuid.UUID) error {
	text, err := s.readObject(ctx, task.ObjectKey)
	if err != nil {
		return err
	}
	parts, err := splitCSV(text, s.cfg.Worker.ChunkBytes)
	if err != nil {
		return s.failJob(ctx, task, jobID, models.JobError{ChunkIndex: -1, Reason: err.Error()})
	}

	chunks := make([]models.JobChunk, 0, len(parts))
	for i, part := range parts {
		key := storage.ChunkKey(task.JobID, i)
		if err := s.objects.Put(ctx, key, part.reader(), part.size()); err != nil {
			return err
		}
		chunks = append(chunks, models.JobChunk{JobID: jobID, ChunkIndex: i, StorageKey: key, Status: models.ChunkQueued})
	}
	if err := s.store.CreateChunks(ctx, task.OwnerID, chunks); err != nil {
		return err
	}
	if err := s.store.SetJobTotalChunks(ctx, task.OwnerID, jobID, len(chunks)); err != nil {
		return err
	}
	for _, c := range chunks {
		child := &queue.Task{
			JobID:      task.JobID,
			OwnerID:    task.OwnerID,
			DatasetID:  task.DatasetID,
			Type:       task.Type,
			ObjectKey:  c.StorageKey,
			ChunkIndex: c.ChunkIndex,
			EnqueuedAt: time.Now(),
		}
		if err := s.queue.Enqueue(ctx, child); err != nil {
			return err
		}
	}
	s.log.WithFields(logrus.Fields{"job_id": task.JobID, "chunks": len(chunks)}).Info("upload split")
	return nil
}

// processChunk parses one object (the whole upload in in_memory mode, one
// chunk otherwise) and commits its rows.
func (s *Service) processChunk(ctx context.Context, task *queue.Task, jobID uuid.UUID) error {
	inMemory := task.ChunkIndex < 0
	chunkIndex := task.ChunkIndex
	if inMemory {
		chunkIndex = 0
	}

	// in_memory mode has no chunk table; each committed batch counts one
	// chunk, so total_chunks grows lazily and progress still moves. Re-runs
	// after a mid-object retry may recount earlier batches; the counters are
	// progress telemetry, settlement below never depends on them.
	var onBatch func() error
	if inMemory {
		onBatch = func() error {
			done, total, err := s.store.RecordJobBatch(ctx, task.OwnerID, jobID)
			if err != nil {
				return err
			}
			s.bus.Publish(eventbus.Event{
				Type: eventbus.TypeJobProgress, JobID: task.JobID, OwnerID: task.OwnerID,
				Timestamp: time.Now(), Data: map[string]int{"chunks_done": done, "total_chunks": total},
			})
			return nil
		}
	}

	res, err := s.ingestObject(ctx, task, onBatch)
	if err != nil {
		if apperr.IsTransient(err) && ctx.Err() == nil {
			return err // worker retries
		}
		if ctx.Err() != nil {
			return s.failJob(ctx, task, jobID, models.JobError{ChunkIndex: chunkIndex, Reason: "timeout"})
		}
		// Permanent: record and mark the chunk failed, then finalize.
		if !inMemory {
			if serr := s.store.SetChunkStatus(context.WithoutCancel(ctx), task.OwnerID, jobID, task.ChunkIndex, models.ChunkFailed, err.Error()); serr != nil {
				return serr
			}
		}
		if aerr := s.store.AppendJobErrors(context.WithoutCancel(ctx), task.OwnerID, jobID, []models.JobError{{ChunkIndex: chunkIndex, Reason: err.Error()}}); aerr != nil {
			return aerr
		}
		if inMemory {
			return s.settleJob(context.WithoutCancel(ctx), task, jobID, true)
		}
		return s.finishChunk(context.WithoutCancel(ctx), task, jobID, true)
	}

	if len(res.rowErrors) > 0 {
		capped := res.rowErrors
		if len(capped) > maxJobErrors {
			capped = capped[:maxJobErrors]
		}
		for i := range capped {
			capped[i].ChunkIndex = chunkIndex
		}
		if err := s.store.AppendJobErrors(ctx, task.OwnerID, jobID, capped); err != nil {
			return err
		}
	}
	if !inMemory {
		if err := s.store.SetChunkStatus(ctx, task.OwnerID, jobID, task.ChunkIndex, models.ChunkOK, ""); err != nil {
			return err
		}
	}
	s.log.WithFields(logrus.Fields{
		"job_id": task.JobID, "chunk": chunkIndex,
		"rows_read": res.rowsRead, "inserted": res.inserted, "rejected": len(res.rowErrors),
	}).Info("chunk processed")
	if inMemory {
		return s.settleJob(ctx, task, jobID, false)
	}
	return s.finishChunk(ctx, task, jobID, false)
}

// finishChunk bumps progress and, on the last chunk, settles the job and
// dataset statuses.
func (s *Service) finishChunk(ctx context.Context, task *queue.Task, jobID uuid.UUID, chunkFailed bool) error {
	done, total, err := s.store.IncrementChunksDone(ctx, task.OwnerID, jobID)
	if err != nil {
		return err
	}
	s.bus.Publish(eventbus.Event{
		Type: eventbus.TypeJobProgress, JobID: task.JobID, OwnerID: task.OwnerID,
		Timestamp: time.Now(), Data: map[string]int{"chunks_done": done, "total_chunks": total},
	})
	if done < total {
		return nil
	}
	return s.settleJob(ctx, task, jobID, chunkFailed)
}

// settleJob recounts the dataset and freezes the terminal job and dataset
// statuses. chunkFailed forces a failed outcome; otherwise the chunk records
// decide.
func (s *Service) settleJob(ctx context.Context, task *queue.Task, jobID uuid.UUID, chunkFailed bool) error {
	rowCount, err := s.store.RecountDataset(ctx, task.OwnerID, task.DatasetID, task.Type)
	if err != nil {
		return err
	}
	if err := s.store.SetJobMetaField(ctx, task.OwnerID, jobID, "row_count", rowCount); err != nil {
		return err
	}

	failed := chunkFailed
	if !failed {
		chunks, err := s.store.ListChunks(ctx, task.OwnerID, jobID)
		if err != nil {
			return err
		}
		for _, c := range chunks {
			if c.Status == models.ChunkFailed {
				failed = true
				break
			}
		}
	}

	jobStatus, datasetStatus, event := models.JobCompleted, models.DatasetCompleted, eventbus.TypeJobCompleted
	if failed {
		jobStatus, datasetStatus, event = models.JobFailed, models.DatasetFailed, eventbus.TypeJobFailed
	}
	if err := s.store.SetJobStatus(ctx, task.OwnerID, jobID, jobStatus); err != nil {
		return err
	}
	if err := s.store.SetDatasetStatus(ctx, task.OwnerID, task.DatasetID, datasetStatus); err != nil {
		return err
	}
	s.bus.Publish(eventbus.Event{Type: event, JobID: task.JobID, OwnerID: task.OwnerID, Timestamp: time.Now()})
	s.log.WithFields(logrus.Fields{"job_id": task.JobID, "status": jobStatus, "row_count": rowCount}).Info("job finished")
	return nil
}

// failJob marks the job failed with a terminal reason.
func (s *Service) failJob(ctx context.Context, task *queue.Task, jobID uuid.UUID, reason models.JobError) error {
	ctx = context.WithoutCancel(ctx)
	if err := s.store.AppendJobErrors(ctx, task.OwnerID, jobID, []models.JobError{reason}); err != nil {
		return err
	}
	if err := s.store.SetJobStatus(ctx, task.OwnerID, jobID, models.JobFailed); err != nil {
		return err
	}
	if err := s.store.SetDatasetStatus(ctx, task.OwnerID, task.DatasetID, models.DatasetFailed); err != nil {
		return err
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeJobFailed, JobID: task.JobID, OwnerID: task.OwnerID, Timestamp: time.Now()})
	return nil
}

// readObject pulls an object fully into memory. Charset detection needs the
// whole byte stream; uploads in in_memory mode and chunks in persisted mode
// are both bounded by configuration.
func (s *Service) readObject(ctx context.Context, key string) (string, error) {
	rc, err := s.objects.Get(ctx, key)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return "", apperr.Wrap(apperr.Storage, "read object "+key, err)
	}
	return normalizer.DecodeCharset(raw), nil
}

// ingestObject runs the normalize-and-insert loop over one CSV object.
// onBatch, when set, is invoked after every committed non-empty batch.
func (s *Service) ingestObject(ctx context.Context, task *queue.Task, onBatch func() error) (*chunkResult, error) {
	text, err := s.readObject(ctx, task.ObjectKey)
	if err != nil {
		return nil, err
	}
	cr, headers, err := normalizer.OpenCSV(text)
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, "unparseable CSV", err)
	}
	norm := normalizer.New(headers, task.Type)

	res := &chunkResult{}
	batchSize := s.cfg.Worker.BatchSize
	var txBatch []*models.TransactionRow
	var clickBatch []*models.ClickRow

	flush := func() error {
		var n int64
		var err error
		committed := false
		if len(txBatch) > 0 {
			n, err = s.store.InsertTransactionRows(ctx, task.OwnerID, txBatch)
			txBatch = txBatch[:0]
			committed = err == nil
		} else if len(clickBatch) > 0 {
			n, err = s.store.InsertClickRows(ctx, task.OwnerID, clickBatch)
			clickBatch = clickBatch[:0]
			committed = err == nil
		}
		if err != nil {
			return err
		}
		res.inserted += n
		if committed && onBatch != nil {
			return onBatch()
		}
		return nil
	}

	rowIndex := -1
	for {
		if ctx.Err() != nil {
			// Soft timeout: commit the current batch before giving up.
			if ferr := flush(); ferr != nil {
				return nil, ferr
			}
			return nil, ctx.Err()
		}
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		rowIndex++
		if err != nil {
			res.rowErrors = append(res.rowErrors, models.JobError{RowIndex: rowIndex, Reason: fmt.Sprintf("unparseable line: %v", err)})
			continue
		}
		res.rowsRead++

		switch task.Type {
		case models.DatasetClick:
			row, rerr := norm.NormalizeClick(record, rowIndex, task.OwnerID, task.DatasetID)
			if rerr != nil {
				res.rowErrors = append(res.rowErrors, models.JobError{RowIndex: rerr.RowIndex, Reason: rerr.Reason})
				continue
			}
			clickBatch = append(clickBatch, row)
			if len(clickBatch) >= batchSize {
				if err := flush(); err != nil {
					return nil, err
				}
			}
		default:
			row, rerr := norm.NormalizeTransaction(record, rowIndex, task.OwnerID, task.DatasetID)
			if rerr != nil {
				res.rowErrors = append(res.rowErrors, models.JobError{RowIndex: rerr.RowIndex, Reason: rerr.Reason})
				continue
			}
			txBatch = append(txBatch, row)
			if len(txBatch) >= batchSize {
				if err := flush(); err != nil {
					return nil, err
				}
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return res, nil
}
