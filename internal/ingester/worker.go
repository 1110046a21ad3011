package ingester

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"marketdash/internal/apperr"
	"marketdash/internal/eventbus"
	"marketdash/internal/models"
	"marketdash/internal/queue"
)

const (
	dequeueWait  = 2 * time.Second
	reapInterval = time.Minute
)

// Pool consumes pipeline tasks with a fixed number of goroutines.
type Pool struct {
	svc   *Service
	count int
	log   *logrus.Entry
	wg    sync.WaitGroup
}

func NewPool(svc *Service, count int, log *logrus.Logger) *Pool {
	if count <= 0 {
		count = 2
	}
	return &Pool{svc: svc, count: count, log: log.WithField("component", "worker")}
}

// Start launches the workers. They drain until ctx is cancelled; Wait blocks
// for their exit.
func (p *Pool) Start(ctx context.Context) {
	p.log.WithField("workers", p.count).Info("starting worker pool")
	for i := 0; i < p.count; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	p.wg.Add(1)
	go p.reap(ctx)
}

// reap periodically fails jobs stuck in running. A worker that dies after
// dequeue takes the task with it; without the reaper such a job would stay
// running forever.
func (p *Pool) reap(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := p.svc.ReapStalledJobs(ctx); err != nil {
				p.log.WithError(err).Warn("stall reap failed")
			} else if n > 0 {
				p.log.WithField("jobs", n).Warn("stalled jobs failed")
			}
		}
	}
}

func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.log.WithField("worker", id)
	for {
		if ctx.Err() != nil {
			log.Info("worker stopping")
			return
		}
		task, err := p.svc.queue.Dequeue(ctx, dequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("dequeue failed")
			time.Sleep(time.Second)
			continue
		}
		if task == nil {
			continue
		}
		p.handle(ctx, log, task)
	}
}

func (p *Pool) handle(ctx context.Context, log *logrus.Entry, task *queue.Task) {
	hard, cancel := context.WithTimeout(ctx, p.svc.cfg.Job.HardTimeout())
	defer cancel()

	err := p.svc.ProcessTask(hard, task)
	if err == nil {
		return
	}
	if apperr.KindOf(err) == apperr.NotFound {
		// Job was deleted while queued; nothing left to settle.
		log.WithField("job_id", task.JobID).Info("dropping task for deleted job")
		return
	}

	if apperr.IsTransient(err) && task.Attempt < p.svc.cfg.Worker.MaxRetries {
		delay := retryDelay(task.Attempt)
		log.WithError(err).WithFields(logrus.Fields{
			"job_id": task.JobID, "chunk": task.ChunkIndex, "attempt": task.Attempt, "delay": delay,
		}).Warn("transient failure, retrying")
		task.Attempt++
		time.Sleep(delay)
		if qerr := p.svc.queue.Enqueue(context.WithoutCancel(ctx), task); qerr != nil {
			log.WithError(qerr).Error("re-enqueue failed, dropping task")
		}
		return
	}

	log.WithError(err).WithFields(logrus.Fields{"job_id": task.JobID, "chunk": task.ChunkIndex}).Error("task failed permanently")
	p.recordPermanentFailure(context.WithoutCancel(ctx), task, err)
}

// recordPermanentFailure settles a task whose retries are exhausted.
func (p *Pool) recordPermanentFailure(ctx context.Context, task *queue.Task, cause error) {
	jobID, err := uuid.Parse(task.JobID)
	if err != nil {
		return
	}
	if task.ChunkIndex >= 0 {
		if err := p.svc.store.SetChunkStatus(ctx, task.OwnerID, jobID, task.ChunkIndex, models.ChunkFailed, cause.Error()); err != nil {
			p.log.WithError(err).Error("chunk status update failed")
		}
		if err := p.svc.store.AppendJobErrors(ctx, task.OwnerID, jobID, []models.JobError{{ChunkIndex: task.ChunkIndex, Reason: cause.Error()}}); err != nil {
			p.log.WithError(err).Error("job error append failed")
		}
		if err := p.svc.finishChunk(ctx, task, jobID, true); err != nil {
			p.log.WithError(err).Error("chunk settlement failed")
		}
		return
	}
	if err := p.svc.failJob(ctx, task, jobID, models.JobError{ChunkIndex: -1, Reason: cause.Error()}); err != nil {
		p.log.WithError(err).Error("job failure record failed")
	}
}

// ReapStalledJobs fails every running job with no progress inside the stall
// window and settles its dataset. Returns how many jobs were reaped.
func (s *Service) ReapStalledJobs(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.cfg.Job.StallTimeout())
	stalled, err := s.store.FailStalledJobs(ctx, cutoff, "stalled")
	if err != nil {
		return 0, err
	}
	for i := range stalled {
		j := &stalled[i]
		if err := s.store.SetDatasetStatus(ctx, j.OwnerID, j.DatasetID, models.DatasetFailed); err != nil {
			s.log.WithError(err).WithField("job_id", j.JobID).Error("stalled dataset settle failed")
		}
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeJobFailed, JobID: j.JobID.String(), OwnerID: j.OwnerID, Timestamp: time.Now()})
		s.log.WithFields(logrus.Fields{"job_id": j.JobID, "owner_id": j.OwnerID}).Warn("stalled job failed")
	}
	return len(stalled), nil
}
