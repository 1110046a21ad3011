package api

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"marketdash/internal/config"
	"marketdash/internal/eventbus"
	"marketdash/internal/ingester"
	"marketdash/internal/models"
	"marketdash/internal/repository"
)

const (
	testSecret = "test-secret"
	testOwner  = int64(42)
)

type fakeOrch struct {
	job       *models.Job
	uploadURL string
	status    *ingester.JobStatus
	list      []*ingester.JobStatus
	alloc     *ingester.AllocationResult
	err       error

	committed []uuid.UUID
	deleted   []uuid.UUID
	gotOwner  int64
}

func (f *fakeOrch) CreateJob(ctx context.Context, ownerID int64, filename string, typ models.DatasetType) (*models.Job, string, error) {
	f.gotOwner = ownerID
	if f.err != nil {
		return nil, "", f.err
	}
	return f.job, f.uploadURL, nil
}

func (f *fakeOrch) CommitJob(ctx context.Context, ownerID int64, jobID uuid.UUID) (*models.Job, error) {
	f.gotOwner = ownerID
	if f.err != nil {
		return nil, f.err
	}
	f.committed = append(f.committed, jobID)
	return f.job, nil
}

func (f *fakeOrch) GetJob(ctx context.Context, ownerID int64, jobID uuid.UUID) (*ingester.JobStatus, error) {
	f.gotOwner = ownerID
	if f.err != nil {
		return nil, f.err
	}
	return f.status, nil
}

func (f *fakeOrch) ListJobs(ctx context.Context, ownerID int64, limit, offset int) ([]*ingester.JobStatus, error) {
	f.gotOwner = ownerID
	return f.list, f.err
}

func (f *fakeOrch) DeleteJob(ctx context.Context, ownerID int64, jobID uuid.UUID) error {
	f.gotOwner = ownerID
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, jobID)
	return nil
}

func (f *fakeOrch) AllocateAdSpend(ctx context.Context, ownerID, datasetID, adSpendID int64) (*ingester.AllocationResult, error) {
	f.gotOwner = ownerID
	if f.err != nil {
		return nil, f.err
	}
	return f.alloc, nil
}

type fakeData struct {
	datasets  []models.Dataset
	dataset   *models.Dataset
	txRows    []models.TransactionRow
	clickRows []models.ClickRow
	dash      *repository.Dashboard
	clicks    *repository.ClickStats
	spends    []models.AdSpend
	spend     *models.AdSpend
	allocs    []repository.AllocationRecord
	err       error

	gotFilter repository.Filter
	gotTopK   int
	created   []*models.AdSpend
	updated   *models.AdSpend
}

func (f *fakeData) ListDatasets(ctx context.Context, ownerID int64, typ models.DatasetType) ([]models.Dataset, error) {
	return f.datasets, f.err
}

func (f *fakeData) GetDataset(ctx context.Context, ownerID, id int64) (*models.Dataset, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.dataset, nil
}

func (f *fakeData) DeleteDataset(ctx context.Context, ownerID, id int64) error {
	return f.err
}

func (f *fakeData) ListTransactionRows(ctx context.Context, ownerID, datasetID int64, limit, offset int) ([]models.TransactionRow, error) {
	return f.txRows, f.err
}

func (f *fakeData) ListClickRows(ctx context.Context, ownerID, datasetID int64, limit, offset int) ([]models.ClickRow, error) {
	return f.clickRows, f.err
}

func (f *fakeData) QueryDashboard(ctx context.Context, ownerID int64, flt repository.Filter, topK int) (*repository.Dashboard, error) {
	f.gotFilter = flt
	f.gotTopK = topK
	if f.err != nil {
		return nil, f.err
	}
	return f.dash, nil
}

func (f *fakeData) QueryClicks(ctx context.Context, ownerID int64, from, to *time.Time) (*repository.ClickStats, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.clicks == nil {
		return &repository.ClickStats{}, nil
	}
	return f.clicks, nil
}

func (f *fakeData) CreateAdSpend(ctx context.Context, s *models.AdSpend) error {
	if f.err != nil {
		return f.err
	}
	s.ID = int64(len(f.created) + 1)
	f.created = append(f.created, s)
	return nil
}

func (f *fakeData) BulkCreateAdSpends(ctx context.Context, ownerID int64, spends []*models.AdSpend) error {
	if f.err != nil {
		return f.err
	}
	for _, s := range spends {
		s.ID = int64(len(f.created) + 1)
		f.created = append(f.created, s)
	}
	return nil
}

func (f *fakeData) GetAdSpend(ctx context.Context, ownerID, id int64) (*models.AdSpend, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.spend, nil
}

func (f *fakeData) ListAdSpends(ctx context.Context, ownerID int64, from, to *time.Time) ([]models.AdSpend, error) {
	return f.spends, f.err
}

func (f *fakeData) UpdateAdSpend(ctx context.Context, s *models.AdSpend) error {
	if f.err != nil {
		return f.err
	}
	f.updated = s
	return nil
}

func (f *fakeData) DeleteAdSpend(ctx context.Context, ownerID, id int64) error {
	return f.err
}

func (f *fakeData) ListAllocations(ctx context.Context, ownerID, adSpendID int64) ([]repository.AllocationRecord, error) {
	return f.allocs, f.err
}

type fakePing struct {
	err error
}

func (f *fakePing) Ping(ctx context.Context) error { return f.err }

// testIP hands every fixture its own client address so the shared rate
// limiter never throttles one test because of another.
var testIPSeq atomic.Int64

type fixture struct {
	orch  *fakeOrch
	store *fakeData
	db    *fakePing
	srv   *Server
	token string
	ip    string
}

func newFixture(t *testing.T, queue Pinger) *fixture {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := &config.Config{
		JWTSecret:   testSecret,
		TopProducts: 10,
		CacheTTLS:   300,
	}
	f := &fixture{
		orch:  &fakeOrch{},
		store: &fakeData{},
		db:    &fakePing{},
		ip:    fmt.Sprintf("203.0.113.%d", testIPSeq.Add(1)),
	}
	cache := NewDashboardCache(nil, 5*time.Minute, log)
	f.srv = NewServer(f.orch, f.store, f.db, queue, eventbus.New(), cache, cfg, log, "0")

	token, err := IssueToken(testSecret, testOwner, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	f.token = token
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("X-Forwarded-For", f.ip)
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func wantStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, want, w.Body.String())
	}
}
