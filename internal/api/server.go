// Package api serves the versioned HTTP surface: job orchestration,
// dataset reads, dashboard aggregations, ad-spend management and health.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"marketdash/internal/config"
	"marketdash/internal/eventbus"
	"marketdash/internal/ingester"
	"marketdash/internal/models"
	"marketdash/internal/repository"
)

// Orchestrator is the ingestion service surface the handlers call.
// *ingester.Service satisfies it; tests substitute a fake.
type Orchestrator interface {
	CreateJob(ctx context.Context, ownerID int64, filename string, typ models.DatasetType) (*models.Job, string, error)
	CommitJob(ctx context.Context, ownerID int64, jobID uuid.UUID) (*models.Job, error)
	GetJob(ctx context.Context, ownerID int64, jobID uuid.UUID) (*ingester.JobStatus, error)
	ListJobs(ctx context.Context, ownerID int64, limit, offset int) ([]*ingester.JobStatus, error)
	DeleteJob(ctx context.Context, ownerID int64, jobID uuid.UUID) error
	AllocateAdSpend(ctx context.Context, ownerID, datasetID, adSpendID int64) (*ingester.AllocationResult, error)
}

// DataStore is the repository surface the read and ad-spend handlers use.
type DataStore interface {
	ListDatasets(ctx context.Context, ownerID int64, typ models.DatasetType) ([]models.Dataset, error)
	GetDataset(ctx context.Context, ownerID, id int64) (*models.Dataset, error)
	DeleteDataset(ctx context.Context, ownerID, id int64) error
	ListTransactionRows(ctx context.Context, ownerID, datasetID int64, limit, offset int) ([]models.TransactionRow, error)
	ListClickRows(ctx context.Context, ownerID, datasetID int64, limit, offset int) ([]models.ClickRow, error)

	QueryDashboard(ctx context.Context, ownerID int64, f repository.Filter, topK int) (*repository.Dashboard, error)
	QueryClicks(ctx context.Context, ownerID int64, from, to *time.Time) (*repository.ClickStats, error)

	CreateAdSpend(ctx context.Context, s *models.AdSpend) error
	BulkCreateAdSpends(ctx context.Context, ownerID int64, spends []*models.AdSpend) error
	GetAdSpend(ctx context.Context, ownerID, id int64) (*models.AdSpend, error)
	ListAdSpends(ctx context.Context, ownerID int64, from, to *time.Time) ([]models.AdSpend, error)
	UpdateAdSpend(ctx context.Context, s *models.AdSpend) error
	DeleteAdSpend(ctx context.Context, ownerID, id int64) error
	ListAllocations(ctx context.Context, ownerID, adSpendID int64) ([]repository.AllocationRecord, error)
}

// Pinger reports subsystem liveness for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	orch  Orchestrator
	store DataStore
	db    Pinger
	queue Pinger // nil when no broker is configured
	bus   *eventbus.Bus
	cache *DashboardCache
	auth  *AuthMiddleware
	cfg   *config.Config
	log   *logrus.Entry

	httpServer *http.Server
}

func NewServer(orch Orchestrator, store DataStore, db Pinger, qp Pinger, bus *eventbus.Bus, cache *DashboardCache, cfg *config.Config, log *logrus.Logger, port string) *Server {
	s := &Server{
		orch:  orch,
		store: store,
		db:    db,
		queue: qp,
		bus:   bus,
		cache: cache,
		auth:  NewAuthMiddleware(cfg.JWTSecret),
		cfg:   cfg,
		log:   log.WithField("component", "api"),
	}

	r := mux.NewRouter()
	r.Use(commonMiddleware)
	r.Use(rateLimitMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods("GET", "OPTIONS")

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.auth.Middleware)
	registerJobRoutes(v1, s)
	registerDatasetRoutes(v1, s)
	registerDashboardRoutes(v1, s)
	registerAdSpendRoutes(v1, s)

	s.httpServer = &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	return s
}

func registerJobRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/jobs", s.handleCreateJob).Methods("POST", "OPTIONS")
	r.HandleFunc("/jobs", s.handleListJobs).Methods("GET", "OPTIONS")
	r.HandleFunc("/jobs/{id}/commit", s.handleCommitJob).Methods("POST", "OPTIONS")
	r.HandleFunc("/jobs/{id}/ws", s.handleJobWebSocket).Methods("GET", "OPTIONS")
	r.HandleFunc("/jobs/{id}", s.handleGetJob).Methods("GET", "OPTIONS")
	r.HandleFunc("/jobs/{id}", s.handleDeleteJob).Methods("DELETE", "OPTIONS")
}

func registerDatasetRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/datasets", s.handleListDatasets).Methods("GET", "OPTIONS")
	r.HandleFunc("/datasets/{id}", s.handleDeleteDataset).Methods("DELETE", "OPTIONS")
	r.HandleFunc("/datasets/{id}/rows", s.handleListRows).Methods("GET", "OPTIONS")
}

func registerDashboardRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/dashboard", s.handleDashboard).Methods("GET", "OPTIONS")
}

func registerAdSpendRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/ad_spends", s.handleListAdSpends).Methods("GET", "OPTIONS")
	r.HandleFunc("/ad_spends", s.handleCreateAdSpend).Methods("POST", "OPTIONS")
	r.HandleFunc("/ad_spends/bulk", s.handleBulkCreateAdSpends).Methods("POST", "OPTIONS")
	r.HandleFunc("/ad_spends/{id}/allocate", s.handleAllocateAdSpend).Methods("POST", "OPTIONS")
	r.HandleFunc("/ad_spends/{id}/allocations", s.handleListAllocations).Methods("GET", "OPTIONS")
	r.HandleFunc("/ad_spends/{id}", s.handlePatchAdSpend).Methods("PATCH", "OPTIONS")
	r.HandleFunc("/ad_spends/{id}", s.handleDeleteAdSpend).Methods("DELETE", "OPTIONS")
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("api listening")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func commonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS, PATCH, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleHealth reports subsystem status: 200 when everything required is up,
// 503 when the database or a configured queue is down.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "ok"
	if err := s.db.Ping(ctx); err != nil {
		dbStatus = "down"
	}
	queueStatus := "unconfigured"
	if s.queue != nil {
		queueStatus = "ok"
		if err := s.queue.Ping(ctx); err != nil {
			queueStatus = "down"
		}
	}

	status := "ok"
	code := http.StatusOK
	if dbStatus == "down" || queueStatus == "down" {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	writeJSON(w, map[string]string{
		"status":   status,
		"database": dbStatus,
		"queue":    queueStatus,
	})
}
