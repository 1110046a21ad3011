package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"marketdash/internal/apperr"
	"marketdash/internal/models"
)

func pathJobID(r *http.Request) (uuid.UUID, error) {
	raw := mux.Vars(r)["id"]
	id, err := uuid.Parse(raw)
	if err != nil {
		// Malformed ids read the same as missing ones.
		return uuid.Nil, apperr.New(apperr.NotFound, "job not found")
	}
	return id, nil
}

type createJobRequest struct {
	Filename string `json:"filename"`
	Type     string `json:"type"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	job, uploadURL, err := s.orch.CreateJob(r.Context(), ownerFrom(r), req.Filename, models.DatasetType(req.Type))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, map[string]interface{}{
		"job_id":      job.JobID,
		"dataset_id":  job.DatasetID,
		"upload_url":  uploadURL,
		"storage_key": job.StorageKey,
		"expires_in":  int(presignExpirySeconds),
	})
}

const presignExpirySeconds = 15 * 60

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset := parseLimitOffset(r)
	jobs, err := s.orch.ListJobs(r.Context(), ownerFrom(r), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"jobs": jobs})
}

func (s *Server) handleCommitJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathJobID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	job, err := s.orch.CommitJob(r.Context(), ownerFrom(r), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]interface{}{
		"job_id": job.JobID,
		"status": job.Status,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathJobID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	status, err := s.orch.GetJob(r.Context(), ownerFrom(r), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathJobID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	owner := ownerFrom(r)
	if err := s.orch.DeleteJob(r.Context(), owner, jobID); err != nil {
		writeError(w, err)
		return
	}
	s.cache.InvalidateOwner(r.Context(), owner)
	writeJSON(w, map[string]string{"status": "deleted"})
}
