package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/uuid"

	"marketdash/internal/apperr"
	"marketdash/internal/ingester"
	"marketdash/internal/models"
)

func TestCreateJob(t *testing.T) {
	f := newFixture(t, nil)
	jobID := uuid.New()
	f.orch.job = &models.Job{
		JobID:      jobID,
		DatasetID:  7,
		Type:       models.DatasetTransaction,
		StorageKey: "uploads/" + jobID.String() + "/sales.csv",
		Status:     models.JobQueued,
	}
	f.orch.uploadURL = "https://minio.local/presigned"

	w := f.do(t, "POST", "/api/v1/jobs", `{"filename":"sales.csv","type":"transaction"}`)
	wantStatus(t, w, http.StatusCreated)

	var body map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["job_id"] != jobID.String() {
		t.Errorf("job_id = %v", body["job_id"])
	}
	if body["upload_url"] != "https://minio.local/presigned" {
		t.Errorf("upload_url = %v", body["upload_url"])
	}
	if body["dataset_id"] != float64(7) {
		t.Errorf("dataset_id = %v", body["dataset_id"])
	}
	if f.orch.gotOwner != testOwner {
		t.Errorf("owner = %d, want %d", f.orch.gotOwner, testOwner)
	}
}

func TestCreateJobRejectsUnknownFields(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, "POST", "/api/v1/jobs", `{"filename":"a.csv","type":"transaction","surprise":true}`)
	wantStatus(t, w, http.StatusBadRequest)
}

func TestCreateJobValidationError(t *testing.T) {
	f := newFixture(t, nil)
	f.orch.err = apperr.New(apperr.Validation, "filename is required")

	w := f.do(t, "POST", "/api/v1/jobs", `{"filename":"","type":"transaction"}`)
	wantStatus(t, w, http.StatusBadRequest)
	env := decodeEnvelope(t, w.Body.Bytes())
	if env["message"] != "filename is required" {
		t.Errorf("message = %q", env["message"])
	}
}

// Malformed job ids are indistinguishable from absent ones.
func TestGetJobMalformedID(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, "GET", "/api/v1/jobs/not-a-uuid", "")
	wantStatus(t, w, http.StatusNotFound)
}

func TestGetJob(t *testing.T) {
	f := newFixture(t, nil)
	jobID := uuid.New()
	f.orch.status = &ingester.JobStatus{
		JobID:       jobID,
		Status:      models.JobRunning,
		TotalChunks: 4,
		ChunksDone:  1,
		Errors:      []models.JobError{},
	}

	w := f.do(t, "GET", "/api/v1/jobs/"+jobID.String(), "")
	wantStatus(t, w, http.StatusOK)

	var body map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["status"] != models.JobRunning {
		t.Errorf("status = %v", body["status"])
	}
	if body["chunks_done"] != float64(1) || body["total_chunks"] != float64(4) {
		t.Errorf("progress = %v/%v", body["chunks_done"], body["total_chunks"])
	}
}

func TestCommitJob(t *testing.T) {
	f := newFixture(t, nil)
	jobID := uuid.New()
	f.orch.job = &models.Job{JobID: jobID, Status: models.JobQueued}

	w := f.do(t, "POST", "/api/v1/jobs/"+jobID.String()+"/commit", "")
	wantStatus(t, w, http.StatusAccepted)
	if len(f.orch.committed) != 1 || f.orch.committed[0] != jobID {
		t.Errorf("committed = %v", f.orch.committed)
	}
}

func TestCommitJobTwice(t *testing.T) {
	f := newFixture(t, nil)
	jobID := uuid.New()
	f.orch.err = apperr.New(apperr.Conflict, "job already committed")

	w := f.do(t, "POST", "/api/v1/jobs/"+jobID.String()+"/commit", "")
	wantStatus(t, w, http.StatusConflict)
}

func TestDeleteJob(t *testing.T) {
	f := newFixture(t, nil)
	jobID := uuid.New()

	w := f.do(t, "DELETE", "/api/v1/jobs/"+jobID.String(), "")
	wantStatus(t, w, http.StatusOK)
	if len(f.orch.deleted) != 1 || f.orch.deleted[0] != jobID {
		t.Errorf("deleted = %v", f.orch.deleted)
	}
}
