package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/minionlabs/minion-api/internal/db"
	"github.com/minionlabs/minion-api/internal/report"
	"github.com/minionlabs/minion-api/internal/server/middleware"
	"github.com/minionlabs/minion-api/internal/types"
)

// pageFilters reads limit and offset query parameters into f.
func pageFilters(r *http.Request, f *db.JobFilters) error {
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			return &ErrValidation{Field: "limit", Message: "must be between 1 and 500"}
		}
		f.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return &ErrValidation{Field: "offset", Message: "must be a non-negative integer"}
		}
		f.Offset = n
	}
	if v := r.URL.Query().Get("stage"); v != "" {
		f.Stage = types.Stage(v)
	}
	return nil
}

func (s *Server) listLogs(w http.ResponseWriter, r *http.Request, owner *uuid.UUID) {
	f := db.JobFilters{OwnerID: owner}
	if err := pageFilters(r, &f); err != nil {
		s.fail(w, r, err)
		return
	}
	jobs, err := s.db.ListJobs(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []types.VerificationJob{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"logs": jobs, "count": len(jobs)})
}

// handleListLogs lists the caller's verification jobs.
func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r)
	if err != nil {
		s.errorResponse(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	s.listLogs(w, r, &userID)
}

// handleGetOneLog returns one of the caller's jobs.
func (s *Server) handleGetOneLog(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r)
	if err != nil {
		s.errorResponse(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	job, ok := s.lookupLog(w, r)
	if !ok {
		return
	}
	if job.OwnerID != userID {
		s.errorResponse(w, http.StatusNotFound, "Log not found")
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"log": job})
}

// lookupLog decodes a {"logID"} body and loads the job. It writes the
// response itself when it returns false.
func (s *Server) lookupLog(w http.ResponseWriter, r *http.Request) (*types.VerificationJob, bool) {
	var req types.LogIDRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	if err := req.Validate(); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Log ID not found")
		return nil, false
	}
	job, err := s.db.GetJob(r.Context(), req.LogID)
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	if job == nil {
		s.errorResponse(w, http.StatusNotFound, "Log not found")
		return nil, false
	}
	return job, true
}

// handleExportLog renders a completed job's categorized result as CSV or XLSX.
func (s *Server) handleExportLog(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r)
	if err != nil {
		s.errorResponse(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = report.FormatCSV
	}
	if format != report.FormatCSV && format != report.FormatXLSX {
		s.errorResponse(w, http.StatusBadRequest, "format must be csv or xlsx")
		return
	}

	id := r.PathValue("id")
	job, err := s.db.GetJob(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if job == nil || job.OwnerID != userID {
		s.errorResponse(w, http.StatusNotFound, "Log not found")
		return
	}
	if job.Stage != types.StageCompleted || job.Summary == nil {
		s.errorResponse(w, http.StatusConflict, "Verification is not completed")
		return
	}

	doc := []byte(job.Summary.ReportJSON)
	if len(doc) == 0 {
		doc, err = s.storage.Get(r.Context(), job.Summary.ReportURL)
		if err != nil {
			s.fail(w, r, fmt.Errorf("failed to fetch report: %w", err))
			return
		}
	}
	categories, err := report.ParseCategories(doc)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var (
		body        []byte
		contentType string
	)
	switch format {
	case report.FormatXLSX:
		body, err = report.WriteXLSX(categories)
		contentType = types.ContentTypeXLSX
	default:
		body, err = report.WriteCSV(categories)
		contentType = types.ContentTypeCSV
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.%s"`, job.ID, format))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.logger.Warn("failed to write export", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// handleAdminListLogs lists every verification job.
func (s *Server) handleAdminListLogs(w http.ResponseWriter, r *http.Request) {
	s.listLogs(w, r, nil)
}

// handleAdminGetLog returns any job with its checkpoint, if one exists.
func (s *Server) handleAdminGetLog(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupLog(w, r)
	if !ok {
		return
	}
	cp, err := s.db.LoadCheckpoint(r.Context(), job.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"log": job, "checkpoint": cp})
}

// handleAdminLogsByUser lists one account's jobs.
func (s *Server) handleAdminLogsByUser(w http.ResponseWriter, r *http.Request) {
	owner, err := uuid.Parse(r.URL.Query().Get("userID"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "userID must be a UUID")
		return
	}
	s.listLogs(w, r, &owner)
}

// handleAdminDeleteLog hard-deletes a job and its checkpoint.
func (s *Server) handleAdminDeleteLog(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupLog(w, r)
	if !ok {
		return
	}
	if err := s.db.DeleteJob(r.Context(), job.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("verification log deleted", zap.String("job_id", job.ID))
	s.jsonResponse(w, http.StatusOK, map[string]string{"message": "Log deleted"})
}
