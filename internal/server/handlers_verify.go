package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/minionlabs/minion-api/internal/schemas"
	"github.com/minionlabs/minion-api/internal/server/middleware"
	"github.com/minionlabs/minion-api/internal/types"
	"github.com/minionlabs/minion-api/internal/verify"
)

const (
	maxUploadBytes    = 32 << 20
	maxMultipartInMem = 8 << 20
)

// readUpload returns the contents and name of the multipart file in field.
func readUpload(w http.ResponseWriter, r *http.Request, field string) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxMultipartInMem); err != nil {
		return nil, "", &ErrValidation{Field: field, Message: "expected a multipart upload"}
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, "", &ErrValidation{Field: field, Message: "File not found"}
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", &ErrValidation{Field: field, Message: "failed to read upload"}
	}
	return data, header.Filename, nil
}

// handleExecuteFileJSONInput accepts an uploaded {"emails": [...]} document,
// charges for it and hands it to the primary provider.
func (s *Server) handleExecuteFileJSONInput(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r)
	if err != nil {
		s.errorResponse(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	data, fileName, err := readUpload(w, r, "json")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := schemas.ValidateVerifyInput(data); err != nil {
		s.fail(w, r, err)
		return
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		s.fail(w, r, &ErrValidation{Field: "json", Message: "invalid JSON"})
		return
	}
	emails, err := emailsFromDocument(doc)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	job, err := s.pipeline.Submit(r.Context(), verify.SubmitRequest{
		OwnerID:  userID,
		FileName: fileName,
		Emails:   emails,
		Document: doc,
	})
	if err != nil {
		var bp *verify.BreakpointError
		if job != nil && errors.As(err, &bp) {
			// The batch is charged and checkpointed; report the job so it can be resumed.
			s.jsonResponse(w, HTTPStatus(err), map[string]any{
				"message": "Failed to send emails to SMTP server",
				"error":   err.Error(),
				"logID":   bp.JobID,
				"stage":   bp.Stage.Code(),
				"log":     job,
			})
			return
		}
		s.fail(w, r, err)
		return
	}

	s.logger.Info("verification submitted",
		zap.String("job_id", job.ID),
		zap.String("owner_id", userID.String()),
		zap.Int("emails", len(emails)))
	s.jsonResponse(w, http.StatusOK, map[string]any{"message": "File uploaded successfully", "log": job})
}

func emailsFromDocument(doc map[string]any) ([]string, error) {
	raw, ok := doc["emails"].([]any)
	if !ok || len(raw) == 0 {
		return nil, &ErrValidation{Field: "emails", Message: "required"}
	}
	emails := make([]string, 0, len(raw))
	for i, v := range raw {
		e, ok := v.(string)
		if !ok {
			return nil, &ErrValidation{Field: fmt.Sprintf("emails[%d]", i), Message: "must be a string"}
		}
		emails = append(emails, e)
	}
	return emails, nil
}

// handleCheckStatus drives the caller's job as far as it can go.
func (s *Server) handleCheckStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r)
	if err != nil {
		s.errorResponse(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req types.LogIDRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Log ID not found")
		return
	}
	if err := req.Validate(); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Log ID not found")
		return
	}

	job, err := s.db.GetJob(r.Context(), req.LogID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if job == nil || job.OwnerID != userID {
		s.errorResponse(w, http.StatusNotFound, "Log not found")
		return
	}

	// The drive outlives a disconnected caller so its claim is released or
	// its checkpoint written.
	ctx := context.WithoutCancel(r.Context())
	v, err, shared := s.statusCalls.Do(req.LogID, func() (any, error) {
		return s.pipeline.CheckStatus(ctx, req.LogID)
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if shared {
		s.logger.Debug("status check collapsed", zap.String("job_id", req.LogID))
	}
	s.outcomeResponse(w, v.(*verify.Outcome))
}

// resumeHandler continues a job from the breakpoint with the given code.
func (s *Server) resumeHandler(stageCode int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.LogIDRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
		if err := req.Validate(); err != nil {
			s.errorResponse(w, http.StatusBadRequest, extractValidationErrors(err))
			return
		}

		s.logger.Info("admin resume", zap.String("job_id", req.LogID), zap.Int("stage", stageCode))
		out, err := s.pipeline.Resume(context.WithoutCancel(r.Context()), req.LogID, stageCode)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.outcomeResponse(w, out)
	}
}

// handleResumeAny resumes a job from whichever breakpoint it stopped at.
func (s *Server) handleResumeAny(w http.ResponseWriter, r *http.Request) {
	var req types.LogIDRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.errorResponse(w, http.StatusBadRequest, extractValidationErrors(err))
		return
	}

	out, err := s.pipeline.ResumeAny(context.WithoutCancel(r.Context()), req.LogID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.outcomeResponse(w, out)
}

func (s *Server) outcomeResponse(w http.ResponseWriter, out *verify.Outcome) {
	switch out.State {
	case verify.StateCompleted:
		s.jsonResponse(w, http.StatusOK, map[string]any{"message": "Completed", "log": out.Job})
	case verify.StateBreakpoint:
		code := out.Job.Stage.Code()
		s.jsonResponse(w, http.StatusConflict, map[string]any{
			"message": fmt.Sprintf("Job stopped at breakpoint %d", code),
			"stage":   code,
			"log":     out.Job,
		})
	case verify.StateInProgress:
		s.jsonResponse(w, http.StatusOK, map[string]any{"message": "In progress", "log": out.Job})
	default:
		s.jsonResponse(w, http.StatusOK, map[string]any{"message": "Submitted", "log": out.Job})
	}
}
