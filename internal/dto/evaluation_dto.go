package dto

import (
	"time"

	"github.com/lamba-project/lamba-api/internal/models"
)

// StartEvaluationRequest selects which submissions of an activity to run
// through the external grader. An empty list means all of them. Force re-runs
// submissions that already carry an AI grade.
type StartEvaluationRequest struct {
	SubmissionIDs []string `json:"submission_ids" validate:"omitempty,dive,uuid4"`
	Force         bool     `json:"force"`
}

// ClearEvaluationRequest selects which submissions to reset to the
// never-evaluated state.
type ClearEvaluationRequest struct {
	SubmissionIDs []string `json:"submission_ids" validate:"omitempty,dive,uuid4"`
}

type EvaluationStatusResponse struct {
	SubmissionID     string     `json:"submission_id"`
	FileName         string     `json:"file_name"`
	Status           string     `json:"status"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	Error            *string    `json:"error,omitempty"`
	AIScore          *float64   `json:"ai_score,omitempty"`
	AIEvaluatedAt    *time.Time `json:"ai_evaluated_at,omitempty"`
}

func NewEvaluationStatusResponse(file models.FileSubmission, grade *models.Grade, now time.Time, timeout time.Duration) EvaluationStatusResponse {
	response := EvaluationStatusResponse{
		SubmissionID: file.ID,
		FileName:     file.FileName,
		Status:       file.EffectiveEvaluationStatus(now, timeout),
		StartedAt:    file.EvaluationStartedAt,
		Error:        file.EvaluationError,
	}
	if grade != nil {
		response.AIScore = grade.AIScore
		response.AIEvaluatedAt = grade.AIEvaluatedAt
	}
	return response
}

// StartEvaluationResponse reports the queue partition before any grading
// runs: what got queued, what is still claimed by a live run, and what was
// left alone because it already carries an AI grade.
type StartEvaluationResponse struct {
	Requested         int      `json:"requested"`
	Queued            []string `json:"queued"`
	AlreadyProcessing []string `json:"already_processing,omitempty"`
	Skipped           []string `json:"skipped,omitempty"`
}

// EvaluationBatchResponse summarizes one ProcessBatch run over queued
// submissions.
type EvaluationBatchResponse struct {
	Evaluated int      `json:"evaluated"`
	Failed    []string `json:"failed,omitempty"`
}

// EvaluationRunResponse is the combined start-then-process result returned by
// the start endpoint.
type EvaluationRunResponse struct {
	StartEvaluationResponse
	EvaluationBatchResponse
}
