package dto

import (
	"time"

	"github.com/lamba-project/lamba-api/internal/models"
)

// UpsertGradeRequest sets or replaces the teacher grade for one file
// submission. Scores live on the 0-10 scale used inside the tool.
type UpsertGradeRequest struct {
	Score   float64 `json:"score" validate:"min=0,max=10"`
	Comment *string `json:"comment" validate:"omitempty,max=10000"`
}

type GradeResponse struct {
	ID               string     `json:"id"`
	FileSubmissionID string     `json:"file_submission_id"`
	Score            float64    `json:"score"`
	Comment          *string    `json:"comment,omitempty"`
	AIScore          *float64   `json:"ai_score,omitempty"`
	AIComment        *string    `json:"ai_comment,omitempty"`
	AIEvaluatedAt    *time.Time `json:"ai_evaluated_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func NewGradeResponse(grade models.Grade) GradeResponse {
	return GradeResponse{
		ID:               grade.ID,
		FileSubmissionID: grade.FileSubmissionID,
		Score:            grade.Score,
		Comment:          grade.Comment,
		AIScore:          grade.AIScore,
		AIComment:        grade.AIComment,
		AIEvaluatedAt:    grade.AIEvaluatedAt,
		CreatedAt:        grade.CreatedAt,
		UpdatedAt:        grade.UpdatedAt,
	}
}

// GradeSyncItem reports the outcome of one grade passback attempt.
type GradeSyncItem struct {
	StudentID string  `json:"student_id"`
	Score     float64 `json:"score"`
	Error     string  `json:"error,omitempty"`
}

// GradeSyncResponse summarizes one push of an activity's grades to Moodle.
// Success means at least one grade went through and none failed.
type GradeSyncResponse struct {
	Success bool            `json:"success"`
	Sent    []GradeSyncItem `json:"sent"`
	Failed  []GradeSyncItem `json:"failed"`
	Skipped int             `json:"skipped"`
}
