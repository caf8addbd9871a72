package models

import (
	"time"

	"gorm.io/datatypes"
)

// Grade holds at most one grade per FileSubmission. The professor's final
// score/comment and the AI-proposed result are tracked separately so the
// automated suggestion never silently masquerades as a human decision.
type Grade struct {
	ID               string            `gorm:"primaryKey;size:36" json:"id"`
	FileSubmissionID string            `gorm:"size:36;not null;uniqueIndex" json:"file_submission_id"`
	Score            float64           `gorm:"not null" json:"score"`
	Comment          *string           `gorm:"type:text" json:"comment"`
	AIScore          *float64          `json:"ai_score"`
	AIComment        *string           `gorm:"type:text" json:"ai_comment"`
	AIEvaluatedAt    *time.Time        `json:"ai_evaluated_at"`
	AIDetails        datatypes.JSONMap `json:"ai_details"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}
