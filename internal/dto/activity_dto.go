package dto

import (
	"time"

	"github.com/lamba-project/lamba-api/internal/models"
)

// CreateActivityRequest is the teacher-facing payload for a new activity. The
// identifying keys (resource link and consumer guid) come from the LTI session,
// never from the body.
type CreateActivityRequest struct {
	Title        string     `json:"title" validate:"required,min=1,max=255"`
	Description  string     `json:"description" validate:"max=10000"`
	ActivityType string     `json:"activity_type" validate:"required,oneof=individual group"`
	MaxGroupSize *int       `json:"max_group_size" validate:"omitempty,min=2,max=50"`
	Deadline     *time.Time `json:"deadline"`
	EvaluatorID  *string    `json:"evaluator_id" validate:"omitempty,max=255"`
}

// UpdateActivityRequest carries the mutable fields of an activity. Nil fields
// are left untouched.
type UpdateActivityRequest struct {
	Title        *string    `json:"title" validate:"omitempty,min=1,max=255"`
	Description  *string    `json:"description" validate:"omitempty,max=10000"`
	MaxGroupSize *int       `json:"max_group_size" validate:"omitempty,min=2,max=50"`
	Deadline     *time.Time `json:"deadline"`
	EvaluatorID  *string    `json:"evaluator_id" validate:"omitempty,max=255"`
}

type ActivityResponse struct {
	ID           string     `json:"id"`
	CourseID     string     `json:"course_id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	ActivityType string     `json:"activity_type"`
	MaxGroupSize *int       `json:"max_group_size"`
	Deadline     *time.Time `json:"deadline"`
	EvaluatorID  *string    `json:"evaluator_id"`
	PastDeadline bool       `json:"past_deadline"`
	CreatedAt    time.Time  `json:"created_at"`
}

func NewActivityResponse(activity models.Activity, now time.Time) ActivityResponse {
	return ActivityResponse{
		ID:           activity.ID,
		CourseID:     activity.CourseID,
		Title:        activity.Title,
		Description:  activity.Description,
		ActivityType: activity.ActivityType,
		MaxGroupSize: activity.MaxGroupSize,
		Deadline:     activity.Deadline,
		EvaluatorID:  activity.EvaluatorID,
		PastDeadline: activity.IsPastDeadline(now),
		CreatedAt:    activity.CreatedAt,
	}
}

func NewActivityListResponse(activities []models.Activity, now time.Time) []ActivityResponse {
	responses := make([]ActivityResponse, 0, len(activities))
	for _, activity := range activities {
		responses = append(responses, NewActivityResponse(activity, now))
	}
	return responses
}
