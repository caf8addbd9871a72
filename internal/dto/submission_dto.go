package dto

import (
	"time"

	"github.com/lamba-project/lamba-api/internal/models"
)

// JoinGroupRequest carries the 8-character join code a student types in.
type JoinGroupRequest struct {
	GroupCode string `json:"group_code" validate:"required,len=8,alphanum"`
}

type GroupMemberResponse struct {
	StudentID string    `json:"student_id"`
	FullName  string    `json:"full_name"`
	IsLeader  bool      `json:"is_leader"`
	JoinedAt  time.Time `json:"joined_at"`
}

type SubmissionResponse struct {
	ID               string                `json:"id"`
	ActivityID       string                `json:"activity_id"`
	FileName         string                `json:"file_name"`
	FileSize         int64                 `json:"file_size"`
	FileType         string                `json:"file_type"`
	UploadedAt       time.Time             `json:"uploaded_at"`
	UploadedBy       string                `json:"uploaded_by"`
	GroupCode        *string               `json:"group_code,omitempty"`
	GroupCodeUses    *int                  `json:"group_code_uses,omitempty"`
	MaxGroupMembers  int                   `json:"max_group_members"`
	IsGroup          bool                  `json:"is_group"`
	IsOwner          bool                  `json:"is_owner"`
	EvaluationStatus string                `json:"evaluation_status"`
	EvaluationError  *string               `json:"evaluation_error,omitempty"`
	SentToMoodle     bool                  `json:"sent_to_moodle"`
	SentToMoodleAt   *time.Time            `json:"sent_to_moodle_at,omitempty"`
	Members          []GroupMemberResponse `json:"members,omitempty"`
}

// NewSubmissionResponse renders a file submission from the viewpoint of one
// student. The join code is exposed only to members of the group that owns it,
// which callers express by passing the student's own submission.
func NewSubmissionResponse(file models.FileSubmission, student models.StudentSubmission, viewerID string, now time.Time, timeout time.Duration) SubmissionResponse {
	response := SubmissionResponse{
		ID:               file.ID,
		ActivityID:       file.ActivityID,
		FileName:         file.FileName,
		FileSize:         file.FileSize,
		FileType:         file.FileType,
		UploadedAt:       file.UploadedAt,
		UploadedBy:       file.UploadedBy,
		MaxGroupMembers:  file.MaxGroupMembers,
		IsGroup:          file.IsGroupSubmission(),
		IsOwner:          file.IsOwnedBy(viewerID),
		EvaluationStatus: file.EffectiveEvaluationStatus(now, timeout),
		EvaluationError:  file.EvaluationError,
		SentToMoodle:     student.SentToMoodle,
		SentToMoodleAt:   student.SentToMoodleAt,
	}
	if file.IsGroupSubmission() {
		response.GroupCode = file.GroupCode
	}
	return response
}

func NewGroupMemberResponse(submission models.StudentSubmission, user models.User, leaderID string) GroupMemberResponse {
	return GroupMemberResponse{
		StudentID: submission.StudentID,
		FullName:  user.FullName,
		IsLeader:  submission.StudentID == leaderID,
		JoinedAt:  submission.JoinedAt,
	}
}
