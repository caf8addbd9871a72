package models

import "time"

// EvaluationStatus values persisted on FileSubmission. A nil status means
// evaluation was never requested. Timeout is derived at read time, never stored.
const (
	EvaluationStatusPending    = "pending"
	EvaluationStatusProcessing = "processing"
	EvaluationStatusCompleted  = "completed"
	EvaluationStatusError      = "error"
	EvaluationStatusTimeout    = "timeout"
	EvaluationStatusNotStarted = "not_started"
)

// FileSubmission is the stored artifact: one per individual submission or one
// per group. The student recorded in UploadedBy owns the file and is the only
// one allowed to replace its bytes; for group activities that student is the
// group leader.
type FileSubmission struct {
	ID                  string     `gorm:"primaryKey;size:36" json:"id"`
	ActivityID          string     `gorm:"size:255;not null;index" json:"activity_id"`
	ActivityMoodleID    string     `gorm:"size:255;not null;index" json:"activity_moodle_id"`
	FileName            string     `gorm:"size:255;not null" json:"file_name"`
	FilePath            string     `gorm:"size:512;not null" json:"file_path"`
	FileSize            int64      `gorm:"not null" json:"file_size"`
	FileType            string     `gorm:"size:128;not null" json:"file_type"`
	UploadedAt          time.Time  `json:"uploaded_at"`
	UploadedBy          string     `gorm:"size:255;not null" json:"uploaded_by"`
	UploadedByMoodleID  string     `gorm:"size:255;not null" json:"uploaded_by_moodle_id"`
	GroupCode           *string    `gorm:"size:8;uniqueIndex" json:"group_code"`
	MaxGroupMembers     int        `gorm:"default:1" json:"max_group_members"`
	EvaluationStatus    *string    `gorm:"size:32" json:"evaluation_status"`
	EvaluationStartedAt *time.Time `json:"evaluation_started_at"`
	EvaluationError     *string    `gorm:"type:text" json:"evaluation_error"`
}

// IsGroupSubmission reports whether this artifact is shared through a join code.
func (f FileSubmission) IsGroupSubmission() bool {
	return f.GroupCode != nil && *f.GroupCode != ""
}

// IsOwnedBy reports whether the given student may replace the stored bytes.
func (f FileSubmission) IsOwnedBy(studentID string) bool {
	return f.UploadedBy == studentID
}

// EffectiveEvaluationStatus resolves the derived status at the given time:
// a processing entry older than the timeout window reads as timed out.
func (f FileSubmission) EffectiveEvaluationStatus(now time.Time, timeout time.Duration) string {
	if f.EvaluationStatus == nil {
		return EvaluationStatusNotStarted
	}
	status := *f.EvaluationStatus
	if status == EvaluationStatusProcessing && f.EvaluationStartedAt != nil &&
		f.EvaluationStartedAt.Before(now.Add(-timeout)) {
		return EvaluationStatusTimeout
	}
	return status
}

// StudentSubmission links one student to one FileSubmission for one activity.
// The composite unique index is the authoritative backstop for the
// one-submission-per-student-per-activity invariant.
type StudentSubmission struct {
	ID                 string     `gorm:"primaryKey;size:36" json:"id"`
	FileSubmissionID   string     `gorm:"size:36;not null;index" json:"file_submission_id"`
	StudentID          string     `gorm:"size:255;not null;uniqueIndex:uq_student_activity_submission" json:"student_id"`
	StudentMoodleID    string     `gorm:"size:255;not null;uniqueIndex:uq_student_activity_submission" json:"student_moodle_id"`
	ActivityID         string     `gorm:"size:255;not null;uniqueIndex:uq_student_activity_submission" json:"activity_id"`
	ActivityMoodleID   string     `gorm:"size:255;not null;uniqueIndex:uq_student_activity_submission" json:"activity_moodle_id"`
	LisResultSourcedID *string    `gorm:"column:lis_result_sourcedid;size:1024" json:"lis_result_sourcedid"`
	JoinedAt           time.Time  `json:"joined_at"`
	SentToMoodle       bool       `gorm:"default:false;not null" json:"sent_to_moodle"`
	SentToMoodleAt     *time.Time `json:"sent_to_moodle_at"`
}

// HasPassbackToken reports whether a grade can be sent back for this student.
func (s StudentSubmission) HasPassbackToken() bool {
	return s.LisResultSourcedID != nil && *s.LisResultSourcedID != ""
}
