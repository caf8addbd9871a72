package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/lamba-project/lamba-api/internal/models"
)

// SendableSubmission pairs a student submission with its file and grade,
// ready for grade passback.
type SendableSubmission struct {
	Student models.StudentSubmission
	File    models.FileSubmission
	Grade   models.Grade
}

// SubmissionRepository defines data operations for file and student submissions.
type SubmissionRepository interface {
	CreateFile(ctx context.Context, file *models.FileSubmission) error
	UpdateFile(ctx context.Context, file *models.FileSubmission) error
	GetFileByID(ctx context.Context, id string) (models.FileSubmission, error)
	GetFileByGroupCode(ctx context.Context, groupCode, activityID, activityMoodleID string) (models.FileSubmission, error)
	ListFilesByActivity(ctx context.Context, activityID, activityMoodleID string) ([]models.FileSubmission, error)
	ListFilesByIDs(ctx context.Context, ids []string, activityID, activityMoodleID string) ([]models.FileSubmission, error)
	GroupCodeInUse(ctx context.Context, code string) (bool, error)

	CreateStudent(ctx context.Context, submission *models.StudentSubmission) error
	UpdateStudent(ctx context.Context, submission *models.StudentSubmission) error
	GetStudentByKey(ctx context.Context, activityID, activityMoodleID, studentID, studentMoodleID string) (models.StudentSubmission, error)
	ListStudentsByActivity(ctx context.Context, activityID, activityMoodleID string) ([]models.StudentSubmission, error)
	ListStudentsByFile(ctx context.Context, fileSubmissionID string) ([]models.StudentSubmission, error)
	CountMembers(ctx context.Context, fileSubmissionID string) (int64, error)
	MarkSentToMoodle(ctx context.Context, studentSubmissionID string, at time.Time) error

	MarkEvaluationPending(ctx context.Context, ids []string, at time.Time) error
	MarkEvaluationProcessing(ctx context.Context, id string, at time.Time) error
	CompleteEvaluation(ctx context.Context, id string) error
	FailEvaluation(ctx context.Context, id, message string) error
	ResetStuckEvaluations(ctx context.Context, activityID, activityMoodleID string, threshold time.Time, message string) (int64, error)
	ClearEvaluationStatus(ctx context.Context, ids []string) (int64, error)

	ListSendable(ctx context.Context, activityID string) ([]SendableSubmission, error)
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) CreateFile(ctx context.Context, file *models.FileSubmission) error {
	return r.db.WithContext(ctx).Create(file).Error
}

func (r *submissionRepository) UpdateFile(ctx context.Context, file *models.FileSubmission) error {
	return r.db.WithContext(ctx).Save(file).Error
}

func (r *submissionRepository) GetFileByID(ctx context.Context, id string) (models.FileSubmission, error) {
	var file models.FileSubmission
	if err := r.db.WithContext(ctx).First(&file, "id = ?", id).Error; err != nil {
		return models.FileSubmission{}, err
	}

	return file, nil
}

func (r *submissionRepository) GetFileByGroupCode(ctx context.Context, groupCode, activityID, activityMoodleID string) (models.FileSubmission, error) {
	var file models.FileSubmission
	if err := r.db.WithContext(ctx).
		First(&file, "group_code = ? AND activity_id = ? AND activity_moodle_id = ?",
			groupCode, activityID, activityMoodleID).Error; err != nil {
		return models.FileSubmission{}, err
	}

	return file, nil
}

func (r *submissionRepository) ListFilesByActivity(ctx context.Context, activityID, activityMoodleID string) ([]models.FileSubmission, error) {
	var files []models.FileSubmission
	if err := r.db.WithContext(ctx).
		Where("activity_id = ? AND activity_moodle_id = ?", activityID, activityMoodleID).
		Order("uploaded_at ASC").
		Find(&files).Error; err != nil {
		return nil, err
	}

	return files, nil
}

func (r *submissionRepository) ListFilesByIDs(ctx context.Context, ids []string, activityID, activityMoodleID string) ([]models.FileSubmission, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var files []models.FileSubmission
	if err := r.db.WithContext(ctx).
		Where("id IN ? AND activity_id = ? AND activity_moodle_id = ?", ids, activityID, activityMoodleID).
		Find(&files).Error; err != nil {
		return nil, err
	}

	return files, nil
}

func (r *submissionRepository) GroupCodeInUse(ctx context.Context, code string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.FileSubmission{}).
		Where("group_code = ?", code).
		Count(&count).Error; err != nil {
		return false, err
	}

	return count > 0, nil
}

func (r *submissionRepository) CreateStudent(ctx context.Context, submission *models.StudentSubmission) error {
	return r.db.WithContext(ctx).Create(submission).Error
}

func (r *submissionRepository) UpdateStudent(ctx context.Context, submission *models.StudentSubmission) error {
	return r.db.WithContext(ctx).Save(submission).Error
}

func (r *submissionRepository) GetStudentByKey(ctx context.Context, activityID, activityMoodleID, studentID, studentMoodleID string) (models.StudentSubmission, error) {
	var submission models.StudentSubmission
	if err := r.db.WithContext(ctx).
		First(&submission,
			"activity_id = ? AND activity_moodle_id = ? AND student_id = ? AND student_moodle_id = ?",
			activityID, activityMoodleID, studentID, studentMoodleID).Error; err != nil {
		return models.StudentSubmission{}, err
	}

	return submission, nil
}

func (r *submissionRepository) ListStudentsByActivity(ctx context.Context, activityID, activityMoodleID string) ([]models.StudentSubmission, error) {
	var submissions []models.StudentSubmission
	if err := r.db.WithContext(ctx).
		Where("activity_id = ? AND activity_moodle_id = ?", activityID, activityMoodleID).
		Order("joined_at ASC").
		Find(&submissions).Error; err != nil {
		return nil, err
	}

	return submissions, nil
}

func (r *submissionRepository) ListStudentsByFile(ctx context.Context, fileSubmissionID string) ([]models.StudentSubmission, error) {
	var submissions []models.StudentSubmission
	if err := r.db.WithContext(ctx).
		Where("file_submission_id = ?", fileSubmissionID).
		Order("joined_at ASC").
		Find(&submissions).Error; err != nil {
		return nil, err
	}

	return submissions, nil
}

func (r *submissionRepository) CountMembers(ctx context.Context, fileSubmissionID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.StudentSubmission{}).
		Where("file_submission_id = ?", fileSubmissionID).
		Count(&count).Error; err != nil {
		return 0, err
	}

	return count, nil
}

func (r *submissionRepository) MarkSentToMoodle(ctx context.Context, studentSubmissionID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.StudentSubmission{}).
		Where("id = ?", studentSubmissionID).
		Updates(map[string]interface{}{
			"sent_to_moodle":    true,
			"sent_to_moodle_at": at,
		}).Error
}

func (r *submissionRepository) MarkEvaluationPending(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).Model(&models.FileSubmission{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"evaluation_status":     models.EvaluationStatusPending,
			"evaluation_started_at": at,
			"evaluation_error":      nil,
		}).Error
}

func (r *submissionRepository) MarkEvaluationProcessing(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.FileSubmission{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"evaluation_status":     models.EvaluationStatusProcessing,
			"evaluation_started_at": at,
		}).Error
}

func (r *submissionRepository) CompleteEvaluation(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&models.FileSubmission{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"evaluation_status": models.EvaluationStatusCompleted,
			"evaluation_error":  nil,
		}).Error
}

func (r *submissionRepository) FailEvaluation(ctx context.Context, id, message string) error {
	return r.db.WithContext(ctx).Model(&models.FileSubmission{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"evaluation_status": models.EvaluationStatusError,
			"evaluation_error":  message,
		}).Error
}

// ResetStuckEvaluations flips stale processing rows to error. The WHERE clause
// keeps it conditional: a completion or error written after the timeout window
// wins over the sweep, because such rows are no longer "processing".
func (r *submissionRepository) ResetStuckEvaluations(ctx context.Context, activityID, activityMoodleID string, threshold time.Time, message string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.FileSubmission{}).
		Where("activity_id = ? AND activity_moodle_id = ?", activityID, activityMoodleID).
		Where("evaluation_status = ?", models.EvaluationStatusProcessing).
		Where("evaluation_started_at < ?", threshold).
		Updates(map[string]interface{}{
			"evaluation_status": models.EvaluationStatusError,
			"evaluation_error":  message,
		})

	return result.RowsAffected, result.Error
}

func (r *submissionRepository) ClearEvaluationStatus(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).Model(&models.FileSubmission{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"evaluation_status":     nil,
			"evaluation_started_at": nil,
			"evaluation_error":      nil,
		})

	return result.RowsAffected, result.Error
}

func (r *submissionRepository) ListSendable(ctx context.Context, activityID string) ([]SendableSubmission, error) {
	var students []models.StudentSubmission
	if err := r.db.WithContext(ctx).
		Where("activity_id = ? AND lis_result_sourcedid IS NOT NULL", activityID).
		Order("joined_at ASC").
		Find(&students).Error; err != nil {
		return nil, err
	}

	sendable := make([]SendableSubmission, 0, len(students))
	for _, student := range students {
		var file models.FileSubmission
		if err := r.db.WithContext(ctx).
			First(&file, "id = ?", student.FileSubmissionID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				continue
			}
			return nil, err
		}

		var grade models.Grade
		if err := r.db.WithContext(ctx).
			First(&grade, "file_submission_id = ?", file.ID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				continue
			}
			return nil, err
		}

		sendable = append(sendable, SendableSubmission{Student: student, File: file, Grade: grade})
	}

	return sendable, nil
}
