package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/lamba-project/lamba-api/internal/dto"
	"github.com/lamba-project/lamba-api/internal/models"
	"github.com/lamba-project/lamba-api/internal/repository"
)

var ErrGradeNotFound = errors.New("no grade for this submission")

// GradeService handles manual grading by the teacher. The manual score is the
// effective one; AI fields on the same row stay untouched as an audit trail.
type GradeService interface {
	Upsert(ctx context.Context, actor Actor, key ActivityKey, fileSubmissionID string, req dto.UpsertGradeRequest) (models.Grade, error)
	GetForSubmission(ctx context.Context, key ActivityKey, fileSubmissionID string) (models.Grade, error)
}

type gradeService struct {
	gradeRepo      repository.GradeRepository
	submissionRepo repository.SubmissionRepository
	validate       *validator.Validate
	logger         zerolog.Logger
	now            func() time.Time
}

func NewGradeService(
	gradeRepo repository.GradeRepository,
	submissionRepo repository.SubmissionRepository,
	validate *validator.Validate,
	logger zerolog.Logger,
) GradeService {
	return &gradeService{
		gradeRepo:      gradeRepo,
		submissionRepo: submissionRepo,
		validate:       validate,
		logger:         logger.With().Str("component", "grade_service").Logger(),
		now:            time.Now,
	}
}

func (s *gradeService) Upsert(ctx context.Context, actor Actor, key ActivityKey, fileSubmissionID string, req dto.UpsertGradeRequest) (models.Grade, error) {
	if !actor.IsTeacher() {
		return models.Grade{}, ErrNotTeacher
	}
	if err := s.validate.Struct(req); err != nil {
		return models.Grade{}, err
	}

	file, err := s.submissionRepo.GetFileByID(ctx, fileSubmissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Grade{}, ErrNoSubmission
		}
		return models.Grade{}, fmt.Errorf("get file submission: %w", err)
	}
	if file.ActivityID != key.ID || file.ActivityMoodleID != key.CourseMoodleID {
		return models.Grade{}, ErrNoSubmission
	}

	grade, err := s.gradeRepo.GetByFileSubmission(ctx, file.ID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		grade = models.Grade{
			ID:               uuid.NewString(),
			FileSubmissionID: file.ID,
			Score:            req.Score,
			Comment:          req.Comment,
			CreatedAt:        s.now(),
			UpdatedAt:        s.now(),
		}
		if err := s.gradeRepo.Create(ctx, &grade); err != nil {
			return models.Grade{}, fmt.Errorf("create grade: %w", err)
		}
	case err != nil:
		return models.Grade{}, fmt.Errorf("get grade: %w", err)
	default:
		grade.Score = req.Score
		grade.Comment = req.Comment
		grade.UpdatedAt = s.now()
		if err := s.gradeRepo.Update(ctx, &grade); err != nil {
			return models.Grade{}, fmt.Errorf("update grade: %w", err)
		}
	}

	s.logger.Info().
		Str("file_submission_id", file.ID).
		Float64("score", req.Score).
		Msg("grade saved")

	return grade, nil
}

func (s *gradeService) GetForSubmission(ctx context.Context, key ActivityKey, fileSubmissionID string) (models.Grade, error) {
	file, err := s.submissionRepo.GetFileByID(ctx, fileSubmissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Grade{}, ErrNoSubmission
		}
		return models.Grade{}, fmt.Errorf("get file submission: %w", err)
	}
	if file.ActivityID != key.ID || file.ActivityMoodleID != key.CourseMoodleID {
		return models.Grade{}, ErrNoSubmission
	}

	grade, err := s.gradeRepo.GetByFileSubmission(ctx, file.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Grade{}, ErrGradeNotFound
		}
		return models.Grade{}, fmt.Errorf("get grade: %w", err)
	}

	return grade, nil
}
