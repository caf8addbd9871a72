package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/lamba-project/lamba-api/internal/models"
)

// GradeRepository defines data operations for grades. One grade row exists per
// file submission; group members share it through the shared file.
type GradeRepository interface {
	GetByFileSubmission(ctx context.Context, fileSubmissionID string) (models.Grade, error)
	ListByFileSubmissions(ctx context.Context, fileSubmissionIDs []string) ([]models.Grade, error)
	Create(ctx context.Context, grade *models.Grade) error
	Update(ctx context.Context, grade *models.Grade) error
}

type gradeRepository struct {
	db *gorm.DB
}

// NewGradeRepository instantiates the repository.
func NewGradeRepository(db *gorm.DB) GradeRepository {
	return &gradeRepository{db: db}
}

func (r *gradeRepository) GetByFileSubmission(ctx context.Context, fileSubmissionID string) (models.Grade, error) {
	var grade models.Grade
	if err := r.db.WithContext(ctx).
		First(&grade, "file_submission_id = ?", fileSubmissionID).Error; err != nil {
		return models.Grade{}, err
	}

	return grade, nil
}

func (r *gradeRepository) ListByFileSubmissions(ctx context.Context, fileSubmissionIDs []string) ([]models.Grade, error) {
	if len(fileSubmissionIDs) == 0 {
		return nil, nil
	}

	var grades []models.Grade
	if err := r.db.WithContext(ctx).
		Where("file_submission_id IN ?", fileSubmissionIDs).
		Find(&grades).Error; err != nil {
		return nil, err
	}

	return grades, nil
}

func (r *gradeRepository) Create(ctx context.Context, grade *models.Grade) error {
	return r.db.WithContext(ctx).Create(grade).Error
}

func (r *gradeRepository) Update(ctx context.Context, grade *models.Grade) error {
	return r.db.WithContext(ctx).Save(grade).Error
}
