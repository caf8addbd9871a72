package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/lamba-project/lamba-api/internal/models"
)

// ActivityRepository defines data operations for activities.
type ActivityRepository interface {
	GetByKey(ctx context.Context, id, courseMoodleID string) (models.Activity, error)
	ListByCourse(ctx context.Context, courseID, courseMoodleID string) ([]models.Activity, error)
	Create(ctx context.Context, activity *models.Activity) error
	Update(ctx context.Context, activity *models.Activity) error
}

type activityRepository struct {
	db *gorm.DB
}

// NewActivityRepository instantiates the repository.
func NewActivityRepository(db *gorm.DB) ActivityRepository {
	return &activityRepository{db: db}
}

func (r *activityRepository) GetByKey(ctx context.Context, id, courseMoodleID string) (models.Activity, error) {
	var activity models.Activity
	if err := r.db.WithContext(ctx).
		First(&activity, "id = ? AND course_moodle_id = ?", id, courseMoodleID).Error; err != nil {
		return models.Activity{}, err
	}

	return activity, nil
}

func (r *activityRepository) ListByCourse(ctx context.Context, courseID, courseMoodleID string) ([]models.Activity, error) {
	var activities []models.Activity
	if err := r.db.WithContext(ctx).
		Where("course_id = ? AND course_moodle_id = ?", courseID, courseMoodleID).
		Order("created_at ASC").
		Find(&activities).Error; err != nil {
		return nil, err
	}

	return activities, nil
}

func (r *activityRepository) Create(ctx context.Context, activity *models.Activity) error {
	return r.db.WithContext(ctx).Create(activity).Error
}

func (r *activityRepository) Update(ctx context.Context, activity *models.Activity) error {
	return r.db.WithContext(ctx).Save(activity).Error
}
