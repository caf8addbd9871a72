package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/lamba-project/lamba-api/internal/models"
)

// CourseRepository defines data operations for LTI contexts.
type CourseRepository interface {
	GetByKey(ctx context.Context, id, moodleID string) (models.Course, error)
	Upsert(ctx context.Context, course *models.Course) error
}

type courseRepository struct {
	db *gorm.DB
}

// NewCourseRepository instantiates the repository.
func NewCourseRepository(db *gorm.DB) CourseRepository {
	return &courseRepository{db: db}
}

func (r *courseRepository) GetByKey(ctx context.Context, id, moodleID string) (models.Course, error) {
	var course models.Course
	if err := r.db.WithContext(ctx).
		First(&course, "id = ? AND moodle_id = ?", id, moodleID).Error; err != nil {
		return models.Course{}, err
	}

	return course, nil
}

func (r *courseRepository) Upsert(ctx context.Context, course *models.Course) error {
	var existing models.Course
	err := r.db.WithContext(ctx).
		First(&existing, "id = ? AND moodle_id = ?", course.ID, course.MoodleID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return r.db.WithContext(ctx).Create(course).Error
		}
		return err
	}

	existing.Title = course.Title

	if err := r.db.WithContext(ctx).Save(&existing).Error; err != nil {
		return err
	}

	*course = existing
	return nil
}
