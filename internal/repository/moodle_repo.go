package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/lamba-project/lamba-api/internal/models"
)

// MoodleRepository defines data operations for tool consumer instances.
type MoodleRepository interface {
	GetByID(ctx context.Context, id string) (models.Moodle, error)
	Upsert(ctx context.Context, moodle *models.Moodle) error
}

type moodleRepository struct {
	db *gorm.DB
}

// NewMoodleRepository instantiates the repository.
func NewMoodleRepository(db *gorm.DB) MoodleRepository {
	return &moodleRepository{db: db}
}

func (r *moodleRepository) GetByID(ctx context.Context, id string) (models.Moodle, error) {
	var moodle models.Moodle
	if err := r.db.WithContext(ctx).First(&moodle, "id = ?", id).Error; err != nil {
		return models.Moodle{}, err
	}

	return moodle, nil
}

// Upsert creates the instance or refreshes its name. The outcome-service URL
// is only written when it was previously unset, matching the LTI launch rule
// that the first URL seen for an instance wins.
func (r *moodleRepository) Upsert(ctx context.Context, moodle *models.Moodle) error {
	var existing models.Moodle
	err := r.db.WithContext(ctx).First(&existing, "id = ?", moodle.ID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return r.db.WithContext(ctx).Create(moodle).Error
		}
		return err
	}

	existing.Name = moodle.Name
	if !existing.HasOutcomeService() && moodle.HasOutcomeService() {
		existing.LisOutcomeServiceURL = moodle.LisOutcomeServiceURL
	}

	if err := r.db.WithContext(ctx).Save(&existing).Error; err != nil {
		return err
	}

	*moodle = existing
	return nil
}
