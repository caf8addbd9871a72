package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/lamba-project/lamba-api/internal/models"
)

// UserRepository defines data operations for LTI-provisioned users.
type UserRepository interface {
	GetByKey(ctx context.Context, id, moodleID string) (models.User, error)
	Upsert(ctx context.Context, user *models.User) error
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository instantiates the repository.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByKey(ctx context.Context, id, moodleID string) (models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).
		First(&user, "id = ? AND moodle_id = ?", id, moodleID).Error; err != nil {
		return models.User{}, err
	}

	return user, nil
}

func (r *userRepository) Upsert(ctx context.Context, user *models.User) error {
	var existing models.User
	err := r.db.WithContext(ctx).
		First(&existing, "id = ? AND moodle_id = ?", user.ID, user.MoodleID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return r.db.WithContext(ctx).Create(user).Error
		}
		return err
	}

	existing.FullName = user.FullName
	existing.Email = user.Email
	existing.Role = user.Role

	if err := r.db.WithContext(ctx).Save(&existing).Error; err != nil {
		return err
	}

	*user = existing
	return nil
}
