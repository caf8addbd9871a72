package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/lamba-project/lamba-api/internal/dto"
	"github.com/lamba-project/lamba-api/internal/models"
	"github.com/lamba-project/lamba-api/internal/repository"
)

var (
	ErrActivityNotFound   = errors.New("activity not found")
	ErrNotTeacher         = errors.New("only the course teacher may do this")
	ErrGroupSizeRequired  = errors.New("group activities need a max group size")
	ErrGroupSizeForbidden = errors.New("individual activities cannot set a group size")
	ErrDeadlineInPast     = errors.New("deadline cannot be in the past")
	ErrEvaluatorUnknown   = errors.New("evaluator assistant could not be verified")
)

// ActivityKey identifies one activity, carried from the LTI session.
type ActivityKey struct {
	ID             string
	CourseMoodleID string
}

// Actor is the session identity performing a call.
type Actor struct {
	UserID   string
	MoodleID string
	Role     string
}

func (a Actor) IsTeacher() bool { return a.Role == models.RoleTeacher }
func (a Actor) IsStudent() bool { return a.Role == models.RoleStudent }

// ActivityService manages activity configuration.
type ActivityService interface {
	Get(ctx context.Context, key ActivityKey) (models.Activity, error)
	ListByCourse(ctx context.Context, courseID, courseMoodleID string) ([]models.Activity, error)
	Configure(ctx context.Context, actor Actor, key ActivityKey, courseID string, req dto.CreateActivityRequest) (models.Activity, error)
	Update(ctx context.Context, actor Actor, key ActivityKey, req dto.UpdateActivityRequest) (models.Activity, error)
}

// ModelVerifier checks that a grader assistant reference is usable. Satisfied
// by the grader client.
type ModelVerifier interface {
	VerifyModel(ctx context.Context, assistantID string) error
}

type activityService struct {
	activityRepo repository.ActivityRepository
	verifier     ModelVerifier
	validate     *validator.Validate
	sanitizer    *bluemonday.Policy
	logger       zerolog.Logger
	now          func() time.Time
}

func NewActivityService(
	activityRepo repository.ActivityRepository,
	verifier ModelVerifier,
	validate *validator.Validate,
	logger zerolog.Logger,
) ActivityService {
	return &activityService{
		activityRepo: activityRepo,
		verifier:     verifier,
		validate:     validate,
		sanitizer:    bluemonday.UGCPolicy(),
		logger:       logger.With().Str("component", "activity_service").Logger(),
		now:          time.Now,
	}
}

func (s *activityService) Get(ctx context.Context, key ActivityKey) (models.Activity, error) {
	activity, err := s.activityRepo.GetByKey(ctx, key.ID, key.CourseMoodleID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Activity{}, ErrActivityNotFound
		}
		return models.Activity{}, fmt.Errorf("get activity: %w", err)
	}

	return activity, nil
}

func (s *activityService) ListByCourse(ctx context.Context, courseID, courseMoodleID string) ([]models.Activity, error) {
	activities, err := s.activityRepo.ListByCourse(ctx, courseID, courseMoodleID)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}

	return activities, nil
}

// Configure sets the full configuration of an activity, creating the row if
// the resource link was never launched by a teacher before.
func (s *activityService) Configure(ctx context.Context, actor Actor, key ActivityKey, courseID string, req dto.CreateActivityRequest) (models.Activity, error) {
	if !actor.IsTeacher() {
		return models.Activity{}, ErrNotTeacher
	}
	if err := s.validate.Struct(req); err != nil {
		return models.Activity{}, err
	}
	if err := validateGroupSize(req.ActivityType, req.MaxGroupSize); err != nil {
		return models.Activity{}, err
	}
	if req.Deadline != nil && req.Deadline.Before(s.now()) {
		return models.Activity{}, ErrDeadlineInPast
	}
	if err := s.verifyEvaluator(ctx, req.EvaluatorID); err != nil {
		return models.Activity{}, err
	}

	activity, err := s.activityRepo.GetByKey(ctx, key.ID, key.CourseMoodleID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Activity{}, fmt.Errorf("get activity: %w", err)
	}
	isNew := errors.Is(err, gorm.ErrRecordNotFound)

	activity.ID = key.ID
	activity.CourseMoodleID = key.CourseMoodleID
	activity.CourseID = courseID
	activity.Title = req.Title
	activity.Description = s.sanitizer.Sanitize(req.Description)
	activity.ActivityType = req.ActivityType
	activity.MaxGroupSize = req.MaxGroupSize
	activity.Deadline = req.Deadline
	activity.EvaluatorID = req.EvaluatorID
	if isNew {
		activity.CreatorID = actor.UserID
		activity.CreatorMoodleID = actor.MoodleID
		activity.CreatedAt = s.now()
		if err := s.activityRepo.Create(ctx, &activity); err != nil {
			return models.Activity{}, fmt.Errorf("create activity: %w", err)
		}
	} else {
		if err := s.activityRepo.Update(ctx, &activity); err != nil {
			return models.Activity{}, fmt.Errorf("update activity: %w", err)
		}
	}

	s.logger.Info().
		Str("activity_id", activity.ID).
		Str("type", activity.ActivityType).
		Bool("created", isNew).
		Msg("activity configured")

	return activity, nil
}

func (s *activityService) Update(ctx context.Context, actor Actor, key ActivityKey, req dto.UpdateActivityRequest) (models.Activity, error) {
	if !actor.IsTeacher() {
		return models.Activity{}, ErrNotTeacher
	}
	if err := s.validate.Struct(req); err != nil {
		return models.Activity{}, err
	}

	activity, err := s.Get(ctx, key)
	if err != nil {
		return models.Activity{}, err
	}

	if req.Title != nil {
		activity.Title = *req.Title
	}
	if req.Description != nil {
		activity.Description = s.sanitizer.Sanitize(*req.Description)
	}
	if req.MaxGroupSize != nil {
		if err := validateGroupSize(activity.ActivityType, req.MaxGroupSize); err != nil {
			return models.Activity{}, err
		}
		activity.MaxGroupSize = req.MaxGroupSize
	}
	if req.Deadline != nil {
		if req.Deadline.Before(s.now()) {
			return models.Activity{}, ErrDeadlineInPast
		}
		activity.Deadline = req.Deadline
	}
	if req.EvaluatorID != nil {
		if err := s.verifyEvaluator(ctx, req.EvaluatorID); err != nil {
			return models.Activity{}, err
		}
		activity.EvaluatorID = req.EvaluatorID
	}

	if err := s.activityRepo.Update(ctx, &activity); err != nil {
		return models.Activity{}, fmt.Errorf("update activity: %w", err)
	}

	return activity, nil
}

func (s *activityService) verifyEvaluator(ctx context.Context, evaluatorID *string) error {
	if evaluatorID == nil || *evaluatorID == "" || s.verifier == nil {
		return nil
	}
	if err := s.verifier.VerifyModel(ctx, *evaluatorID); err != nil {
		s.logger.Warn().Err(err).Str("evaluator_id", *evaluatorID).Msg("evaluator verification failed")
		return fmt.Errorf("%w: %v", ErrEvaluatorUnknown, err)
	}
	return nil
}

func validateGroupSize(activityType string, maxGroupSize *int) error {
	if activityType == models.ActivityTypeGroup && maxGroupSize == nil {
		return ErrGroupSizeRequired
	}
	if activityType == models.ActivityTypeIndividual && maxGroupSize != nil {
		return ErrGroupSizeForbidden
	}
	return nil
}
