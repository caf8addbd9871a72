package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/lamba-project/lamba-api/internal/dto"
	"github.com/lamba-project/lamba-api/internal/models"
	"github.com/lamba-project/lamba-api/internal/repository"
	"github.com/lamba-project/lamba-api/internal/session"
)

var ErrMissingLaunchField = errors.New("launch is missing a required field")

// LTIService turns a validated launch POST into persisted context rows and a
// server-side session. Identity always flows from the launch, never from
// later request bodies.
type LTIService interface {
	HandleLaunch(ctx context.Context, params dto.LaunchParams) (session.Session, error)
}

type ltiService struct {
	moodleRepo   repository.MoodleRepository
	courseRepo   repository.CourseRepository
	userRepo     repository.UserRepository
	activityRepo repository.ActivityRepository
	sessions     session.Store
	logger       zerolog.Logger
	now          func() time.Time
}

func NewLTIService(
	moodleRepo repository.MoodleRepository,
	courseRepo repository.CourseRepository,
	userRepo repository.UserRepository,
	activityRepo repository.ActivityRepository,
	sessions session.Store,
	logger zerolog.Logger,
) LTIService {
	return &ltiService{
		moodleRepo:   moodleRepo,
		courseRepo:   courseRepo,
		userRepo:     userRepo,
		activityRepo: activityRepo,
		sessions:     sessions,
		logger:       logger.With().Str("component", "lti_service").Logger(),
		now:          time.Now,
	}
}

func (s *ltiService) HandleLaunch(ctx context.Context, params dto.LaunchParams) (session.Session, error) {
	if params.ResourceLinkID == "" || params.ToolConsumerInstanceGUID == "" ||
		params.ContextID == "" || params.UserID == "" {
		return session.Session{}, ErrMissingLaunchField
	}

	role := roleFromLaunch(params.Roles)

	moodle := models.Moodle{
		ID:   params.ToolConsumerInstanceGUID,
		Name: params.ToolConsumerInstanceName,
	}
	if params.LisOutcomeServiceURL != "" {
		moodle.LisOutcomeServiceURL = &params.LisOutcomeServiceURL
	}
	if err := s.moodleRepo.Upsert(ctx, &moodle); err != nil {
		return session.Session{}, fmt.Errorf("upsert moodle: %w", err)
	}

	course := models.Course{
		ID:       params.ContextID,
		MoodleID: params.ToolConsumerInstanceGUID,
		Title:    params.ContextTitle,
	}
	if err := s.courseRepo.Upsert(ctx, &course); err != nil {
		return session.Session{}, fmt.Errorf("upsert course: %w", err)
	}

	user := models.User{
		ID:       params.UserID,
		MoodleID: params.ToolConsumerInstanceGUID,
		FullName: params.LisPersonNameFull,
		Role:     role,
	}
	if params.LisPersonContactEmail != "" {
		user.Email = &params.LisPersonContactEmail
	}
	if err := s.userRepo.Upsert(ctx, &user); err != nil {
		return session.Session{}, fmt.Errorf("upsert user: %w", err)
	}

	if err := s.ensureActivity(ctx, params, role); err != nil {
		return session.Session{}, err
	}

	created, err := s.sessions.Create(ctx, session.Session{
		UserID:             params.UserID,
		UserMoodleID:       params.ToolConsumerInstanceGUID,
		FullName:           params.LisPersonNameFull,
		Email:              params.LisPersonContactEmail,
		Role:               role,
		CourseID:           params.ContextID,
		CourseMoodleID:     params.ToolConsumerInstanceGUID,
		CourseTitle:        params.ContextTitle,
		ActivityID:         params.ResourceLinkID,
		MoodleID:           params.ToolConsumerInstanceGUID,
		MoodleName:         params.ToolConsumerInstanceName,
		LisResultSourcedID: params.LisResultSourcedID,
		OutcomeServiceURL:  params.LisOutcomeServiceURL,
	})
	if err != nil {
		return session.Session{}, fmt.Errorf("create session: %w", err)
	}

	s.logger.Info().
		Str("user_id", params.UserID).
		Str("activity_id", params.ResourceLinkID).
		Str("role", role).
		Msg("launch handled")

	return created, nil
}

// ensureActivity creates a placeholder activity on a teacher's first launch of
// a resource link. The teacher configures type, deadline and evaluator
// afterwards through the activity API.
func (s *ltiService) ensureActivity(ctx context.Context, params dto.LaunchParams, role string) error {
	_, err := s.activityRepo.GetByKey(ctx, params.ResourceLinkID, params.ToolConsumerInstanceGUID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("look up activity: %w", err)
	}
	if role != models.RoleTeacher {
		// Student launched a link the teacher has not opened yet. The
		// frontend shows a not-configured screen, nothing to persist.
		return nil
	}

	title := params.ResourceLinkTitle
	if title == "" {
		title = "Untitled activity"
	}

	activity := models.Activity{
		ID:              params.ResourceLinkID,
		CourseMoodleID:  params.ToolConsumerInstanceGUID,
		Title:           title,
		ActivityType:    models.ActivityTypeIndividual,
		CreatorID:       params.UserID,
		CreatorMoodleID: params.ToolConsumerInstanceGUID,
		CourseID:        params.ContextID,
		CreatedAt:       s.now(),
	}
	if err := s.activityRepo.Create(ctx, &activity); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil
		}
		return fmt.Errorf("create activity: %w", err)
	}

	return nil
}

func roleFromLaunch(roles string) string {
	for _, role := range strings.Split(roles, ",") {
		role = strings.TrimSpace(role)
		// Roles may arrive as plain names or full URNs like
		// "urn:lti:role:ims/lis/Instructor".
		if strings.Contains(role, "Instructor") || strings.Contains(role, "Administrator") {
			return models.RoleTeacher
		}
	}
	return models.RoleStudent
}
