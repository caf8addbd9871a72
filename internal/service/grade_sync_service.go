package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lamba-project/lamba-api/internal/dto"
	"github.com/lamba-project/lamba-api/internal/repository"
	"github.com/lamba-project/lamba-api/pkg/outcomes"
)

var (
	ErrNoOutcomeService    = errors.New("moodle instance has no outcome service url")
	ErrNoGradedSubmissions = errors.New("activity has no graded submissions to send")
)

// GradeSyncService pushes an activity's grades back to the Moodle gradebook
// through the LTI outcome service.
type GradeSyncService interface {
	SendActivityGrades(ctx context.Context, actor Actor, key ActivityKey) (dto.GradeSyncResponse, error)
}

type gradeSyncService struct {
	submissionRepo repository.SubmissionRepository
	moodleRepo     repository.MoodleRepository
	outcomes       outcomes.Client
	logger         zerolog.Logger
	now            func() time.Time
}

func NewGradeSyncService(
	submissionRepo repository.SubmissionRepository,
	moodleRepo repository.MoodleRepository,
	outcomesClient outcomes.Client,
	logger zerolog.Logger,
) GradeSyncService {
	return &gradeSyncService{
		submissionRepo: submissionRepo,
		moodleRepo:     moodleRepo,
		outcomes:       outcomesClient,
		logger:         logger.With().Str("component", "grade_sync_service").Logger(),
		now:            time.Now,
	}
}

// SendActivityGrades sends every graded submission of the activity that has a
// passback token. Each student is committed individually, so a mid-batch
// failure never loses the successes before it.
func (s *gradeSyncService) SendActivityGrades(ctx context.Context, actor Actor, key ActivityKey) (dto.GradeSyncResponse, error) {
	if !actor.IsTeacher() {
		return dto.GradeSyncResponse{}, ErrNotTeacher
	}

	moodle, err := s.moodleRepo.GetByID(ctx, key.CourseMoodleID)
	if err != nil {
		return dto.GradeSyncResponse{}, fmt.Errorf("get moodle instance: %w", err)
	}
	if !moodle.HasOutcomeService() {
		return dto.GradeSyncResponse{}, ErrNoOutcomeService
	}
	serviceURL := *moodle.LisOutcomeServiceURL

	sendable, err := s.submissionRepo.ListSendable(ctx, key.ID)
	if err != nil {
		return dto.GradeSyncResponse{}, fmt.Errorf("list sendable grades: %w", err)
	}

	graded := sendable[:0]
	for _, item := range sendable {
		if item.File.ActivityMoodleID == key.CourseMoodleID {
			graded = append(graded, item)
		}
	}
	if len(graded) == 0 {
		return dto.GradeSyncResponse{}, ErrNoGradedSubmissions
	}

	var response dto.GradeSyncResponse
	for _, item := range graded {
		if !item.Student.HasPassbackToken() {
			response.Skipped++
			continue
		}

		comment := ""
		if item.Grade.Comment != nil {
			comment = *item.Grade.Comment
		}
		err := s.outcomes.SendGrade(ctx, serviceURL, *item.Student.LisResultSourcedID, item.Grade.Score, comment)
		if err != nil {
			s.logger.Warn().Err(err).
				Str("student_id", item.Student.StudentID).
				Str("activity_id", key.ID).
				Msg("grade passback failed")
			response.Failed = append(response.Failed, dto.GradeSyncItem{
				StudentID: item.Student.StudentID,
				Score:     item.Grade.Score,
				Error:     err.Error(),
			})
			continue
		}

		if err := s.submissionRepo.MarkSentToMoodle(ctx, item.Student.ID, s.now()); err != nil {
			s.logger.Error().Err(err).
				Str("student_id", item.Student.StudentID).
				Msg("grade sent but not recorded")
		}
		response.Sent = append(response.Sent, dto.GradeSyncItem{
			StudentID: item.Student.StudentID,
			Score:     item.Grade.Score,
		})
	}

	response.Success = len(response.Sent) > 0 && len(response.Failed) == 0

	s.logger.Info().
		Str("activity_id", key.ID).
		Bool("success", response.Success).
		Int("sent", len(response.Sent)).
		Int("failed", len(response.Failed)).
		Int("skipped", response.Skipped).
		Msg("grade sync finished")

	return response, nil
}
