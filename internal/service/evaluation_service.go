package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/lamba-project/lamba-api/internal/dto"
	"github.com/lamba-project/lamba-api/internal/models"
	"github.com/lamba-project/lamba-api/internal/repository"
	"github.com/lamba-project/lamba-api/internal/storage"
	"github.com/lamba-project/lamba-api/pkg/extractor"
	"github.com/lamba-project/lamba-api/pkg/grader"
)

var (
	ErrNoEvaluator      = errors.New("activity has no evaluator assigned")
	ErrNothingToProcess = errors.New("no submissions matched the request")
)

const stuckEvaluationMessage = "evaluation timed out"

// EvaluationItem is one submission with its grade, for status listings.
type EvaluationItem struct {
	File  models.FileSubmission
	Grade *models.Grade
}

// EvaluationService drives AI evaluation of submissions through the external
// grader and records results on the shared grade row.
type EvaluationService interface {
	Status(ctx context.Context, actor Actor, key ActivityKey) ([]EvaluationItem, error)
	Start(ctx context.Context, actor Actor, key ActivityKey, req dto.StartEvaluationRequest) (dto.StartEvaluationResponse, error)
	ProcessBatch(ctx context.Context, key ActivityKey, submissionIDs []string) (dto.EvaluationBatchResponse, error)
	ResetStuck(ctx context.Context, actor Actor, key ActivityKey) (int64, error)
	ClearStatus(ctx context.Context, actor Actor, key ActivityKey, req dto.ClearEvaluationRequest) (int64, error)
}

type evaluationService struct {
	submissionRepo repository.SubmissionRepository
	gradeRepo      repository.GradeRepository
	activityRepo   repository.ActivityRepository
	grader         grader.Client
	files          storage.Store
	timeout        time.Duration
	tracer         trace.Tracer
	logger         zerolog.Logger
	now            func() time.Time
	extractText    func(path string) (string, error)
}

func NewEvaluationService(
	submissionRepo repository.SubmissionRepository,
	gradeRepo repository.GradeRepository,
	activityRepo repository.ActivityRepository,
	graderClient grader.Client,
	files storage.Store,
	timeout time.Duration,
	logger zerolog.Logger,
) EvaluationService {
	return &evaluationService{
		submissionRepo: submissionRepo,
		gradeRepo:      gradeRepo,
		activityRepo:   activityRepo,
		grader:         graderClient,
		files:          files,
		timeout:        timeout,
		tracer:         otel.Tracer("evaluation"),
		logger:         logger.With().Str("component", "evaluation_service").Logger(),
		now:            time.Now,
		extractText:    extractor.ExtractText,
	}
}

func (s *evaluationService) Status(ctx context.Context, actor Actor, key ActivityKey) ([]EvaluationItem, error) {
	if !actor.IsTeacher() {
		return nil, ErrNotTeacher
	}

	files, err := s.submissionRepo.ListFilesByActivity(ctx, key.ID, key.CourseMoodleID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	ids := make([]string, 0, len(files))
	for _, f := range files {
		ids = append(ids, f.ID)
	}
	grades, err := s.gradeRepo.ListByFileSubmissions(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list grades: %w", err)
	}
	byFile := make(map[string]models.Grade, len(grades))
	for _, g := range grades {
		byFile[g.FileSubmissionID] = g
	}

	items := make([]EvaluationItem, 0, len(files))
	for _, f := range files {
		item := EvaluationItem{File: f}
		if g, ok := byFile[f.ID]; ok {
			grade := g
			item.Grade = &grade
		}
		items = append(items, item)
	}

	return items, nil
}

// Start does the bookkeeping half of an evaluation run: it selects the
// submissions, marks the runnable ones pending and returns without calling
// the grader. Submissions claimed by a live run stay untouched, and ones
// that already carry an AI result are skipped unless Force is set.
func (s *evaluationService) Start(ctx context.Context, actor Actor, key ActivityKey, req dto.StartEvaluationRequest) (dto.StartEvaluationResponse, error) {
	if !actor.IsTeacher() {
		return dto.StartEvaluationResponse{}, ErrNotTeacher
	}

	if _, err := s.getEvaluatedActivity(ctx, key); err != nil {
		return dto.StartEvaluationResponse{}, err
	}

	var files []models.FileSubmission
	var err error
	if len(req.SubmissionIDs) == 0 {
		files, err = s.submissionRepo.ListFilesByActivity(ctx, key.ID, key.CourseMoodleID)
	} else {
		files, err = s.submissionRepo.ListFilesByIDs(ctx, req.SubmissionIDs, key.ID, key.CourseMoodleID)
	}
	if err != nil {
		return dto.StartEvaluationResponse{}, fmt.Errorf("select submissions: %w", err)
	}
	if len(files) == 0 {
		return dto.StartEvaluationResponse{}, ErrNothingToProcess
	}

	response := dto.StartEvaluationResponse{
		Requested: len(files),
		Queued:    make([]string, 0, len(files)),
	}

	for _, file := range files {
		// A pending or processing run still inside the timeout window keeps
		// its claim; timed-out runs are queued again.
		if s.isClaimed(file) {
			response.AlreadyProcessing = append(response.AlreadyProcessing, file.ID)
			continue
		}
		if !req.Force {
			if grade, err := s.gradeRepo.GetByFileSubmission(ctx, file.ID); err == nil && grade.AIScore != nil {
				response.Skipped = append(response.Skipped, file.ID)
				continue
			}
		}
		response.Queued = append(response.Queued, file.ID)
	}

	if err := s.submissionRepo.MarkEvaluationPending(ctx, response.Queued, s.now()); err != nil {
		return dto.StartEvaluationResponse{}, fmt.Errorf("mark pending: %w", err)
	}

	s.logger.Info().
		Str("activity_id", key.ID).
		Int("requested", response.Requested).
		Int("queued", len(response.Queued)).
		Int("already_processing", len(response.AlreadyProcessing)).
		Int("skipped", len(response.Skipped)).
		Msg("evaluation queued")

	return response, nil
}

// ProcessBatch runs the queued submissions through the grader one by one.
// Safe to call again for the same ids: each item re-claims its row before
// grading and records its own success or failure.
func (s *evaluationService) ProcessBatch(ctx context.Context, key ActivityKey, submissionIDs []string) (dto.EvaluationBatchResponse, error) {
	activity, err := s.getEvaluatedActivity(ctx, key)
	if err != nil {
		return dto.EvaluationBatchResponse{}, err
	}

	files, err := s.submissionRepo.ListFilesByIDs(ctx, submissionIDs, key.ID, key.CourseMoodleID)
	if err != nil {
		return dto.EvaluationBatchResponse{}, fmt.Errorf("select submissions: %w", err)
	}

	var response dto.EvaluationBatchResponse
	for _, file := range files {
		if err := s.processOne(ctx, activity, file); err != nil {
			response.Failed = append(response.Failed, file.ID)
			continue
		}
		response.Evaluated++
	}

	s.logger.Info().
		Str("activity_id", key.ID).
		Int("evaluated", response.Evaluated).
		Int("failed", len(response.Failed)).
		Msg("evaluation batch finished")

	return response, nil
}

func (s *evaluationService) getEvaluatedActivity(ctx context.Context, key ActivityKey) (models.Activity, error) {
	activity, err := s.activityRepo.GetByKey(ctx, key.ID, key.CourseMoodleID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Activity{}, ErrActivityNotFound
		}
		return models.Activity{}, fmt.Errorf("get activity: %w", err)
	}
	if !activity.HasEvaluator() {
		return models.Activity{}, ErrNoEvaluator
	}
	return activity, nil
}

// isClaimed reports whether a queued or running evaluation still holds this
// submission. Both states expire on the same timeout window.
func (s *evaluationService) isClaimed(file models.FileSubmission) bool {
	if file.EvaluationStatus == nil {
		return false
	}
	status := *file.EvaluationStatus
	if status != models.EvaluationStatusPending && status != models.EvaluationStatusProcessing {
		return false
	}
	return file.EvaluationStartedAt != nil && file.EvaluationStartedAt.After(s.now().Add(-s.timeout))
}

func (s *evaluationService) processOne(ctx context.Context, activity models.Activity, file models.FileSubmission) error {
	ctx, span := s.tracer.Start(ctx, "evaluation.process",
		trace.WithAttributes(
			attribute.String("submission.id", file.ID),
			attribute.String("activity.id", activity.ID),
		))
	defer span.End()

	if err := s.submissionRepo.MarkEvaluationProcessing(ctx, file.ID, s.now()); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	fail := func(err error) error {
		span.RecordError(err)
		s.logger.Warn().Err(err).Str("file_submission_id", file.ID).Msg("evaluation failed")
		if dbErr := s.submissionRepo.FailEvaluation(ctx, file.ID, err.Error()); dbErr != nil {
			s.logger.Error().Err(dbErr).Str("file_submission_id", file.ID).Msg("could not record evaluation failure")
		}
		return err
	}

	abs, err := s.files.AbsPath(file.FilePath)
	if err != nil {
		return fail(fmt.Errorf("resolve file: %w", err))
	}
	text, err := s.extractText(abs)
	if err != nil {
		return fail(fmt.Errorf("extract text: %w", err))
	}

	result, err := s.grader.EvaluateText(ctx, *activity.EvaluatorID, activity.Description, text)
	if err != nil {
		return fail(fmt.Errorf("grader call: %w", err))
	}

	score, err := grader.ExtractScore(result.Reply)
	if err != nil {
		// A reply without a usable marker is a failed evaluation, never a
		// default grade.
		return fail(err)
	}

	if err := s.recordGrade(ctx, activity, file, score, result); err != nil {
		return fail(err)
	}

	if err := s.submissionRepo.CompleteEvaluation(ctx, file.ID); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}

	return nil
}

// recordGrade writes the AI result onto the grade row. A fresh row also takes
// the AI score as the effective score; an existing teacher score is left
// alone so manual grading always wins.
func (s *evaluationService) recordGrade(ctx context.Context, activity models.Activity, file models.FileSubmission, score float64, result grader.Result) error {
	evaluatedAt := s.now()
	details := datatypes.JSONMap{
		"model":       grader.ModelRef(*activity.EvaluatorID),
		"reply_shape": string(result.Shape),
	}
	if result.ShapeDrift != nil {
		details["shape_drift"] = result.ShapeDrift.Error()
	}

	grade, err := s.gradeRepo.GetByFileSubmission(ctx, file.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		grade = models.Grade{
			ID:               uuid.NewString(),
			FileSubmissionID: file.ID,
			Score:            score,
			Comment:          &result.Reply,
			CreatedAt:        evaluatedAt,
		}
		grade.AIScore = &score
		grade.AIComment = &result.Reply
		grade.AIEvaluatedAt = &evaluatedAt
		grade.AIDetails = details
		grade.UpdatedAt = evaluatedAt
		if err := s.gradeRepo.Create(ctx, &grade); err != nil {
			return fmt.Errorf("create grade: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("get grade: %w", err)
	}

	grade.AIScore = &score
	grade.AIComment = &result.Reply
	grade.AIEvaluatedAt = &evaluatedAt
	grade.AIDetails = details
	grade.UpdatedAt = evaluatedAt
	if err := s.gradeRepo.Update(ctx, &grade); err != nil {
		return fmt.Errorf("update grade: %w", err)
	}

	return nil
}

func (s *evaluationService) ResetStuck(ctx context.Context, actor Actor, key ActivityKey) (int64, error) {
	if !actor.IsTeacher() {
		return 0, ErrNotTeacher
	}

	threshold := s.now().Add(-s.timeout)
	count, err := s.submissionRepo.ResetStuckEvaluations(ctx, key.ID, key.CourseMoodleID, threshold, stuckEvaluationMessage)
	if err != nil {
		return 0, fmt.Errorf("reset stuck evaluations: %w", err)
	}

	if count > 0 {
		s.logger.Info().Str("activity_id", key.ID).Int64("count", count).Msg("stuck evaluations reset")
	}

	return count, nil
}

func (s *evaluationService) ClearStatus(ctx context.Context, actor Actor, key ActivityKey, req dto.ClearEvaluationRequest) (int64, error) {
	if !actor.IsTeacher() {
		return 0, ErrNotTeacher
	}

	ids := req.SubmissionIDs
	if len(ids) == 0 {
		files, err := s.submissionRepo.ListFilesByActivity(ctx, key.ID, key.CourseMoodleID)
		if err != nil {
			return 0, fmt.Errorf("list submissions: %w", err)
		}
		for _, f := range files {
			ids = append(ids, f.ID)
		}
	} else {
		// Scope the requested ids to this activity before touching them.
		files, err := s.submissionRepo.ListFilesByIDs(ctx, ids, key.ID, key.CourseMoodleID)
		if err != nil {
			return 0, fmt.Errorf("select submissions: %w", err)
		}
		ids = ids[:0]
		for _, f := range files {
			ids = append(ids, f.ID)
		}
	}

	count, err := s.submissionRepo.ClearEvaluationStatus(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("clear evaluation status: %w", err)
	}

	return count, nil
}
