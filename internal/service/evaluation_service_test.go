package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/lamba-project/lamba-api/internal/dto"
	"github.com/lamba-project/lamba-api/internal/models"
	"github.com/lamba-project/lamba-api/pkg/grader"
)

type fakeGrader struct {
	replies map[string]string
	err     error
	calls   int
}

func (f *fakeGrader) EvaluateText(_ context.Context, _, _, text string) (grader.Result, error) {
	f.calls++
	if f.err != nil {
		return grader.Result{}, f.err
	}
	reply, ok := f.replies[text]
	if !ok {
		reply = "NOTA FINAL: 7"
	}
	return grader.Result{Reply: reply, Shape: grader.ShapeOpenAIChat}, nil
}

func (f *fakeGrader) VerifyModel(context.Context, string) error { return nil }

func teacherActor() Actor {
	return Actor{UserID: "teacher-1", MoodleID: "moodle-1", Role: models.RoleTeacher}
}

func newTestEvaluationService(t *testing.T) (*evaluationService, *fakeSubmissionRepo, *fakeGradeRepo, *fakeActivityRepo, *fakeGrader) {
	t.Helper()

	submissionRepo := newFakeSubmissionRepo()
	gradeRepo := newFakeGradeRepo()
	activityRepo := newFakeActivityRepo()
	client := &fakeGrader{replies: make(map[string]string)}

	svc := NewEvaluationService(submissionRepo, gradeRepo, activityRepo, client, newFakeStore(),
		5*time.Minute, zerolog.Nop()).(*evaluationService)
	svc.now = func() time.Time { return testNow }
	svc.extractText = func(path string) (string, error) { return "text:" + path, nil }

	return svc, submissionRepo, gradeRepo, activityRepo, client
}

func evaluatedActivity() models.Activity {
	a := individualActivity()
	evaluator := "42"
	a.EvaluatorID = &evaluator
	a.Description = "Grade strictly."
	return a
}

// runEvaluation queues and then processes, the way the start endpoint does.
func runEvaluation(t *testing.T, svc *evaluationService, key ActivityKey, req dto.StartEvaluationRequest) (dto.StartEvaluationResponse, dto.EvaluationBatchResponse) {
	t.Helper()

	queued, err := svc.Start(context.Background(), teacherActor(), key, req)
	require.NoError(t, err)

	var batch dto.EvaluationBatchResponse
	if len(queued.Queued) > 0 {
		batch, err = svc.ProcessBatch(context.Background(), key, queued.Queued)
		require.NoError(t, err)
	}
	return queued, batch
}

func seedFile(t *testing.T, repo *fakeSubmissionRepo, id string) models.FileSubmission {
	t.Helper()
	file := models.FileSubmission{
		ID:               id,
		ActivityID:       "act-1",
		ActivityMoodleID: "moodle-1",
		FileName:         id + ".txt",
		FilePath:         "act-1/" + id + ".txt",
		UploadedAt:       testNow,
		UploadedBy:       "student-" + id,
		MaxGroupMembers:  1,
	}
	require.NoError(t, repo.CreateFile(context.Background(), &file))
	return file
}

func TestStartEvaluationGradesSubmissions(t *testing.T) {
	svc, submissionRepo, gradeRepo, activityRepo, client := newTestEvaluationService(t)
	key := seedActivity(t, activityRepo, evaluatedActivity())
	file := seedFile(t, submissionRepo, "f1")
	client.replies["text:/fake/"+file.FilePath] = "Solid work.\nNOTA FINAL: 8.5"

	queued, batch := runEvaluation(t, svc, key, dto.StartEvaluationRequest{})
	require.Equal(t, 1, queued.Requested)
	require.Equal(t, []string{file.ID}, queued.Queued)
	require.Equal(t, 1, batch.Evaluated)
	require.Empty(t, batch.Failed)

	grade, err := gradeRepo.GetByFileSubmission(context.Background(), file.ID)
	require.NoError(t, err)
	require.NotNil(t, grade.AIScore)
	require.InDelta(t, 8.5, *grade.AIScore, 0.0001)
	require.InDelta(t, 8.5, grade.Score, 0.0001)
	require.Contains(t, *grade.AIComment, "Solid work.")
	require.Equal(t, "lamb_assistant.42", grade.AIDetails["model"])

	stored, err := submissionRepo.GetFileByID(context.Background(), file.ID)
	require.NoError(t, err)
	require.Equal(t, models.EvaluationStatusCompleted, *stored.EvaluationStatus)
}

func TestStartEvaluationMissingMarkerFails(t *testing.T) {
	svc, submissionRepo, gradeRepo, activityRepo, client := newTestEvaluationService(t)
	key := seedActivity(t, activityRepo, evaluatedActivity())
	file := seedFile(t, submissionRepo, "f1")
	client.replies["text:/fake/"+file.FilePath] = "A thoughtful essay, well done."

	_, batch := runEvaluation(t, svc, key, dto.StartEvaluationRequest{})
	require.Equal(t, 0, batch.Evaluated)
	require.Equal(t, []string{file.ID}, batch.Failed)

	// No grade row is written for a reply without a score marker.
	_, err := gradeRepo.GetByFileSubmission(context.Background(), file.ID)
	require.Error(t, err)

	stored, err := submissionRepo.GetFileByID(context.Background(), file.ID)
	require.NoError(t, err)
	require.Equal(t, models.EvaluationStatusError, *stored.EvaluationStatus)
	require.NotNil(t, stored.EvaluationError)
}

func TestStartEvaluationSkipsGradedUnlessForced(t *testing.T) {
	svc, submissionRepo, _, activityRepo, client := newTestEvaluationService(t)
	key := seedActivity(t, activityRepo, evaluatedActivity())
	file := seedFile(t, submissionRepo, "f1")

	runEvaluation(t, svc, key, dto.StartEvaluationRequest{})
	require.Equal(t, 1, client.calls)

	queued, _ := runEvaluation(t, svc, key, dto.StartEvaluationRequest{})
	require.Equal(t, []string{file.ID}, queued.Skipped)
	require.Empty(t, queued.Queued)
	require.Equal(t, 1, client.calls)

	_, batch := runEvaluation(t, svc, key, dto.StartEvaluationRequest{Force: true})
	require.Equal(t, 1, batch.Evaluated)
	require.Equal(t, 2, client.calls)
}

func TestStartSkipsActiveProcessingClaim(t *testing.T) {
	svc, submissionRepo, _, activityRepo, client := newTestEvaluationService(t)
	key := seedActivity(t, activityRepo, evaluatedActivity())
	file := seedFile(t, submissionRepo, "f1")

	// A run started a minute ago still holds its claim.
	require.NoError(t, submissionRepo.MarkEvaluationProcessing(context.Background(), file.ID, testNow.Add(-time.Minute)))

	queued, _ := runEvaluation(t, svc, key, dto.StartEvaluationRequest{})
	require.Equal(t, []string{file.ID}, queued.AlreadyProcessing)
	require.Empty(t, queued.Queued)
	require.Equal(t, 0, client.calls)

	// Past the timeout window the claim is stale and the run is redone.
	require.NoError(t, submissionRepo.MarkEvaluationProcessing(context.Background(), file.ID, testNow.Add(-10*time.Minute)))

	_, batch := runEvaluation(t, svc, key, dto.StartEvaluationRequest{})
	require.Equal(t, 1, batch.Evaluated)
	require.Equal(t, 1, client.calls)
}

func TestStartSkipsQueuedClaim(t *testing.T) {
	svc, submissionRepo, _, activityRepo, _ := newTestEvaluationService(t)
	key := seedActivity(t, activityRepo, evaluatedActivity())
	file := seedFile(t, submissionRepo, "f1")

	// A submission queued by another request counts as claimed too.
	require.NoError(t, submissionRepo.MarkEvaluationPending(context.Background(), []string{file.ID}, testNow.Add(-time.Minute)))

	queued, err := svc.Start(context.Background(), teacherActor(), key, dto.StartEvaluationRequest{})
	require.NoError(t, err)
	require.Equal(t, []string{file.ID}, queued.AlreadyProcessing)
	require.Empty(t, queued.Queued)

	// A queue entry past the timeout window is re-queued.
	require.NoError(t, submissionRepo.MarkEvaluationPending(context.Background(), []string{file.ID}, testNow.Add(-10*time.Minute)))

	queued, err = svc.Start(context.Background(), teacherActor(), key, dto.StartEvaluationRequest{})
	require.NoError(t, err)
	require.Equal(t, []string{file.ID}, queued.Queued)
}

func TestProcessBatchReclaimsQueued(t *testing.T) {
	svc, submissionRepo, gradeRepo, activityRepo, _ := newTestEvaluationService(t)
	key := seedActivity(t, activityRepo, evaluatedActivity())
	file := seedFile(t, submissionRepo, "f1")

	queued, err := svc.Start(context.Background(), teacherActor(), key, dto.StartEvaluationRequest{})
	require.NoError(t, err)

	// Running the same queue twice grades once per run without corrupting
	// the recorded state.
	for i := 0; i < 2; i++ {
		batch, err := svc.ProcessBatch(context.Background(), key, queued.Queued)
		require.NoError(t, err)
		require.Equal(t, 1, batch.Evaluated)
	}

	grade, err := gradeRepo.GetByFileSubmission(context.Background(), file.ID)
	require.NoError(t, err)
	require.NotNil(t, grade.AIScore)

	stored, err := submissionRepo.GetFileByID(context.Background(), file.ID)
	require.NoError(t, err)
	require.Equal(t, models.EvaluationStatusCompleted, *stored.EvaluationStatus)
}

func TestStartEvaluationForceKeepsManualScore(t *testing.T) {
	svc, submissionRepo, gradeRepo, activityRepo, client := newTestEvaluationService(t)
	key := seedActivity(t, activityRepo, evaluatedActivity())
	file := seedFile(t, submissionRepo, "f1")

	runEvaluation(t, svc, key, dto.StartEvaluationRequest{})

	// Teacher overrides the score.
	grade, err := gradeRepo.GetByFileSubmission(context.Background(), file.ID)
	require.NoError(t, err)
	grade.Score = 9.5
	require.NoError(t, gradeRepo.Update(context.Background(), &grade))

	client.replies["text:/fake/"+file.FilePath] = "NOTA FINAL: 4"
	runEvaluation(t, svc, key, dto.StartEvaluationRequest{Force: true})

	grade, err = gradeRepo.GetByFileSubmission(context.Background(), file.ID)
	require.NoError(t, err)
	require.InDelta(t, 9.5, grade.Score, 0.0001)
	require.InDelta(t, 4, *grade.AIScore, 0.0001)
}

func TestStartEvaluationWithoutEvaluator(t *testing.T) {
	svc, submissionRepo, _, activityRepo, _ := newTestEvaluationService(t)
	key := seedActivity(t, activityRepo, individualActivity())
	seedFile(t, submissionRepo, "f1")

	_, err := svc.Start(context.Background(), teacherActor(), key, dto.StartEvaluationRequest{})
	require.ErrorIs(t, err, ErrNoEvaluator)
}

func TestStartEvaluationRequiresTeacher(t *testing.T) {
	svc, _, _, activityRepo, _ := newTestEvaluationService(t)
	key := seedActivity(t, activityRepo, evaluatedActivity())

	_, err := svc.Start(context.Background(), Actor{UserID: "s", Role: models.RoleStudent}, key, dto.StartEvaluationRequest{})
	require.ErrorIs(t, err, ErrNotTeacher)
}

func TestStartEvaluationNoSubmissions(t *testing.T) {
	svc, _, _, activityRepo, _ := newTestEvaluationService(t)
	key := seedActivity(t, activityRepo, evaluatedActivity())

	_, err := svc.Start(context.Background(), teacherActor(), key, dto.StartEvaluationRequest{})
	require.ErrorIs(t, err, ErrNothingToProcess)
}

func TestStartEvaluationGraderFailure(t *testing.T) {
	svc, submissionRepo, _, activityRepo, client := newTestEvaluationService(t)
	key := seedActivity(t, activityRepo, evaluatedActivity())
	file := seedFile(t, submissionRepo, "f1")
	client.err = grader.ErrUnavailable

	_, batch := runEvaluation(t, svc, key, dto.StartEvaluationRequest{})
	require.Equal(t, []string{file.ID}, batch.Failed)

	stored, err := submissionRepo.GetFileByID(context.Background(), file.ID)
	require.NoError(t, err)
	require.Equal(t, models.EvaluationStatusError, *stored.EvaluationStatus)
}

func TestResetStuck(t *testing.T) {
	svc, submissionRepo, _, activityRepo, _ := newTestEvaluationService(t)
	key := seedActivity(t, activityRepo, evaluatedActivity())
	ctx := context.Background()

	stuck := seedFile(t, submissionRepo, "f1")
	require.NoError(t, submissionRepo.MarkEvaluationProcessing(ctx, stuck.ID, testNow.Add(-10*time.Minute)))

	fresh := seedFile(t, submissionRepo, "f2")
	require.NoError(t, submissionRepo.MarkEvaluationProcessing(ctx, fresh.ID, testNow.Add(-time.Minute)))

	count, err := svc.ResetStuck(ctx, teacherActor(), key)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	stored, err := submissionRepo.GetFileByID(ctx, stuck.ID)
	require.NoError(t, err)
	require.Equal(t, models.EvaluationStatusError, *stored.EvaluationStatus)
	require.Equal(t, stuckEvaluationMessage, *stored.EvaluationError)
}

func TestClearStatusScopedToActivity(t *testing.T) {
	svc, submissionRepo, _, activityRepo, _ := newTestEvaluationService(t)
	key := seedActivity(t, activityRepo, evaluatedActivity())
	ctx := context.Background()

	mine := seedFile(t, submissionRepo, "f1")
	require.NoError(t, submissionRepo.FailEvaluation(ctx, mine.ID, "boom"))

	foreign := models.FileSubmission{
		ID:               "f-other",
		ActivityID:       "act-other",
		ActivityMoodleID: "moodle-1",
		FileName:         "x.txt",
		FilePath:         "act-other/x.txt",
		MaxGroupMembers:  1,
	}
	require.NoError(t, submissionRepo.CreateFile(ctx, &foreign))
	require.NoError(t, submissionRepo.FailEvaluation(ctx, foreign.ID, "boom"))

	count, err := svc.ClearStatus(ctx, teacherActor(), key, dto.ClearEvaluationRequest{
		SubmissionIDs: []string{mine.ID, foreign.ID},
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	stored, err := submissionRepo.GetFileByID(ctx, foreign.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.EvaluationStatus)
}

func TestStatusListsGrades(t *testing.T) {
	svc, submissionRepo, _, activityRepo, _ := newTestEvaluationService(t)
	key := seedActivity(t, activityRepo, evaluatedActivity())
	file := seedFile(t, submissionRepo, "f1")
	seedFile(t, submissionRepo, "f2")

	runEvaluation(t, svc, key, dto.StartEvaluationRequest{SubmissionIDs: []string{file.ID}})

	items, err := svc.Status(context.Background(), teacherActor(), key)
	require.NoError(t, err)
	require.Len(t, items, 2)

	var graded, ungraded int
	for _, item := range items {
		if item.Grade != nil {
			graded++
		} else {
			ungraded++
		}
	}
	require.Equal(t, 1, graded)
	require.Equal(t, 1, ungraded)
}
