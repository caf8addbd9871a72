package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/lamba-project/lamba-api/internal/models"
	"github.com/lamba-project/lamba-api/internal/repository"
	"github.com/lamba-project/lamba-api/internal/storage"
)

type fakeActivityRepo struct {
	activities map[string]models.Activity
}

func newFakeActivityRepo() *fakeActivityRepo {
	return &fakeActivityRepo{activities: make(map[string]models.Activity)}
}

func activityKey(id, courseMoodleID string) string { return id + "|" + courseMoodleID }

func (f *fakeActivityRepo) GetByKey(_ context.Context, id, courseMoodleID string) (models.Activity, error) {
	activity, ok := f.activities[activityKey(id, courseMoodleID)]
	if !ok {
		return models.Activity{}, gorm.ErrRecordNotFound
	}
	return activity, nil
}

func (f *fakeActivityRepo) ListByCourse(_ context.Context, courseID, courseMoodleID string) ([]models.Activity, error) {
	var out []models.Activity
	for _, a := range f.activities {
		if a.CourseID == courseID && a.CourseMoodleID == courseMoodleID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeActivityRepo) Create(_ context.Context, activity *models.Activity) error {
	key := activityKey(activity.ID, activity.CourseMoodleID)
	if _, ok := f.activities[key]; ok {
		return gorm.ErrDuplicatedKey
	}
	f.activities[key] = *activity
	return nil
}

func (f *fakeActivityRepo) Update(_ context.Context, activity *models.Activity) error {
	f.activities[activityKey(activity.ID, activity.CourseMoodleID)] = *activity
	return nil
}

type fakeSubmissionRepo struct {
	files        map[string]models.FileSubmission
	students     map[string]models.StudentSubmission
	gradesByFile map[string]models.Grade
}

func newFakeSubmissionRepo() *fakeSubmissionRepo {
	return &fakeSubmissionRepo{
		files:        make(map[string]models.FileSubmission),
		students:     make(map[string]models.StudentSubmission),
		gradesByFile: make(map[string]models.Grade),
	}
}

func studentKey(s models.StudentSubmission) string {
	return strings.Join([]string{s.StudentID, s.StudentMoodleID, s.ActivityID, s.ActivityMoodleID}, "|")
}

func (f *fakeSubmissionRepo) CreateFile(_ context.Context, file *models.FileSubmission) error {
	if file.GroupCode != nil {
		for _, existing := range f.files {
			if existing.GroupCode != nil && *existing.GroupCode == *file.GroupCode {
				return gorm.ErrDuplicatedKey
			}
		}
	}
	f.files[file.ID] = *file
	return nil
}

func (f *fakeSubmissionRepo) UpdateFile(_ context.Context, file *models.FileSubmission) error {
	f.files[file.ID] = *file
	return nil
}

func (f *fakeSubmissionRepo) GetFileByID(_ context.Context, id string) (models.FileSubmission, error) {
	file, ok := f.files[id]
	if !ok {
		return models.FileSubmission{}, gorm.ErrRecordNotFound
	}
	return file, nil
}

func (f *fakeSubmissionRepo) GetFileByGroupCode(_ context.Context, groupCode, activityID, activityMoodleID string) (models.FileSubmission, error) {
	for _, file := range f.files {
		if file.GroupCode != nil && *file.GroupCode == groupCode &&
			file.ActivityID == activityID && file.ActivityMoodleID == activityMoodleID {
			return file, nil
		}
	}
	return models.FileSubmission{}, gorm.ErrRecordNotFound
}

func (f *fakeSubmissionRepo) ListFilesByActivity(_ context.Context, activityID, activityMoodleID string) ([]models.FileSubmission, error) {
	var out []models.FileSubmission
	for _, file := range f.files {
		if file.ActivityID == activityID && file.ActivityMoodleID == activityMoodleID {
			out = append(out, file)
		}
	}
	return out, nil
}

func (f *fakeSubmissionRepo) ListFilesByIDs(_ context.Context, ids []string, activityID, activityMoodleID string) ([]models.FileSubmission, error) {
	var out []models.FileSubmission
	for _, id := range ids {
		if file, ok := f.files[id]; ok &&
			file.ActivityID == activityID && file.ActivityMoodleID == activityMoodleID {
			out = append(out, file)
		}
	}
	return out, nil
}

func (f *fakeSubmissionRepo) GroupCodeInUse(_ context.Context, code string) (bool, error) {
	for _, file := range f.files {
		if file.GroupCode != nil && *file.GroupCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeSubmissionRepo) CreateStudent(_ context.Context, submission *models.StudentSubmission) error {
	if _, ok := f.students[studentKey(*submission)]; ok {
		return gorm.ErrDuplicatedKey
	}
	f.students[studentKey(*submission)] = *submission
	return nil
}

func (f *fakeSubmissionRepo) UpdateStudent(_ context.Context, submission *models.StudentSubmission) error {
	f.students[studentKey(*submission)] = *submission
	return nil
}

func (f *fakeSubmissionRepo) GetStudentByKey(_ context.Context, activityID, activityMoodleID, studentID, studentMoodleID string) (models.StudentSubmission, error) {
	key := strings.Join([]string{studentID, studentMoodleID, activityID, activityMoodleID}, "|")
	submission, ok := f.students[key]
	if !ok {
		return models.StudentSubmission{}, gorm.ErrRecordNotFound
	}
	return submission, nil
}

func (f *fakeSubmissionRepo) ListStudentsByActivity(_ context.Context, activityID, activityMoodleID string) ([]models.StudentSubmission, error) {
	var out []models.StudentSubmission
	for _, s := range f.students {
		if s.ActivityID == activityID && s.ActivityMoodleID == activityMoodleID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSubmissionRepo) ListStudentsByFile(_ context.Context, fileSubmissionID string) ([]models.StudentSubmission, error) {
	var out []models.StudentSubmission
	for _, s := range f.students {
		if s.FileSubmissionID == fileSubmissionID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSubmissionRepo) CountMembers(_ context.Context, fileSubmissionID string) (int64, error) {
	var count int64
	for _, s := range f.students {
		if s.FileSubmissionID == fileSubmissionID {
			count++
		}
	}
	return count, nil
}

func (f *fakeSubmissionRepo) MarkSentToMoodle(_ context.Context, studentSubmissionID string, at time.Time) error {
	for key, s := range f.students {
		if s.ID == studentSubmissionID {
			s.SentToMoodle = true
			s.SentToMoodleAt = &at
			f.students[key] = s
		}
	}
	return nil
}

func (f *fakeSubmissionRepo) MarkEvaluationPending(_ context.Context, ids []string, at time.Time) error {
	for _, id := range ids {
		if file, ok := f.files[id]; ok {
			status := models.EvaluationStatusPending
			file.EvaluationStatus = &status
			file.EvaluationStartedAt = &at
			file.EvaluationError = nil
			f.files[id] = file
		}
	}
	return nil
}

func (f *fakeSubmissionRepo) MarkEvaluationProcessing(_ context.Context, id string, at time.Time) error {
	if file, ok := f.files[id]; ok {
		status := models.EvaluationStatusProcessing
		file.EvaluationStatus = &status
		file.EvaluationStartedAt = &at
		f.files[id] = file
	}
	return nil
}

func (f *fakeSubmissionRepo) CompleteEvaluation(_ context.Context, id string) error {
	if file, ok := f.files[id]; ok {
		status := models.EvaluationStatusCompleted
		file.EvaluationStatus = &status
		file.EvaluationError = nil
		f.files[id] = file
	}
	return nil
}

func (f *fakeSubmissionRepo) FailEvaluation(_ context.Context, id, message string) error {
	if file, ok := f.files[id]; ok {
		status := models.EvaluationStatusError
		file.EvaluationStatus = &status
		file.EvaluationError = &message
		f.files[id] = file
	}
	return nil
}

func (f *fakeSubmissionRepo) ResetStuckEvaluations(_ context.Context, activityID, activityMoodleID string, threshold time.Time, message string) (int64, error) {
	var count int64
	for id, file := range f.files {
		if file.ActivityID != activityID || file.ActivityMoodleID != activityMoodleID {
			continue
		}
		if file.EvaluationStatus == nil || *file.EvaluationStatus != models.EvaluationStatusProcessing {
			continue
		}
		if file.EvaluationStartedAt == nil || !file.EvaluationStartedAt.Before(threshold) {
			continue
		}
		status := models.EvaluationStatusError
		file.EvaluationStatus = &status
		file.EvaluationError = &message
		f.files[id] = file
		count++
	}
	return count, nil
}

func (f *fakeSubmissionRepo) ClearEvaluationStatus(_ context.Context, ids []string) (int64, error) {
	var count int64
	for _, id := range ids {
		if file, ok := f.files[id]; ok {
			file.EvaluationStatus = nil
			file.EvaluationStartedAt = nil
			file.EvaluationError = nil
			f.files[id] = file
			count++
		}
	}
	return count, nil
}

func (f *fakeSubmissionRepo) ListSendable(_ context.Context, activityID string) ([]repository.SendableSubmission, error) {
	var out []repository.SendableSubmission
	for _, s := range f.students {
		if s.ActivityID != activityID || s.LisResultSourcedID == nil {
			continue
		}
		file, ok := f.files[s.FileSubmissionID]
		if !ok {
			continue
		}
		grade, ok := f.gradesByFile[file.ID]
		if !ok {
			continue
		}
		out = append(out, repository.SendableSubmission{Student: s, File: file, Grade: grade})
	}
	return out, nil
}

type fakeStore struct {
	saved   map[string][]byte
	deleted []string
	counter int
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: make(map[string][]byte)}
}

func (f *fakeStore) Save(activityID, originalName string, r io.Reader) (string, int64, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return "", 0, err
	}
	f.counter++
	path := fmt.Sprintf("%s/%d_%s", activityID, f.counter, originalName)
	f.saved[path] = content
	return path, int64(len(content)), nil
}

func (f *fakeStore) Open(path string) (io.ReadCloser, error) {
	content, ok := f.saved[path]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (f *fakeStore) AbsPath(path string) (string, error) {
	return "/fake/" + path, nil
}

func (f *fakeStore) Delete(path string) error {
	delete(f.saved, path)
	f.deleted = append(f.deleted, path)
	return nil
}

type fakeGradeRepo struct {
	grades map[string]models.Grade
}

func newFakeGradeRepo() *fakeGradeRepo {
	return &fakeGradeRepo{grades: make(map[string]models.Grade)}
}

func (f *fakeGradeRepo) GetByFileSubmission(_ context.Context, fileSubmissionID string) (models.Grade, error) {
	grade, ok := f.grades[fileSubmissionID]
	if !ok {
		return models.Grade{}, gorm.ErrRecordNotFound
	}
	return grade, nil
}

func (f *fakeGradeRepo) ListByFileSubmissions(_ context.Context, fileSubmissionIDs []string) ([]models.Grade, error) {
	var out []models.Grade
	for _, id := range fileSubmissionIDs {
		if grade, ok := f.grades[id]; ok {
			out = append(out, grade)
		}
	}
	return out, nil
}

func (f *fakeGradeRepo) Create(_ context.Context, grade *models.Grade) error {
	if _, ok := f.grades[grade.FileSubmissionID]; ok {
		return gorm.ErrDuplicatedKey
	}
	f.grades[grade.FileSubmissionID] = *grade
	return nil
}

func (f *fakeGradeRepo) Update(_ context.Context, grade *models.Grade) error {
	f.grades[grade.FileSubmissionID] = *grade
	return nil
}

type fakeMoodleRepo struct {
	moodles map[string]models.Moodle
}

func newFakeMoodleRepo() *fakeMoodleRepo {
	return &fakeMoodleRepo{moodles: make(map[string]models.Moodle)}
}

func (f *fakeMoodleRepo) GetByID(_ context.Context, id string) (models.Moodle, error) {
	moodle, ok := f.moodles[id]
	if !ok {
		return models.Moodle{}, gorm.ErrRecordNotFound
	}
	return moodle, nil
}

func (f *fakeMoodleRepo) Upsert(_ context.Context, moodle *models.Moodle) error {
	existing, ok := f.moodles[moodle.ID]
	if ok && existing.LisOutcomeServiceURL != nil {
		moodle.LisOutcomeServiceURL = existing.LisOutcomeServiceURL
	}
	f.moodles[moodle.ID] = *moodle
	return nil
}

type fakeUserRepo struct {
	users map[string]models.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]models.User)}
}

func (f *fakeUserRepo) GetByKey(_ context.Context, id, moodleID string) (models.User, error) {
	user, ok := f.users[id+"|"+moodleID]
	if !ok {
		return models.User{}, gorm.ErrRecordNotFound
	}
	return user, nil
}

func (f *fakeUserRepo) Upsert(_ context.Context, user *models.User) error {
	f.users[user.ID+"|"+user.MoodleID] = *user
	return nil
}

type fakeCourseRepo struct {
	courses map[string]models.Course
}

func newFakeCourseRepo() *fakeCourseRepo {
	return &fakeCourseRepo{courses: make(map[string]models.Course)}
}

func (f *fakeCourseRepo) GetByKey(_ context.Context, id, moodleID string) (models.Course, error) {
	course, ok := f.courses[id+"|"+moodleID]
	if !ok {
		return models.Course{}, gorm.ErrRecordNotFound
	}
	return course, nil
}

func (f *fakeCourseRepo) Upsert(_ context.Context, course *models.Course) error {
	f.courses[course.ID+"|"+course.MoodleID] = *course
	return nil
}
