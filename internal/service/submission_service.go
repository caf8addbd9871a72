package service

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/lamba-project/lamba-api/internal/models"
	"github.com/lamba-project/lamba-api/internal/repository"
	"github.com/lamba-project/lamba-api/internal/storage"
)

var (
	ErrNoSubmission     = errors.New("student has no submission for this activity")
	ErrNotStudent       = errors.New("only students may submit")
	ErrAlreadySubmitted = errors.New("student already has a submission for this activity")
	ErrAlreadyMember    = errors.New("student is already a member of this group")
	ErrDeadlinePassed   = errors.New("activity deadline has passed")
	ErrGroupNotFound    = errors.New("no group with that code in this activity")
	ErrGroupFull        = errors.New("group is already full")
	ErrNotGroupActivity = errors.New("activity does not use groups")
	ErrUnsupportedFile  = errors.New("file type not accepted")
	ErrFileTooLarge     = errors.New("file exceeds the size limit")
)

const groupCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const groupCodeLength = 8
const groupCodeAttempts = 10

// acceptedExtensions mirrors what the text extractor can handle; anything
// else would fail evaluation anyway.
var acceptedExtensions = map[string]bool{
	".pdf":  true,
	".docx": true,
	".txt":  true,
	".md":   true,
	".py":   true,
	".java": true,
	".cpp":  true,
	".c":    true,
	".js":   true,
	".html": true,
	".css":  true,
	".json": true,
	".xml":  true,
}

// FileUpload is one incoming submission file.
type FileUpload struct {
	Name    string
	Content io.Reader
}

// StudentContext is the session identity of a submitting student, including
// the grade passback token from the launch.
type StudentContext struct {
	Actor
	LisResultSourcedID string
}

// SubmissionView pairs a file submission with the viewer's own link row.
type SubmissionView struct {
	File    models.FileSubmission
	Student models.StudentSubmission
}

// SubmissionService implements the submission workflow: uploads, replacement
// by the owner, and joining group submissions by code.
type SubmissionService interface {
	Submit(ctx context.Context, student StudentContext, key ActivityKey, upload FileUpload) (SubmissionView, error)
	JoinGroup(ctx context.Context, student StudentContext, key ActivityKey, groupCode string) (SubmissionView, error)
	GetStudentSubmission(ctx context.Context, student StudentContext, key ActivityKey) (SubmissionView, error)
	ListByActivity(ctx context.Context, actor Actor, key ActivityKey) ([]models.FileSubmission, error)
	GetGroupMembers(ctx context.Context, key ActivityKey, fileSubmissionID string) ([]models.StudentSubmission, error)
	OpenFile(ctx context.Context, actor Actor, key ActivityKey, fileSubmissionID string) (io.ReadCloser, models.FileSubmission, error)
}

type submissionService struct {
	submissionRepo repository.SubmissionRepository
	activityRepo   repository.ActivityRepository
	files          storage.Store
	maxUploadBytes int64
	logger         zerolog.Logger
	now            func() time.Time
}

func NewSubmissionService(
	submissionRepo repository.SubmissionRepository,
	activityRepo repository.ActivityRepository,
	files storage.Store,
	maxUploadBytes int64,
	logger zerolog.Logger,
) SubmissionService {
	return &submissionService{
		submissionRepo: submissionRepo,
		activityRepo:   activityRepo,
		files:          files,
		maxUploadBytes: maxUploadBytes,
		logger:         logger.With().Str("component", "submission_service").Logger(),
		now:            time.Now,
	}
}

func (s *submissionService) Submit(ctx context.Context, student StudentContext, key ActivityKey, upload FileUpload) (SubmissionView, error) {
	if !student.IsStudent() {
		return SubmissionView{}, ErrNotStudent
	}

	activity, err := s.getActivity(ctx, key)
	if err != nil {
		return SubmissionView{}, err
	}
	if activity.IsPastDeadline(s.now()) {
		return SubmissionView{}, ErrDeadlinePassed
	}

	content, fileType, err := s.readUpload(upload)
	if err != nil {
		return SubmissionView{}, err
	}

	existing, err := s.submissionRepo.GetStudentByKey(ctx, key.ID, key.CourseMoodleID, student.UserID, student.MoodleID)
	switch {
	case err == nil:
		return s.replaceFile(ctx, student, existing, upload.Name, fileType, content)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return s.createSubmission(ctx, student, activity, key, upload.Name, fileType, content)
	default:
		return SubmissionView{}, fmt.Errorf("look up submission: %w", err)
	}
}

// replaceFile swaps the stored bytes of an existing submission. Only the
// uploader may change the file; a non-owner group member resubmitting through
// this path gets their passback bookkeeping refreshed and the file is left
// alone.
func (s *submissionService) replaceFile(ctx context.Context, student StudentContext, link models.StudentSubmission, name, fileType string, content []byte) (SubmissionView, error) {
	file, err := s.submissionRepo.GetFileByID(ctx, link.FileSubmissionID)
	if err != nil {
		return SubmissionView{}, fmt.Errorf("get file submission: %w", err)
	}

	if student.LisResultSourcedID != "" {
		link.LisResultSourcedID = &student.LisResultSourcedID
	}
	link.JoinedAt = s.now()

	if !file.IsOwnedBy(student.UserID) {
		if err := s.submissionRepo.UpdateStudent(ctx, &link); err != nil {
			return SubmissionView{}, fmt.Errorf("update student submission: %w", err)
		}
		return SubmissionView{File: file, Student: link}, nil
	}

	path, size, err := s.files.Save(file.ActivityID, name, bytes.NewReader(content))
	if err != nil {
		return SubmissionView{}, fmt.Errorf("store file: %w", err)
	}

	oldPath := file.FilePath
	file.FileName = name
	file.FilePath = path
	file.FileSize = size
	file.FileType = fileType
	file.UploadedAt = s.now()
	if err := s.submissionRepo.UpdateFile(ctx, &file); err != nil {
		_ = s.files.Delete(path)
		return SubmissionView{}, fmt.Errorf("update file submission: %w", err)
	}

	if err := s.submissionRepo.UpdateStudent(ctx, &link); err != nil {
		return SubmissionView{}, fmt.Errorf("update student submission: %w", err)
	}

	if oldPath != path {
		_ = s.files.Delete(oldPath)
	}

	s.logger.Info().
		Str("file_submission_id", file.ID).
		Str("student_id", student.UserID).
		Msg("submission file replaced")

	return SubmissionView{File: file, Student: link}, nil
}

func (s *submissionService) createSubmission(ctx context.Context, student StudentContext, activity models.Activity, key ActivityKey, name, fileType string, content []byte) (SubmissionView, error) {
	path, size, err := s.files.Save(key.ID, name, bytes.NewReader(content))
	if err != nil {
		return SubmissionView{}, fmt.Errorf("store file: %w", err)
	}

	file := models.FileSubmission{
		ID:                 uuid.NewString(),
		ActivityID:         key.ID,
		ActivityMoodleID:   key.CourseMoodleID,
		FileName:           name,
		FilePath:           path,
		FileSize:           size,
		FileType:           fileType,
		UploadedAt:         s.now(),
		UploadedBy:         student.UserID,
		UploadedByMoodleID: student.MoodleID,
		MaxGroupMembers:    1,
	}
	if activity.IsGroup() {
		if activity.MaxGroupSize != nil {
			file.MaxGroupMembers = *activity.MaxGroupSize
		}
		code, err := s.newGroupCode(ctx)
		if err != nil {
			_ = s.files.Delete(path)
			return SubmissionView{}, err
		}
		file.GroupCode = &code
	}

	if err := s.submissionRepo.CreateFile(ctx, &file); err != nil {
		_ = s.files.Delete(path)
		return SubmissionView{}, fmt.Errorf("create file submission: %w", err)
	}

	link := models.StudentSubmission{
		ID:               uuid.NewString(),
		FileSubmissionID: file.ID,
		StudentID:        student.UserID,
		StudentMoodleID:  student.MoodleID,
		ActivityID:       key.ID,
		ActivityMoodleID: key.CourseMoodleID,
		JoinedAt:         s.now(),
	}
	if student.LisResultSourcedID != "" {
		link.LisResultSourcedID = &student.LisResultSourcedID
	}
	if err := s.submissionRepo.CreateStudent(ctx, &link); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return SubmissionView{}, ErrAlreadySubmitted
		}
		return SubmissionView{}, fmt.Errorf("create student submission: %w", err)
	}

	s.logger.Info().
		Str("file_submission_id", file.ID).
		Str("student_id", student.UserID).
		Bool("group", activity.IsGroup()).
		Msg("submission created")

	return SubmissionView{File: file, Student: link}, nil
}

func (s *submissionService) JoinGroup(ctx context.Context, student StudentContext, key ActivityKey, groupCode string) (SubmissionView, error) {
	if !student.IsStudent() {
		return SubmissionView{}, ErrNotStudent
	}

	activity, err := s.getActivity(ctx, key)
	if err != nil {
		return SubmissionView{}, err
	}
	if !activity.IsGroup() {
		return SubmissionView{}, ErrNotGroupActivity
	}
	if activity.IsPastDeadline(s.now()) {
		return SubmissionView{}, ErrDeadlinePassed
	}

	if existing, err := s.submissionRepo.GetStudentByKey(ctx, key.ID, key.CourseMoodleID, student.UserID, student.MoodleID); err == nil {
		if existingFile, ferr := s.submissionRepo.GetFileByID(ctx, existing.FileSubmissionID); ferr == nil &&
			existingFile.GroupCode != nil && strings.EqualFold(*existingFile.GroupCode, groupCode) {
			return SubmissionView{}, ErrAlreadyMember
		}
		return SubmissionView{}, ErrAlreadySubmitted
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return SubmissionView{}, fmt.Errorf("look up submission: %w", err)
	}

	file, err := s.submissionRepo.GetFileByGroupCode(ctx, strings.ToUpper(groupCode), key.ID, key.CourseMoodleID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return SubmissionView{}, ErrGroupNotFound
		}
		return SubmissionView{}, fmt.Errorf("look up group: %w", err)
	}

	members, err := s.submissionRepo.CountMembers(ctx, file.ID)
	if err != nil {
		return SubmissionView{}, fmt.Errorf("count members: %w", err)
	}
	if members >= int64(file.MaxGroupMembers) {
		return SubmissionView{}, ErrGroupFull
	}

	link := models.StudentSubmission{
		ID:               uuid.NewString(),
		FileSubmissionID: file.ID,
		StudentID:        student.UserID,
		StudentMoodleID:  student.MoodleID,
		ActivityID:       key.ID,
		ActivityMoodleID: key.CourseMoodleID,
		JoinedAt:         s.now(),
	}
	if student.LisResultSourcedID != "" {
		link.LisResultSourcedID = &student.LisResultSourcedID
	}
	if err := s.submissionRepo.CreateStudent(ctx, &link); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return SubmissionView{}, ErrAlreadySubmitted
		}
		return SubmissionView{}, fmt.Errorf("join group: %w", err)
	}

	s.logger.Info().
		Str("file_submission_id", file.ID).
		Str("student_id", student.UserID).
		Msg("student joined group")

	return SubmissionView{File: file, Student: link}, nil
}

func (s *submissionService) GetStudentSubmission(ctx context.Context, student StudentContext, key ActivityKey) (SubmissionView, error) {
	link, err := s.submissionRepo.GetStudentByKey(ctx, key.ID, key.CourseMoodleID, student.UserID, student.MoodleID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return SubmissionView{}, ErrNoSubmission
		}
		return SubmissionView{}, fmt.Errorf("look up submission: %w", err)
	}

	file, err := s.submissionRepo.GetFileByID(ctx, link.FileSubmissionID)
	if err != nil {
		return SubmissionView{}, fmt.Errorf("get file submission: %w", err)
	}

	return SubmissionView{File: file, Student: link}, nil
}

func (s *submissionService) ListByActivity(ctx context.Context, actor Actor, key ActivityKey) ([]models.FileSubmission, error) {
	if !actor.IsTeacher() {
		return nil, ErrNotTeacher
	}

	files, err := s.submissionRepo.ListFilesByActivity(ctx, key.ID, key.CourseMoodleID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	return files, nil
}

func (s *submissionService) GetGroupMembers(ctx context.Context, key ActivityKey, fileSubmissionID string) ([]models.StudentSubmission, error) {
	file, err := s.submissionRepo.GetFileByID(ctx, fileSubmissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoSubmission
		}
		return nil, fmt.Errorf("get file submission: %w", err)
	}
	if file.ActivityID != key.ID || file.ActivityMoodleID != key.CourseMoodleID {
		return nil, ErrNoSubmission
	}

	members, err := s.submissionRepo.ListStudentsByFile(ctx, file.ID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}

	return members, nil
}

// OpenFile streams stored bytes. Teachers may open any file of their
// activity; students only files they are linked to.
func (s *submissionService) OpenFile(ctx context.Context, actor Actor, key ActivityKey, fileSubmissionID string) (io.ReadCloser, models.FileSubmission, error) {
	file, err := s.submissionRepo.GetFileByID(ctx, fileSubmissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.FileSubmission{}, ErrNoSubmission
		}
		return nil, models.FileSubmission{}, fmt.Errorf("get file submission: %w", err)
	}
	if file.ActivityID != key.ID || file.ActivityMoodleID != key.CourseMoodleID {
		return nil, models.FileSubmission{}, ErrNoSubmission
	}

	if !actor.IsTeacher() {
		link, err := s.submissionRepo.GetStudentByKey(ctx, key.ID, key.CourseMoodleID, actor.UserID, actor.MoodleID)
		if err != nil || link.FileSubmissionID != file.ID {
			return nil, models.FileSubmission{}, ErrNoSubmission
		}
	}

	rc, err := s.files.Open(file.FilePath)
	if err != nil {
		return nil, models.FileSubmission{}, fmt.Errorf("open stored file: %w", err)
	}

	return rc, file, nil
}

func (s *submissionService) getActivity(ctx context.Context, key ActivityKey) (models.Activity, error) {
	activity, err := s.activityRepo.GetByKey(ctx, key.ID, key.CourseMoodleID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Activity{}, ErrActivityNotFound
		}
		return models.Activity{}, fmt.Errorf("get activity: %w", err)
	}
	return activity, nil
}

// readUpload buffers the file, enforces the size limit and checks both the
// extension and the sniffed content type.
func (s *submissionService) readUpload(upload FileUpload) ([]byte, string, error) {
	ext := strings.ToLower(filepath.Ext(upload.Name))
	if !acceptedExtensions[ext] {
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedFile, ext)
	}

	content, err := io.ReadAll(io.LimitReader(upload.Content, s.maxUploadBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read upload: %w", err)
	}
	if int64(len(content)) > s.maxUploadBytes {
		return nil, "", ErrFileTooLarge
	}
	if len(content) == 0 {
		return nil, "", fmt.Errorf("%w: empty file", ErrUnsupportedFile)
	}

	detected := mimetype.Detect(content)
	if ext == ".pdf" && !detected.Is("application/pdf") {
		return nil, "", fmt.Errorf("%w: content is %s, not pdf", ErrUnsupportedFile, detected.String())
	}
	if ext == ".docx" && !detected.Is("application/vnd.openxmlformats-officedocument.wordprocessingml.document") &&
		!detected.Is("application/zip") {
		return nil, "", fmt.Errorf("%w: content is %s, not docx", ErrUnsupportedFile, detected.String())
	}

	return content, detected.String(), nil
}

// newGroupCode draws 8 characters from A-Z0-9 and retries on the unlikely
// collision with an existing code.
func (s *submissionService) newGroupCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < groupCodeAttempts; attempt++ {
		buf := make([]byte, groupCodeLength)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate group code: %w", err)
		}
		for i := range buf {
			buf[i] = groupCodeAlphabet[int(buf[i])%len(groupCodeAlphabet)]
		}
		code := string(buf)

		inUse, err := s.submissionRepo.GroupCodeInUse(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check group code: %w", err)
		}
		if !inUse {
			return code, nil
		}
	}

	return "", fmt.Errorf("could not find a free group code")
}
