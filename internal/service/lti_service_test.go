package service

import (
	"context"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/lamba-project/lamba-api/internal/dto"
	"github.com/lamba-project/lamba-api/internal/models"
	"github.com/lamba-project/lamba-api/internal/session"
)

type fakeSessionStore struct {
	sessions map[string]session.Session
	counter  int
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]session.Session)}
}

func (f *fakeSessionStore) Create(_ context.Context, s session.Session) (session.Session, error) {
	f.counter++
	s.ID = "session-" + strconv.Itoa(f.counter)
	f.sessions[s.ID] = s
	return s, nil
}

func (f *fakeSessionStore) Get(_ context.Context, id string) (session.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return session.Session{}, session.ErrNoSession
	}
	return s, nil
}

func (f *fakeSessionStore) Update(_ context.Context, s session.Session) error {
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeSessionStore) Delete(_ context.Context, id string) error {
	delete(f.sessions, id)
	return nil
}

type ltiFixture struct {
	svc          LTIService
	moodleRepo   *fakeMoodleRepo
	userRepo     *fakeUserRepo
	activityRepo *fakeActivityRepo
	sessions     *fakeSessionStore
}

func newLTIFixture() ltiFixture {
	moodleRepo := newFakeMoodleRepo()
	courseRepo := newFakeCourseRepo()
	userRepo := newFakeUserRepo()
	activityRepo := newFakeActivityRepo()
	sessions := newFakeSessionStore()

	svc := NewLTIService(moodleRepo, courseRepo, userRepo, activityRepo, sessions, zerolog.Nop())

	return ltiFixture{svc: svc, moodleRepo: moodleRepo, userRepo: userRepo, activityRepo: activityRepo, sessions: sessions}
}

func launchParams(userID, roles string) dto.LaunchParams {
	return dto.LaunchParams{
		ResourceLinkID:           "act-1",
		ToolConsumerInstanceGUID: "moodle-1",
		ToolConsumerInstanceName: "Campus Moodle",
		ContextID:                "course-1",
		ContextTitle:             "Programming 101",
		UserID:                   userID,
		Roles:                    roles,
		LisPersonNameFull:        "Ada Lovelace",
		LisResultSourcedID:       "sourced-" + userID,
		LisOutcomeServiceURL:     "http://moodle.example.com/service",
		ResourceLinkTitle:        "Essay 1",
	}
}

func TestHandleLaunchStudent(t *testing.T) {
	f := newLTIFixture()

	sess, err := f.svc.HandleLaunch(context.Background(), launchParams("student-1", "Learner"))
	require.NoError(t, err)

	require.Equal(t, models.RoleStudent, sess.Role)
	require.Equal(t, "act-1", sess.ActivityID)
	require.Equal(t, "sourced-student-1", sess.LisResultSourcedID)
	require.NotEmpty(t, sess.ID)

	user, err := f.userRepo.GetByKey(context.Background(), "student-1", "moodle-1")
	require.NoError(t, err)
	require.Equal(t, models.RoleStudent, user.Role)

	// Student launches do not create a placeholder activity.
	_, err = f.activityRepo.GetByKey(context.Background(), "act-1", "moodle-1")
	require.Error(t, err)
}

func TestHandleLaunchTeacherCreatesActivity(t *testing.T) {
	f := newLTIFixture()

	sess, err := f.svc.HandleLaunch(context.Background(), launchParams("teacher-1", "urn:lti:role:ims/lis/Instructor"))
	require.NoError(t, err)
	require.Equal(t, models.RoleTeacher, sess.Role)

	activity, err := f.activityRepo.GetByKey(context.Background(), "act-1", "moodle-1")
	require.NoError(t, err)
	require.Equal(t, "Essay 1", activity.Title)
	require.Equal(t, models.ActivityTypeIndividual, activity.ActivityType)
	require.Equal(t, "teacher-1", activity.CreatorID)
}

func TestHandleLaunchRoleMapping(t *testing.T) {
	cases := []struct {
		roles string
		want  string
	}{
		{"Instructor", models.RoleTeacher},
		{"urn:lti:instrole:ims/lis/Administrator", models.RoleTeacher},
		{"Learner,urn:lti:role:ims/lis/Instructor", models.RoleTeacher},
		{"Learner", models.RoleStudent},
		{"", models.RoleStudent},
	}

	for _, tc := range cases {
		f := newLTIFixture()
		sess, err := f.svc.HandleLaunch(context.Background(), launchParams("u1", tc.roles))
		require.NoError(t, err)
		require.Equal(t, tc.want, sess.Role, "roles %q", tc.roles)
	}
}

func TestHandleLaunchKeepsFirstOutcomeURL(t *testing.T) {
	f := newLTIFixture()

	_, err := f.svc.HandleLaunch(context.Background(), launchParams("student-1", "Learner"))
	require.NoError(t, err)

	params := launchParams("student-2", "Learner")
	params.LisOutcomeServiceURL = "http://other.example.com/service"
	_, err = f.svc.HandleLaunch(context.Background(), params)
	require.NoError(t, err)

	moodle, err := f.moodleRepo.GetByID(context.Background(), "moodle-1")
	require.NoError(t, err)
	require.Equal(t, "http://moodle.example.com/service", *moodle.LisOutcomeServiceURL)
}

func TestHandleLaunchMissingFields(t *testing.T) {
	f := newLTIFixture()

	params := launchParams("student-1", "Learner")
	params.ResourceLinkID = ""
	_, err := f.svc.HandleLaunch(context.Background(), params)
	require.ErrorIs(t, err, ErrMissingLaunchField)

	params = launchParams("student-1", "Learner")
	params.UserID = ""
	_, err = f.svc.HandleLaunch(context.Background(), params)
	require.ErrorIs(t, err, ErrMissingLaunchField)
}

func TestHandleLaunchSecondTeacherLaunchKeepsActivity(t *testing.T) {
	f := newLTIFixture()

	_, err := f.svc.HandleLaunch(context.Background(), launchParams("teacher-1", "Instructor"))
	require.NoError(t, err)

	activity, err := f.activityRepo.GetByKey(context.Background(), "act-1", "moodle-1")
	require.NoError(t, err)
	activity.Title = "Configured title"
	activity.ActivityType = models.ActivityTypeGroup
	require.NoError(t, f.activityRepo.Update(context.Background(), &activity))

	_, err = f.svc.HandleLaunch(context.Background(), launchParams("teacher-1", "Instructor"))
	require.NoError(t, err)

	activity, err = f.activityRepo.GetByKey(context.Background(), "act-1", "moodle-1")
	require.NoError(t, err)
	require.Equal(t, "Configured title", activity.Title)
	require.Equal(t, models.ActivityTypeGroup, activity.ActivityType)
}
