package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/lamba-project/lamba-api/internal/middleware"
	"github.com/lamba-project/lamba-api/internal/service"
	"github.com/lamba-project/lamba-api/internal/session"
)

func sessionFromContext(c *fiber.Ctx) (session.Session, bool) {
	return middleware.GetSession(c)
}

func actorFromSession(sess session.Session) service.Actor {
	return service.Actor{
		UserID:   sess.UserID,
		MoodleID: sess.UserMoodleID,
		Role:     sess.Role,
	}
}

func activityKeyFromSession(sess session.Session) service.ActivityKey {
	return service.ActivityKey{
		ID:             sess.ActivityID,
		CourseMoodleID: sess.CourseMoodleID,
	}
}

func studentFromSession(sess session.Session) service.StudentContext {
	return service.StudentContext{
		Actor:              actorFromSession(sess),
		LisResultSourcedID: sess.LisResultSourcedID,
	}
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}
