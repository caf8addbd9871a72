package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/lamba-project/lamba-api/internal/session"
	"github.com/lamba-project/lamba-api/internal/utils"
)

// SessionCookieName is the cookie set by the LTI launch.
const SessionCookieName = "lti_session"

const sessionLocalsKey = "lti_session_data"

// LTISession resolves the launch session for API calls. The session id is
// taken from the cookie first, then the X-LTI-Session header, then the
// session_id query parameter; the fallbacks cover embedded iframes where
// third-party cookies are blocked.
func LTISession(store session.Store, logger zerolog.Logger) fiber.Handler {
	sessionLogger := logger.With().Str("component", "lti_session_middleware").Logger()

	return func(c *fiber.Ctx) error {
		sessionID := strings.TrimSpace(c.Cookies(SessionCookieName))
		if sessionID == "" {
			sessionID = strings.TrimSpace(c.Get("X-LTI-Session"))
		}
		if sessionID == "" {
			sessionID = strings.TrimSpace(c.Query("session_id"))
		}
		if sessionID == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "missing LTI session")
		}

		sess, err := store.Get(c.Context(), sessionID)
		if err != nil {
			switch {
			case errors.Is(err, session.ErrNoSession):
				return utils.SendError(c, fiber.StatusUnauthorized, "unknown LTI session")
			case errors.Is(err, session.ErrSessionExpired):
				return utils.SendError(c, fiber.StatusUnauthorized, "LTI session expired, relaunch from Moodle")
			default:
				sessionLogger.Error().Err(err).Msg("session lookup failed")
				return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
			}
		}

		c.Locals(sessionLocalsKey, sess)
		return c.Next()
	}
}

// GetSession returns the launch session bound to the request, if any.
func GetSession(c *fiber.Ctx) (session.Session, bool) {
	if v := c.Locals(sessionLocalsKey); v != nil {
		if sess, ok := v.(session.Session); ok {
			return sess, true
		}
	}
	return session.Session{}, false
}

// SetSession binds a session to the request. Used by the launch handler and
// by tests.
func SetSession(c *fiber.Ctx, sess session.Session) {
	c.Locals(sessionLocalsKey, sess)
}
