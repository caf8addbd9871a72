package handler

import (
	"crypto/hmac"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/lamba-project/lamba-api/internal/config"
	"github.com/lamba-project/lamba-api/internal/dto"
	"github.com/lamba-project/lamba-api/internal/middleware"
	"github.com/lamba-project/lamba-api/internal/service"
	"github.com/lamba-project/lamba-api/internal/session"
	"github.com/lamba-project/lamba-api/internal/utils"
	"github.com/lamba-project/lamba-api/pkg/outcomes"
)

// LTIHandler manages the launch endpoint and session introspection.
type LTIHandler struct {
	service  service.LTIService
	sessions session.Store
	cfg      config.Config
	logger   zerolog.Logger
}

func NewLTIHandler(ltiService service.LTIService, sessions session.Store, cfg config.Config, logger zerolog.Logger) *LTIHandler {
	return &LTIHandler{
		service:  ltiService,
		sessions: sessions,
		cfg:      cfg,
		logger:   logger.With().Str("component", "lti_handler").Logger(),
	}
}

// RegisterPublic attaches the launch route, which carries its own OAuth
// verification instead of the session middleware.
func (h *LTIHandler) RegisterPublic(router fiber.Router) {
	router.Post("/launch", h.launch)
}

// Register attaches the session-protected routes.
func (h *LTIHandler) Register(router fiber.Router) {
	router.Get("/data", h.data)
	router.Post("/debug-mode", h.debugMode)
}

func (h *LTIHandler) launch(c *fiber.Ctx) error {
	if err := h.verifySignature(c); err != nil {
		requestLogger(h.logger, c).Warn().Err(err).Msg("launch rejected")
		return utils.SendError(c, fiber.StatusUnauthorized, "invalid launch signature")
	}

	params := dto.LaunchParams{
		ResourceLinkID:           c.FormValue("resource_link_id"),
		ToolConsumerInstanceGUID: c.FormValue("tool_consumer_instance_guid"),
		ToolConsumerInstanceName: c.FormValue("tool_consumer_instance_name"),
		ContextID:                c.FormValue("context_id"),
		ContextTitle:             c.FormValue("context_title"),
		UserID:                   c.FormValue("user_id"),
		Roles:                    c.FormValue("roles"),
		LisPersonNameFull:        c.FormValue("lis_person_name_full"),
		LisPersonContactEmail:    c.FormValue("lis_person_contact_email_primary"),
		LisResultSourcedID:       c.FormValue("lis_result_sourcedid"),
		LisOutcomeServiceURL:     c.FormValue("lis_outcome_service_url"),
		ResourceLinkTitle:        c.FormValue("resource_link_title"),
	}

	sess, err := h.service.HandleLaunch(c.Context(), params)
	if err != nil {
		if errors.Is(err, service.ErrMissingLaunchField) {
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}
		requestLogger(h.logger, c).Error().Err(err).Msg("launch failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}

	c.Cookie(&fiber.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sess.ID,
		Path:     "/",
		HTTPOnly: true,
		Secure:   h.cfg.HTTPSEnabled,
		SameSite: fiber.CookieSameSiteNoneMode,
		Expires:  time.Now().Add(h.cfg.SessionTTL),
	})

	// The session id also travels in the redirect for browsers that drop
	// third-party cookies inside the Moodle iframe.
	target := fmt.Sprintf("%s?session_id=%s", h.cfg.FrontendURL, url.QueryEscape(sess.ID))
	return c.Redirect(target, fiber.StatusFound)
}

// verifySignature checks the OAuth 1.0a signature Moodle put on the launch
// POST. Skipped when no consumer secret is configured, which only happens in
// development setups.
func (h *LTIHandler) verifySignature(c *fiber.Ctx) error {
	if h.cfg.OAuthConsumerSecret == "" {
		return nil
	}

	form, err := url.ParseQuery(string(c.Body()))
	if err != nil {
		return fmt.Errorf("parse launch form: %w", err)
	}

	if key := form.Get("oauth_consumer_key"); key != h.cfg.OAuthConsumerKey {
		return fmt.Errorf("unknown consumer key %q", key)
	}

	provided := form.Get("oauth_signature")
	if provided == "" {
		return fmt.Errorf("launch carries no oauth_signature")
	}

	params := make(map[string]string, len(form))
	for key := range form {
		if key == "oauth_signature" {
			continue
		}
		params[key] = form.Get(key)
	}

	launchURL := c.BaseURL() + c.Path()
	base, err := outcomes.SignatureBaseString(c.Method(), launchURL, params)
	if err != nil {
		return err
	}

	expected := outcomes.Sign(base, h.cfg.OAuthConsumerSecret)
	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return fmt.Errorf("signature mismatch")
	}

	return nil
}

func (h *LTIHandler) data(c *fiber.Ctx) error {
	sess, ok := sessionFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "missing LTI session")
	}

	return utils.SendSuccess(c, "session retrieved", dto.LTIContextResponse{
		SessionID:   sess.ID,
		UserID:      sess.UserID,
		FullName:    sess.FullName,
		Role:        sess.Role,
		CourseID:    sess.CourseID,
		CourseTitle: sess.CourseTitle,
		ActivityID:  sess.ActivityID,
		MoodleID:    sess.MoodleID,
		MoodleName:  sess.MoodleName,
		HasPassback: sess.LisResultSourcedID != "",
		Debug:       sess.Debug,
	})
}

// debugMode toggles verbose frontend diagnostics on the session. Teachers only.
func (h *LTIHandler) debugMode(c *fiber.Ctx) error {
	sess, ok := sessionFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "missing LTI session")
	}
	if !actorFromSession(sess).IsTeacher() {
		return utils.SendError(c, fiber.StatusForbidden, "only teachers may toggle debug mode")
	}

	var payload struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	sess.Debug = payload.Enabled
	if err := h.sessions.Update(c.Context(), sess); err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("debug mode update failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}

	return utils.SendSuccess(c, "debug mode updated", fiber.Map{"enabled": sess.Debug})
}
