package handler

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/lamba-project/lamba-api/internal/dto"
	"github.com/lamba-project/lamba-api/internal/service"
	"github.com/lamba-project/lamba-api/internal/utils"
)

// ActivityHandler manages activity configuration endpoints.
type ActivityHandler struct {
	service service.ActivityService
	logger  zerolog.Logger
}

func NewActivityHandler(activityService service.ActivityService, logger zerolog.Logger) *ActivityHandler {
	return &ActivityHandler{
		service: activityService,
		logger:  logger.With().Str("component", "activity_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *ActivityHandler) Register(router fiber.Router) {
	router.Get("/current", h.getCurrent)
	router.Put("/current", h.configure)
	router.Patch("/current", h.update)
	router.Get("", h.listByCourse)
}

// getCurrent returns the activity bound to the launch's resource link.
func (h *ActivityHandler) getCurrent(c *fiber.Ctx) error {
	sess, ok := sessionFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "missing LTI session")
	}

	activity, err := h.service.Get(c.Context(), activityKeyFromSession(sess))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "activity retrieved", dto.NewActivityResponse(activity, time.Now()))
}

func (h *ActivityHandler) configure(c *fiber.Ctx) error {
	sess, ok := sessionFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "missing LTI session")
	}

	var payload dto.CreateActivityRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	activity, err := h.service.Configure(c.Context(), actorFromSession(sess), activityKeyFromSession(sess), sess.CourseID, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "activity configured", dto.NewActivityResponse(activity, time.Now()))
}

func (h *ActivityHandler) update(c *fiber.Ctx) error {
	sess, ok := sessionFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "missing LTI session")
	}

	var payload dto.UpdateActivityRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	activity, err := h.service.Update(c.Context(), actorFromSession(sess), activityKeyFromSession(sess), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "activity updated", dto.NewActivityResponse(activity, time.Now()))
}

func (h *ActivityHandler) listByCourse(c *fiber.Ctx) error {
	sess, ok := sessionFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "missing LTI session")
	}

	activities, err := h.service.ListByCourse(c.Context(), sess.CourseID, sess.CourseMoodleID)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "activities retrieved", dto.NewActivityListResponse(activities, time.Now()))
}

func (h *ActivityHandler) handleError(c *fiber.Ctx, err error) error {
	var validationErrors validator.ValidationErrors
	switch {
	case errors.Is(err, service.ErrActivityNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "activity not found")
	case errors.Is(err, service.ErrNotTeacher):
		return utils.SendError(c, fiber.StatusForbidden, "only teachers may do this")
	case errors.Is(err, service.ErrGroupSizeRequired),
		errors.Is(err, service.ErrGroupSizeForbidden),
		errors.Is(err, service.ErrDeadlineInPast),
		errors.Is(err, service.ErrEvaluatorUnknown):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.As(err, &validationErrors):
		return utils.SendError(c, fiber.StatusBadRequest, validationErrors.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
