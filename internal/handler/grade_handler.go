package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/lamba-project/lamba-api/internal/dto"
	"github.com/lamba-project/lamba-api/internal/observability"
	"github.com/lamba-project/lamba-api/internal/service"
	"github.com/lamba-project/lamba-api/internal/utils"
	"github.com/lamba-project/lamba-api/pkg/outcomes"
)

// GradeHandler manages manual grading and grade passback endpoints.
type GradeHandler struct {
	grades service.GradeService
	sync   service.GradeSyncService
	logger zerolog.Logger
}

func NewGradeHandler(grades service.GradeService, syncService service.GradeSyncService, logger zerolog.Logger) *GradeHandler {
	return &GradeHandler{
		grades: grades,
		sync:   syncService,
		logger: logger.With().Str("component", "grade_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *GradeHandler) Register(router fiber.Router) {
	router.Get("/:submissionId", h.get)
	router.Put("/:submissionId", h.upsert)
	router.Post("/send-to-moodle", h.sendToMoodle)
}

func (h *GradeHandler) get(c *fiber.Ctx) error {
	sess, ok := sessionFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "missing LTI session")
	}

	grade, err := h.grades.GetForSubmission(c.Context(), activityKeyFromSession(sess), c.Params("submissionId"))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "grade retrieved", dto.NewGradeResponse(grade))
}

func (h *GradeHandler) upsert(c *fiber.Ctx) error {
	sess, ok := sessionFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "missing LTI session")
	}

	var payload dto.UpsertGradeRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	grade, err := h.grades.Upsert(c.Context(), actorFromSession(sess), activityKeyFromSession(sess), c.Params("submissionId"), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "grade saved", dto.NewGradeResponse(grade))
}

func (h *GradeHandler) sendToMoodle(c *fiber.Ctx) error {
	sess, ok := sessionFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "missing LTI session")
	}

	result, err := h.sync.SendActivityGrades(c.Context(), actorFromSession(sess), activityKeyFromSession(sess))
	if err != nil {
		return h.handleError(c, err)
	}

	observability.GradePassbacks().WithLabelValues("sent").Add(float64(len(result.Sent)))
	observability.GradePassbacks().WithLabelValues("failed").Add(float64(len(result.Failed)))

	return utils.SendSuccess(c, "grades sent to moodle", result)
}

func (h *GradeHandler) handleError(c *fiber.Ctx, err error) error {
	var validationErrors validator.ValidationErrors
	switch {
	case errors.Is(err, service.ErrNoSubmission):
		return utils.SendError(c, fiber.StatusNotFound, "submission not found")
	case errors.Is(err, service.ErrGradeNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "grade not found")
	case errors.Is(err, service.ErrNotTeacher):
		return utils.SendError(c, fiber.StatusForbidden, "only teachers may do this")
	case errors.Is(err, service.ErrNoOutcomeService):
		return utils.SendError(c, fiber.StatusBadRequest, "moodle instance has no outcome service url")
	case errors.Is(err, service.ErrNoGradedSubmissions):
		return utils.SendError(c, fiber.StatusBadRequest, "no graded submissions to send")
	case errors.Is(err, outcomes.ErrInvalidSignature):
		return utils.SendError(c, fiber.StatusBadGateway, "moodle rejected the outcome signature")
	case errors.As(err, &validationErrors):
		return utils.SendError(c, fiber.StatusBadRequest, validationErrors.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
