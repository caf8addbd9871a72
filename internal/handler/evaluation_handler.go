package handler

import (
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/lamba-project/lamba-api/internal/dto"
	"github.com/lamba-project/lamba-api/internal/observability"
	"github.com/lamba-project/lamba-api/internal/service"
	"github.com/lamba-project/lamba-api/internal/utils"
	"github.com/lamba-project/lamba-api/pkg/grader"
)

// EvaluationHandler manages AI evaluation endpoints.
type EvaluationHandler struct {
	service           service.EvaluationService
	evaluationTimeout time.Duration
	logger            zerolog.Logger
}

func NewEvaluationHandler(evaluationService service.EvaluationService, evaluationTimeout time.Duration, logger zerolog.Logger) *EvaluationHandler {
	return &EvaluationHandler{
		service:           evaluationService,
		evaluationTimeout: evaluationTimeout,
		logger:            logger.With().Str("component", "evaluation_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *EvaluationHandler) Register(router fiber.Router) {
	router.Get("/status", h.status)
	router.Post("/start", h.start)
	router.Post("/reset-stuck", h.resetStuck)
	router.Post("/clear", h.clear)
}

func (h *EvaluationHandler) status(c *fiber.Ctx) error {
	sess, ok := sessionFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "missing LTI session")
	}

	items, err := h.service.Status(c.Context(), actorFromSession(sess), activityKeyFromSession(sess))
	if err != nil {
		return h.handleError(c, err)
	}

	now := time.Now()
	responses := make([]dto.EvaluationStatusResponse, 0, len(items))
	for _, item := range items {
		responses = append(responses, dto.NewEvaluationStatusResponse(item.File, item.Grade, now, h.evaluationTimeout))
	}

	return utils.SendSuccess(c, "evaluation status retrieved", responses)
}

func (h *EvaluationHandler) start(c *fiber.Ctx) error {
	sess, ok := sessionFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "missing LTI session")
	}

	var payload dto.StartEvaluationRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	key := activityKeyFromSession(sess)
	queued, err := h.service.Start(c.Context(), actorFromSession(sess), key, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	var batch dto.EvaluationBatchResponse
	if len(queued.Queued) > 0 {
		batch, err = h.service.ProcessBatch(c.Context(), key, queued.Queued)
		if err != nil {
			return h.handleError(c, err)
		}
	}

	observability.Evaluations().WithLabelValues("completed").Add(float64(batch.Evaluated))
	observability.Evaluations().WithLabelValues("failed").Add(float64(len(batch.Failed)))
	observability.Evaluations().WithLabelValues("skipped").Add(float64(len(queued.Skipped) + len(queued.AlreadyProcessing)))

	return utils.SendSuccess(c, "evaluation finished", dto.EvaluationRunResponse{
		StartEvaluationResponse: queued,
		EvaluationBatchResponse: batch,
	})
}

func (h *EvaluationHandler) resetStuck(c *fiber.Ctx) error {
	sess, ok := sessionFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "missing LTI session")
	}

	count, err := h.service.ResetStuck(c.Context(), actorFromSession(sess), activityKeyFromSession(sess))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, strconv.FormatInt(count, 10)+" evaluations reset", fiber.Map{"reset": count})
}

func (h *EvaluationHandler) clear(c *fiber.Ctx) error {
	sess, ok := sessionFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "missing LTI session")
	}

	var payload dto.ClearEvaluationRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	count, err := h.service.ClearStatus(c.Context(), actorFromSession(sess), activityKeyFromSession(sess), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "evaluation status cleared", fiber.Map{"cleared": count})
}

func (h *EvaluationHandler) handleError(c *fiber.Ctx, err error) error {
	var validationErrors validator.ValidationErrors
	switch {
	case errors.Is(err, service.ErrActivityNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "activity not found")
	case errors.Is(err, service.ErrNotTeacher):
		return utils.SendError(c, fiber.StatusForbidden, "only teachers may do this")
	case errors.Is(err, service.ErrNoEvaluator):
		return utils.SendError(c, fiber.StatusBadRequest, "activity has no evaluator assigned")
	case errors.Is(err, service.ErrNothingToProcess):
		return utils.SendError(c, fiber.StatusBadRequest, "no submissions matched the request")
	case errors.Is(err, grader.ErrUnauthorized):
		return utils.SendError(c, fiber.StatusBadGateway, "grader rejected credentials")
	case errors.Is(err, grader.ErrUnavailable):
		return utils.SendError(c, fiber.StatusBadGateway, "grader unavailable")
	case errors.As(err, &validationErrors):
		return utils.SendError(c, fiber.StatusBadRequest, validationErrors.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
