package handler

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/lamba-project/lamba-api/internal/dto"
	"github.com/lamba-project/lamba-api/internal/models"
	"github.com/lamba-project/lamba-api/internal/observability"
	"github.com/lamba-project/lamba-api/internal/service"
	"github.com/lamba-project/lamba-api/internal/utils"
)

// SubmissionHandler manages submission upload and group endpoints.
type SubmissionHandler struct {
	service           service.SubmissionService
	validator         *validator.Validate
	evaluationTimeout time.Duration
	logger            zerolog.Logger
}

func NewSubmissionHandler(submissionService service.SubmissionService, validate *validator.Validate, evaluationTimeout time.Duration, logger zerolog.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		service:           submissionService,
		validator:         validate,
		evaluationTimeout: evaluationTimeout,
		logger:            logger.With().Str("component", "submission_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *SubmissionHandler) Register(router fiber.Router) {
	router.Post("", h.submit)
	router.Post("/join", h.joinGroup)
	router.Get("/mine", h.mine)
	router.Get("", h.list)
	router.Get("/:id/members", h.members)
	router.Get("/:id/file", h.download)
}

func (h *SubmissionHandler) submit(c *fiber.Ctx) error {
	sess, ok := sessionFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "missing LTI session")
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "file is required")
	}

	opened, err := fileHeader.Open()
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "file could not be read")
	}
	defer opened.Close()

	view, err := h.service.Submit(c.Context(), studentFromSession(sess), activityKeyFromSession(sess),
		service.FileUpload{Name: fileHeader.Filename, Content: opened})
	if err != nil {
		return h.handleError(c, err)
	}

	activityType := models.ActivityTypeIndividual
	if view.File.IsGroupSubmission() {
		activityType = models.ActivityTypeGroup
	}
	observability.Submissions().WithLabelValues(activityType).Inc()

	response := dto.NewSubmissionResponse(view.File, view.Student, sess.UserID, time.Now(), h.evaluationTimeout)
	h.attachGroupCodeUses(c, activityKeyFromSession(sess), &response, view.File)
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "submission stored", response)
}

// attachGroupCodeUses reports how many classmates joined through the leader's
// code. Only the owner sees it.
func (h *SubmissionHandler) attachGroupCodeUses(c *fiber.Ctx, key service.ActivityKey, response *dto.SubmissionResponse, file models.FileSubmission) {
	if !file.IsGroupSubmission() || !response.IsOwner {
		return
	}
	members, err := h.service.GetGroupMembers(c.Context(), key, file.ID)
	if err != nil {
		return
	}
	uses := len(members) - 1
	response.GroupCodeUses = &uses
}

func (h *SubmissionHandler) joinGroup(c *fiber.Ctx) error {
	sess, ok := sessionFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "missing LTI session")
	}

	var payload dto.JoinGroupRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return h.handleError(c, err)
	}

	view, err := h.service.JoinGroup(c.Context(), studentFromSession(sess), activityKeyFromSession(sess), payload.GroupCode)
	if err != nil {
		return h.handleError(c, err)
	}

	response := dto.NewSubmissionResponse(view.File, view.Student, sess.UserID, time.Now(), h.evaluationTimeout)
	return utils.SendSuccess(c, "joined group", response)
}

func (h *SubmissionHandler) mine(c *fiber.Ctx) error {
	sess, ok := sessionFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "missing LTI session")
	}

	view, err := h.service.GetStudentSubmission(c.Context(), studentFromSession(sess), activityKeyFromSession(sess))
	if err != nil {
		return h.handleError(c, err)
	}

	response := dto.NewSubmissionResponse(view.File, view.Student, sess.UserID, time.Now(), h.evaluationTimeout)
	if view.File.IsGroupSubmission() {
		members, err := h.service.GetGroupMembers(c.Context(), activityKeyFromSession(sess), view.File.ID)
		if err == nil {
			for _, member := range members {
				response.Members = append(response.Members, dto.GroupMemberResponse{
					StudentID: member.StudentID,
					IsLeader:  member.StudentID == view.File.UploadedBy,
					JoinedAt:  member.JoinedAt,
				})
			}
			if response.IsOwner {
				uses := len(members) - 1
				response.GroupCodeUses = &uses
			}
		}
	}

	return utils.SendSuccess(c, "submission retrieved", response)
}

func (h *SubmissionHandler) list(c *fiber.Ctx) error {
	sess, ok := sessionFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "missing LTI session")
	}

	files, err := h.service.ListByActivity(c.Context(), actorFromSession(sess), activityKeyFromSession(sess))
	if err != nil {
		return h.handleError(c, err)
	}

	now := time.Now()
	responses := make([]dto.SubmissionResponse, 0, len(files))
	for _, file := range files {
		response := dto.NewSubmissionResponse(file, models.StudentSubmission{}, sess.UserID, now, h.evaluationTimeout)
		if file.IsGroupSubmission() {
			// Teachers see the join code and the roster for each group.
			response.GroupCode = file.GroupCode
			members, err := h.service.GetGroupMembers(c.Context(), activityKeyFromSession(sess), file.ID)
			if err == nil {
				for _, member := range members {
					response.Members = append(response.Members, dto.GroupMemberResponse{
						StudentID: member.StudentID,
						IsLeader:  member.StudentID == file.UploadedBy,
						JoinedAt:  member.JoinedAt,
					})
				}
			}
		}
		responses = append(responses, response)
	}

	return utils.SendSuccess(c, "submissions retrieved", responses)
}

func (h *SubmissionHandler) members(c *fiber.Ctx) error {
	sess, ok := sessionFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "missing LTI session")
	}

	members, err := h.service.GetGroupMembers(c.Context(), activityKeyFromSession(sess), c.Params("id"))
	if err != nil {
		return h.handleError(c, err)
	}

	responses := make([]dto.GroupMemberResponse, 0, len(members))
	for _, member := range members {
		responses = append(responses, dto.GroupMemberResponse{
			StudentID: member.StudentID,
			JoinedAt:  member.JoinedAt,
		})
	}

	return utils.SendSuccess(c, "members retrieved", responses)
}

func (h *SubmissionHandler) download(c *fiber.Ctx) error {
	sess, ok := sessionFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "missing LTI session")
	}

	rc, file, err := h.service.OpenFile(c.Context(), actorFromSession(sess), activityKeyFromSession(sess), c.Params("id"))
	if err != nil {
		return h.handleError(c, err)
	}

	c.Set(fiber.HeaderContentType, file.FileType)
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+file.FileName+`"`)
	return c.SendStream(rc)
}

func (h *SubmissionHandler) handleError(c *fiber.Ctx, err error) error {
	var validationErrors validator.ValidationErrors
	switch {
	case errors.Is(err, service.ErrActivityNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "activity not found")
	case errors.Is(err, service.ErrNoSubmission):
		return utils.SendError(c, fiber.StatusNotFound, "submission not found")
	case errors.Is(err, service.ErrGroupNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "group not found")
	case errors.Is(err, service.ErrAlreadyMember):
		return utils.SendError(c, fiber.StatusConflict, "already a member of this group")
	case errors.Is(err, service.ErrAlreadySubmitted):
		return utils.SendError(c, fiber.StatusConflict, "student already has a submission for this activity")
	case errors.Is(err, service.ErrGroupFull):
		return utils.SendError(c, fiber.StatusConflict, "group is already full")
	case errors.Is(err, service.ErrNotTeacher):
		return utils.SendError(c, fiber.StatusForbidden, "only teachers may do this")
	case errors.Is(err, service.ErrNotStudent):
		return utils.SendError(c, fiber.StatusForbidden, "only students may submit")
	case errors.Is(err, service.ErrDeadlinePassed):
		return utils.SendError(c, fiber.StatusUnprocessableEntity, "activity deadline has passed")
	case errors.Is(err, service.ErrNotGroupActivity),
		errors.Is(err, service.ErrUnsupportedFile),
		errors.Is(err, service.ErrFileTooLarge):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.As(err, &validationErrors):
		return utils.SendError(c, fiber.StatusBadRequest, validationErrors.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
