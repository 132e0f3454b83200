package handler

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-exam-grader/internal/dto"
	"github.com/noah-isme/gema-exam-grader/internal/middleware"
	"github.com/noah-isme/gema-exam-grader/internal/rubric"
	"github.com/noah-isme/gema-exam-grader/internal/service"
	"github.com/noah-isme/gema-exam-grader/internal/utils"
)

const progressWriteTimeout = 10 * time.Second

// GradingHandlerConfig tunes the grading routes.
type GradingHandlerConfig struct {
	// GradeRateLimit caps grading requests per user per minute. Zero disables it.
	GradeRateLimit int
}

// GradingHandler exposes grading sessions, document grading and progress streaming.
type GradingHandler struct {
	service   service.GradingService
	progress  service.ProgressService
	validator *validator.Validate
	logger    zerolog.Logger
	cfg       GradingHandlerConfig
}

// NewGradingHandler builds a grading handler instance.
func NewGradingHandler(svc service.GradingService, progress service.ProgressService, validate *validator.Validate, logger zerolog.Logger, cfg GradingHandlerConfig) *GradingHandler {
	return &GradingHandler{
		service:   svc,
		progress:  progress,
		validator: validate,
		logger:    logger.With().Str("component", "grading_handler").Logger(),
		cfg:       cfg,
	}
}

// Register binds grading routes under the provided group. Segmentation
// previews are open to any authenticated user; sessions need a grader role.
func (h *GradingHandler) Register(router fiber.Router) {
	router.Post("/segment", middleware.WithAuth(h.segment, middleware.AuthOptions{Role: middleware.AuthRoleAny, RequireUser: true}))

	sessions := router.Group("/sessions", middleware.RequireRole(middleware.GraderRoles...))
	sessions.Post("", h.createSession)
	sessions.Get("/:id", h.getSession)
	sessions.Delete("/:id", h.deleteSession)

	grade := []fiber.Handler{}
	if h.cfg.GradeRateLimit > 0 {
		grade = append(grade, middleware.RateLimit("grading", h.cfg.GradeRateLimit, time.Minute))
	}
	sessions.Post("/:id/submissions/text", append(grade, h.gradeText)...)
	sessions.Post("/:id/submissions/file", append(grade, h.gradeFile)...)
	sessions.Post("/:id/submissions/archive", append(grade, h.gradeArchive)...)

	sessions.Get("/:id/students/:student", h.studentResult)
	sessions.Get("/:id/leaderboard", h.leaderboard)
	sessions.Get("/:id/analytics", h.analytics)

	if h.progress != nil {
		sessions.Get("/:id/progress/ws", h.upgradeProgress, websocket.New(h.streamProgress))
	}
}

func (h *GradingHandler) segment(c *fiber.Ctx) error {
	var payload dto.SegmentRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	response, err := h.service.Segment(c.UserContext(), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "document segmented", response)
}

func (h *GradingHandler) createSession(c *fiber.Ctx) error {
	var payload dto.CreateSessionRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	session, err := h.service.CreateSession(c.UserContext(), payload, userIDFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "grading session created", session)
}

func (h *GradingHandler) getSession(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	session, err := h.service.GetSession(c.UserContext(), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "grading session retrieved", session)
}

func (h *GradingHandler) deleteSession(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.service.DeleteSession(c.UserContext(), id); err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "grading session deleted", nil)
}

func (h *GradingHandler) gradeText(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.GradeTextRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.service.GradeText(c.UserContext(), id, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "document graded", result)
}

func (h *GradingHandler) gradeFile(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	file, err := c.FormFile("file")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "file is required")
	}

	result, err := h.service.GradeFile(c.UserContext(), id, c.FormValue("student_id"), file)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "document graded", result)
}

func (h *GradingHandler) gradeArchive(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	file, err := c.FormFile("file")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "file is required")
	}

	response, err := h.service.GradeArchive(c.UserContext(), id, file)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "archive graded", response)
}

func (h *GradingHandler) studentResult(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.service.GetStudentResult(c.UserContext(), id, c.Params("student"))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "student result retrieved", result)
}

func (h *GradingHandler) leaderboard(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	minPercentage, err := parseQueryFloat(c, "min_percentage")
	if err != nil || minPercentage < 0 || minPercentage > 100 {
		return utils.Fail(c, fiber.StatusBadRequest, "invalid min_percentage", fiber.Map{"min_percentage": "must be between 0 and 100"})
	}

	board, err := h.service.Leaderboard(c.UserContext(), id, minPercentage)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.OK(c, board, "leaderboard retrieved", fiber.Map{"count": len(board.Entries)})
}

func (h *GradingHandler) analytics(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	analytics, err := h.service.Analytics(c.UserContext(), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "class analytics retrieved", analytics)
}

func (h *GradingHandler) upgradeProgress(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	id, err := parseIDParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	if _, err := h.service.GetSession(c.UserContext(), id); err != nil {
		return h.handleError(c, err)
	}

	c.Locals("session_id", id)
	return c.Next()
}

func (h *GradingHandler) streamProgress(conn *websocket.Conn) {
	sessionID, _ := conn.Locals("session_id").(uint)
	logger := h.logger.With().Uint("session_id", sessionID).Logger()
	if correlation, ok := conn.Locals("correlation_id").(string); ok && correlation != "" {
		logger = logger.With().Str("correlation_id", correlation).Logger()
	}

	events, cancel := h.progress.Subscribe(sessionID)
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	logger.Info().Msg("progress websocket connected")
	defer logger.Info().Msg("progress websocket disconnected")

	hello := dto.ProgressEvent{Type: dto.ProgressEventSubscribed, SessionID: sessionID, Timestamp: time.Now().UTC()}
	if err := h.writeEvent(conn, hello); err != nil {
		return
	}

	for {
		select {
		case <-closed:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := h.writeEvent(conn, event); err != nil {
				logger.Debug().Err(err).Msg("progress websocket write failed")
				return
			}
		}
	}
}

func (h *GradingHandler) writeEvent(conn *websocket.Conn, event dto.ProgressEvent) error {
	if err := conn.SetWriteDeadline(time.Now().Add(progressWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(event)
}

func (h *GradingHandler) handleError(c *fiber.Ctx, err error) error {
	logger := middleware.RequestLogger(h.logger, c)

	switch {
	case isValidationError(err):
		return utils.Fail(c, fiber.StatusBadRequest, "validation failed", validationDetails(err))
	case errors.Is(err, rubric.ErrInvalidRubric):
		return utils.SendError(c, fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrSessionNotFound), errors.Is(err, service.ErrStudentResultNotFound):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrDocumentTooLarge):
		return utils.SendError(c, fiber.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, service.ErrUnsupportedDocument):
		return utils.SendError(c, fiber.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, service.ErrEmptyDocument):
		return utils.SendError(c, fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrInvalidArchive), errors.Is(err, service.ErrStudentIDRequired):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.Warn().Err(err).Msg("grading request cancelled")
		return utils.SendError(c, fiber.StatusServiceUnavailable, "grading request cancelled")
	default:
		logger.Error().Err(err).Msg("grading handler error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
