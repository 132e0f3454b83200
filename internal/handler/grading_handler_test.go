package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-exam-grader/internal/config"
	"github.com/noah-isme/gema-exam-grader/internal/database"
	"github.com/noah-isme/gema-exam-grader/internal/dto"
	"github.com/noah-isme/gema-exam-grader/internal/grading"
	"github.com/noah-isme/gema-exam-grader/internal/handler"
	"github.com/noah-isme/gema-exam-grader/internal/middleware"
	"github.com/noah-isme/gema-exam-grader/internal/repository"
	"github.com/noah-isme/gema-exam-grader/internal/router"
	"github.com/noah-isme/gema-exam-grader/internal/service"
	"github.com/noah-isme/gema-exam-grader/pkg/ai"
)

const testSecret = "grading-secret"

const (
	aliceDocument = "Q1: What is force?\nA1: correct, a push or pull\nQ2: What is mass?\nA2: correct, amount of matter\n"
	bobDocument   = "Q1: What is force?\nA1: no idea\nQ2: What is mass?\nA2: correct, amount of matter\n"
)

type keywordJudge struct{}

func (keywordJudge) Judge(_ context.Context, req ai.JudgeRequest) (string, error) {
	if strings.Contains(req.Answer, "correct") {
		return `{"score": 4, "feedback": "Well done", "concepts": ["newton"]}`, nil
	}
	return `{"score": 1, "feedback": "Needs work", "concepts": ["units"]}`, nil
}

type gradingApp struct {
	app      *fiber.App
	db       *gorm.DB
	redis    *miniredis.Miniredis
	progress service.ProgressService
	teacher  string
	student  string
}

func setupGradingApp(t *testing.T, rateLimit int) gradingApp {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+strings.ReplaceAll(t.Name(), "/", "_")+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := zerolog.New(io.Discard)
	validate := validator.New(validator.WithRequiredStructEnabled())

	progress := service.NewProgressService(nil, nil, "", logger)
	evaluator := grading.NewEvaluator(keywordJudge{}, nil, logger, grading.EvaluatorConfig{JudgeTimeout: time.Second})
	gradingService := service.NewGradingService(
		repository.NewGradingRepository(db),
		evaluator,
		progress,
		nil,
		client,
		validate,
		logger,
		service.GradingServiceConfig{Workers: 2, MaxUploadBytes: 64 * 1024, CacheTTL: time.Minute},
	)
	gradingHandler := handler.NewGradingHandler(gradingService, progress, validate, logger, handler.GradingHandlerConfig{GradeRateLimit: rateLimit})

	app := fiber.New()
	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, config.Config{AppName: "Test", JWTSecret: testSecret, AIProvider: "openai"}, router.Dependencies{
		GradingHandler: gradingHandler,
		JWTMiddleware:  middleware.JWTProtected(testSecret),
	})

	teacher, err := middleware.IssueToken(testSecret, 1, "teacher", time.Hour)
	require.NoError(t, err)
	student, err := middleware.IssueToken(testSecret, 2, "student", time.Hour)
	require.NoError(t, err)

	return gradingApp{app: app, db: db, redis: server, progress: progress, teacher: teacher, student: student}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Meta    json.RawMessage `json:"meta"`
	Details json.RawMessage `json:"details"`
}

func (g gradingApp) do(t *testing.T, method, path, token string, body io.Reader, contentType string) (int, envelope) {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return resp.StatusCode, payload
}

func (g gradingApp) doJSON(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	return g.do(t, method, path, token, reader, fiber.MIMEApplicationJSON)
}

func (g gradingApp) createSession(t *testing.T) dto.SessionResponse {
	t.Helper()

	status, payload := g.doJSON(t, http.MethodPost, "/api/v2/grading/sessions", g.teacher, dto.CreateSessionRequest{
		Title: "Physics quiz",
		Criteria: []dto.CriterionPointsRequest{
			{Name: "Correctness", Points: 3},
			{Name: "Clarity", Points: 2},
		},
	})
	require.Equal(t, http.StatusCreated, status, payload.Message)

	var session dto.SessionResponse
	require.NoError(t, json.Unmarshal(payload.Data, &session))
	return session
}

func sessionPath(id uint, suffix string) string {
	return "/api/v2/grading/sessions/" + strconv.FormatUint(uint64(id), 10) + suffix
}

func multipartBody(t *testing.T, fields map[string]string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestGradingEndpointsRequireAuthentication(t *testing.T) {
	g := setupGradingApp(t, 0)

	status, _ := g.doJSON(t, http.MethodPost, "/api/v2/grading/segment", "", dto.SegmentRequest{Text: aliceDocument})
	require.Equal(t, http.StatusUnauthorized, status)

	status, _ = g.doJSON(t, http.MethodPost, "/api/v2/grading/segment", "not-a-token", dto.SegmentRequest{Text: aliceDocument})
	require.Equal(t, http.StatusUnauthorized, status)
}

func TestSegmentEndpointOpenToStudents(t *testing.T) {
	g := setupGradingApp(t, 0)

	status, payload := g.doJSON(t, http.MethodPost, "/api/v2/grading/segment", g.student, dto.SegmentRequest{Text: aliceDocument})
	require.Equal(t, http.StatusOK, status)

	var segmented dto.SegmentResponse
	require.NoError(t, json.Unmarshal(payload.Data, &segmented))
	require.Equal(t, 2, segmented.Count)
	require.Equal(t, "What is force?", segmented.Pairs[0].Question)

	status, payload = g.doJSON(t, http.MethodPost, "/api/v2/grading/segment", g.student, dto.SegmentRequest{})
	require.Equal(t, http.StatusBadRequest, status)
	require.Contains(t, string(payload.Details), "Text")
}

func TestSessionRoutesRejectStudents(t *testing.T) {
	g := setupGradingApp(t, 0)

	status, payload := g.doJSON(t, http.MethodPost, "/api/v2/grading/sessions", g.student, dto.CreateSessionRequest{
		Title:    "Quiz",
		Criteria: []dto.CriterionPointsRequest{{Name: "Correctness", Points: 1}},
	})
	require.Equal(t, http.StatusForbidden, status)
	require.Contains(t, string(payload.Details), "teacher")
}

func TestCreateSessionValidation(t *testing.T) {
	g := setupGradingApp(t, 0)

	status, _ := g.doJSON(t, http.MethodPost, "/api/v2/grading/sessions", g.teacher, dto.CreateSessionRequest{Title: "Quiz"})
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = g.doJSON(t, http.MethodPost, "/api/v2/grading/sessions", g.teacher, dto.CreateSessionRequest{
		Title:    "Quiz",
		Criteria: []dto.CriterionPointsRequest{{Name: "Style", Points: 0}},
	})
	require.Equal(t, http.StatusUnprocessableEntity, status)

	status, _ = g.do(t, http.MethodPost, "/api/v2/grading/sessions", g.teacher, strings.NewReader("{"), fiber.MIMEApplicationJSON)
	require.Equal(t, http.StatusBadRequest, status)
}

func TestGradingSessionLifecycle(t *testing.T) {
	g := setupGradingApp(t, 0)
	session := g.createSession(t)
	require.Equal(t, 5.0, session.MaxScore)

	status, payload := g.doJSON(t, http.MethodPost, sessionPath(session.ID, "/submissions/text"), g.teacher, dto.GradeTextRequest{StudentID: "alice", Text: aliceDocument})
	require.Equal(t, http.StatusOK, status, payload.Message)

	var alice dto.StudentResultResponse
	require.NoError(t, json.Unmarshal(payload.Data, &alice))
	require.Equal(t, 8.0, alice.TotalScore)
	require.Equal(t, 80.0, alice.Percentage)

	body, contentType := multipartBody(t, map[string]string{"student_id": "bob"}, "bob.txt", []byte(bobDocument))
	status, payload = g.do(t, http.MethodPost, sessionPath(session.ID, "/submissions/file"), g.teacher, body, contentType)
	require.Equal(t, http.StatusOK, status, payload.Message)

	status, payload = g.doJSON(t, http.MethodGet, sessionPath(session.ID, "/students/bob"), g.teacher, nil)
	require.Equal(t, http.StatusOK, status)
	var bob dto.StudentResultResponse
	require.NoError(t, json.Unmarshal(payload.Data, &bob))
	require.Equal(t, 50.0, bob.Percentage)
	require.Len(t, bob.Results, 2)

	status, payload = g.doJSON(t, http.MethodGet, sessionPath(session.ID, "/leaderboard?min_percentage=60"), g.teacher, nil)
	require.Equal(t, http.StatusOK, status)
	var board dto.LeaderboardResponse
	require.NoError(t, json.Unmarshal(payload.Data, &board))
	require.Len(t, board.Entries, 1)
	require.Equal(t, "alice", board.Entries[0].StudentID)
	require.JSONEq(t, `{"count":1}`, string(payload.Meta))

	status, _ = g.doJSON(t, http.MethodGet, sessionPath(session.ID, "/leaderboard?min_percentage=150"), g.teacher, nil)
	require.Equal(t, http.StatusBadRequest, status)

	status, payload = g.doJSON(t, http.MethodGet, sessionPath(session.ID, "/analytics"), g.teacher, nil)
	require.Equal(t, http.StatusOK, status)
	var analytics grading.ClassAnalytics
	require.NoError(t, json.Unmarshal(payload.Data, &analytics))
	require.Equal(t, 2, analytics.Students)
	require.Equal(t, 65.0, analytics.AveragePercentage)

	status, _ = g.doJSON(t, http.MethodDelete, sessionPath(session.ID, ""), g.teacher, nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = g.doJSON(t, http.MethodGet, sessionPath(session.ID, ""), g.teacher, nil)
	require.Equal(t, http.StatusNotFound, status)
}

func TestGradeFileErrorMapping(t *testing.T) {
	g := setupGradingApp(t, 0)
	session := g.createSession(t)

	body, contentType := multipartBody(t, map[string]string{"student_id": "carol"}, "carol.png", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"))
	status, _ := g.do(t, http.MethodPost, sessionPath(session.ID, "/submissions/file"), g.teacher, body, contentType)
	require.Equal(t, http.StatusUnsupportedMediaType, status)

	body, contentType = multipartBody(t, map[string]string{"student_id": "dave"}, "dave.txt", bytes.Repeat([]byte("a"), 65*1024))
	status, _ = g.do(t, http.MethodPost, sessionPath(session.ID, "/submissions/file"), g.teacher, body, contentType)
	require.Equal(t, http.StatusRequestEntityTooLarge, status)

	body, contentType = multipartBody(t, map[string]string{"student_id": "erin"}, "erin.txt", []byte("  \n"))
	status, _ = g.do(t, http.MethodPost, sessionPath(session.ID, "/submissions/file"), g.teacher, body, contentType)
	require.Equal(t, http.StatusUnprocessableEntity, status)

	body, contentType = multipartBody(t, nil, "frank.txt", []byte(aliceDocument))
	status, payload := g.do(t, http.MethodPost, sessionPath(session.ID, "/submissions/file"), g.teacher, body, contentType)
	require.Equal(t, http.StatusBadRequest, status)
	require.False(t, payload.Success)

	body, contentType = multipartBody(t, nil, "notes.txt", []byte("not a zip"))
	status, _ = g.do(t, http.MethodPost, sessionPath(session.ID, "/submissions/archive"), g.teacher, body, contentType)
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = g.doJSON(t, http.MethodPost, sessionPath(999, "/submissions/text"), g.teacher, dto.GradeTextRequest{StudentID: "alice", Text: aliceDocument})
	require.Equal(t, http.StatusNotFound, status)

	status, _ = g.doJSON(t, http.MethodGet, "/api/v2/grading/sessions/abc", g.teacher, nil)
	require.Equal(t, http.StatusBadRequest, status)
}

func TestGradingRateLimit(t *testing.T) {
	g := setupGradingApp(t, 1)
	session := g.createSession(t)

	status, _ := g.doJSON(t, http.MethodPost, sessionPath(session.ID, "/submissions/text"), g.teacher, dto.GradeTextRequest{StudentID: "alice", Text: aliceDocument})
	require.Equal(t, http.StatusOK, status)

	status, payload := g.doJSON(t, http.MethodPost, sessionPath(session.ID, "/submissions/text"), g.teacher, dto.GradeTextRequest{StudentID: "bob", Text: bobDocument})
	require.Equal(t, http.StatusTooManyRequests, status)
	require.False(t, payload.Success)
}
