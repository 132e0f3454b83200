package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-exam-grader/internal/dto"
)

func startFiberServer(t *testing.T, app *fiber.App) (string, func()) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		if err := app.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("fiber listener stopped: %v", err)
		}
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)

	shutdown := func() {
		_ = app.Shutdown()
		_ = listener.Close()
		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
		}
	}

	return "http://" + listener.Addr().String(), shutdown
}

func readEvent(t *testing.T, conn *websocket.Conn) (dto.ProgressEvent, interface{}) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var event dto.ProgressEvent
	require.NoError(t, json.Unmarshal(raw, &event))
	var generic interface{}
	require.NoError(t, json.Unmarshal(raw, &generic))
	return event, generic
}

func TestProgressWebsocketStreamsGradingEvents(t *testing.T) {
	g := setupGradingApp(t, 0)
	session := g.createSession(t)
	schema := compileSchema(t, "progress_event.schema.json")

	baseURL, shutdown := startFiberServer(t, g.app)
	defer shutdown()

	url := "ws" + strings.TrimPrefix(baseURL, "http") + sessionPath(session.ID, "/progress/ws") + "?token=" + g.teacher
	dialer := websocket.Dialer{HandshakeTimeout: 3 * time.Second}
	conn, resp, err := dialer.Dial(url, http.Header{"X-Correlation-ID": {"progress-test"}})
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	defer conn.Close()

	hello, raw := readEvent(t, conn)
	require.Equal(t, dto.ProgressEventSubscribed, hello.Type)
	require.Equal(t, session.ID, hello.SessionID)
	require.NoError(t, schema.Validate(raw))

	// The subscription is registered before the hello is written.
	g.progress.Publish(context.Background(), dto.ProgressEvent{Type: dto.ProgressEventStarted, SessionID: session.ID, Total: 2})
	g.progress.Publish(context.Background(), dto.ProgressEvent{Type: dto.ProgressEventStudent, SessionID: session.ID + 1, Done: 1, Total: 1})
	g.progress.Publish(context.Background(), dto.ProgressEvent{
		Type:       dto.ProgressEventStudent,
		SessionID:  session.ID,
		StudentID:  "alice",
		Status:     "graded",
		Done:       1,
		Total:      2,
		TotalScore: 8,
		Percentage: 80,
	})

	started, raw := readEvent(t, conn)
	require.Equal(t, dto.ProgressEventStarted, started.Type)
	require.NoError(t, schema.Validate(raw))

	student, raw := readEvent(t, conn)
	require.Equal(t, dto.ProgressEventStudent, student.Type)
	require.Equal(t, "alice", student.StudentID)
	require.Equal(t, 80.0, student.Percentage)
	require.NoError(t, schema.Validate(raw))
}

func TestProgressWebsocketRejectsUnknownSessionAndMissingToken(t *testing.T) {
	g := setupGradingApp(t, 0)

	baseURL, shutdown := startFiberServer(t, g.app)
	defer shutdown()

	base := "ws" + strings.TrimPrefix(baseURL, "http")
	dialer := websocket.Dialer{HandshakeTimeout: 3 * time.Second}

	_, resp, err := dialer.Dial(base+sessionPath(404, "/progress/ws")+"?token="+g.teacher, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()

	_, resp, err = dialer.Dial(base+sessionPath(1, "/progress/ws"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestProgressRouteRequiresUpgrade(t *testing.T) {
	g := setupGradingApp(t, 0)
	session := g.createSession(t)

	req := httptest.NewRequest(http.MethodGet, sessionPath(session.ID, "/progress/ws"), nil)
	req.Header.Set("Authorization", "Bearer "+g.teacher)
	resp, err := g.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}
