package router

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/repository"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/validator"
	ws "github.com/stemsi/exstem-session/internal/websocket"
)

var demoExam = uuid.MustParse("0b8e4c3a-5d2f-4f6a-9c1e-7a2b3c4d5e6f")

func newTestApp(t *testing.T) *App {
	t.Helper()
	validator.Setup()
	fx, err := service.DefaultFixture()
	require.NoError(t, err)

	cfg := &config.Config{GinMode: "test", JWTSecret: "router-test", JWTExpiry: time.Hour, BcryptCost: 4}
	app, err := NewApp(cfg, fx, repository.NewMemoryAnswerRepository(),
		service.NewMemoryBus(zerolog.Nop()), clockwork.NewFakeClock(), zerolog.Nop())
	require.NoError(t, err)
	return app
}

func serve(app *App, method, path, token, body string) (*httptest.ResponseRecorder, response.Envelope) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	app.Engine.ServeHTTP(w, req)

	var env response.Envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func TestPublicRoutes(t *testing.T) {
	app := newTestApp(t)

	w, env := serve(app, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, env.Metadata.RequestID)

	w, env = serve(app, http.MethodGet, "/api/v1/public/time", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var st struct {
		ServerTime string `json:"server_time"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &st))
	_, err := time.Parse(time.RFC3339Nano, st.ServerTime)
	assert.NoError(t, err)
}

func TestLogin(t *testing.T) {
	app := newTestApp(t)

	w, env := serve(app, http.MethodPost, "/api/v1/auth/student/login", "", `{"nisn":"1002","password":"siswa123"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Token  string `json:"token"`
		UserID int    `json:"user_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, 2, out.UserID)
	assert.NotEmpty(t, out.Token)

	w, env = serve(app, http.MethodPost, "/api/v1/auth/student/login", "", `{"nisn":"1002","password":"salah"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, response.ErrInvalidCredentials, env.Error.Code)

	w, env = serve(app, http.MethodPost, "/api/v1/auth/admin/login", "", `{"email":"bukan-email","password":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, response.ErrValidation, env.Error.Code)
}

func TestProctorRoutesRequirePermission(t *testing.T) {
	app := newTestApp(t)
	path := "/api/v1/admin/exams/" + demoExam.String() + "/students/1/force-submit"

	student, err := app.Auth.GenerateStudentToken(1)
	require.NoError(t, err)
	w, _ := serve(app, http.MethodPost, path, student, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	viewer, err := app.Auth.GenerateAdminToken(9, []string{"exams:read"})
	require.NoError(t, err)
	w, env := serve(app, http.MethodPost, path, viewer, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, response.ErrPermissionDenied, env.Error.Code)

	w, _ = serve(app, http.MethodPost, path, "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestForceSubmitReachesStudent(t *testing.T) {
	app := newTestApp(t)
	w, env := serve(app, http.MethodPost, "/api/v1/auth/admin/login", "", `{"email":"pengawas@exstem.local","password":"pengawas123"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))

	commands, cancel, err := app.Proctor.SubscribeStudent(t.Context(), demoExam, 1)
	require.NoError(t, err)
	defer cancel()

	w, _ = serve(app, http.MethodPost, "/api/v1/admin/exams/"+demoExam.String()+"/students/1/force-submit", out.Token, `{"reason":"waktu habis"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	select {
	case data := <-commands:
		var cmd ws.ProctorCommand
		require.NoError(t, json.Unmarshal(data, &cmd))
		assert.Equal(t, ws.EventForceSubmit, cmd.Event)
		assert.Equal(t, "waktu habis", cmd.Reason)
	case <-time.After(time.Second):
		t.Fatal("command not published")
	}

	w, _ = serve(app, http.MethodPost, "/api/v1/admin/exams/"+uuid.NewString()+"/students/1/logout", out.Token, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMonitorStreamsEvents(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(app.Engine)
	defer srv.Close()

	token, err := app.Auth.GenerateAdminToken(1, []string{service.PermissionProctor})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/admin/exams/"+demoExam.String()+"/monitor?token="+token, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		for lines.Scan() {
			if data, ok := strings.CutPrefix(lines.Text(), "data:"); ok {
				return strings.TrimSpace(data)
			}
		}
		return ""
	}

	assert.Contains(t, next(), "connected")

	require.NoError(t, app.Exams.RecordEvent(ctx, demoExam, 2, "focus_lost", ""))

	var ev service.MonitorEvent
	require.NoError(t, json.Unmarshal([]byte(next()), &ev))
	assert.Equal(t, service.MonitorCheat, ev.Type)
	assert.Equal(t, 2, ev.StudentID)
}
