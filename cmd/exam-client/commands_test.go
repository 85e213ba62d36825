package main

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-session/internal/client"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/matching"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
	"github.com/stemsi/exstem-session/internal/router"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/session"
	"github.com/stemsi/exstem-session/internal/validator"
)

func TestWithIDs(t *testing.T) {
	var got []int64
	err := withIDs([]string{"4", "402", "401"}, 3, func(ids []int64) error {
		got = ids
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 402, 401}, got)

	assert.ErrorIs(t, withIDs([]string{"4"}, 2, nil), errUsage)
	assert.Error(t, withIDs([]string{"4", "abc"}, 2, nil))
}

func TestTerminalAsk(t *testing.T) {
	lines := make(chan string, 2)
	var out bytes.Buffer
	term := newTerminal(&out, lines)

	lines <- "y"
	assert.True(t, term.ConfirmSubmit(t.Context()))
	lines <- "no"
	assert.False(t, term.ConfirmIncomplete(t.Context(), 3))
	assert.Contains(t, out.String(), "3 question(s) unanswered")

	close(lines)
	assert.False(t, term.ConfirmSubmit(t.Context()))
}

func TestTerminalTickThrottles(t *testing.T) {
	var out bytes.Buffer
	term := newTerminal(&out, nil)

	term.tick(125)
	assert.Empty(t, out.String())
	term.tick(120)
	term.tick(9)
	assert.Equal(t, 2, strings.Count(out.String(), "[TIME]"))
}

func TestExecuteBeforeLoad(t *testing.T) {
	var out bytes.Buffer
	term := newTerminal(&out, nil)
	ctrl := session.New(session.Config{}, session.Deps{}, zerolog.Nop())

	assert.False(t, execute(t.Context(), ctrl, nil, term, "pick 1 102"))
	assert.Contains(t, out.String(), "error:")
	assert.False(t, execute(t.Context(), ctrl, nil, term, "bogus"))
	assert.Contains(t, out.String(), "unknown command")
	assert.True(t, execute(t.Context(), ctrl, nil, term, "quit"))
}

type flakyLoader struct {
	fails int
	calls int
}

func (l *flakyLoader) Load(context.Context) error {
	l.calls++
	if l.calls <= l.fails {
		return errors.New("connection refused")
	}
	return nil
}

func TestLoadExamRetriesOnRequest(t *testing.T) {
	lines := make(chan string, 1)
	var out bytes.Buffer
	term := newTerminal(&out, lines)
	l := &flakyLoader{fails: 1}

	lines <- "y"
	require.NoError(t, loadExam(t.Context(), l, term))
	assert.Equal(t, 2, l.calls)
	assert.Contains(t, out.String(), "Failed to load exam: connection refused")
	assert.Contains(t, out.String(), "Retry?")
}

func TestLoadExamGivesUp(t *testing.T) {
	lines := make(chan string, 1)
	var out bytes.Buffer
	term := newTerminal(&out, lines)
	l := &flakyLoader{fails: 5}

	lines <- "n"
	assert.Error(t, loadExam(t.Context(), l, term))
	assert.Equal(t, 1, l.calls)

	close(lines)
	assert.Error(t, loadExam(t.Context(), l, term))
	assert.Equal(t, 2, l.calls)
}

// demoSession loads the default fixture exam through a local dev backend.
func demoSession(t *testing.T) *session.Controller {
	t.Helper()
	validator.Setup()

	fx, err := service.DefaultFixture()
	require.NoError(t, err)
	cfg := &config.Config{GinMode: "test", JWTSecret: "exam-client-test", JWTExpiry: time.Hour, BcryptCost: 4}
	app, err := router.NewApp(cfg, fx, repository.NewMemoryAnswerRepository(),
		service.NewMemoryBus(zerolog.Nop()), clockwork.NewRealClock(), zerolog.Nop())
	require.NoError(t, err)
	srv := httptest.NewServer(app.Engine)
	t.Cleanup(srv.Close)

	api := client.New(srv.URL+"/api/v1", 5*time.Second, zerolog.Nop())
	userID, err := api.LoginStudent(t.Context(), "1001", "siswa123")
	require.NoError(t, err)

	ctrl := session.New(session.Config{
		ExamID: uuid.MustParse("0b8e4c3a-5d2f-4f6a-9c1e-7a2b3c4d5e6f"),
		UserID: userID,
	}, session.Deps{Backend: api}, zerolog.Nop())
	t.Cleanup(ctrl.Close)
	require.NoError(t, ctrl.Load(t.Context()))
	return ctrl
}

func TestMatchRefusesTakenTargetWithoutChanges(t *testing.T) {
	ctrl := demoSession(t)

	require.NoError(t, match(ctrl, 5, 501, 513))
	require.NoError(t, match(ctrl, 5, 502, 511))

	err := match(ctrl, 5, 502, 513)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already matched with prompt 501")

	v, ok := ctrl.Answer(5)
	require.True(t, ok)
	assert.Equal(t, map[int64]int64{501: 513, 502: 511}, v.(model.MatchingAnswer).Pairs)
	_, armed := ctrl.ArmedPrompt(5)
	assert.False(t, armed)

	// Re-matching an existing pair is a no-op, moving a prompt is allowed.
	require.NoError(t, match(ctrl, 5, 501, 513))
	require.NoError(t, match(ctrl, 5, 502, 512))
	v, _ = ctrl.Answer(5)
	assert.Equal(t, map[int64]int64{501: 513, 502: 512}, v.(model.MatchingAnswer).Pairs)

	p, ok := ctrl.MatchPartner(5, matching.SideTarget, 512)
	require.True(t, ok)
	assert.Equal(t, int64(502), p)
}

func TestMatchUsesArmedPrompt(t *testing.T) {
	ctrl := demoSession(t)

	_, err := ctrl.ClickMatchPrompt(5, 503)
	require.NoError(t, err)
	require.NoError(t, match(ctrl, 5, 503, 512))

	p, ok := ctrl.MatchPartner(5, matching.SidePrompt, 503)
	require.True(t, ok)
	assert.Equal(t, int64(512), p)
}
