package client

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-session/internal/autosave"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/session"
	ws "github.com/stemsi/exstem-session/internal/websocket"
)

func fastConfig(userID int) session.Config {
	return session.Config{
		ExamID:         demoExam,
		UserID:         userID,
		Windows:        autosave.Windows{Discrete: 10 * time.Millisecond, Text: 10 * time.Millisecond, Drag: 10 * time.Millisecond},
		SaveMaxRetries: 1,
		SaveRetryBase:  10 * time.Millisecond,
	}
}

func answerDemo(t *testing.T, ctrl *session.Controller) {
	t.Helper()
	require.NoError(t, ctrl.SelectOption(1, 102))
	require.NoError(t, ctrl.SetText(3, " h2o "))
	require.NoError(t, ctrl.SetOrder(4, []int64{402, 404, 401, 403}))
	for _, p := range [][2]int64{{501, 513}, {502, 511}, {503, 512}} {
		_, err := ctrl.ClickMatchPrompt(5, p[0])
		require.NoError(t, err)
		_, err = ctrl.ClickMatchTarget(5, p[1])
		require.NoError(t, err)
	}
	require.NoError(t, ctrl.ToggleOption(9, 901))
	require.NoError(t, ctrl.ToggleOption(9, 903))
}

func TestControllerSubmitsOverHTTP(t *testing.T) {
	s := newServer(t, 0)
	c, userID := loggedIn(t, s)

	ctrl := session.New(fastConfig(userID), session.Deps{Backend: c, Spool: autosave.NewMemorySpool()}, zerolog.Nop())
	t.Cleanup(ctrl.Close)
	require.NoError(t, ctrl.Load(t.Context()))
	assert.Equal(t, session.StateReady, ctrl.State())
	assert.Len(t, ctrl.Questions(), 10)

	answerDemo(t, ctrl)
	assert.Equal(t, 5, ctrl.Progress().Answered)

	res, err := ctrl.Submit(t.Context(), session.TriggerManual)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 5, res.Correct)
	assert.Equal(t, 0, res.Wrong)
	assert.Equal(t, 5, res.Unanswered)
	assert.InDelta(t, 50.0, res.Score, 0.001)
	assert.Equal(t, session.StateSettled, ctrl.State())

	_, err = ctrl.Submit(t.Context(), session.TriggerManual)
	assert.Error(t, err)
}

func TestControllerSubmitsFullSheetUnderSaveLimit(t *testing.T) {
	s := newServer(t, 10)
	c, userID := loggedIn(t, s)

	ctrl := session.New(fastConfig(userID), session.Deps{Backend: c, Spool: autosave.NewMemorySpool()}, zerolog.Nop())
	t.Cleanup(ctrl.Close)
	require.NoError(t, ctrl.Load(t.Context()))

	answerDemo(t, ctrl)
	for _, id := range []int64{201, 203, 204} {
		require.NoError(t, ctrl.ToggleOption(2, id))
	}
	require.NoError(t, ctrl.SelectOption(6, 603))
	require.NoError(t, ctrl.SetText(7, "fotosintesis"))
	require.NoError(t, ctrl.SelectOption(8, 801))
	require.NoError(t, ctrl.SetText(10, "troposfer"))
	assert.Equal(t, 10, ctrl.Progress().Answered)

	// Let the debounced writes spend the per-second save budget.
	time.Sleep(100 * time.Millisecond)

	res, err := ctrl.Submit(t.Context(), session.TriggerManual)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 10, res.Correct)
	assert.InDelta(t, 100.0, res.Score, 0.001)
	assert.Equal(t, session.StateSettled, ctrl.State())
}

func TestAPIErrorRetryable(t *testing.T) {
	assert.True(t, autosave.Retryable(&APIError{Status: 429, Code: response.ErrRateLimitExceeded}))
	assert.True(t, autosave.Retryable(&APIError{Code: response.ErrRateLimitExceeded}))
	assert.False(t, autosave.Retryable(&APIError{Status: 400, Code: response.ErrValidation}))
}

func TestControllerResumesPriorAnswers(t *testing.T) {
	s := newServer(t, 0)
	c, userID := loggedIn(t, s)

	first := session.New(fastConfig(userID), session.Deps{Backend: c}, zerolog.Nop())
	require.NoError(t, first.Load(t.Context()))
	require.NoError(t, first.SetText(10, "Troposfer"))
	require.NoError(t, first.SaveAll(t.Context()))
	endTime := first.Info().EndTime
	first.Close()

	second := session.New(fastConfig(userID), session.Deps{Backend: c}, zerolog.Nop())
	t.Cleanup(second.Close)
	require.NoError(t, second.Load(t.Context()))

	assert.True(t, endTime.Equal(second.Info().EndTime))
	v, ok := second.Answer(10)
	require.True(t, ok)
	assert.Equal(t, model.FillBlankAnswer{Text: "Troposfer"}, v)
}

func TestProctorForcesSubmissionOverStream(t *testing.T) {
	s := newServer(t, 0)
	st, c, userID := dialed(t, s)

	settled := make(chan *model.ResultSummary, 1)
	loggedOut := make(chan struct{}, 1)
	ctrl := session.New(fastConfig(userID), session.Deps{
		Backend: c,
		Saver:   st,
		Hooks: session.Hooks{
			OnSettled: func(res *model.ResultSummary, err error) {
				if err == nil {
					settled <- res
				}
			},
			OnLogout: func() { loggedOut <- struct{}{} },
		},
	}, zerolog.Nop())
	t.Cleanup(ctrl.Close)
	require.NoError(t, ctrl.Load(t.Context()))

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go st.Forward(ctx, ctrl)

	require.NoError(t, ctrl.SelectOption(8, 801))
	require.NoError(t, s.app.Proctor.Command(ctx, demoExam, userID, ws.EventLogout, "pelanggaran"))
	require.NoError(t, s.app.Proctor.Command(ctx, demoExam, userID, ws.EventForceSubmit, "pelanggaran"))

	select {
	case res := <-settled:
		require.NotNil(t, res)
		assert.Equal(t, 1, res.Correct)
	case <-time.After(5 * time.Second):
		t.Fatal("forced submission did not settle")
	}
	select {
	case <-loggedOut:
	case <-time.After(2 * time.Second):
		t.Fatal("deferred logout did not run")
	}
}
