package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/session"
	ws "github.com/stemsi/exstem-session/internal/websocket"
)

// ErrStreamClosed is returned by requests on a closed or broken stream.
var ErrStreamClosed = errors.New("exam stream closed")

// eventBuffer is how many proctor commands may queue before new ones are
// dropped.
const eventBuffer = 8

// Stream is the student's websocket to the exam server. Replies are matched
// to requests by req_id; proctor commands arrive on Events.
type Stream struct {
	conn *ws.Conn
	log  zerolog.Logger

	mu      sync.Mutex
	pending map[string]chan ws.Incoming
	err     error

	events    chan ws.Incoming
	done      chan struct{}
	closeOnce sync.Once
}

// Dial opens the stream for examID. wsBaseURL is e.g. ws://localhost:8080/ws/v1.
func Dial(ctx context.Context, wsBaseURL string, examID uuid.UUID, token string, log zerolog.Logger) (*Stream, error) {
	u := fmt.Sprintf("%s/student/exams/%s/stream?token=%s", wsBaseURL, examID, url.QueryEscape(token))

	raw, resp, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial exam stream: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial exam stream: %w", err)
	}

	s := &Stream{
		conn:    ws.NewConn(raw),
		log:     log.With().Str("component", "exam_stream").Logger(),
		pending: make(map[string]chan ws.Incoming),
		events:  make(chan ws.Incoming, eventBuffer),
		done:    make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *Stream) readLoop() {
	defer close(s.events)
	for {
		var in ws.Incoming
		if err := s.conn.ReadJSON(&in); err != nil {
			s.shutdown(err)
			return
		}

		if in.Event.IsProctor() {
			select {
			case s.events <- in:
			default:
				s.log.Warn().Str("event", string(in.Event)).Msg("Proctor event dropped, consumer too slow")
			}
			continue
		}

		s.mu.Lock()
		ch, ok := s.pending[in.ReqID]
		delete(s.pending, in.ReqID)
		s.mu.Unlock()
		if !ok {
			s.log.Debug().Str("event", string(in.Event)).Str("req_id", in.ReqID).Msg("Unsolicited reply")
			continue
		}
		ch <- in
	}
}

func (s *Stream) shutdown(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

// request sends v and waits for the reply carrying reqID.
func (s *Stream) request(ctx context.Context, reqID string, v any) (ws.Incoming, error) {
	ch := make(chan ws.Incoming, 1)
	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return ws.Incoming{}, fmt.Errorf("%w: %v", ErrStreamClosed, err)
	}
	s.pending[reqID] = ch
	s.mu.Unlock()

	forget := func() {
		s.mu.Lock()
		delete(s.pending, reqID)
		s.mu.Unlock()
	}

	if err := s.conn.WriteTyped(v); err != nil {
		forget()
		return ws.Incoming{}, fmt.Errorf("%w: %v", ErrStreamClosed, err)
	}

	select {
	case in := <-ch:
		if in.Event == ws.EventError {
			return in, &APIError{Code: response.ErrCode(in.Code), Message: in.Error}
		}
		return in, nil
	case <-ctx.Done():
		forget()
		return ws.Incoming{}, ctx.Err()
	case <-s.done:
		forget()
		return ws.Incoming{}, ErrStreamClosed
	}
}

// SaveAnswer writes one answer over the stream. It satisfies
// autosave.Saver; the user and exam come from the connection.
func (s *Stream) SaveAnswer(ctx context.Context, req model.SaveAnswerRequest) error {
	id := uuid.NewString()
	_, err := s.request(ctx, id, ws.AutosaveRequest{
		Action:       ws.ActionAutosave,
		ReqID:        id,
		QuestionID:   req.QuestionID,
		QuestionType: req.QuestionType,
		Value:        req.Value,
	})
	return err
}

// ServerTime pings the server and returns its time. It satisfies
// clock.TimeSource.
func (s *Stream) ServerTime(ctx context.Context) (string, error) {
	id := uuid.NewString()
	in, err := s.request(ctx, id, ws.PingRequest{Action: ws.ActionPing, ReqID: id})
	if err != nil {
		return "", err
	}
	return in.ServerTime, nil
}

// ReportEvent sends a proctoring event such as a focus loss.
func (s *Stream) ReportEvent(ctx context.Context, kind, detail string) error {
	id := uuid.NewString()
	_, err := s.request(ctx, id, ws.CheatRequest{Action: ws.ActionCheat, ReqID: id, Kind: kind, Detail: detail})
	return err
}

// KeepAlive pings every interval so neither side's read deadline expires
// on an idle exam. It returns when ctx is done or the stream ends.
func (s *Stream) KeepAlive(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-t.C:
			if _, err := s.ServerTime(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn().Err(err).Msg("Stream ping failed")
			}
		}
	}
}

// Events delivers proctor commands. It is closed when the stream ends.
func (s *Stream) Events() <-chan ws.Incoming {
	return s.events
}

// Done is closed when the stream ends.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Close ends the stream.
func (s *Stream) Close() error {
	s.shutdown(ErrStreamClosed)
	return s.conn.Close()
}

// ProctorTarget is what proctor commands act on.
type ProctorTarget interface {
	Submit(ctx context.Context, trigger session.Trigger) (*model.ResultSummary, error)
	RequestLogout()
}

// Forward applies proctor commands to target until the stream ends or ctx
// is done. A forced submission runs in its own goroutine so a later logout
// can still be queued behind it.
func (s *Stream) Forward(ctx context.Context, target ProctorTarget) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.events:
			if !ok {
				return
			}
			switch ev.Event {
			case ws.EventForceSubmit:
				s.log.Warn().Str("reason", ev.Reason).Msg("Proctor forced submission")
				go func() {
					if _, err := target.Submit(ctx, session.TriggerProctor); err != nil {
						s.log.Error().Err(err).Msg("Forced submission failed")
					}
				}()
			case ws.EventLogout:
				s.log.Warn().Str("reason", ev.Reason).Msg("Proctor requested logout")
				target.RequestLogout()
			}
		}
	}
}
