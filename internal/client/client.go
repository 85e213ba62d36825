package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
)

// APIError is an error envelope returned by the exam API.
type APIError struct {
	Status    int
	Code      response.ErrCode
	Message   string
	Fields    map[string]string
	RequestID string
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("api %d %s: %s", e.Status, e.Code, e.Message)
}

// Retryable reports whether the request may succeed if repeated later.
func (e *APIError) Retryable() bool {
	return e.Code == response.ErrRateLimitExceeded ||
		e.Status == http.StatusTooManyRequests ||
		e.Status == http.StatusServiceUnavailable
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code response.ErrCode) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Client talks to the exam API over HTTP. It satisfies session.Backend.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger

	mu      sync.RWMutex
	headers map[string]string
}

// New creates a Client for baseURL, e.g. http://localhost:8080/api/v1.
func New(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "api_client").Logger(),
		headers: make(map[string]string),
	}
}

func (c *Client) SetHeader(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers[key] = value
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.SetHeader("Authorization", "Bearer "+token)
}

// do sends body as JSON and decodes the envelope's data into out.
func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	reqID := uuid.New().String()
	c.mu.RLock()
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	c.mu.RUnlock()
	req.Header.Set(response.HeaderRequestID, reqID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("method", method).
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Str("request_id", reqID).
		Msg("API call")

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var env response.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &APIError{Status: resp.StatusCode, Code: response.ErrInternal, Message: string(raw), RequestID: reqID}
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if env.Error != nil || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, RequestID: reqID, Code: response.ErrInternal}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Fields = env.Error.Fields
		}
		if env.Metadata.RequestID != "" {
			apiErr.RequestID = env.Metadata.RequestID
		}
		return apiErr
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s %s data: %w", method, endpoint, err)
	}
	return nil
}

// LoginStudent exchanges credentials for a token and starts using it.
func (c *Client) LoginStudent(ctx context.Context, nisn, password string) (int, error) {
	var out struct {
		Token  string `json:"token"`
		UserID int    `json:"user_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/student/login", map[string]string{"nisn": nisn, "password": password}, &out); err != nil {
		return 0, err
	}
	c.SetToken(out.Token)
	return out.UserID, nil
}

// Token returns the bearer token in use, if any.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	const prefix = "Bearer "
	if h := c.headers["Authorization"]; len(h) > len(prefix) {
		return h[len(prefix):]
	}
	return ""
}

func (c *Client) FetchExam(ctx context.Context, examID uuid.UUID, userID int) (*model.ExamPayload, error) {
	var out model.ExamPayload
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/student/exams/%s/session?user_id=%d", examID, userID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ServerTime(ctx context.Context) (string, error) {
	var out model.ServerTime
	if err := c.do(ctx, http.MethodGet, "/public/time", nil, &out); err != nil {
		return "", err
	}
	return out.ServerTime, nil
}

func (c *Client) SaveAnswer(ctx context.Context, req model.SaveAnswerRequest) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/student/exams/%s/answers/%d", req.ExamID, req.QuestionID), req, nil)
}

func (c *Client) FinishExam(ctx context.Context, req model.FinishExamRequest) (*model.FinishResult, error) {
	var out model.FinishResult
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/student/exams/%s/finish", req.ExamID), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) FetchResult(ctx context.Context, resultID int64) (*model.ResultSummary, error) {
	var out model.ResultSummary
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/student/results/%d", resultID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
