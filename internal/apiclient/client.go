// Package apiclient talks to the attempt endpoints of the backend and
// decodes the {data, error, metadata} envelope.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
)

// HeaderStudentID carries the student identity to the backend.
const HeaderStudentID = response.HeaderStudentID

const maxBodyBytes = 4 << 20

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Status  int
	Code    response.ErrCode
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("request failed with status %d", e.Status)
}

// IsAlreadyFinished reports whether err says the session was already
// submitted.
func IsAlreadyFinished(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == response.ErrSessionFinished
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	StudentID  string
	AuthToken  string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client calls the attempt endpoints.
type Client struct {
	baseURL   string
	studentID string
	token     string
	http      *http.Client
	log       zerolog.Logger
}

// New creates a Client.
func New(opts Options, log zerolog.Logger) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		studentID: opts.StudentID,
		token:     opts.AuthToken,
		http:      hc,
		log:       log.With().Str("component", "api_client").Logger(),
	}
}

// StartSession calls POST /start-session.
func (c *Client) StartSession(ctx context.Context, testID model.ID) (*model.StartSessionResponse, error) {
	var out model.StartSessionResponse
	if err := c.do(ctx, http.MethodPost, "/start-session", model.StartSessionRequest{TestID: testID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchByNumber calls POST /fetch-by-number.
func (c *Client) FetchByNumber(ctx context.Context, sessionID model.ID, questionNumber int) (*model.FetchByNumberResponse, error) {
	req := model.FetchByNumberRequest{SessionID: sessionID, QuestionNumber: questionNumber}
	var out model.FetchByNumberResponse
	if err := c.do(ctx, http.MethodPost, "/fetch-by-number", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitAndNext calls POST /submit-and-next.
func (c *Client) SubmitAndNext(ctx context.Context, sessionID model.ID, answers []model.AnswerSubmission) (*model.SubmitNextResponse, error) {
	req := model.SubmitAnswersRequest{SessionID: sessionID, Answers: answers}
	var out model.SubmitNextResponse
	if err := c.do(ctx, http.MethodPost, "/submit-and-next", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitAndPrevious calls POST /submit-and-previous.
func (c *Client) SubmitAndPrevious(ctx context.Context, sessionID model.ID, answers []model.AnswerSubmission) (*model.SubmitPreviousResponse, error) {
	req := model.SubmitAnswersRequest{SessionID: sessionID, Answers: answers}
	var out model.SubmitPreviousResponse
	if err := c.do(ctx, http.MethodPost, "/submit-and-previous", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitSession calls POST /submit-session.
func (c *Client) SubmitSession(ctx context.Context, sessionID model.ID) (*model.TestResult, error) {
	var out model.TestResult
	if err := c.do(ctx, http.MethodPost, "/submit-session", model.SubmitSessionRequest{SessionID: sessionID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTests calls GET /tests.
func (c *Client) ListTests(ctx context.Context) ([]model.TestSummary, error) {
	var out []model.TestSummary
	if err := c.do(ctx, http.MethodGet, "/tests", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StudentID returns the identity the client sends.
func (c *Client) StudentID() string { return c.studentID }

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	requestID := uuid.NewString()
	req.Header.Set(response.HeaderRequestID, requestID)
	if c.studentID != "" {
		req.Header.Set(HeaderStudentID, c.studentID)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Str("request_id", requestID).
		Dur("latency", time.Since(start)).
		Msg("API call")

	var env response.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return &APIError{Status: resp.StatusCode, Code: response.ErrInternal, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("decode %s envelope: %w", path, err)
	}

	if resp.StatusCode >= http.StatusBadRequest || env.Error != nil {
		apiErr := &APIError{Status: resp.StatusCode}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
