package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-client/internal/auth"
	"github.com/stemsi/exstem-client/internal/credential"
	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/validate"
)

// Client issues authenticated requests against the exam platform API.
// On a 401 it refreshes the token pair through the single-flight
// coordinator and replays the request exactly once; a second 401 is
// terminal and clears the stored credentials.
type Client struct {
	baseURL string
	http    *http.Client
	creds   *credential.Store
	tokens  *auth.Coordinator
	log     zerolog.Logger
}

// New builds a Client bound to the given credential store. leeway is
// forwarded to the refresh coordinator.
func New(baseURL string, creds *credential.Store, leeway time.Duration, log zerolog.Logger) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Deliberately no client-side timeout: the only deadline an exam
		// session honors is the exam's own. Callers cancel via ctx.
		http:  &http.Client{},
		creds: creds,
		log:   log.With().Str("component", "api_client").Logger(),
	}
	c.tokens = auth.NewCoordinator(creds, c.refreshTokens, leeway, log)
	return c
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Credentials exposes the injected credential store.
func (c *Client) Credentials() *credential.Store { return c.creds }

// Tokens exposes the refresh coordinator, mainly for tests.
func (c *Client) Tokens() *auth.Coordinator { return c.tokens }

// ─── Auth ───────────────────────────────────────────────────────────────

// Login authenticates and stores the resulting session.
func (c *Client) Login(ctx context.Context, email, password string) (*model.User, error) {
	req := model.LoginRequest{Email: email, Password: password}
	if fields := validate.Struct(req); fields != nil {
		return nil, &APIError{StatusCode: http.StatusBadRequest, Code: CodeValidation, Message: "invalid login request", Fields: fields}
	}

	var resp model.LoginResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/login", req, false, &resp); err != nil {
		return nil, err
	}
	if err := c.creds.SetSession(ctx, resp.User, resp.Tokens); err != nil {
		c.log.Warn().Err(err).Msg("Failed to persist session")
	}
	return resp.User, nil
}

// Logout revokes the refresh token server-side (best effort) and clears
// the local session either way.
func (c *Client) Logout(ctx context.Context) {
	if refresh := c.creds.RefreshToken(); refresh != "" {
		err := c.doJSON(ctx, http.MethodPost, "/auth/logout", model.LogoutRequest{RefreshToken: refresh}, false, nil)
		if err != nil {
			c.log.Debug().Err(err).Msg("Server-side logout failed")
		}
	}
	c.creds.Clear(ctx)
}

// refreshTokens is the RefreshFunc injected into the coordinator. It goes
// through the plain transport: a refresh must never recurse into the
// 401-retry path.
func (c *Client) refreshTokens(ctx context.Context, refreshToken string) (*model.LoginResponse, error) {
	var resp model.LoginResponse
	err := c.doJSON(ctx, http.MethodPost, "/auth/refresh-tokens", model.RefreshRequest{RefreshToken: refreshToken}, false, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// ─── Exam ───────────────────────────────────────────────────────────────

// StartAttempt starts (or resumes) an attempt for the quiz.
func (c *Client) StartAttempt(ctx context.Context, quizID string) (*model.StartAttemptResponse, error) {
	var resp model.StartAttemptResponse
	path := fmt.Sprintf("/exam/quizzes/%s/start", url.PathEscape(quizID))
	if err := c.doJSON(ctx, http.MethodPost, path, struct{}{}, true, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitAttempt delivers the final response set. idemKey is sent as an
// Idempotency-Key header so a server that honors it can deduplicate
// submissions the client-side guard cannot see (e.g. two stations on the
// same attempt).
func (c *Client) SubmitAttempt(ctx context.Context, attemptID string, req model.SubmitAttemptRequest, idemKey string) (*model.SubmitAttemptResponse, error) {
	if fields := validate.Struct(req); fields != nil {
		return nil, &APIError{StatusCode: http.StatusBadRequest, Code: CodeValidation, Message: "invalid submission", Fields: fields}
	}

	headers := http.Header{}
	if idemKey != "" {
		headers.Set("Idempotency-Key", idemKey)
	}

	var resp model.SubmitAttemptResponse
	path := fmt.Sprintf("/exam/attempts/%s/submit", url.PathEscape(attemptID))
	if err := c.doJSONHeaders(ctx, http.MethodPost, path, req, true, &resp, headers); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AssignedQuizzes lists quizzes visible to the logged-in student.
func (c *Client) AssignedQuizzes(ctx context.Context, page, limit int) (*model.AssignedQuizzesResponse, error) {
	var resp model.AssignedQuizzesResponse
	path := "/exam/quizzes/assigned?" + pageQuery(page, limit).Encode()
	if err := c.doJSON(ctx, http.MethodGet, path, nil, true, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Attempt fetches one attempt, including its recorded responses.
func (c *Client) Attempt(ctx context.Context, attemptID string) (*model.Attempt, error) {
	var resp model.Attempt
	path := fmt.Sprintf("/exam/attempts/%s", url.PathEscape(attemptID))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, true, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Attempts lists the student's attempt history, optionally for one quiz.
func (c *Client) Attempts(ctx context.Context, page, limit int, quizID string) (*model.AttemptsResponse, error) {
	q := pageQuery(page, limit)
	if quizID != "" {
		q.Set("quizId", quizID)
	}
	var resp model.AttemptsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/exam/attempts?"+q.Encode(), nil, true, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func pageQuery(page, limit int) url.Values {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q
}

// ─── Transport ──────────────────────────────────────────────────────────

func (c *Client) doJSON(ctx context.Context, method, path string, body any, authed bool, out any) error {
	return c.doJSONHeaders(ctx, method, path, body, authed, out, nil)
}

func (c *Client) doJSONHeaders(ctx context.Context, method, path string, body any, authed bool, out any, headers http.Header) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	var token string
	if authed {
		var err error
		token, err = c.tokens.GetValidToken(ctx)
		if err != nil {
			return err
		}
	}

	resp, err := c.send(ctx, method, path, payload, token, headers)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized && authed {
		resp.Body.Close()
		// One refresh, one replay. The flag lives in the call frame: a
		// second 401 falls through to the terminal branch below.
		token, err = c.tokens.ForceRefresh(ctx)
		if err != nil {
			c.log.Warn().Err(err).Msg("Refresh after 401 failed")
			return ErrSessionExpired
		}
		resp, err = c.send(ctx, method, path, payload, token, headers)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			resp.Body.Close()
			c.log.Warn().Str("path", path).Msg("Replayed request still unauthorized")
			c.creds.Clear(ctx)
			return ErrSessionExpired
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		resp.Body.Close()
		return nil
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, token string, headers http.Header) (*http.Response, error) {
	var reader *bytes.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("X-Request-ID", uuid.New().String())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return c.http.Do(req)
}

func decodeAPIError(resp *http.Response) error {
	defer resp.Body.Close()

	var body struct {
		Code    ErrCode           `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields,omitempty"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body.Message == "" {
		body.Message = resp.Status
	}
	return &APIError{
		StatusCode: resp.StatusCode,
		Code:       body.Code,
		Message:    body.Message,
		Fields:     body.Fields,
	}
}
