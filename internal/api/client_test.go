package api_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-client/internal/api"
	"github.com/stemsi/exstem-client/internal/auth"
	"github.com/stemsi/exstem-client/internal/credential"
	"github.com/stemsi/exstem-client/internal/examtest"
	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/storage"
)

func newTestClient(t *testing.T, srv *examtest.Server) *api.Client {
	t.Helper()
	creds, err := credential.New(context.Background(), storage.NewMemory(), zerolog.Nop())
	if err != nil {
		t.Fatalf("credential.New: %v", err)
	}
	return api.New(srv.URL(), creds, 30*time.Second, zerolog.Nop())
}

func seedQuestions() []model.AttemptQuestion {
	return []model.AttemptQuestion{
		{ID: "q1", Text: "2+2?", Type: model.QuestionMCQ, Marks: 1, Options: []model.QuestionOption{
			{ID: "o1", Text: "3"}, {ID: "o2", Text: "4"},
		}},
		{ID: "q2", Text: "Explain.", Type: model.QuestionSubjective, Marks: 2},
	}
}

func TestLoginStoresSession(t *testing.T) {
	srv := examtest.NewServer()
	defer srv.Close()
	srv.SeedUser("s@example.com", "password123", "Student")

	client := newTestClient(t, srv)
	user, err := client.Login(context.Background(), "s@example.com", "password123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if user.Email != "s@example.com" {
		t.Fatalf("user = %+v", user)
	}
	if _, _, ok := client.Credentials().AccessToken(); !ok {
		t.Fatal("access token not stored")
	}
	if client.Credentials().RefreshToken() == "" {
		t.Fatal("refresh token not stored")
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	srv := examtest.NewServer()
	defer srv.Close()
	srv.SeedUser("s@example.com", "password123", "Student")

	client := newTestClient(t, srv)
	_, err := client.Login(context.Background(), "s@example.com", "wrong-pass")
	apiErr := api.AsAPIError(err)
	if apiErr == nil {
		t.Fatalf("got %v, want APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Code != api.CodeInvalidCredentials {
		t.Fatalf("got %d/%s", apiErr.StatusCode, apiErr.Code)
	}
}

func TestLoginValidatesLocally(t *testing.T) {
	srv := examtest.NewServer()
	defer srv.Close()

	client := newTestClient(t, srv)
	_, err := client.Login(context.Background(), "not-an-email", "pw")
	apiErr := api.AsAPIError(err)
	if apiErr == nil || apiErr.Code != api.CodeValidation {
		t.Fatalf("got %v, want local validation error", err)
	}
	if apiErr.Fields["email"] == "" {
		t.Fatalf("fields = %v, want email message", apiErr.Fields)
	}
}

func TestAuthedRequestWithoutSession(t *testing.T) {
	srv := examtest.NewServer()
	defer srv.Close()

	client := newTestClient(t, srv)
	_, err := client.AssignedQuizzes(context.Background(), 1, 10)
	if !errors.Is(err, auth.ErrNotAuthenticated) {
		t.Fatalf("got %v, want ErrNotAuthenticated", err)
	}
}

func TestRevokedTokenRefreshesAndReplaysOnce(t *testing.T) {
	srv := examtest.NewServer()
	defer srv.Close()
	srv.SeedUser("s@example.com", "password123", "Student")
	srv.SeedQuiz("Algebra", 30, seedQuestions())

	client := newTestClient(t, srv)
	if _, err := client.Login(context.Background(), "s@example.com", "password123"); err != nil {
		t.Fatal(err)
	}

	// The server revokes the token out from under a client that still
	// considers it fresh; the 401 path must recover transparently.
	srv.InvalidateAccessTokens()

	resp, err := client.AssignedQuizzes(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("AssignedQuizzes after revocation: %v", err)
	}
	if len(resp.Quizzes) != 1 {
		t.Fatalf("quizzes = %d, want 1", len(resp.Quizzes))
	}
	if got := srv.RefreshCalls(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
}

func TestUnrecoverable401IsTerminal(t *testing.T) {
	srv := examtest.NewServer()
	defer srv.Close()
	srv.SeedUser("s@example.com", "password123", "Student")

	client := newTestClient(t, srv)
	if _, err := client.Login(context.Background(), "s@example.com", "password123"); err != nil {
		t.Fatal(err)
	}

	srv.InvalidateAccessTokens()
	srv.RevokeRefreshTokens()

	_, err := client.AssignedQuizzes(context.Background(), 1, 10)
	if !errors.Is(err, api.ErrSessionExpired) {
		t.Fatalf("got %v, want ErrSessionExpired", err)
	}
	if _, _, ok := client.Credentials().AccessToken(); ok {
		t.Fatal("credentials must be cleared on terminal auth failure")
	}
}

func TestProactiveRefreshInsideLeeway(t *testing.T) {
	srv := examtest.NewServer()
	defer srv.Close()
	srv.SeedUser("s@example.com", "password123", "Student")
	srv.SeedQuiz("Algebra", 30, seedQuestions())

	// Issued tokens expire within the client's 30s leeway, so the next
	// authed call refreshes before hitting the wire.
	srv.SetAccessTTL(10 * time.Second)

	client := newTestClient(t, srv)
	if _, err := client.Login(context.Background(), "s@example.com", "password123"); err != nil {
		t.Fatal(err)
	}
	srv.SetAccessTTL(time.Hour)

	if _, err := client.AssignedQuizzes(context.Background(), 1, 10); err != nil {
		t.Fatal(err)
	}
	if got := srv.RefreshCalls(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
}

func TestStartAndSubmitAttempt(t *testing.T) {
	srv := examtest.NewServer()
	defer srv.Close()
	srv.SeedUser("s@example.com", "password123", "Student")
	quizID := srv.SeedQuiz("Algebra", 30, seedQuestions())

	client := newTestClient(t, srv)
	if _, err := client.Login(context.Background(), "s@example.com", "password123"); err != nil {
		t.Fatal(err)
	}

	start, err := client.StartAttempt(context.Background(), quizID)
	if err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}
	if start.Attempt.Status != model.AttemptInProgress {
		t.Fatalf("status = %s", start.Attempt.Status)
	}
	if len(start.Questions) != 2 || start.DurationMinutes != 30 {
		t.Fatalf("start = %+v", start)
	}

	// Starting again resumes the same attempt.
	again, err := client.StartAttempt(context.Background(), quizID)
	if err != nil {
		t.Fatal(err)
	}
	if again.Attempt.ID != start.Attempt.ID {
		t.Fatal("second start must resume the open attempt")
	}

	req := model.SubmitAttemptRequest{Responses: []model.AttemptAnswer{
		{QuestionID: "q1", SelectedOptionID: "o2"},
		{QuestionID: "q2", TextAnswer: "because"},
	}}
	resp, err := client.SubmitAttempt(context.Background(), start.Attempt.ID, req, "idem-123")
	if err != nil {
		t.Fatalf("SubmitAttempt: %v", err)
	}
	if resp.Status != model.AttemptCompleted {
		t.Fatalf("status = %s", resp.Status)
	}

	responses, status, idemKeys, ok := srv.Attempt(start.Attempt.ID)
	if !ok {
		t.Fatal("attempt not recorded")
	}
	if status != model.AttemptCompleted || len(responses) != 2 {
		t.Fatalf("recorded %s with %d responses", status, len(responses))
	}
	if len(idemKeys) != 1 || idemKeys[0] != "idem-123" {
		t.Fatalf("idempotency keys = %v", idemKeys)
	}

	// The finalized attempt is readable by id.
	attempt, err := client.Attempt(context.Background(), start.Attempt.ID)
	if err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if attempt.Status != model.AttemptCompleted || len(attempt.Responses) != 2 {
		t.Fatalf("attempt = %+v", attempt)
	}

	// Submitting a finalized attempt conflicts.
	_, err = client.SubmitAttempt(context.Background(), start.Attempt.ID, req, "idem-123")
	apiErr := api.AsAPIError(err)
	if apiErr == nil || apiErr.Code != api.CodeAttemptFinalized {
		t.Fatalf("got %v, want ATTEMPT_FINALIZED", err)
	}
}

func TestStartAttemptUnknownQuiz(t *testing.T) {
	srv := examtest.NewServer()
	defer srv.Close()
	srv.SeedUser("s@example.com", "password123", "Student")

	client := newTestClient(t, srv)
	if _, err := client.Login(context.Background(), "s@example.com", "password123"); err != nil {
		t.Fatal(err)
	}

	_, err := client.StartAttempt(context.Background(), "nope")
	apiErr := api.AsAPIError(err)
	if apiErr == nil || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("got %v, want 404", err)
	}
}

func TestLogoutClearsLocalSession(t *testing.T) {
	srv := examtest.NewServer()
	defer srv.Close()
	srv.SeedUser("s@example.com", "password123", "Student")

	client := newTestClient(t, srv)
	if _, err := client.Login(context.Background(), "s@example.com", "password123"); err != nil {
		t.Fatal(err)
	}

	client.Logout(context.Background())
	if _, _, ok := client.Credentials().AccessToken(); ok {
		t.Fatal("session must be cleared on logout")
	}
	if client.Credentials().User() != nil {
		t.Fatal("user must be cleared on logout")
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"session expired", api.ErrSessionExpired, false},
		{"server error", &api.APIError{StatusCode: 502, Code: api.CodeInternal}, true},
		{"client error", &api.APIError{StatusCode: 409, Code: api.CodeConflict}, false},
		{"transport", errors.New("connection refused"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := api.IsRetryable(tc.err); got != tc.want {
				t.Fatalf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
