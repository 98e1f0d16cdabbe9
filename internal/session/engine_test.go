package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-client/internal/api"
	"github.com/stemsi/exstem-client/internal/credential"
	"github.com/stemsi/exstem-client/internal/examtest"
	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/storage"
)

func engineQuestions() []model.AttemptQuestion {
	return []model.AttemptQuestion{
		{ID: "q1", Text: "2+2?", Type: model.QuestionMCQ, Marks: 1, Options: []model.QuestionOption{
			{ID: "o1", Text: "3"}, {ID: "o2", Text: "4"},
		}},
		{ID: "q2", Text: "5*5?", Type: model.QuestionMCQ, Marks: 1, Options: []model.QuestionOption{
			{ID: "o3", Text: "25"}, {ID: "o4", Text: "20"},
		}},
		{ID: "q3", Text: "Explain.", Type: model.QuestionSubjective, Marks: 2},
	}
}

func loggedInClient(t *testing.T, srv *examtest.Server, store storage.Store) *api.Client {
	t.Helper()
	creds, err := credential.New(context.Background(), store, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	client := api.New(srv.URL(), creds, 30*time.Second, zerolog.Nop())
	if _, err := client.Login(context.Background(), "s@example.com", "password123"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	return client
}

func waitForEvent(t *testing.T, events <-chan Event, want EventType) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %d", want)
		}
	}
}

func TestEngineManualSubmitFlow(t *testing.T) {
	srv := examtest.NewServer()
	defer srv.Close()
	srv.SeedUser("s@example.com", "password123", "Student")
	quizID := srv.SeedQuiz("Algebra", 30, engineQuestions())

	store := storage.NewMemory()
	client := loggedInClient(t, srv, store)

	e, err := Start(context.Background(), client, store, quizID, Options{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.OnBeforeTeardown()

	if e.QuizTitle() != "Algebra" || len(e.Questions()) != 3 {
		t.Fatalf("engine loaded %q with %d questions", e.QuizTitle(), len(e.Questions()))
	}
	if got := e.Remaining(); got <= 29*60 || got > 30*60 {
		t.Fatalf("Remaining = %d, want just under 30 minutes", got)
	}

	e.SetAnswer(context.Background(), "q1", "o2")
	e.SetAnswer(context.Background(), "q3", "twenty-five")
	if e.AnsweredCount() != 2 {
		t.Fatalf("AnsweredCount = %d, want 2", e.AnsweredCount())
	}

	resp, err := e.Submit(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp.Status != model.AttemptCompleted {
		t.Fatalf("status = %s", resp.Status)
	}

	ev := waitForEvent(t, e.Events(), EventSubmitted)
	if ev.Result == nil || ev.Result.Score != 2 {
		t.Fatalf("event result = %+v", ev.Result)
	}

	responses, status, _, ok := srv.Attempt(e.AttemptID())
	if !ok || status != model.AttemptCompleted {
		t.Fatalf("server status = %s ok=%v", status, ok)
	}
	if len(responses) != 2 {
		t.Fatalf("server saw %d responses, want 2", len(responses))
	}
	if responses[0].QuestionID != "q1" || responses[0].SelectedOptionID != "o2" {
		t.Fatalf("responses[0] = %+v", responses[0])
	}
	if responses[1].QuestionID != "q3" || responses[1].TextAnswer != "twenty-five" {
		t.Fatalf("responses[1] = %+v", responses[1])
	}

	// Finalized: edits and repeat submissions are no-ops.
	e.SetAnswer(context.Background(), "q2", "o3")
	if e.AnsweredCount() != 0 {
		t.Fatal("edits after finalization must be ignored")
	}
	if _, err := e.Submit(context.Background(), TriggerManual); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("got %v, want ErrAlreadyFinalized", err)
	}
	if srv.SubmitCalls() != 1 {
		t.Fatalf("submit calls = %d, want 1", srv.SubmitCalls())
	}
}

func TestEngineExpirySubmitsAutomatically(t *testing.T) {
	srv := examtest.NewServer()
	defer srv.Close()
	srv.SeedUser("s@example.com", "password123", "Student")
	// Zero duration: the deadline is the start time, so the first tick
	// expires the attempt.
	quizID := srv.SeedQuiz("Lightning", 0, engineQuestions())

	store := storage.NewMemory()
	client := loggedInClient(t, srv, store)

	e, err := Start(context.Background(), client, store, quizID, Options{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.OnBeforeTeardown()

	waitForEvent(t, e.Events(), EventTimeExpired)
	waitForEvent(t, e.Events(), EventSubmitted)

	if e.State() != StateFinalized {
		t.Fatalf("state = %v, want finalized", e.State())
	}
	_, status, _, ok := srv.Attempt(e.AttemptID())
	if !ok || status != model.AttemptCompleted {
		t.Fatalf("server status = %s", status)
	}
}

func TestEngineSubmitFailureKeepsAttemptOpen(t *testing.T) {
	srv := examtest.NewServer()
	defer srv.Close()
	srv.SeedUser("s@example.com", "password123", "Student")
	quizID := srv.SeedQuiz("Algebra", 30, engineQuestions())
	srv.FailSubmits(1)

	store := storage.NewMemory()
	client := loggedInClient(t, srv, store)

	e, err := Start(context.Background(), client, store, quizID, Options{}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer e.OnBeforeTeardown()

	e.SetAnswer(context.Background(), "q1", "o2")

	if _, err := e.Submit(context.Background(), TriggerManual); err == nil {
		t.Fatal("first submit should fail")
	}
	waitForEvent(t, e.Events(), EventSubmitFailed)

	if e.State() != StateActive {
		t.Fatalf("state = %v, want active after failure", e.State())
	}
	if v, _ := e.Answer("q1"); v != "o2" {
		t.Fatal("answers must survive a failed submission")
	}

	// Retry succeeds and reuses the same idempotency key.
	if _, err := e.Submit(context.Background(), TriggerManual); err != nil {
		t.Fatalf("retry: %v", err)
	}
	_, _, idemKeys, _ := srv.Attempt(e.AttemptID())
	if len(idemKeys) != 2 || idemKeys[0] != idemKeys[1] {
		t.Fatalf("idempotency keys = %v, want the same key twice", idemKeys)
	}
}

func TestEngineResumesDraftAcrossRestart(t *testing.T) {
	srv := examtest.NewServer()
	defer srv.Close()
	srv.SeedUser("s@example.com", "password123", "Student")
	quizID := srv.SeedQuiz("Algebra", 30, engineQuestions())

	store := storage.NewMemory()
	client := loggedInClient(t, srv, store)

	first, err := Start(context.Background(), client, store, quizID, Options{}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	first.SetAnswer(context.Background(), "q1", "o2")
	first.SetAnswer(context.Background(), "q3", "draft answer")
	first.OnBeforeTeardown()

	// Same durable store, fresh engine: the open attempt and the draft
	// both come back.
	second, err := Start(context.Background(), client, store, quizID, Options{}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer second.OnBeforeTeardown()

	if second.AttemptID() != first.AttemptID() {
		t.Fatal("restart must resume the open attempt")
	}
	if v, _ := second.Answer("q1"); v != "o2" {
		t.Fatalf("q1 = %q after resume", v)
	}
	if v, _ := second.Answer("q3"); v != "draft answer" {
		t.Fatalf("q3 = %q after resume", v)
	}
}

func TestEngineReportsProctoringSignals(t *testing.T) {
	srv := examtest.NewServer()
	defer srv.Close()
	srv.SeedUser("s@example.com", "password123", "Student")
	quizID := srv.SeedQuiz("Algebra", 30, engineQuestions())

	store := storage.NewMemory()
	client := loggedInClient(t, srv, store)

	e, err := Start(context.Background(), client, store, quizID, Options{Monitor: true}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer e.OnBeforeTeardown()

	e.OnVisibilityLost()
	e.OnVisibilityLost()
	e.OnVisibilityRestored()

	deadline := time.Now().Add(5 * time.Second)
	for {
		signals := srv.Signals()
		var lost, resumed int
		for _, sig := range signals {
			switch sig.Action {
			case "visibility_lost":
				lost++
				if sig.Count == 0 {
					t.Fatalf("visibility signal missing count: %+v", sig)
				}
			case "resumed":
				resumed++
			}
		}
		if lost == 2 && resumed == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("signals never arrived: %+v", signals)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
