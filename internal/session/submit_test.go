package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/storage"
)

func newTestController(t *testing.T, send SubmitFunc) (*SubmissionController, *AnswerStore, *storage.MemoryStore) {
	t.Helper()
	mem := storage.NewMemory()
	answers := NewAnswerStore("quiz-1", testQuestions(), mem, zerolog.Nop())
	ctrl := NewSubmissionController(answers, send, "idem-1", zerolog.Nop())
	return ctrl, answers, mem
}

func TestSubmitRacingTriggersCollapseToOneDelivery(t *testing.T) {
	ctx := context.Background()

	var mu sync.Mutex
	calls := 0
	entered := make(chan struct{})
	release := make(chan struct{})
	send := func(ctx context.Context, req model.SubmitAttemptRequest, idemKey string) (*model.SubmitAttemptResponse, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		close(entered)
		<-release
		return &model.SubmitAttemptResponse{Status: model.AttemptCompleted}, nil
	}

	ctrl, answers, _ := newTestController(t, send)
	answers.Set(ctx, "q1", "o1")

	firstDone := make(chan error, 1)
	go func() {
		_, err := ctrl.RequestSubmit(ctx, TriggerManual)
		firstDone <- err
	}()

	<-entered
	// Second trigger arrives while the first is on the wire.
	_, err := ctrl.RequestSubmit(ctx, TriggerTimerExpiry)
	if !errors.Is(err, ErrSubmitInFlight) {
		t.Fatalf("racing trigger: got %v, want ErrSubmitInFlight", err)
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Fatalf("winning trigger failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("delivery count = %d, want 1", calls)
	}
}

func TestSubmitFailureReturnsToActiveAndKeepsSlot(t *testing.T) {
	ctx := context.Background()
	send := func(ctx context.Context, req model.SubmitAttemptRequest, idemKey string) (*model.SubmitAttemptResponse, error) {
		return nil, errors.New("upstream down")
	}

	ctrl, answers, mem := newTestController(t, send)
	answers.Set(ctx, "q1", "o1")

	if _, err := ctrl.RequestSubmit(ctx, TriggerManual); err == nil {
		t.Fatal("expected send error")
	}
	if ctrl.State() != StateActive {
		t.Fatalf("state = %v, want active after failure", ctrl.State())
	}
	if _, err := mem.Get(ctx, "quiz_answers_quiz-1"); err != nil {
		t.Fatal("slot must be preserved after a failed submission")
	}
	if _, ok := answers.Get("q1"); !ok {
		t.Fatal("answers must be editable after a failed submission")
	}
}

func TestSubmitSuccessFinalizesAndClearsSlot(t *testing.T) {
	ctx := context.Background()
	var gotIdem string
	var gotResponses []model.AttemptAnswer
	send := func(ctx context.Context, req model.SubmitAttemptRequest, idemKey string) (*model.SubmitAttemptResponse, error) {
		gotIdem = idemKey
		gotResponses = req.Responses
		return &model.SubmitAttemptResponse{Status: model.AttemptCompleted, Score: 1}, nil
	}

	ctrl, answers, mem := newTestController(t, send)
	answers.Set(ctx, "q1", "o2")

	resp, err := ctrl.RequestSubmit(ctx, TriggerTimerExpiry)
	if err != nil {
		t.Fatalf("RequestSubmit: %v", err)
	}
	if resp.Score != 1 {
		t.Fatalf("score = %d, want 1", resp.Score)
	}
	if gotIdem != "idem-1" {
		t.Fatalf("idempotency key = %q, want idem-1", gotIdem)
	}
	if len(gotResponses) != 1 || gotResponses[0].SelectedOptionID != "o2" {
		t.Fatalf("payload = %+v, want the saved answer", gotResponses)
	}
	if ctrl.State() != StateFinalized {
		t.Fatalf("state = %v, want finalized", ctrl.State())
	}
	if _, err := mem.Get(ctx, "quiz_answers_quiz-1"); err == nil {
		t.Fatal("slot must be cleared on success")
	}
}

func TestSubmitAfterFinalizedIsRejectedWithoutNetwork(t *testing.T) {
	ctx := context.Background()
	calls := 0
	send := func(ctx context.Context, req model.SubmitAttemptRequest, idemKey string) (*model.SubmitAttemptResponse, error) {
		calls++
		return &model.SubmitAttemptResponse{Status: model.AttemptCompleted}, nil
	}

	ctrl, _, _ := newTestController(t, send)
	if _, err := ctrl.RequestSubmit(ctx, TriggerManual); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	_, err := ctrl.RequestSubmit(ctx, TriggerManual)
	if !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("got %v, want ErrAlreadyFinalized", err)
	}
	if calls != 1 {
		t.Fatalf("delivery count = %d, want 1", calls)
	}
}

func TestSubmitRetryAfterFailureReusesIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	var keys []string
	fail := true
	send := func(ctx context.Context, req model.SubmitAttemptRequest, idemKey string) (*model.SubmitAttemptResponse, error) {
		keys = append(keys, idemKey)
		if fail {
			fail = false
			return nil, errors.New("flaky")
		}
		return &model.SubmitAttemptResponse{Status: model.AttemptCompleted}, nil
	}

	ctrl, _, _ := newTestController(t, send)
	if _, err := ctrl.RequestSubmit(ctx, TriggerManual); err == nil {
		t.Fatal("first attempt should fail")
	}
	if _, err := ctrl.RequestSubmit(ctx, TriggerManual); err != nil {
		t.Fatalf("retry: %v", err)
	}

	if len(keys) != 2 || keys[0] != keys[1] {
		t.Fatalf("keys = %v, want the same key on both deliveries", keys)
	}
}

func TestSubmitEmptyAnswerSetIsValidPayload(t *testing.T) {
	ctx := context.Background()
	send := func(ctx context.Context, req model.SubmitAttemptRequest, idemKey string) (*model.SubmitAttemptResponse, error) {
		if req.Responses == nil {
			// Snapshot returns an empty, non-nil slice so the payload
			// serializes as [] rather than null.
			return nil, errors.New("nil responses")
		}
		return &model.SubmitAttemptResponse{Status: model.AttemptCompleted}, nil
	}

	ctrl, _, _ := newTestController(t, send)
	if _, err := ctrl.RequestSubmit(ctx, TriggerTimerExpiry); err != nil {
		t.Fatalf("empty submission: %v", err)
	}
}
