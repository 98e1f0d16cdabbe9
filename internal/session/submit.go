package session

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-client/internal/model"
)

// SubmitTrigger identifies what initiated a submission.
type SubmitTrigger string

const (
	TriggerManual      SubmitTrigger = "manual"
	TriggerTimerExpiry SubmitTrigger = "timer_expiry"
)

// SubmitState is the finalization state machine for one attempt.
type SubmitState int

const (
	// StateActive accepts edits and submission requests.
	StateActive SubmitState = iota
	// StateSubmitting has one submission call in flight.
	StateSubmitting
	// StateFinalized is terminal; the attempt has been delivered.
	StateFinalized
)

func (s SubmitState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateSubmitting:
		return "submitting"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

var (
	// ErrSubmitInFlight means another trigger won the race; the caller
	// should treat this as a no-op, not a failure.
	ErrSubmitInFlight = errors.New("session: submission already in progress")
	// ErrAlreadyFinalized means the attempt was already delivered.
	ErrAlreadyFinalized = errors.New("session: attempt already finalized")
)

// SubmitFunc delivers one submission payload to the server.
type SubmitFunc func(ctx context.Context, req model.SubmitAttemptRequest, idemKey string) (*model.SubmitAttemptResponse, error)

// SubmissionController owns "has this attempt been finalized". It
// arbitrates manual submission against timer expiry and guarantees the
// submission call is issued at most once at a time and delivered at most
// once overall.
type SubmissionController struct {
	answers *AnswerStore
	send    SubmitFunc
	// idemKey is fixed per attempt so every delivery of this attempt —
	// including manual retries after failure — carries the same key.
	idemKey string
	log     zerolog.Logger

	mu    sync.Mutex
	state SubmitState
}

// NewSubmissionController builds a controller in StateActive.
func NewSubmissionController(answers *AnswerStore, send SubmitFunc, idemKey string, log zerolog.Logger) *SubmissionController {
	return &SubmissionController{
		answers: answers,
		send:    send,
		idemKey: idemKey,
		log:     log.With().Str("component", "submission_controller").Logger(),
	}
}

// State returns the current finalization state.
func (c *SubmissionController) State() SubmitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RequestSubmit finalizes the attempt. Allowed only from StateActive; a
// concurrent or repeated call is rejected with ErrSubmitInFlight or
// ErrAlreadyFinalized and performs no network activity. The guard is
// flipped before the call is issued, which is what makes a manual submit
// racing the expiry trigger collapse to exactly one delivery.
//
// On success the durable slot is cleared and the state is Finalized.
// On failure the state returns to Active and the slot is preserved, so a
// manual retry can pick up where this one failed.
func (c *SubmissionController) RequestSubmit(ctx context.Context, trigger SubmitTrigger) (*model.SubmitAttemptResponse, error) {
	c.mu.Lock()
	switch c.state {
	case StateSubmitting:
		c.mu.Unlock()
		return nil, ErrSubmitInFlight
	case StateFinalized:
		c.mu.Unlock()
		return nil, ErrAlreadyFinalized
	}
	c.state = StateSubmitting
	c.mu.Unlock()

	payload := model.SubmitAttemptRequest{Responses: c.answers.Snapshot()}
	c.log.Info().
		Str("trigger", string(trigger)).
		Int("responses", len(payload.Responses)).
		Msg("Submitting attempt")

	resp, err := c.send(ctx, payload, c.idemKey)
	if err != nil {
		c.mu.Lock()
		c.state = StateActive
		c.mu.Unlock()
		c.log.Warn().Err(err).Str("trigger", string(trigger)).Msg("Submission failed, attempt stays open")
		return nil, err
	}

	// Terminal: clear the draft before anything else can observe Finalized
	// alongside a stale slot.
	c.answers.Clear(ctx)
	c.mu.Lock()
	c.state = StateFinalized
	c.mu.Unlock()

	c.log.Info().Str("trigger", string(trigger)).Msg("Attempt finalized")
	return resp, nil
}
