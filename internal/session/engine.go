package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-client/internal/api"
	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/monitor"
	"github.com/stemsi/exstem-client/internal/storage"
)

// EventType enumerates session lifecycle notifications for the UI shell.
type EventType int

const (
	EventTimeWarning5Min EventType = iota
	EventTimeWarning1Min
	EventTimeExpired
	EventSubmitted
	EventSubmitFailed
)

// Event is one notification delivered on the engine's event channel.
type Event struct {
	Type   EventType
	Result *model.SubmitAttemptResponse
	Err    error
}

// Options tunes optional engine behavior.
type Options struct {
	// Monitor enables the proctoring signal channel.
	Monitor bool
	// HeartbeatEvery is the proctor heartbeat cadence; zero disables it.
	HeartbeatEvery time.Duration
}

// Engine runs one exam attempt: it owns the countdown, the answer store
// and the submission controller, and exposes the narrow surface the UI
// shell drives. The shell is responsible for wiring platform events
// (window focus, process signals) to OnVisibilityLost/OnBeforeTeardown.
type Engine struct {
	client *api.Client
	log    zerolog.Logger

	quizID    string
	quizTitle string
	attemptID string
	deadline  time.Time
	questions []model.AttemptQuestion

	answers *AnswerStore
	timer   *Timer
	sub     *SubmissionController

	reporter      *monitor.Reporter
	monitorCancel context.CancelFunc

	events         chan Event
	visibilityLost atomic.Int32
}

// Start begins (or resumes) an attempt for the quiz and returns a running
// engine: the countdown is ticking and any draft answers are rehydrated,
// preferring the durable slot over the server snapshot.
func Start(ctx context.Context, client *api.Client, store storage.Store, quizID string, opts Options, log zerolog.Logger) (*Engine, error) {
	resp, err := client.StartAttempt(ctx, quizID)
	if err != nil {
		return nil, err
	}

	deadline := resp.Attempt.StartTime.Add(time.Duration(resp.DurationMinutes) * time.Minute)
	if resp.Attempt.EndTime != nil && !resp.Attempt.EndTime.IsZero() {
		deadline = *resp.Attempt.EndTime
	}

	e := &Engine{
		client:    client,
		log:       log.With().Str("component", "session_engine").Str("attempt_id", resp.Attempt.ID).Logger(),
		quizID:    quizID,
		quizTitle: resp.QuizTitle,
		attemptID: resp.Attempt.ID,
		deadline:  deadline,
		questions: resp.Questions,
		events:    make(chan Event, 16),
	}

	e.answers = NewAnswerStore(quizID, resp.Questions, store, log)
	e.answers.Load(ctx, resp.Attempt.Responses)

	send := func(ctx context.Context, req model.SubmitAttemptRequest, idemKey string) (*model.SubmitAttemptResponse, error) {
		return client.SubmitAttempt(ctx, resp.Attempt.ID, req, idemKey)
	}
	e.sub = NewSubmissionController(e.answers, send, uuid.New().String(), log)

	e.timer = NewTimer(deadline, e.onTimerEvent)
	e.timer.Start()

	if opts.Monitor {
		token, _, _ := client.Credentials().AccessToken()
		wsURL := monitor.AttemptMonitorURL(client.BaseURL(), resp.Attempt.ID)
		e.reporter = monitor.NewReporter(wsURL, token, opts.HeartbeatEvery, log)
		monCtx, cancel := context.WithCancel(context.Background())
		e.monitorCancel = cancel
		go e.reporter.Start(monCtx)
	}

	e.log.Info().
		Str("quiz_id", quizID).
		Time("deadline", deadline).
		Int("questions", len(resp.Questions)).
		Msg("Attempt session started")
	return e, nil
}

// Events delivers lifecycle notifications. The channel is never closed;
// consumers stop reading after EventSubmitted.
func (e *Engine) Events() <-chan Event { return e.events }

// Questions returns the ordered question set for this attempt.
func (e *Engine) Questions() []model.AttemptQuestion { return e.questions }

// QuizTitle returns the quiz title for display.
func (e *Engine) QuizTitle() string { return e.quizTitle }

// AttemptID returns the server-issued attempt identifier.
func (e *Engine) AttemptID() string { return e.attemptID }

// Deadline returns the fixed absolute deadline.
func (e *Engine) Deadline() time.Time { return e.deadline }

// Remaining returns whole seconds until the deadline.
func (e *Engine) Remaining() int { return e.timer.Remaining() }

// State returns the submission state machine's current state.
func (e *Engine) State() SubmitState { return e.sub.State() }

// AnsweredCount returns how many questions currently have answers.
func (e *Engine) AnsweredCount() int { return e.answers.Count() }

// Answer returns the stored answer value for a question.
func (e *Engine) Answer(questionID string) (string, bool) { return e.answers.Get(questionID) }

// SetAnswer records an answer (option id for MCQ, free text for
// subjective; empty clears) and persists it durably before returning.
func (e *Engine) SetAnswer(ctx context.Context, questionID, value string) {
	if e.sub.State() != StateActive {
		return
	}
	e.answers.Set(ctx, questionID, value)
}

// Submit finalizes the attempt. Racing triggers collapse: whichever call
// enters first performs the single delivery and the loser is a no-op.
func (e *Engine) Submit(ctx context.Context, trigger SubmitTrigger) (*model.SubmitAttemptResponse, error) {
	resp, err := e.sub.RequestSubmit(ctx, trigger)
	if err != nil {
		if errors.Is(err, ErrSubmitInFlight) || errors.Is(err, ErrAlreadyFinalized) {
			return nil, err
		}
		e.emit(Event{Type: EventSubmitFailed, Err: err})
		return nil, err
	}

	e.timer.Stop()
	e.stopMonitor()
	e.emit(Event{Type: EventSubmitted, Result: resp})
	return resp, nil
}

// OnVisibilityLost is the entry point the UI shell calls when the student
// leaves the exam surface (window blur, terminal detach). It feeds the
// proctoring channel and is otherwise side-effect free.
func (e *Engine) OnVisibilityLost() {
	count := int(e.visibilityLost.Add(1))
	e.log.Debug().Int("count", count).Msg("Visibility lost")
	if e.reporter != nil {
		e.reporter.Report(monitor.Signal{Action: monitor.ActionVisibilityLost, Count: count})
	}
}

// OnVisibilityRestored reports that the student returned to the exam
// surface.
func (e *Engine) OnVisibilityRestored() {
	if e.reporter != nil {
		e.reporter.Report(monitor.Signal{Action: monitor.ActionResumed})
	}
}

// OnBeforeTeardown stops the countdown and the proctor channel without
// touching the durable slot, so a torn-down session can be resumed.
// Advisory cleanup: the submission guard already prevents a stale timer
// from double-submitting.
func (e *Engine) OnBeforeTeardown() {
	e.timer.Stop()
	e.stopMonitor()
}

func (e *Engine) stopMonitor() {
	if e.monitorCancel != nil {
		e.monitorCancel()
	}
}

func (e *Engine) onTimerEvent(ev TimerEvent) {
	switch ev {
	case EventWarning5Min:
		e.emit(Event{Type: EventTimeWarning5Min})
	case EventWarning1Min:
		e.emit(Event{Type: EventTimeWarning1Min})
	case EventExpired:
		e.emit(Event{Type: EventTimeExpired})
		// Expiry submission runs on its own context: the deadline has
		// passed and delivery must not die with a UI context.
		go func() {
			_, err := e.Submit(context.Background(), TriggerTimerExpiry)
			if err != nil && !errors.Is(err, ErrSubmitInFlight) && !errors.Is(err, ErrAlreadyFinalized) {
				e.log.Warn().Err(err).Msg("Expiry submission failed")
			}
		}()
	}
}

func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		e.log.Debug().Int("type", int(ev.Type)).Msg("Event channel full, notification dropped")
	}
}
