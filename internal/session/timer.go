package session

import (
	"sync"
	"time"
)

// TimerEvent is a threshold crossing raised by the countdown.
type TimerEvent int

const (
	// EventWarning5Min fires once when remaining time reaches 5 minutes.
	EventWarning5Min TimerEvent = iota
	// EventWarning1Min fires once when remaining time reaches 1 minute.
	EventWarning1Min
	// EventExpired fires once when the deadline passes. Terminal: the
	// timer stops ticking afterwards.
	EventExpired
)

const (
	warning5MinThreshold = 300
	warning1MinThreshold = 60
)

// TimerState is the countdown's complete state. Remaining time is never
// stored; it is recomputed from the deadline on every observation so a
// paused process cannot drift the clock.
type TimerState struct {
	Deadline   time.Time
	Warned5Min bool
	Warned1Min bool
	Expired    bool
}

// RemainingSeconds returns whole seconds until the deadline, clamped at 0.
// Partial seconds round up so the display never shows 0 while time is left.
func RemainingSeconds(deadline, now time.Time) int {
	d := deadline.Sub(now)
	if d <= 0 {
		return 0
	}
	secs := int((d + time.Second - 1) / time.Second)
	return secs
}

// Tick advances the state to now and returns the events that crossing
// produced. Pure: same inputs, same outputs, no clock reads.
//
// An already-expired state produces nothing. A deadline in the past
// expires on the first tick without firing warnings.
func Tick(state TimerState, now time.Time) (TimerState, []TimerEvent) {
	if state.Expired {
		return state, nil
	}

	remaining := RemainingSeconds(state.Deadline, now)
	var events []TimerEvent

	if remaining <= 0 {
		state.Expired = true
		events = append(events, EventExpired)
		return state, events
	}

	if remaining <= warning5MinThreshold && !state.Warned5Min {
		state.Warned5Min = true
		events = append(events, EventWarning5Min)
	}
	if remaining <= warning1MinThreshold && !state.Warned1Min {
		state.Warned1Min = true
		events = append(events, EventWarning1Min)
	}
	return state, events
}

// Timer drives TimerState on a 1-second cadence and fans events out to a
// callback. It is owned by exactly one session.
type Timer struct {
	mu    sync.Mutex
	state TimerState

	onEvent func(TimerEvent)
	clock   func() time.Time

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewTimer builds a stopped timer for the given deadline. onEvent is
// invoked from the timer goroutine; it must not block.
func NewTimer(deadline time.Time, onEvent func(TimerEvent)) *Timer {
	return &Timer{
		state:   TimerState{Deadline: deadline},
		onEvent: onEvent,
		clock:   time.Now,
		stopped: make(chan struct{}),
	}
}

// Start begins ticking. The first tick is immediate, so a deadline already
// in the past signals expiry right away.
func (t *Timer) Start() {
	go t.run()
}

func (t *Timer) run() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		if t.tick() {
			return
		}
		select {
		case <-t.stopped:
			return
		case <-ticker.C:
		}
	}
}

// tick advances once and reports whether the timer is done.
func (t *Timer) tick() bool {
	t.mu.Lock()
	next, events := Tick(t.state, t.clock())
	t.state = next
	t.mu.Unlock()

	for _, ev := range events {
		t.onEvent(ev)
	}
	return next.Expired
}

// Remaining returns whole seconds left, derived from the deadline.
func (t *Timer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return RemainingSeconds(t.state.Deadline, t.clock())
}

// State returns a copy of the current timer state.
func (t *Timer) State() TimerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Stop cancels ticking. Safe to call repeatedly and after expiry; stopping
// a finished timer has no side effects.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() { close(t.stopped) })
}
