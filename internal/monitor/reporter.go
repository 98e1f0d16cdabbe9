package monitor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Reporter streams proctoring signals for one attempt over a WebSocket.
// It is strictly best-effort: connection failures, full queues and write
// errors degrade to silence, never into the exam session. Signals are
// queued and flushed by a background goroutine; the queue is drained on
// shutdown.
type Reporter struct {
	wsURL          string
	token          string
	heartbeatEvery time.Duration
	log            zerolog.Logger

	queue chan Signal
}

// AttemptMonitorURL derives the monitor WebSocket URL for an attempt from
// the API base URL.
func AttemptMonitorURL(apiBaseURL, attemptID string) string {
	base := strings.TrimRight(apiBaseURL, "/")
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return fmt.Sprintf("%s/ws/exam/attempts/%s/monitor", base, url.PathEscape(attemptID))
}

// NewReporter builds a reporter for one attempt. token authenticates the
// dial via the Authorization header; heartbeatEvery of zero disables
// periodic heartbeats.
func NewReporter(wsURL, token string, heartbeatEvery time.Duration, log zerolog.Logger) *Reporter {
	return &Reporter{
		wsURL:          wsURL,
		token:          token,
		heartbeatEvery: heartbeatEvery,
		log:            log.With().Str("component", "monitor_reporter").Logger(),
		queue:          make(chan Signal, 64),
	}
}

// Report enqueues a signal. Never blocks; when the queue is full the
// signal is dropped.
func (r *Reporter) Report(sig Signal) {
	if sig.At.IsZero() {
		sig.At = time.Now()
	}
	select {
	case r.queue <- sig:
	default:
		r.log.Debug().Str("action", string(sig.Action)).Msg("Monitor queue full, signal dropped")
	}
}

// Start runs the send loop until ctx is canceled, reconnecting with a flat
// backoff. Call in a goroutine.
func (r *Reporter) Start(ctx context.Context) {
	r.log.Info().Msg("Monitor started")

	for {
		conn, err := r.dial(ctx)
		if err != nil {
			r.log.Debug().Err(err).Msg("Monitor dial failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
				continue
			}
		}

		err = r.pump(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			r.log.Info().Msg("Monitor stopped")
			return
		}
		r.log.Debug().Err(err).Msg("Monitor connection lost, reconnecting")
	}
}

func (r *Reporter) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if r.token != "" {
		header.Set("Authorization", "Bearer "+r.token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, r.wsURL, header)
	return conn, err
}

// pump sends queued signals until the context ends or a write fails.
func (r *Reporter) pump(ctx context.Context, conn *websocket.Conn) error {
	var heartbeat <-chan time.Time
	if r.heartbeatEvery > 0 {
		ticker := time.NewTicker(r.heartbeatEvery)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			r.drain(conn)
			return ctx.Err()
		case <-heartbeat:
			if err := writeSignal(conn, Signal{Action: ActionHeartbeat, At: time.Now()}); err != nil {
				return err
			}
		case sig := <-r.queue:
			if err := writeSignal(conn, sig); err != nil {
				// Push back for the next connection.
				select {
				case r.queue <- sig:
				default:
				}
				return err
			}
		}
	}
}

// drain flushes whatever is still queued before shutdown.
func (r *Reporter) drain(conn *websocket.Conn) {
	for {
		select {
		case sig := <-r.queue:
			if err := writeSignal(conn, sig); err != nil {
				return
			}
		default:
			return
		}
	}
}

func writeSignal(conn *websocket.Conn, sig Signal) error {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(sig)
}
