package monitor

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestAttemptMonitorURL(t *testing.T) {
	cases := []struct {
		name    string
		baseURL string
		want    string
	}{
		{"http", "http://localhost:8050", "ws://localhost:8050/ws/exam/attempts/a-1/monitor"},
		{"https", "https://exam.example.com", "wss://exam.example.com/ws/exam/attempts/a-1/monitor"},
		{"trailing slash", "http://localhost:8050/", "ws://localhost:8050/ws/exam/attempts/a-1/monitor"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := AttemptMonitorURL(tc.baseURL, "a-1"); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestReportNeverBlocksWhenQueueFull(t *testing.T) {
	r := NewReporter("ws://unused", "", 0, zerolog.Nop())
	for i := 0; i < 200; i++ {
		r.Report(Signal{Action: ActionVisibilityLost, Count: i + 1})
	}
	// Reaching here is the assertion: a full queue drops instead of blocking.
}
