package expect

import (
	"strings"
	"time"

	"github.com/nacexportpro/nacexportpro/pkg/logger"
)

// DefaultPollInterval is the sleep between availability checks. Appliance
// menus respond on a human timescale, so 100ms keeps latency low without
// busy-spinning.
const DefaultPollInterval = 100 * time.Millisecond

// StepResult is the outcome of one wait: whether the marker appeared, how
// long the wait took, and everything read during it (kept for diagnostics
// when the marker never showed up).
type StepResult struct {
	Matched bool
	Elapsed time.Duration
	Output  string
}

// Matcher waits for literal markers in a Transport's output stream.
type Matcher struct {
	// Poll overrides DefaultPollInterval when > 0. Tests use a short poll.
	Poll time.Duration
}

// Await reads from the transport until marker appears anywhere in the
// output collected since the call began, or until timeout elapses.
//
// The buffer is scoped to this call: output consumed by an earlier Await
// cannot satisfy a later one, while bytes that arrived before this call
// are still seen because they remain queued in the transport until drained
// here. The marker may span chunk boundaries; matching is plain substring
// search over the accumulated buffer, not line-bounded.
//
// On a miss, Await returns no earlier than timeout and no later than one
// poll interval past it.
func (m *Matcher) Await(tr Transport, marker string, timeout time.Duration) StepResult {
	poll := m.Poll
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	start := time.Now()
	deadline := start.Add(timeout)
	var buf strings.Builder

	for {
		for {
			chunk, ok := tr.TryRead()
			if !ok {
				break
			}
			buf.Write(chunk)
			logger.Debugf("received: %s", strings.TrimSpace(string(chunk)))
		}

		if strings.Contains(buf.String(), marker) {
			return StepResult{Matched: true, Elapsed: time.Since(start), Output: buf.String()}
		}

		if !time.Now().Before(deadline) {
			return StepResult{Matched: false, Elapsed: time.Since(start), Output: buf.String()}
		}
		time.Sleep(poll)
	}
}
