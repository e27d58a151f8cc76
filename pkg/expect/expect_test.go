package expect

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport replays scripted output. Chunks queued with feed are
// returned one per TryRead, mimicking partial reads from a real shell.
// WriteLine can trigger a scripted response, mimicking an appliance that
// answers a command.
type fakeTransport struct {
	mu        sync.Mutex
	chunks    [][]byte
	responses map[string][]string
	writes    []string
	writeErr  error
	closed    int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{responses: make(map[string][]string)}
}

func (f *fakeTransport) feed(chunks ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range chunks {
		f.chunks = append(f.chunks, []byte(c))
	}
}

func (f *fakeTransport) respond(line string, chunks ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[line] = chunks
}

func (f *fakeTransport) TryRead() ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.chunks) == 0 {
		return nil, false
	}
	chunk := f.chunks[0]
	f.chunks = f.chunks[1:]
	return chunk, true
}

func (f *fakeTransport) WriteLine(line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, line)
	for _, c := range f.responses[line] {
		f.chunks = append(f.chunks, []byte(c))
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeTransport) sentLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.writes))
	copy(out, f.writes)
	return out
}

func TestAwaitMatchesMarkerSplitAcrossReads(t *testing.T) {
	tr := newFakeTransport()
	tr.feed("nac-ppan/adm", "in# ")

	m := &Matcher{Poll: 5 * time.Millisecond}
	res := m.Await(tr, "nac-ppan/admin#", time.Second)

	assert.True(t, res.Matched)
	assert.Contains(t, res.Output, "nac-ppan/admin#")
	assert.Less(t, res.Elapsed, time.Second)
}

func TestAwaitMatchesMarkerQueuedBeforeCall(t *testing.T) {
	tr := newFakeTransport()
	// The marker arrived before Await started; it must still be seen
	// because it sits unread in the transport until the first poll.
	tr.feed("login banner\nnac-ppan/admin# ")

	m := &Matcher{Poll: 5 * time.Millisecond}
	res := m.Await(tr, "nac-ppan/admin#", time.Second)

	assert.True(t, res.Matched)
}

func TestAwaitTimesOutWhenMarkerNeverAppears(t *testing.T) {
	tr := newFakeTransport()
	tr.feed("some unrelated output")

	poll := 10 * time.Millisecond
	timeout := 80 * time.Millisecond
	m := &Matcher{Poll: poll}

	res := m.Await(tr, "never-seen-marker", timeout)

	assert.False(t, res.Matched)
	// Never early; never unbounded. Generous upper slack for scheduler
	// jitter, the contract is timeout plus roughly one poll interval.
	assert.GreaterOrEqual(t, res.Elapsed, timeout)
	assert.Less(t, res.Elapsed, timeout+10*poll)
	// Partial output is retained for diagnostics.
	assert.Contains(t, res.Output, "unrelated")
}

func TestAwaitDoesNotMatchAcrossCalls(t *testing.T) {
	tr := newFakeTransport()
	tr.feed("nac-ppan/admin# ")

	m := &Matcher{Poll: 5 * time.Millisecond}
	first := m.Await(tr, "nac-ppan/admin#", time.Second)
	require.True(t, first.Matched)

	// The buffer is per call: the prompt consumed above must not satisfy
	// a second wait for the same marker.
	second := m.Await(tr, "nac-ppan/admin#", 50*time.Millisecond)
	assert.False(t, second.Matched)
}

func TestStepValidate(t *testing.T) {
	assert.Error(t, Step{Name: "bad", Expect: "", Timeout: time.Second}.Validate())
	assert.Error(t, Step{Name: "bad", Expect: "x", Timeout: 0}.Validate())
	assert.NoError(t, Step{Name: "ok", Expect: "x", Timeout: time.Second}.Validate())
}

func TestRunSequenceSuccess(t *testing.T) {
	tr := newFakeTransport()
	tr.feed("nac-ppan/admin# ")
	tr.respond("application configure nac", "Selection configuration option: ")
	tr.respond("16", "Starting to generate All Endpoints report\n", "Completed generating All Endpoints report\n")

	steps := []Step{
		{Name: "initial-prompt", Expect: "nac-ppan/admin#", Timeout: time.Second},
		{Name: "open-menu", Send: "application configure nac", Expect: "Selection configuration option", Timeout: time.Second},
		{Name: "generate-report", Send: "16", Expect: "Completed generating All Endpoints report", Timeout: time.Second},
	}

	m := &Matcher{Poll: 5 * time.Millisecond}
	outcome := m.RunSequence(tr, steps)

	assert.True(t, outcome.Success)
	assert.Equal(t, -1, outcome.FailedStep)
	assert.Equal(t, []string{"application configure nac", "16"}, tr.sentLines())
}

func TestRunSequenceFailFast(t *testing.T) {
	tr := newFakeTransport()
	tr.feed("nac-ppan/admin# ")
	// The menu command answers with something that never contains the
	// expected marker, so step B must fail and step C never runs.
	tr.respond("application configure nac", "% unknown command\n")

	steps := []Step{
		{Name: "initial-prompt", Expect: "nac-ppan/admin#", Timeout: time.Second},
		{Name: "open-menu", Send: "application configure nac", Expect: "Selection configuration option", Timeout: 50 * time.Millisecond},
		{Name: "generate-report", Send: "16", Expect: "Completed", Timeout: time.Second},
	}

	m := &Matcher{Poll: 5 * time.Millisecond}
	outcome := m.RunSequence(tr, steps)

	require.False(t, outcome.Success)
	assert.Equal(t, 1, outcome.FailedStep)
	assert.Equal(t, "open-menu", outcome.FailedName)
	assert.Contains(t, outcome.Reason, "Selection configuration option")
	assert.Contains(t, outcome.Output, "unknown command")
	assert.NotContains(t, tr.sentLines(), "16")
}

func TestRunSequenceRejectsInvalidStepBeforeWriting(t *testing.T) {
	tr := newFakeTransport()

	steps := []Step{
		{Name: "broken", Send: "do-something", Expect: "", Timeout: time.Second},
	}

	m := &Matcher{Poll: 5 * time.Millisecond}
	outcome := m.RunSequence(tr, steps)

	require.False(t, outcome.Success)
	assert.Equal(t, 0, outcome.FailedStep)
	assert.Empty(t, tr.sentLines(), "an invalid step must not reach the transport")
}

func TestRunSequenceReportsWriteFailure(t *testing.T) {
	tr := newFakeTransport()
	tr.writeErr = errors.New("broken pipe")

	steps := []Step{
		{Name: "open-menu", Send: "application configure nac", Expect: "option", Timeout: time.Second},
	}

	m := &Matcher{Poll: 5 * time.Millisecond}
	outcome := m.RunSequence(tr, steps)

	require.False(t, outcome.Success)
	assert.Equal(t, 0, outcome.FailedStep)
	assert.Contains(t, outcome.Reason, "broken pipe")
}
