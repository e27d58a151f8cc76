package expect

import (
	"fmt"
	"time"

	"github.com/nacexportpro/nacexportpro/pkg/logger"
)

// Step is one send/expect/timeout unit of an automation script. Send is
// optional (the first step of a session usually only waits for the login
// prompt); Expect and Timeout are mandatory.
type Step struct {
	Name    string        `json:"name"`
	Send    string        `json:"send,omitempty"`
	Expect  string        `json:"expect"`
	Timeout time.Duration `json:"timeout"`
}

// Validate rejects steps that could never complete.
func (s Step) Validate() error {
	if s.Expect == "" {
		return fmt.Errorf("step %q: expect marker must not be empty", s.Name)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("step %q: timeout must be positive, got %s", s.Name, s.Timeout)
	}
	return nil
}

// Outcome is the terminal result of a whole script run. FailedStep is the
// index of the step that missed its marker, or -1 on success. Output holds
// the partial output observed during the failed wait.
type Outcome struct {
	Success    bool
	FailedStep int
	FailedName string
	Reason     string
	Output     string
}

// RunSequence executes steps in order against the transport: write the
// step's Send line (when set), then wait for its Expect marker. The first
// miss aborts the whole sequence; later steps are never attempted and
// nothing further is written. There are no retries within a step — the
// remote side effects of lines already sent are irreversible, so a timeout
// is reported rather than re-driven.
func (m *Matcher) RunSequence(tr Transport, steps []Step) Outcome {
	for i, step := range steps {
		if err := step.Validate(); err != nil {
			return Outcome{
				FailedStep: i,
				FailedName: step.Name,
				Reason:     err.Error(),
			}
		}

		if step.Send != "" {
			logger.Infof("step %d (%s): sending %q", i, step.Name, step.Send)
			if err := tr.WriteLine(step.Send); err != nil {
				return Outcome{
					FailedStep: i,
					FailedName: step.Name,
					Reason:     fmt.Sprintf("write failed: %v", err),
				}
			}
		}

		logger.Infof("step %d (%s): waiting for %q (timeout %s)", i, step.Name, step.Expect, step.Timeout)
		res := m.Await(tr, step.Expect, step.Timeout)
		if !res.Matched {
			logger.Errorf("step %d (%s): marker %q not seen within %s", i, step.Name, step.Expect, step.Timeout)
			return Outcome{
				FailedStep: i,
				FailedName: step.Name,
				Reason:     fmt.Sprintf("marker %q not seen within %s", step.Expect, step.Timeout),
				Output:     res.Output,
			}
		}
		logger.Infof("step %d (%s): matched after %s", i, step.Name, res.Elapsed.Round(time.Millisecond))
	}

	return Outcome{Success: true, FailedStep: -1}
}
