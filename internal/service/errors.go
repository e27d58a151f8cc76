package service

import (
	"fmt"
)

// ConnectionError means the transport could not be opened or authenticated.
// No script step was attempted and nothing was written to the appliance.
type ConnectionError struct {
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// StepTimeoutError means an expected marker never appeared within its
// timeout. Commands already sent may have taken effect on the appliance;
// the partial output is kept for manual diagnosis.
type StepTimeoutError struct {
	Index  int
	Name   string
	Reason string
	Output string
}

func (e *StepTimeoutError) Error() string {
	return fmt.Sprintf("step %d (%s) failed: %s", e.Index, e.Name, e.Reason)
}

// FileNotFoundError means the script reported completion but the report
// never showed up on the shared filesystem.
type FileNotFoundError struct {
	Path string
}

func (e *FileNotFoundError) Error() string {
	return fmt.Sprintf("report file not found: %s", e.Path)
}

// UploadError means object storage rejected the publish (or could not be
// reached during preflight).
type UploadError struct {
	Object string
	Err    error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload of %s failed: %v", e.Object, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }
