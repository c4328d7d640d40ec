package process

import (
	"errors"
	"fmt"
)

// ConfigurationError is raised for topology mismatches and queue-usage
// conflicts detected at construction or at the first offending call:
// publishing with zero or ambiguous output queues, consuming with zero or
// ambiguous input queues, checking fullness/emptiness of a queue that was
// never declared. It is never retried by the supervisor.
type ConfigurationError struct {
	msg string
}

func (e *ConfigurationError) Error() string { return e.msg }

func configErrorf(format string, args ...any) error {
	return &ConfigurationError{msg: fmt.Sprintf(format, args...)}
}

// IsConfigurationError reports whether err (or one it wraps) is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// ErrReplyBufferOverflow is returned by WaitResponse when more than 50
// unclaimed replies have accumulated in a worker's local buffer — a protocol
// violation treated as a fatal error for that worker, matching the source
// framework's RPC overflow handling.
var ErrReplyBufferOverflow = errors.New("process: reply buffer overflow (more than 50 unclaimed responses)")
