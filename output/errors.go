package output

import "github.com/pkg/errors"

var (
	// ErrUnknownOutput is returned for an output id the Manager does not have.
	ErrUnknownOutput = errors.New("unknown output")
	// ErrMinOffActive is returned when an output is asked to turn on before its minimum off time
	// elapsed.
	ErrMinOffActive = errors.New("output is within its minimum off duration")
	// ErrUnsupported is returned for a command the output model cannot execute.
	ErrUnsupported = errors.New("output does not support this command")
)
