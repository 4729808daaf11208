package data

import (
	"context"
	stderrors "errors"

	"github.com/pkg/errors"
)

// Error kinds. Every error returned by this package matches exactly one of
// them with errors.Is, and still unwraps to its underlying cause.
var (
	// ErrConfiguration: mismatched manifests, unknown enumerations, frame
	// parameters that do not fit the feature width. Fatal at construction.
	ErrConfiguration = stderrors.New("configuration error")
	// ErrIO: missing, truncated or corrupt feature files. Fatal for the batch.
	ErrIO = stderrors.New("io error")
	// ErrPrecondition: empty index subsets, empty corpora.
	ErrPrecondition = stderrors.New("precondition violated")
)

// kindError attaches a kind sentinel to a wrapped cause.
type kindError struct {
	kind error
	err  error
}

func (e *kindError) Error() string   { return e.err.Error() }
func (e *kindError) Unwrap() []error { return []error{e.kind, e.err} }

func configErrorf(format string, args ...any) error {
	return &kindError{kind: ErrConfiguration, err: errors.Errorf(format, args...)}
}

func preconditionErrorf(format string, args ...any) error {
	return &kindError{kind: ErrPrecondition, err: errors.Errorf(format, args...)}
}

func ioErrorf(format string, args ...any) error {
	return &kindError{kind: ErrIO, err: errors.Errorf(format, args...)}
}

// wrapIO marks err as an I/O failure, keeping it as the cause.
func wrapIO(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: ErrIO, err: errors.Wrapf(err, format, args...)}
}

func wrapConfig(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: ErrConfiguration, err: errors.Wrapf(err, format, args...)}
}

// WrapConfig marks err as a configuration error. Other packages use it for
// failures that should classify like this package's own config errors.
func WrapConfig(err error, format string, args ...any) error {
	return wrapConfig(err, format, args...)
}

// ConfigErrorf builds a configuration error from a message.
func ConfigErrorf(format string, args ...any) error {
	return configErrorf(format, args...)
}

// Code is a short error classification used in log lines and exit messages.
type Code string

const (
	CodeUnknown      Code = "unknown"
	CodeConfig       Code = "config"
	CodeIO           Code = "io"
	CodePrecondition Code = "precondition"
	CodeCancel       Code = "cancel"
)

// Classify maps an error onto its Code. It only looks at sentinels.
func Classify(err error) Code {
	switch {
	case err == nil:
		return CodeUnknown
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCancel
	case errors.Is(err, ErrConfiguration):
		return CodeConfig
	case errors.Is(err, ErrPrecondition):
		return CodePrecondition
	case errors.Is(err, ErrIO):
		return CodeIO
	default:
		return CodeUnknown
	}
}
