package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job id is unknown
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotCompleted is returned when an operation needs a completed job
	ErrJobNotCompleted = errors.New("job not completed yet")

	// ErrTerminalState is returned when writing over a job that already reached a terminal state
	ErrTerminalState = errors.New("job already in terminal state")

	// ErrNoFiles is returned for an empty submission
	ErrNoFiles = errors.New("no files uploaded")

	// ErrTooManyFiles is returned when a batch exceeds its file cap
	ErrTooManyFiles = errors.New("too many files in batch")

	// ErrUnsupportedFileType is returned when an extension is not in the allow-list
	ErrUnsupportedFileType = errors.New("unsupported file type")

	// ErrFileTooLarge is returned when a file exceeds the configured size limit
	ErrFileTooLarge = errors.New("file too large")

	// ErrUnsupportedFormat is returned for an unknown export format
	ErrUnsupportedFormat = errors.New("unsupported export format")

	// ErrNoEvents is returned when a calculation receives no events
	ErrNoEvents = errors.New("no events provided")

	// ErrNoExportEvents is returned when neither the request nor the job carries events
	ErrNoExportEvents = errors.New("no events found")

	// ErrMissingAPIKey is returned by the enhanced extraction path when no capability token is configured
	ErrMissingAPIKey = errors.New("enhanced processing requires an API key")

	// ErrQueueClosed is returned when scheduling work on a stopped queue
	ErrQueueClosed = errors.New("task queue closed")
)

// ValidationError is a client error with a message fit for the caller
type ValidationError struct {
	Err     error
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError wraps a sentinel with a caller-facing message
func NewValidationError(err error, format string, args ...any) error {
	return &ValidationError{Err: err, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a client-side validation failure
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, ErrNoFiles) ||
		errors.Is(err, ErrTooManyFiles) ||
		errors.Is(err, ErrUnsupportedFileType) ||
		errors.Is(err, ErrFileTooLarge) ||
		errors.Is(err, ErrUnsupportedFormat) ||
		errors.Is(err, ErrNoEvents)
}
