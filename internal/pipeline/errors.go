package pipeline

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures for callers and stream consumers.
type ErrorKind string

const (
	KindInvalidInput       ErrorKind = "InvalidInput"
	KindConversionFailed   ErrorKind = "ConversionFailed"
	KindSegmentationFailed ErrorKind = "SegmentationFailed"
	KindUploadFailed       ErrorKind = "UploadFailed"
	KindManifestIntegrity  ErrorKind = "ManifestIntegrityError"
	KindTaskNotFound       ErrorKind = "TaskNotFound"
	KindCancelled          ErrorKind = "Cancelled"
	KindInternal           ErrorKind = "Internal"
)

var (
	// ErrTaskExists is returned when creating a task whose id is already present.
	ErrTaskExists = errors.New("task already exists")

	// ErrTaskNotFound is returned for operations against an unknown or swept task id.
	ErrTaskNotFound = errors.New("task not found")
)

// PipelineError wraps a stage failure with its kind and the operation that failed.
type PipelineError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *PipelineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewError constructs a PipelineError for the given kind and operation.
func NewError(kind ErrorKind, op string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the ErrorKind from err, or KindInternal if err carries none.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}
