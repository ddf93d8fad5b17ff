package engine

import "fmt"

// NotReadyError signals that the store's remote-backed layer has not
// finished initializing. Always absorbed by the orchestrator, never
// surfaced to callers.
type NotReadyError struct{}

func (e *NotReadyError) Error() string {
	return "file store not ready"
}

// SyntaxError is a transform failure with a known source position. Engine
// generations that report positions let the orchestrator attach a source
// excerpt; the message itself is returned verbatim either way.
type SyntaxError struct {
	Message string
	Line    int // 1-based
	Column  int // 1-based
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s (%d:%d)", e.Message, e.Line, e.Column)
}

// TransformError is any other engine failure: returned to the caller
// verbatim.
type TransformError struct {
	Message string
}

func (e *TransformError) Error() string {
	return e.Message
}
