package tools

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTool is returned for a facet with no configured tool.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrMalformedPayload is returned when a tool response cannot be decoded.
	ErrMalformedPayload = errors.New("malformed tool payload")
	// ErrToolReported is returned when a tool answers with success=false.
	ErrToolReported = errors.New("tool reported failure")
	// ErrPanic wraps a recovered panic inside a backend call.
	ErrPanic = errors.New("tool backend panicked")
)

// StatusError is returned by HTTP backends for non-2xx responses.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}
