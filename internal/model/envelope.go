// Package model defines the data structures shared by the orchestration core.
package model

// Result is the fail-soft envelope returned by every tool, retrieval and
// memory call. A failed Result carries a normalized message and the zero
// value of T; it never carries a Go error across a component boundary.
type Result[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OK wraps a successful payload.
func OK[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

// Fail builds a failed envelope with the given message.
func Fail[T any](msg string) Result[T] {
	return Result[T]{Success: false, Error: msg}
}

// Value returns the payload and whether the call succeeded.
func (r Result[T]) Value() (T, bool) {
	return r.Data, r.Success
}
