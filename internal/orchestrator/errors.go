package orchestrator

import (
	"fmt"
	"net/http"
)

// Kind classifies an orchestration failure. It alone decides the HTTP
// status and the public message.
type Kind string

const (
	KindInputFetch     Kind = "InputFetch"
	KindInputNotFound  Kind = "InputNotFound"
	KindInputForbidden Kind = "InputForbidden"
	KindInvalidRequest Kind = "InvalidRequest"
	KindMattingEngine  Kind = "MattingEngine"
	KindPackaging      Kind = "Packaging"
	KindInternal       Kind = "Internal"
)

const (
	msgDownloadFailed = "Failed to download the file"
	msgInputNotFound  = "Input file not found"
	msgProcessing     = "processing failed"
)

var statusTable = map[Kind]int{
	KindInputFetch:     http.StatusBadRequest,
	KindInputNotFound:  http.StatusBadRequest,
	KindInputForbidden: http.StatusBadRequest,
	KindInvalidRequest: http.StatusBadRequest,
	KindMattingEngine:  http.StatusInternalServerError,
	KindPackaging:      http.StatusInternalServerError,
	KindInternal:       http.StatusInternalServerError,
}

var messageTable = map[Kind]string{
	KindInputFetch:     msgDownloadFailed,
	KindInputNotFound:  msgInputNotFound,
	KindInputForbidden: msgInputNotFound,
	KindMattingEngine:  msgProcessing,
	KindPackaging:      msgProcessing,
	KindInternal:       msgProcessing,
}

// StatusFor maps a failure kind to its HTTP status. Unknown kinds are 500.
func StatusFor(kind Kind) int {
	if status, ok := statusTable[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Error is the only error type Run returns.
type Error struct {
	Kind  Kind
	Stage State
	// Detail is caller-facing text for KindInvalidRequest; other kinds use
	// a fixed message so engine internals never leak.
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s at %s: %v", e.Kind, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s at %s: %s", e.Kind, e.Stage, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status returns the HTTP status for this failure.
func (e *Error) Status() int {
	return StatusFor(e.Kind)
}

// PublicMessage returns the text safe to send to the caller.
func (e *Error) PublicMessage() string {
	if e.Kind == KindInvalidRequest && e.Detail != "" {
		return e.Detail
	}
	if msg, ok := messageTable[e.Kind]; ok {
		return msg
	}
	return msgProcessing
}

func invalid(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidRequest, Stage: StateValidating, Detail: fmt.Sprintf(format, args...)}
}
