package messaging

import (
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/alem-hub/class-grouper/internal/domain/shared"
	"github.com/alem-hub/class-grouper/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// WIRE FORMAT
// ══════════════════════════════════════════════════════════════════════════════

// GroupRequest asks for a grouping of either inline students or a stored
// roster. Field names match the HTTP API.
type GroupRequest struct {
	Students  []student.Record `json:"students,omitempty"`
	RosterID  string           `json:"rosterId,omitempty"`
	GroupSize int              `json:"groupSize"`
}

// GroupReply carries either groups or an error.
type GroupReply struct {
	Groups [][]student.Record `json:"groups,omitempty"`
	Error  *ReplyError        `json:"error,omitempty"`
}

// Error codes carried in ReplyError.Code.
const (
	CodeInvalidArgument = "invalid_argument"
	CodeNotFound        = "not_found"
	CodeUnavailable     = "unavailable"
	CodeInternal        = "internal_error"
)

// ReplyError describes a failed request.
type ReplyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements error.
func (e *ReplyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is lets callers match remote errors against the domain error kinds.
func (e *ReplyError) Is(target error) bool {
	switch e.Code {
	case CodeInvalidArgument:
		return target == shared.ErrInvalidArgument
	case CodeNotFound:
		return target == shared.ErrNotFound
	case CodeUnavailable:
		return target == shared.ErrServiceUnavailable
	}
	return false
}

// replyErrorFor maps an error to its wire form. Internal error details are
// not sent to callers.
func replyErrorFor(err error) *ReplyError {
	switch {
	case shared.IsInvalidArgument(err):
		return &ReplyError{Code: CodeInvalidArgument, Message: err.Error()}
	case shared.IsNotFound(err):
		return &ReplyError{Code: CodeNotFound, Message: err.Error()}
	case errors.Is(err, shared.ErrServiceUnavailable):
		return &ReplyError{Code: CodeUnavailable, Message: err.Error()}
	default:
		return &ReplyError{Code: CodeInternal, Message: "grouping failed"}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TRACE PROPAGATION
// ══════════════════════════════════════════════════════════════════════════════

// headerCarrier adapts nats.Msg headers for the OTel TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// HeaderRequestID carries the caller's request ID.
const HeaderRequestID = "X-Request-ID"
