package ecs

import (
	"fmt"
)

// ==============================================
// Error Codes
// ==============================================

// Error codes surfaced by the kernel. These are the user-visible labels
// carried by every CoreError; callers match on codes rather than
// message text.
const (
	CodeNotAlive             = "NotAlive"             // handle generation is stale or slot is dead
	CodeNotRegistered        = "NotRegistered"        // type is unknown to the registry
	CodeMissing              = "Missing"              // component bit absent on the entity
	CodeWrongPhase           = "WrongPhase"           // mutation attempted in a read-only phase
	CodeCapacityExceeded     = "CapacityExceeded"     // entity or type capacity exhausted
	CodeStructuralDuringRead = "StructuralDuringRead" // structural mutation while iterators are live
	CodeCycleDetected        = "CycleDetected"        // system ordering graph has a cycle
	CodePolicyInvalid        = "PolicyInvalid"        // execution policy fails validation
	CodePoolExhausted        = "PoolExhausted"        // snapshot pool is at its capacity cap
	CodeStaleView            = "StaleView"            // snapshot lease has hard-expired
	CodeTimeout              = "Timeout"              // module tick exceeded its runtime budget
	CodeCircuitOpen          = "CircuitOpen"          // module circuit breaker is open
	CodeBarrierExpired       = "BarrierExpired"       // time-mode barrier frame already passed
	CodePeerUnreachable      = "PeerUnreachable"      // stepped master cannot reach a slave
	CodeWrongMode            = "WrongMode"            // operation invalid for this time controller
)

// ==============================================
// CoreError
// ==============================================

// CoreError is the error type carried by every failing kernel
// operation. Code identifies the failure class; the remaining fields
// add context for debugging.
type CoreError struct {
	Code    string // one of the Code* constants
	Message string // human-readable description
	Entity  Entity // involved entity, if any
	Type    TypeID // involved component/event type, if any
	hasType bool
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	switch {
	case e.Entity != Nil && e.hasType:
		return fmt.Sprintf("[%s] %s (entity %d/%d, type %d)", e.Code, e.Message, e.Entity.Index(), e.Entity.Generation(), e.Type)
	case e.Entity != Nil:
		return fmt.Sprintf("[%s] %s (entity %d/%d)", e.Code, e.Message, e.Entity.Index(), e.Entity.Generation())
	case e.hasType:
		return fmt.Sprintf("[%s] %s (type %d)", e.Code, e.Message, e.Type)
	default:
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
}

// Is supports errors.Is matching against another CoreError by code.
func (e *CoreError) Is(target error) bool {
	t, ok := target.(*CoreError)
	return ok && t.Code == e.Code
}

// NewError creates a CoreError with the given code and message.
func NewError(code, message string) *CoreError {
	return &CoreError{Code: code, Message: message}
}

// Errorf creates a CoreError with a formatted message.
func Errorf(code, format string, args ...any) *CoreError {
	return &CoreError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithEntity attaches entity context.
func (e *CoreError) WithEntity(entity Entity) *CoreError {
	e.Entity = entity
	return e
}

// WithType attaches type context.
func (e *CoreError) WithType(id TypeID) *CoreError {
	e.Type = id
	e.hasType = true
	return e
}

// ==============================================
// Code Predicates
// ==============================================

// CodeOf returns the code of a CoreError, or "" for other errors.
func CodeOf(err error) string {
	if ce, ok := err.(*CoreError); ok {
		return ce.Code
	}
	return ""
}

// IsNotAlive reports whether err carries CodeNotAlive.
func IsNotAlive(err error) bool { return CodeOf(err) == CodeNotAlive }

// IsNotRegistered reports whether err carries CodeNotRegistered.
func IsNotRegistered(err error) bool { return CodeOf(err) == CodeNotRegistered }

// IsMissing reports whether err carries CodeMissing.
func IsMissing(err error) bool { return CodeOf(err) == CodeMissing }

// IsWrongPhase reports whether err carries CodeWrongPhase.
func IsWrongPhase(err error) bool { return CodeOf(err) == CodeWrongPhase }

// IsCapacityExceeded reports whether err carries CodeCapacityExceeded.
func IsCapacityExceeded(err error) bool { return CodeOf(err) == CodeCapacityExceeded }

// IsCycleDetected reports whether err carries CodeCycleDetected.
func IsCycleDetected(err error) bool { return CodeOf(err) == CodeCycleDetected }

// IsPolicyInvalid reports whether err carries CodePolicyInvalid.
func IsPolicyInvalid(err error) bool { return CodeOf(err) == CodePolicyInvalid }

// IsPoolExhausted reports whether err carries CodePoolExhausted.
func IsPoolExhausted(err error) bool { return CodeOf(err) == CodePoolExhausted }

// IsStaleView reports whether err carries CodeStaleView.
func IsStaleView(err error) bool { return CodeOf(err) == CodeStaleView }

// IsTimeout reports whether err carries CodeTimeout.
func IsTimeout(err error) bool { return CodeOf(err) == CodeTimeout }

// IsCircuitOpen reports whether err carries CodeCircuitOpen.
func IsCircuitOpen(err error) bool { return CodeOf(err) == CodeCircuitOpen }

// IsBarrierExpired reports whether err carries CodeBarrierExpired.
func IsBarrierExpired(err error) bool { return CodeOf(err) == CodeBarrierExpired }

// IsPeerUnreachable reports whether err carries CodePeerUnreachable.
func IsPeerUnreachable(err error) bool { return CodeOf(err) == CodePeerUnreachable }

// IsWrongMode reports whether err carries CodeWrongMode.
func IsWrongMode(err error) bool { return CodeOf(err) == CodeWrongMode }

// ==============================================
// Common Error Constructors
// ==============================================

// ErrNotAlive builds the stale-handle error for an entity.
func ErrNotAlive(entity Entity) *CoreError {
	return Errorf(CodeNotAlive, "entity handle is stale or destroyed").WithEntity(entity)
}

// ErrNotRegistered builds the unknown-type error.
func ErrNotRegistered(id TypeID) *CoreError {
	return Errorf(CodeNotRegistered, "type is not registered").WithType(id)
}

// ErrMissing builds the absent-component error.
func ErrMissing(entity Entity, id TypeID) *CoreError {
	return Errorf(CodeMissing, "component not present on entity").WithEntity(entity).WithType(id)
}

// ErrWrongPhase builds the read-only-phase error.
func ErrWrongPhase(p Phase) *CoreError {
	return Errorf(CodeWrongPhase, "structural mutation forbidden during %s phase", p)
}
