// Package storeerr classifies persistence errors so that callers and the retry
// policy can tell invalid input from backend failures and internal faults.
package storeerr

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// Category represents the origin of a persistence error.
type Category string

const (
	// CategoryUser indicates invalid input: a negative page, a missing id,
	// a malformed filter, or mutating an entity that does not exist.
	CategoryUser Category = "USER"
	// CategoryThirdParty indicates the backend call itself failed.
	CategoryThirdParty Category = "THIRD_PARTY"
	// CategorySystem indicates an internal invariant was violated.
	CategorySystem Category = "SYSTEM"
)

// Error is a categorized persistence error.
type Error struct {
	Category Category
	// Op is the store or table operation that failed, e.g. "memory.saveMessages".
	Op      string
	Message string
	Cause   error
	Details map[string]any
	// notFound marks USER errors raised because a required entity is absent.
	notFound bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(e.Category))
	b.WriteString("] ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Details[k])
		}
		b.WriteString(")")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// With adds a detail to the error.
func (e *Error) With(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// User creates a USER error for the given operation.
func User(op, msg string) *Error {
	return &Error{Category: CategoryUser, Op: op, Message: msg}
}

// Userf creates a USER error with a formatted message.
func Userf(op, format string, args ...any) *Error {
	return &Error{Category: CategoryUser, Op: op, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a USER error for a mutating call whose target does not exist.
func NotFound(op, entity, id string) *Error {
	e := &Error{Category: CategoryUser, Op: op, Message: fmt.Sprintf("%s not found", entity), notFound: true}
	return e.With(entity+"Id", id)
}

// ThirdParty wraps a backend failure.
func ThirdParty(op string, cause error) *Error {
	return &Error{Category: CategoryThirdParty, Op: op, Message: "backend call failed", Cause: cause}
}

// Wrap attributes a failed backend call to the store operation op. kv holds
// alternating detail keys and values, usually the ids involved. USER and
// SYSTEM errors and context errors are returned unchanged.
func Wrap(err error, op string, kv ...any) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var e *Error
	if stderrors.As(err, &e) && e.Category != CategoryThirdParty {
		return err
	}
	wrapped := ThirdParty(op, err)
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			wrapped.With(key, kv[i+1])
		}
	}
	return wrapped
}

// System creates a SYSTEM error.
func System(op, msg string, cause error) *Error {
	return &Error{Category: CategorySystem, Op: op, Message: msg, Cause: cause}
}

// CategoryOf returns the category of the first categorized error in the chain.
// Uncategorized errors are reported as THIRD_PARTY.
func CategoryOf(err error) Category {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Category
	}
	return CategoryThirdParty
}

// IsUser reports whether err is a USER error.
func IsUser(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	return stderrors.As(err, &e) && e.Category == CategoryUser
}

// IsSystem reports whether err is a SYSTEM error.
func IsSystem(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	return stderrors.As(err, &e) && e.Category == CategorySystem
}

// IsNotFound reports whether err was raised for a missing required entity.
func IsNotFound(err error) bool {
	var e *Error
	return stderrors.As(err, &e) && e.notFound
}
