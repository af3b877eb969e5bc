// Package skerr provides an error type that includes stack trace information
// about where the error was first wrapped or created. Errors should be
// wrapped at every return point so the full chain of calls is recoverable:
//
//	if err := doSomething(); err != nil {
//	    return skerr.Wrap(err)
//	}
//
// Use Fmt to create a new error and Wrapf to add context to an existing one.
package skerr

import (
	"fmt"
	"runtime"
	"strings"
)

// StackTrace identifies a filename (base filename only) and line number.
type StackTrace struct {
	File string
	Line int
}

func (st StackTrace) String() string {
	return fmt.Sprintf("%s:%d", st.File, st.Line)
}

// CallStack returns a slice of StackTrace representing the current stack
// trace. The lines returned start at the depth specified by startAt: 0 means
// the call to CallStack itself, 1 means CallStack's caller, and so on. The
// slice has length at most height.
func CallStack(height, startAt int) []StackTrace {
	stack := make([]StackTrace, 0, height)
	for i := 0; i < height; i++ {
		_, file, line, ok := runtime.Caller(startAt + i)
		if !ok {
			break
		}
		parts := strings.Split(file, "/")
		stack = append(stack, StackTrace{
			File: parts[len(parts)-1],
			Line: line,
		})
	}
	return stack
}

// ErrorWithContext is an error plus the stack where it was created or
// wrapped and any additional context messages added along the way.
type ErrorWithContext struct {
	// Wrapped is the original error, never nil.
	Wrapped error
	// CallStack is the stack at the point the original error was first
	// wrapped, with the wrapping callsite first.
	CallStack []StackTrace
	// Message is optional context prepended to the wrapped error text.
	Message string
}

func (e *ErrorWithContext) Error() string {
	var sb strings.Builder
	if e.Message != "" {
		sb.WriteString(e.Message)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Wrapped.Error())
	if len(e.CallStack) > 0 {
		sb.WriteString(". At")
		for _, st := range e.CallStack {
			sb.WriteString(" ")
			sb.WriteString(st.String())
		}
	}
	return sb.String()
}

// Unwrap supports errors.Is and errors.As.
func (e *ErrorWithContext) Unwrap() error {
	return e.Wrapped
}

const callStackHeight = 6

// Wrap adds stack trace information to err, if not already present. Returns
// nil if err is nil so it can be used directly on return values.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*ErrorWithContext); ok {
		return err
	}
	return &ErrorWithContext{
		Wrapped:   err,
		CallStack: CallStack(callStackHeight, 2),
	}
}

// Unwrap returns the original error if err is an ErrorWithContext, otherwise
// err unchanged.
func Unwrap(err error) error {
	if wrapped, ok := err.(*ErrorWithContext); ok {
		return wrapped.Wrapped
	}
	return err
}

// Fmt creates a new error with stack trace information, formatting the
// message as fmt.Errorf does.
func Fmt(format string, args ...interface{}) error {
	return &ErrorWithContext{
		Wrapped:   fmt.Errorf(format, args...),
		CallStack: CallStack(callStackHeight, 2),
	}
}

// Wrapf adds context and stack trace information to err. Returns nil if err
// is nil. Unlike Wrap, Wrapf always records the current callsite, so context
// accumulates when errors pass through multiple layers.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &ErrorWithContext{
		Wrapped:   err,
		CallStack: CallStack(callStackHeight, 2),
		Message:   fmt.Sprintf(format, args...),
	}
}
