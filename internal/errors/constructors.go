package errors

import (
	"fmt"
	"strings"
)

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap constructs a structured error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return New(code, message).WithCause(cause)
}

func ErrUnknownRef(ref string, cause error) *Error {
	return Wrap(UnknownRef, fmt.Sprintf("ref %q does not resolve to a local commit", ref), cause).
		WithData("ref", ref)
}

func ErrRepositoryUnavailable(location string, cause error) *Error {
	return Wrap(RepositoryUnavailable, "repository is not available", cause).
		WithData("repository", location)
}

func ErrToolInvocation(args []string, cause error) *Error {
	return Wrap(ToolInvocationFailure, "git "+strings.Join(args, " "), cause)
}

func ErrInvalidArgument(message string) *Error {
	return New(InvalidArgument, message)
}
