// Package clickerr holds the error kinds surfaced to users. Every failure
// that is the user's to fix carries a Kind so the CLI can pick an exit code
// and a hint without parsing messages.
package clickerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an Error.
type Kind int

const (
	// Configuration covers malformed files, schema violations and conflicting options.
	Configuration Kind = iota + 1
	// Environment covers missing executables and unusable container runtimes.
	Environment
	// Device covers unreachable, ambiguous or timed out devices.
	Device
	// Build covers failures of the wrapped build tools.
	Build
	// Cache covers inconsistent derived image state.
	Cache
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration"
	case Environment:
		return "environment"
	case Device:
		return "device"
	case Build:
		return "build"
	case Cache:
		return "cache"
	default:
		return "unknown"
	}
}

// Error is a user facing failure.
type Error struct {
	Kind Kind
	// Key names the offending configuration key, if any.
	Key string
	// Path names the offending file, if any.
	Path    string
	Message string
	// Hint is a remediation shown after the message.
	Hint string
	Err  error
}

func (e *Error) Error() string {
	var builder strings.Builder
	if e.Path != "" {
		fmt.Fprintf(&builder, "%s: ", e.Path)
	}
	if e.Key != "" {
		fmt.Fprintf(&builder, "%q: ", e.Key)
	}
	builder.WriteString(e.Message)
	if e.Err != nil {
		fmt.Fprintf(&builder, ": %v", e.Err)
	}
	return builder.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Config returns a Configuration error with a formatted message.
func Config(format string, args ...any) *Error {
	return &Error{Kind: Configuration, Message: fmt.Sprintf(format, args...)}
}

// ConfigKey returns a Configuration error naming the offending key.
func ConfigKey(key, format string, args ...any) *Error {
	return &Error{Kind: Configuration, Key: key, Message: fmt.Sprintf(format, args...)}
}

// File returns a Configuration error for an unreadable or invalid file.
func File(path string, err error, format string, args ...any) *Error {
	return &Error{Kind: Configuration, Path: path, Message: fmt.Sprintf(format, args...), Err: err}
}

// Env returns an Environment error with a remediation hint.
func Env(hint, format string, args ...any) *Error {
	return &Error{Kind: Environment, Hint: hint, Message: fmt.Sprintf(format, args...)}
}

// Dev returns a Device error.
func Dev(format string, args ...any) *Error {
	return &Error{Kind: Device, Message: fmt.Sprintf(format, args...)}
}

// CacheErr returns a Cache error wrapping err.
func CacheErr(err error, format string, args ...any) *Error {
	return &Error{Kind: Cache, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithHint sets the remediation hint and returns e.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var clickErr *Error
	if errors.As(err, &clickErr) {
		return clickErr.Kind
	}
	return 0
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HintOf returns the first hint found in err's chain.
func HintOf(err error) string {
	for err != nil {
		var clickErr *Error
		if !errors.As(err, &clickErr) {
			return ""
		}
		if clickErr.Hint != "" {
			return clickErr.Hint
		}
		err = clickErr.Err
	}
	return ""
}
