package types

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a pipeline failure.
type ErrorKind string

const (
	KindConfigNotFound       ErrorKind = "ConfigNotFound"
	KindConfigIncomplete     ErrorKind = "ConfigIncomplete"
	KindPrerequisiteMissing  ErrorKind = "PrerequisiteMissing"
	KindBuildFailed          ErrorKind = "BuildFailed"
	KindAuthenticationFailed ErrorKind = "AuthenticationFailed"
	KindPublishFailed        ErrorKind = "PublishFailed"
	KindPartialPublish       ErrorKind = "PartialPublish"
	KindTimeout              ErrorKind = "Timeout"
	KindStatusUnknown        ErrorKind = "StatusUnknown"
)

// Error is the one error type every stage returns. Stage and Step are filled
// in as the error travels outwards; Cause keeps the remote diagnostic.
type Error struct {
	Kind    ErrorKind
	Stage   Stage
	Step    string
	Message string
	Cause   error

	// ImageRef is set on PartialPublish so the operator can retry activation.
	ImageRef string
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Stage != "" {
		b.WriteString(string(e.Stage))
		if e.Step != "" {
			b.WriteString("/" + e.Step)
		}
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": " + e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Stage == "" || t.Stage == e.Stage)
}

// NewError creates an Error of the given kind.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps cause into an Error of the given kind. A context deadline
// anywhere in the chain turns the kind into Timeout.
func WrapError(kind ErrorKind, cause error, format string, args ...interface{}) *Error {
	if errors.Is(cause, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// InStage stamps the stage on err, converting plain errors to Errors of
// fallback kind. Context deadlines become Timeout.
func InStage(err error, stage Stage, fallback ErrorKind) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		cp := *e
		if cp.Stage == "" {
			cp.Stage = stage
		}
		// A partial publish stays partial so the pushed image is not lost.
		if cp.Kind != KindPartialPublish && errors.Is(cp.Cause, context.DeadlineExceeded) {
			cp.Kind = KindTimeout
		}
		return &cp
	}
	wrapped := WrapError(fallback, err, "")
	wrapped.Stage = stage
	return wrapped
}
