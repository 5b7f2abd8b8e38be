package discovery

import (
	"errors"
	"fmt"

	"github.com/robert-malhotra/go-csw-catalog/pkg/adhoc"
)

var (
	// ErrInvalidRequest classifies failures caused by the request itself.
	ErrInvalidRequest = errors.New("discovery: invalid request")
	// ErrQueryExecution classifies failures raised by the record store.
	ErrQueryExecution = errors.New("discovery: query execution failed")
	// ErrNotFound is returned when a stored query or record cannot be found.
	ErrNotFound = adhoc.ErrNotFound
	// ErrUnsupportedConstruct is returned for constraints the engine refuses
	// to run, such as identifier filters inside stored queries.
	ErrUnsupportedConstruct = adhoc.ErrUnsupportedConstruct
)

// ExceptionCode is an OWS exception code.
type ExceptionCode string

const (
	CodeInvalidParameterValue ExceptionCode = "InvalidParameterValue"
	CodeMissingParameterValue ExceptionCode = "MissingParameterValue"
	CodeOperationNotSupported ExceptionCode = "OperationNotSupported"
	CodeNoApplicableCode      ExceptionCode = "NoApplicableCode"
)

// ServiceError is the structured error returned by the Handler. Kind is one
// of the package sentinels and Err the underlying cause; both take part in
// errors.Is and errors.As.
type ServiceError struct {
	Code    ExceptionCode
	Locator string
	Message string
	Kind    error
	Err     error
}

func (e *ServiceError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("csw: %s", e.Code)
	if e.Locator != "" {
		msg += fmt.Sprintf(" (%s)", e.Locator)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause.
func (e *ServiceError) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func invalidParameter(locator string, err error, format string, args ...any) *ServiceError {
	return &ServiceError{
		Code:    CodeInvalidParameterValue,
		Locator: locator,
		Message: fmt.Sprintf(format, args...),
		Kind:    ErrInvalidRequest,
		Err:     err,
	}
}

func missingParameter(locator string) *ServiceError {
	return &ServiceError{
		Code:    CodeMissingParameterValue,
		Locator: locator,
		Message: "parameter is required",
		Kind:    ErrInvalidRequest,
	}
}

func queryFailed(stage string, err error) *ServiceError {
	return &ServiceError{
		Code:    CodeNoApplicableCode,
		Message: stage,
		Kind:    ErrQueryExecution,
		Err:     err,
	}
}

// adhocFailure maps resolver errors onto the request-level taxonomy. A
// missing stored query or an identifier filter is the caller's problem. A
// failing lookup or a malformed stored template is a query execution failure.
func adhocFailure(id string, err error) *ServiceError {
	switch {
	case errors.Is(err, adhoc.ErrNotFound):
		return invalidParameter("storedQueryId", err, "stored query %q not found", id)
	case errors.Is(err, adhoc.ErrUnsupportedConstruct):
		return &ServiceError{
			Code:    CodeOperationNotSupported,
			Locator: "storedQueryId",
			Message: fmt.Sprintf("stored query %q cannot be executed", id),
			Kind:    ErrInvalidRequest,
			Err:     err,
		}
	default:
		return queryFailed("resolve stored query", err)
	}
}

// Code returns the exception code carried by err, or NoApplicableCode.
func Code(err error) ExceptionCode {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeNoApplicableCode
}

// IsInvalidRequest reports whether err was caused by the request.
func IsInvalidRequest(err error) bool {
	return errors.Is(err, ErrInvalidRequest)
}
