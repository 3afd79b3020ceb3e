package errutil

import "fmt"

// Detail points a client at the specific input that failed.
type Detail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// BaseError is the one error shape that crosses the HTTP boundary.
// Handlers push it onto the gin context and the error middleware
// renders the envelope.
type BaseError struct {
	Code    CoreStatus `json:"code"`
	Message string     `json:"message"`
	Details []Detail   `json:"details,omitempty"`
	Err     error      `json:"-"`
}

func (e BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e BaseError) Unwrap() error { return e.Err }

func (e BaseError) Status() CoreStatus { return e.Code }

type envelope struct {
	Code    CoreStatus `json:"code"`
	Message string     `json:"message"`
	Details []Detail   `json:"details"`
}

// JSON returns the wire form: {"error": {code, message, details}}.
func (e BaseError) JSON() interface{} {
	return map[string]interface{}{
		"error": envelope{Code: e.Code, Message: e.Message, Details: e.Details},
	}
}

type Option func(*BaseError)

func WithDetails(details ...Detail) Option {
	return func(e *BaseError) { e.Details = details }
}

func WithErr(err error) Option {
	return func(e *BaseError) { e.Err = err }
}

func New(code CoreStatus, message string, opts ...Option) error {
	e := BaseError{Code: code, Message: message}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

func BadRequest(msg string, opts ...Option) error { return New(StatusBadRequest, msg, opts...) }

func Unauthorized(msg string, opts ...Option) error { return New(StatusUnauthorized, msg, opts...) }

func Forbidden(msg string, opts ...Option) error { return New(StatusForbidden, msg, opts...) }

func NotFound(msg string, opts ...Option) error { return New(StatusNotFound, msg, opts...) }

func Conflict(msg string, opts ...Option) error { return New(StatusConflict, msg, opts...) }

func UnprocessableEntity(msg string, opts ...Option) error {
	return New(StatusUnprocessableEntity, msg, opts...)
}

func ValidationFailed(msg string, opts ...Option) error {
	return New(StatusValidationFailed, msg, opts...)
}

func Internal(msg string, opts ...Option) error { return New(StatusInternal, msg, opts...) }
