// Package errs provides structured error types shared across the engine runtime.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Code identifies a failure category in the runtime's error taxonomy.
type Code string

const (
	// CodeConfiguration indicates a missing or unconvertible configuration key.
	// Fatal during setup; the engine refuses to start.
	CodeConfiguration Code = "configuration"
	// CodeInitialization indicates a failure inside the algorithm's Initialize.
	CodeInitialization Code = "initialization"
	// CodeData indicates a corrupt or unreadable subscription item.
	CodeData Code = "data"
	// CodeOrder indicates an order-level failure (buying power, parameters, tradability).
	CodeOrder Code = "order"
	// CodeRuntime indicates an algorithm callback failure.
	CodeRuntime Code = "runtime"
	// CodeBroker indicates a brokerage-originated failure.
	CodeBroker Code = "broker"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeNotFound indicates a missing resource.
	CodeNotFound Code = "not_found"
	// CodeUnavailable indicates a component is closed or temporarily unavailable.
	CodeUnavailable Code = "unavailable"
)

// E captures structured error information produced across the engine stack.
type E struct {
	Component string
	Code      Code
	Message   string
	Symbol    string
	OrderID   int

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the named component and error code.
func New(component string, code Code, opts ...Option) *E {
	e := &E{
		Component: strings.TrimSpace(component),
		Code:      code,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithSymbol records the instrument the error relates to.
func WithSymbol(symbol string) Option {
	trimmed := strings.TrimSpace(symbol)
	return func(e *E) {
		e.Symbol = trimmed
	}
}

// WithOrderID records the order the error relates to.
func WithOrderID(id int) Option {
	return func(e *E) {
		e.OrderID = id
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	component := strings.TrimSpace(e.Component)
	if component == "" {
		component = "unknown"
	}
	parts = append(parts, "component="+component)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Symbol != "" {
		parts = append(parts, "symbol="+e.Symbol)
	}
	if e.OrderID > 0 {
		parts = append(parts, "order="+strconv.Itoa(e.OrderID))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code Code) bool {
	var envelope *E
	if !errors.As(err, &envelope) {
		return false
	}
	for envelope != nil {
		if envelope.Code == code {
			return true
		}
		next := envelope.Unwrap()
		envelope = nil
		if next == nil {
			return false
		}
		if !errors.As(next, &envelope) {
			return false
		}
	}
	return false
}
