package errors

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/hdbconnect/hdbconnect-go/driverctx"
	hdberr "github.com/hdbconnect/hdbconnect-go/errors"
)

// Error messages
const (
	// Client side failures detected before any network I/O
	ErrInvalidURL        = "invalid connection URL"
	ErrInvalidURLScheme  = "invalid connection URL: unknown scheme"
	ErrInvalidURLPort    = "invalid connection URL: invalid port"
	ErrMissingHost       = "invalid configuration: missing host"
	ErrMissingCredential = "invalid configuration: missing credentials"
	ErrBadTLSSource      = "invalid TLS configuration"

	// Session lifecycle
	ErrConnectionClosed = "connection is closed"
	ErrAuthFailed       = "authentication failed"

	// Cursor lifecycle
	ErrCursorClosed      = "cursor is closed"
	ErrNoActiveResultSet = "no active result set"
	ErrEmptyProcName     = "procedure name cannot be empty"
	ErrInvalidProcName   = "invalid procedure name"
	ErrProcParams        = "parameterized procedure calls are not supported"

	// Batch streaming
	ErrAlreadyConsumed = "already consumed"

	// Pool
	ErrPoolClosed     = "pool is closed"
	ErrPoolTimeout    = "pool acquire timed out"
	ErrReturnedToPool = "connection returned to pool"
)

type hdbError struct {
	err           error
	kind          hdberr.Kind
	correlationId string
	connectionId  string
}

var _ hdberr.HDBError = (*hdbError)(nil)

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func newHdbError(ctx context.Context, kind hdberr.Kind, msg string, err error) *hdbError {
	if err == nil {
		err = errors.New(msg)
	} else {
		err = errors.WithMessage(err, msg)
	}

	// if the source error does not have a stack trace in its
	// error chain add a stack trace
	var st stackTracer
	if ok := errors.As(err, &st); !ok {
		err = errors.WithStack(err)
	}

	return &hdbError{
		err:           err,
		kind:          kind,
		correlationId: driverctx.CorrelationIdFromContext(ctx),
		connectionId:  driverctx.ConnIdFromContext(ctx),
	}
}

func (e *hdbError) Error() string {
	return fmt.Sprintf("hdb: %s: %s", e.kind, e.err.Error())
}

func (e *hdbError) Kind() hdberr.Kind {
	return e.kind
}

func (e *hdbError) Cause() error {
	return e.err
}

func (e *hdbError) Unwrap() error {
	return e.err
}

func (e *hdbError) StackTrace() errors.StackTrace {
	var st stackTracer
	if ok := errors.As(e.err, &st); ok {
		return st.StackTrace()
	}

	return nil
}

func (e *hdbError) CorrelationId() string {
	return e.correlationId
}

func (e *hdbError) ConnectionId() string {
	return e.connectionId
}

// NewInterfaceError creates a client-side configuration/usage error.
func NewInterfaceError(ctx context.Context, msg string, err error) error {
	return newHdbError(ctx, hdberr.Interface, msg, err)
}

// NewOperationalError creates an error related to the database's operation.
func NewOperationalError(ctx context.Context, msg string, err error) error {
	return newHdbError(ctx, hdberr.Operational, msg, err)
}

// NewProgrammingError creates an invalid-statement-usage error.
func NewProgrammingError(ctx context.Context, msg string, err error) error {
	return newHdbError(ctx, hdberr.Programming, msg, err)
}

// NewDataError creates a value conversion/precision error.
func NewDataError(ctx context.Context, msg string, err error) error {
	return newHdbError(ctx, hdberr.Data, msg, err)
}

// NewNotSupportedError flags a deliberately unimplemented feature.
func NewNotSupportedError(ctx context.Context, msg string) error {
	return newHdbError(ctx, hdberr.NotSupported, msg, nil)
}

// NewInternalError flags an internal inconsistency.
func NewInternalError(ctx context.Context, msg string, err error) error {
	return newHdbError(ctx, hdberr.Internal, msg, err)
}

// serverError wraps an error frame reported by the server.
type serverError struct {
	*hdbError
	code     int32
	sqlState string
}

var _ hdberr.ServerError = (*serverError)(nil)

func (e *serverError) Code() int32 {
	return e.code
}

func (e *serverError) SQLState() string {
	return e.sqlState
}

// NewServerError translates a server-reported error to the nearest taxonomy
// member, preserving the server's message text. The code ranges follow the
// server's error catalogue: constraint violations, statement errors and
// conversion errors have stable numeric codes, everything else is treated
// as operational.
func NewServerError(ctx context.Context, code int32, sqlState string, msg string) error {
	var kind hdberr.Kind
	switch {
	case (code >= 301 && code <= 303) || code == 461:
		kind = hdberr.Integrity
	case code == 257 || (code >= 260 && code <= 263):
		kind = hdberr.Programming
	case (code >= 304 && code <= 306) || code == 411 || code == 412:
		kind = hdberr.Data
	default:
		kind = hdberr.Operational
	}

	return &serverError{
		hdbError: newHdbError(ctx, kind, msg, nil),
		code:     code,
		sqlState: sqlState,
	}
}

// WrapErr wraps an error and adds a stack trace if not already present.
func WrapErr(err error, msg string) error {
	var st stackTracer
	if ok := errors.As(err, &st); ok {
		return errors.WithMessage(err, msg)
	}

	return errors.Wrap(err, msg)
}

// WrapErrf wraps an error with a formatted message and adds a stack trace
// if not already present.
func WrapErrf(err error, format string, args ...interface{}) error {
	var st stackTracer
	if ok := errors.As(err, &st); ok {
		return errors.WithMessagef(err, format, args...)
	}

	return errors.Wrapf(err, format, args...)
}
