package errors

import "github.com/pkg/errors"

// Kind identifies the category of a driver error. The categories mirror
// the standard database-client taxonomy: Interface covers client-side
// failures detected before any server interaction, every other kind is a
// database error.
type Kind int

const (
	// Interface indicates a client-side problem: malformed connection URL,
	// bad TLS source configuration, invalid pool settings.
	Interface Kind = iota

	// Operational indicates a failure related to the database's operation:
	// connection dropped, authentication failed, operation on a closed
	// session/cursor, pool acquisition timeout.
	Operational

	// Programming indicates invalid statement usage: malformed procedure
	// name, re-consuming an exhausted batch stream.
	Programming

	// Integrity indicates a server-reported constraint violation.
	Integrity

	// Data indicates a value conversion or precision failure.
	Data

	// NotSupported indicates a deliberately unimplemented feature.
	NotSupported

	// Internal indicates an internal inconsistency in the driver or server.
	Internal
)

func (k Kind) String() string {
	switch k {
	case Interface:
		return "interface error"
	case Operational:
		return "operational error"
	case Programming:
		return "programming error"
	case Integrity:
		return "integrity error"
	case Data:
		return "data error"
	case NotSupported:
		return "not supported"
	case Internal:
		return "internal error"
	}
	return "unknown error"
}

// HDBError is the interface implemented by every error returned by the
// driver. Matching on Kind replaces exception-class checks.
type HDBError interface {
	error

	// Kind returns the error category.
	Kind() Kind

	// ConnectionId returns the id of the connection the error occurred on.
	// May be empty. Appears in log messages as field connId.
	ConnectionId() string

	// CorrelationId returns the user supplied id tracking a request.
	// May be empty. Appears in log messages as field corrId.
	// See driverctx.NewContextWithCorrelationId()
	CorrelationId() string

	// StackTrace associated with the error. May be nil.
	StackTrace() errors.StackTrace

	// Cause returns the underlying causative error. May be nil.
	Cause() error
}

// ServerError carries the extra detail reported by the server for errors
// raised after a statement was accepted.
type ServerError interface {
	HDBError

	// Code returns the server error code.
	Code() int32

	// SQLState returns the five byte SQL state reported by the server.
	SQLState() string
}

// KindOf returns the Kind of err and true if err (or any error in its
// chain) is a driver error.
func KindOf(err error) (Kind, bool) {
	var he HDBError
	if errors.As(err, &he) {
		return he.Kind(), true
	}
	return 0, false
}

// Is reports whether err is a driver error of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsDatabaseError reports whether err belongs to the database error branch
// of the taxonomy, i.e. every kind except Interface. It replaces the
// intermediate DatabaseError base class of DB-API style hierarchies.
func IsDatabaseError(err error) bool {
	k, ok := KindOf(err)
	return ok && k != Interface
}
