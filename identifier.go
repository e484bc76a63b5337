package hdbconnect

import (
	"context"
	"strings"

	dbsqlerr "github.com/hdbconnect/hdbconnect-go/internal/errors"
)

const maxProcedureNameLength = 256

// validateProcedureName checks a procedure identifier before it is
// embedded in a CALL statement. Accepted: ASCII letters, digits,
// underscore, '$' and '#', with at most one dot separating schema and
// procedure. Anything else is rejected rather than escaped, so a name
// like "PROC; DROP TABLE X" can never reach the server.
func validateProcedureName(ctx context.Context, name string) error {
	if name == "" {
		return dbsqlerr.NewProgrammingError(ctx, dbsqlerr.ErrEmptyProcName, nil)
	}
	if len(name) > maxProcedureNameLength {
		return dbsqlerr.NewProgrammingError(ctx, dbsqlerr.ErrInvalidProcName, nil)
	}

	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return dbsqlerr.NewProgrammingError(ctx, dbsqlerr.ErrInvalidProcName, nil)
	}
	for _, part := range parts {
		if part == "" {
			// leading, trailing or doubled dot
			return dbsqlerr.NewProgrammingError(ctx, dbsqlerr.ErrInvalidProcName, nil)
		}
		for i := 0; i < len(part); i++ {
			if !isIdentifierChar(part[i]) {
				return dbsqlerr.NewProgrammingError(ctx, dbsqlerr.ErrInvalidProcName, nil)
			}
		}
	}
	return nil
}

func isIdentifierChar(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z':
		return true
	case b >= 'A' && b <= 'Z':
		return true
	case b >= '0' && b <= '9':
		return true
	case b == '_' || b == '$' || b == '#':
		return true
	}
	return false
}
