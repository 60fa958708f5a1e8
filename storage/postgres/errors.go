package postgres

import "errors"

var (
	// ErrDSNRequired is returned when no connection string is configured.
	ErrDSNRequired = errors.New("postgres DSN required")
)
