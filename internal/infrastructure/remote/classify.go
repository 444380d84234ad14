package remote

import (
	"errors"
	"fmt"
	"strings"

	"github.com/erp/agency/internal/domain/offline"
	"github.com/erp/agency/internal/domain/shared"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// transientSQLStates are server-reported conditions where the write did not land
var transientSQLStates = map[string]struct{}{
	"57P01": {}, // admin_shutdown
	"57P02": {}, // crash_shutdown
	"57P03": {}, // cannot_connect_now
	"53300": {}, // too_many_connections
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
}

// IsTransientPgError reports whether err carries a SQLSTATE the write path retries
func IsTransientPgError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if strings.HasPrefix(pgErr.Code, "08") {
		return true
	}
	_, ok := transientSQLStates[pgErr.Code]
	return ok
}

// translateError maps driver errors onto the offline layer's taxonomy:
// unreachable → offline.ErrRemoteUnavailable, server refusal → shared.ErrRemoteRejected.
func translateError(op, table string, err error) error {
	target := op
	if table != "" {
		target = op + " " + table
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return shared.ErrNotFound.Wrap(err)
	}

	var connErr *pgconn.ConnectError
	if IsTransientPgError(err) || errors.As(err, &connErr) || pgconn.Timeout(err) || offline.IsTransient(err) {
		return fmt.Errorf("%s: %w: %w", target, offline.ErrRemoteUnavailable, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return shared.ErrRemoteRejected.Wrap(fmt.Errorf("%s: %w", target, pgErr))
	}
	return fmt.Errorf("%s: %w", target, err)
}
