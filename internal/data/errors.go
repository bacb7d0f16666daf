package data

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/apexgen/jobmanager/internal/errors"
)

// mapStoreError maps database driver errors onto the application taxonomy.
// Context errors become timeout/canceled, unique violations become conflicts,
// everything else passes through wrapped as internal.
func mapStoreError(err error, message string) error {
	if err == nil {
		return nil
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, errors.ErrCodeTimeout, message)
	}
	if stderrors.Is(err, context.Canceled) {
		return errors.Wrap(err, errors.ErrCodeCanceled, message)
	}

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return errors.Wrap(err, errors.ErrCodeConflict, "job id already exists")
		case pgerrcode.ConnectionException, pgerrcode.ConnectionFailure,
			pgerrcode.ConnectionDoesNotExist:
			return errors.Wrap(err, errors.ErrCodeUnavailable, message)
		}
	}

	return errors.Wrap(err, errors.ErrCodeInternal, message)
}
