package repository

import (
	"context"
	"errors"
	"strings"

	"cleartitle/internal/apperr"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	pgUniqueViolation = "23505"
	pgQueryCanceled   = "57014"
)

// Classify maps an entity store failure onto the error taxonomy. Not-found
// results are left to the caller, which knows what was being looked up.
func Classify(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindStoreTimeout, message, err)
	}
	if IsDuplicate(err) {
		return apperr.Wrap(apperr.KindConflict, message, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgQueryCanceled {
		return apperr.Wrap(apperr.KindStoreTimeout, message, err)
	}
	return apperr.Wrap(apperr.KindStore, message, err)
}

func IsDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
