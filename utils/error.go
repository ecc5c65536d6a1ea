package utils

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// ErrorKind classifies every error the core reports to its caller.
// The web layer maps kinds to response codes; the core never retries.
type ErrorKind string

const (
	ErrorKindNotFound            ErrorKind = "NotFound"
	ErrorKindValidation          ErrorKind = "Validation"
	ErrorKindInsufficientStock   ErrorKind = "InsufficientStock"
	ErrorKindConflict            ErrorKind = "Conflict"
	ErrorKindConcurrencyConflict ErrorKind = "ConcurrencyConflict"
	ErrorKindInternal            ErrorKind = "Internal"
)

type AppError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func NewAppError(kind ErrorKind, format string, args ...any) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFoundError(format string, args ...any) *AppError {
	return NewAppError(ErrorKindNotFound, format, args...)
}

func ValidationError(format string, args ...any) *AppError {
	return NewAppError(ErrorKindValidation, format, args...)
}

func InsufficientStockError(format string, args ...any) *AppError {
	return NewAppError(ErrorKindInsufficientStock, format, args...)
}

func ConflictError(format string, args ...any) *AppError {
	return NewAppError(ErrorKindConflict, format, args...)
}

func ConcurrencyConflictError(format string, args ...any) *AppError {
	return NewAppError(ErrorKindConcurrencyConflict, format, args...)
}

// ErrorRecordNotFound is the shared sentinel for single-record fetches.
var ErrorRecordNotFound = NotFoundError("record not found")

// KindOf returns the kind of err, or ErrorKindInternal for plain errors.
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ErrorKindInternal
}

func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// MySQL server error numbers we translate into caller-facing kinds.
const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

// TranslateDBError maps driver/gorm errors onto error kinds so the
// transaction boundary is the only place raw storage errors escape.
// Deadlocks and lock-wait timeouts become ConcurrencyConflict: the
// transaction was rolled back and the caller may retry.
func TranslateDBError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &AppError{Kind: ErrorKindNotFound, Message: "record not found", Err: err}
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlErrDuplicateEntry:
			return &AppError{Kind: ErrorKindConflict, Message: "duplicate record", Err: err}
		case mysqlErrDeadlock, mysqlErrLockWaitTimeout:
			return &AppError{Kind: ErrorKindConcurrencyConflict, Message: "lost serialization race, retry", Err: err}
		}
	}
	return err
}
