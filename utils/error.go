package utils

import (
	"errors"

	mysqlDriver "github.com/go-sql-driver/mysql"
)

var ErrorRecordNotFound = errors.New("record not found")

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}

// ErrorCode classifies service-layer failures so callers (HTTP layer, bulk
// engine, tests) can branch on the kind without parsing messages.
type ErrorCode string

const (
	ErrorCodeNotFound             ErrorCode = "NOT_FOUND"
	ErrorCodeInvalidInput         ErrorCode = "INVALID_INPUT"
	ErrorCodeInvalidState         ErrorCode = "INVALID_STATE"
	ErrorCodeOverAllocation       ErrorCode = "OVER_ALLOCATION"
	ErrorCodeDuplicateDestination ErrorCode = "DUPLICATE_DESTINATION"
	ErrorCodeDuplicateLink        ErrorCode = "DUPLICATE_LINK"
	ErrorCodeInvalidTransition    ErrorCode = "INVALID_TRANSITION"
	ErrorCodeUpstreamUnavailable  ErrorCode = "UPSTREAM_UNAVAILABLE"
	ErrorCodeConflict             ErrorCode = "CONFLICT"
	ErrorCodeInternal             ErrorCode = "INTERNAL"
)

type AppError struct {
	Code    ErrorCode
	Message string
}

func (e *AppError) Error() string {
	return e.Message
}

func NewAppError(code ErrorCode, message string) error {
	return &AppError{Code: code, Message: message}
}

// CodeOf resolves the ErrorCode of any error returned by the service layer.
// Unknown errors map to INTERNAL.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	if errors.Is(err, ErrorRecordNotFound) {
		return ErrorCodeNotFound
	}
	return ErrorCodeInternal
}

func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// IsDuplicateKeyErr reports MySQL duplicate-entry (errno 1062). Unique indexes
// are the race backstop for destination and link uniqueness.
func IsDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
