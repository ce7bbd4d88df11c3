package apperror

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies an AppError for callers that only need the category
// (exit codes, probe responses).
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindInternal   Kind = "internal"
)

// AppError is a structured error carrying a stable code.
type AppError struct {
	Code    string            `json:"error_code"`
	Message string            `json:"message"`
	Kind    Kind              `json:"kind"`
	Fields  map[string]string `json:"fields,omitempty"` // per-field validation messages
	Err     error             `json:"-"`                // wrapped internal error
}

func (e *AppError) Error() string {
	msg := e.Message
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+e.Fields[k])
		}
		msg += " (" + strings.Join(parts, "; ") + ")"
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, kind Kind) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Kind:    kind,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, kind Kind, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Kind:    kind,
		Err:     err,
	}
}

// As extracts an *AppError from err, if any.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsKind reports whether err is an AppError of the given kind.
func IsKind(err error, kind Kind) bool {
	appErr, ok := As(err)
	return ok && appErr.Kind == kind
}

// HasCode reports whether err is an AppError with the given code.
func HasCode(err error, code string) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

// ---- Validation (VAL) ----

// Validation returns a VAL_001 error.
func Validation(message string) *AppError {
	return New("VAL_001", message, KindValidation)
}

// ValidationFields returns a VAL_001 error listing every failing field.
func ValidationFields(message string, fields map[string]string) *AppError {
	e := Validation(message)
	e.Fields = fields
	return e
}

// ---- Ledger (LED) ----

func ErrInsufficientBalance() *AppError {
	return New("LED_001", "Insufficient wallet balance", KindValidation)
}

func ErrWrongTransactionType(want string) *AppError {
	return New("LED_002", fmt.Sprintf("Transaction is not a %s", want), KindValidation)
}

func ErrInvalidTransactionState(status string) *AppError {
	return New("LED_003", fmt.Sprintf("Transaction is %s", status), KindValidation)
}

func ErrInvalidAmount() *AppError {
	return New("LED_004", "Amount must be positive", KindValidation)
}

func ErrRefundExists() *AppError {
	return New("LED_005", "A refund already exists for this fulfillment", KindConflict)
}

// ---- Fulfillment (FUL) ----

func ErrInvalidTransition(from, to string) *AppError {
	return New("FUL_001", fmt.Sprintf("Cannot move fulfillment from %s to %s", from, to), KindValidation)
}

func ErrRefundBlocksRetry() *AppError {
	return New("FUL_002", "Fulfillment has a pending or posted refund", KindValidation)
}

// ---- Settlement (SET) ----

func ErrConcurrentSettlement() *AppError {
	return New("SET_001", "Fulfillments were settled by a concurrent run", KindConflict)
}

// ---- Lookup (NF) ----

func ErrNotFound(entity string) *AppError {
	return New("NF_001", fmt.Sprintf("%s not found", entity), KindNotFound)
}

// ---- System & Infrastructure (SYS) ----

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", KindInternal, err)
}

func ErrEncryptionFailure(err error) *AppError {
	return Wrap("SYS_003", "Encryption service failure", KindInternal, err)
}
