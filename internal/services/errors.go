package services

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	ErrRuleNotFound    = errors.New("Automation rule not found or access denied")
	ErrAssetNotFound   = errors.New("Asset not found or access denied")
	ErrTicketNotFound  = errors.New("Ticket not found or access denied")
	ErrUserNotFound    = errors.New("User not found or does not belong to your company")
	ErrAssetTagExists  = errors.New("Asset tag already exists")
	ErrEmailExists     = errors.New("Email already exists in the system")
	ErrServiceDisabled = errors.New("service not configured")
)

// ValidationError is returned when a request is missing or carries malformed fields.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// StoreError marks a failure of the backing store, as opposed to an
// empty or not-found result.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *StoreError) Unwrap() error { return e.Err }

// isDuplicateKey reports a unique-index violation. Requires TranslateError
// on the gorm.Config.
func isDuplicateKey(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
