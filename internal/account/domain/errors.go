package domain

import (
	"errors"
	"fmt"

	"github.com/smallbiznis/luc/internal/catalog"
)

var (
	ErrInvalidUserID      = errors.New("invalid_user_id")
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrAccountNotFound    = errors.New("account_not_found")
	ErrInvalidImport      = errors.New("invalid_import_data")
	ErrUnsupportedVersion = errors.New("unsupported_export_version")
	ErrInvalidFormat      = errors.New("invalid_export_format")
	ErrEmptyBatch         = errors.New("empty_batch")
	ErrAccountExists      = errors.New("account_exists")
	ErrStorage            = errors.New("storage_failure")

	ErrUnknownService = catalog.ErrUnknownService
	ErrUnknownPlan    = catalog.ErrUnknownPlan
	ErrUnknownPreset  = catalog.ErrUnknownPreset
)

// StorageError wraps a backing-store failure. It matches ErrStorage.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// WrapStorage returns nil when err is nil. Domain errors pass through.
func WrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrInvalidImport) || errors.Is(err, ErrStorage) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
