package models

import "errors"

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrCustomerNotFound    = errors.New("customer not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrAlertNotFound       = errors.New("alert not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrStorageUnavailable  = errors.New("storage unavailable")
	ErrLockTimeout         = errors.New("timed out waiting for customer lock")
)
