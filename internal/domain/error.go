package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Chain / entitlement errors
	ErrNotPending      = errors.New("entitlement is not pending")
	ErrChainCorrupted  = errors.New("entitlement chain is corrupted")
	ErrVersionConflict = errors.New("stale entitlement version")

	// Renewal / deduction errors
	ErrContractNotSigned    = errors.New("contract is not signed")
	ErrOutsideRenewalWindow = errors.New("entitlement not within renewal window")
	ErrAutoRenewDisabled    = errors.New("auto-renewal is disabled")
	ErrDeductionFailed      = errors.New("deduction failed")

	// Locking
	ErrLockNotAcquired = errors.New("user lock not acquired")
)
