package gateway

import (
	"errors"
	"fmt"
)

// Program-level rejection codes. These map 1:1 to workflow preconditions
// and are surfaced to callers as typed failures, never retried.
const (
	CodeMachineIDAlreadyExists  = "MachineIdAlreadyExists"
	CodeUnauthorized            = "Unauthorized"
	CodeMachineNotActive        = "MachineNotActive"
	CodeNoRewardsAvailable      = "NoRewardsAvailable"
	CodeUnregisteredPlant       = "UnregisteredPlant"
	CodeInvalidDataEntryIndex   = "InvalidDataEntryIndex"
	CodePlantNotLinkedToMachine = "PlantNotLinkedToMachine"
	CodeAccountAlreadyInUse     = "AccountAlreadyInUse"
	CodeAccountNotDelegated     = "AccountNotDelegated"
	CodeConstraintSeeds         = "ConstraintSeeds"
)

// RejectedError is a ledger-side validation failure with a
// machine-readable code.
type RejectedError struct {
	Code string
	Msg  string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rejected by ledger: %s: %s", e.Code, e.Msg)
}

// Reject builds a RejectedError.
func Reject(code, format string, args ...any) error {
	return &RejectedError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// IsRejected reports whether err is a ledger rejection with the given code.
func IsRejected(err error, code string) bool {
	var re *RejectedError
	return errors.As(err, &re) && re.Code == code
}

// NetworkError wraps a transient transport failure. Callers may retry
// with backoff at their discretion.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("ledger network failure: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is safe to retry.
func IsTransient(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
