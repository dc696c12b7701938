package experiment

import (
	"errors"
	"fmt"
)

// ErrContract is matched by every ContractError.
var ErrContract = errors.New("model contract violation")

// ContractError reports a model execution whose output does not have the
// shape the runner relies on: a missing dataset key or a sequence that is
// not aligned with time. It indicates a schema mismatch, not a numerical
// failure.
type ContractError struct {
	Key    string
	Reason string
	Err    error
}

func (e *ContractError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("model contract violation: %s", e.Reason)
	}
	return fmt.Sprintf("model contract violation: %s: %s", e.Key, e.Reason)
}

func (e *ContractError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrContract) match any ContractError.
func (e *ContractError) Is(target error) bool {
	return target == ErrContract
}
