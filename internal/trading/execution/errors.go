package execution

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedOrderType = errors.New("order type is not a convertible conditional type")
	ErrMissingTriggerField  = errors.New("order is missing a field required to trigger")
)

// ExecutionError is returned by Engine.AddOrder when an order cannot be
// monitored.
type ExecutionError struct {
	Op      string
	OrderID string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution %s %s: %v", e.Op, e.OrderID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
