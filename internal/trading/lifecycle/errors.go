package lifecycle

import (
	"errors"
	"fmt"

	"github.com/Aidin1998/pincex_orderexec/internal/trading/model"
)

var (
	ErrMissingOrderID    = errors.New("order id is required")
	ErrDuplicateOrder    = errors.New("order already exists")
	ErrUnknownOrder      = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order state transition")
	ErrNotCancellable    = errors.New("order cannot be cancelled")
	ErrInvalidFill       = errors.New("invalid fill")
	ErrInvalidOrder      = errors.New("order failed validation")
)

// LifecycleError is returned synchronously by every caller-facing operation
// of the Manager.
type LifecycleError struct {
	Op      string
	OrderID string
	From    model.OrderStatus
	To      model.OrderStatus
	Err     error
}

func (e *LifecycleError) Error() string {
	if e.From != "" || e.To != "" {
		return fmt.Sprintf("lifecycle %s %s: %v (%s -> %s)", e.Op, e.OrderID, e.Err, e.From, e.To)
	}
	return fmt.Sprintf("lifecycle %s %s: %v", e.Op, e.OrderID, e.Err)
}

func (e *LifecycleError) Unwrap() error { return e.Err }
