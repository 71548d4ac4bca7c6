package delivery

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrAlreadyCancelled is returned when cancelling a cancelled order.
	ErrAlreadyCancelled = errors.New("order is already cancelled")
	// ErrAlreadyTerminal is returned when an order was closed some other way.
	ErrAlreadyTerminal = errors.New("order is already closed")
)

// TooLateError is returned when an order has progressed past the point where
// it can be cancelled.
type TooLateError struct {
	Status Status
}

func (e *TooLateError) Error() string {
	return fmt.Sprintf("cannot cancel order with status '%s': it is too late", e.Status)
}

// NotReturnableError is returned when an order is returned before delivery.
type NotReturnableError struct {
	Status Status
}

func (e *NotReturnableError) Error() string {
	return fmt.Sprintf("cannot return order with status '%s': it has not been delivered", e.Status)
}
