package gateway

import "fmt"

// InvalidCodeError means the input does not match any known code convention.
// Callers use it as the signal to fall back to name-based search.
type InvalidCodeError struct {
	Input string
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("unrecognized security code format: %q", e.Input)
}

// NotFoundError means resolution exhausted every market and match strategy.
type NotFoundError struct {
	Query string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("security not found: %q", e.Query)
}
