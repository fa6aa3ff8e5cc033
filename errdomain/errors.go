package errdomain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownCategory indicates a table entry names a category that does not exist.
	ErrUnknownCategory = errors.New("errdomain: unknown category")
	// ErrUnknownAction indicates an override names an action that does not exist.
	ErrUnknownAction = errors.New("errdomain: unknown action")
	// ErrUnknownGroup indicates a lookup or override names a group not in the registry.
	ErrUnknownGroup = errors.New("errdomain: unknown group")
	// ErrUnknownSlot indicates an override names a bit or slot not in its group.
	ErrUnknownSlot = errors.New("errdomain: unknown slot")
	// ErrInvalidTable indicates the static table is structurally invalid.
	ErrInvalidTable = errors.New("errdomain: invalid table")
)

// RegistryError locates a registry problem by domain and group.
type RegistryError struct {
	Domain string
	Group  string
	Err    error
}

func (e *RegistryError) Error() string {
	switch {
	case e.Group != "":
		return fmt.Sprintf("domain %s group %s: %v", e.Domain, e.Group, e.Err)
	case e.Domain != "":
		return fmt.Sprintf("domain %s: %v", e.Domain, e.Err)
	default:
		return e.Err.Error()
	}
}

// Unwrap allows errors.Is to match the underlying sentinel.
func (e *RegistryError) Unwrap() error {
	return e.Err
}
