package action

import "errors"

var (
	// ErrActionNotFound indicates the action doesn't exist.
	ErrActionNotFound = errors.New("action not found")
	// ErrInvalidStatus indicates an unknown action status value.
	ErrInvalidStatus = errors.New("invalid action status")
	// ErrEmptyTitle indicates an action without a title.
	ErrEmptyTitle = errors.New("action title required")
)
