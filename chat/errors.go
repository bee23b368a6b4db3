package chat

import "errors"

var (
	// ErrAuthRequired signals an event from a connection with no bound
	// identity. The event is dropped; only the sender may be notified.
	ErrAuthRequired = errors.New("authentication required")

	// ErrNotFound signals an absent room or message.
	ErrNotFound = errors.New("not found")

	// ErrStorageFailure signals that the durable store was unreachable or
	// timed out. No success event may be broadcast after it.
	ErrStorageFailure = errors.New("storage failure")

	// ErrNameTaken signals a duplicate display name on a name-based join.
	ErrNameTaken = errors.New("display name already in use")
)
