package group

import (
	"errors"
	"fmt"
)

var (
	// ErrFutureEpoch marks a message that cannot be processed yet. Ingest
	// buffers such messages.
	ErrFutureEpoch = errors.New("message is ahead of the local epoch")

	// ErrStaleEpoch marks a message for an epoch this device has left behind.
	ErrStaleEpoch = errors.New("message is behind the local epoch")
)

func futureEpoch(local, got uint64) error {
	return fmt.Errorf("%w: local %d, message %d", ErrFutureEpoch, local, got)
}

func staleEpoch(local, got uint64) error {
	return fmt.Errorf("%w: local %d, message %d", ErrStaleEpoch, local, got)
}
