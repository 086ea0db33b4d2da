package dma

import "github.com/pkg/errors"

var (
	// ErrAlreadyOwned is returned when acquiring a stream another driver holds.
	ErrAlreadyOwned = errors.New("dma stream already owned")

	// ErrNoStream is returned for stream IDs the controller does not have.
	ErrNoStream = errors.New("no such dma stream")

	// ErrNotAcquired is returned when arming an engine whose streams are not held.
	ErrNotAcquired = errors.New("dma streams not acquired")
)
