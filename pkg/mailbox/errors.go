package mailbox

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when another caller holds the mailbox guard.
	ErrBusy = errors.New("mailbox is in use by another caller")
	// ErrEmpty is returned by a drain when no message is stored.
	ErrEmpty = errors.New("mailbox is empty")
	// ErrNoMessage is what the consumer endpoint reports for ErrEmpty.
	ErrNoMessage = fmt.Errorf("no message to read: %w", ErrEmpty)
	// ErrOffsetBeyondEnd marks a drain at or past Capacity. It is the end
	// of stream, not a failure.
	ErrOffsetBeyondEnd = errors.New("offset beyond end of mailbox")
	// ErrInvalidOffset is returned for negative offsets.
	ErrInvalidOffset = errors.New("invalid mailbox offset")
	// ErrCorruptRegion is returned when a shared region carries a foreign header.
	ErrCorruptRegion = errors.New("shared region is not a mailbox")
	// ErrRegionSize is returned when the backing memory is not RegionSize bytes.
	ErrRegionSize = errors.New("backing memory has the wrong size")
	// ErrClosed is returned by a Mailbox or handle used after Close.
	ErrClosed = errors.New("mailbox is closed")
)
