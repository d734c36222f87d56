// Package api defines public API contracts for shmbox.
package api

// Producer accepts messages into a mailbox.
type Producer interface {
	// Submit replaces the stored message and returns the bytes kept.
	Submit(data []byte) (int, error)
}

// Consumer drains messages out of a mailbox.
type Consumer interface {
	// Receive returns the stored message from offset on and clears it.
	Receive(offset int) ([]byte, error)
}

// Lifecycle is told when endpoint handles are opened and closed. It is
// bookkeeping only and never gates mailbox access.
type Lifecycle interface {
	Opened(endpoint string) error
	Closed(endpoint string) error
}
