// Package mailbox implements a single-slot message mailbox shared by a
// producer endpoint and a consumer endpoint.
//
// The mailbox holds at most one message of up to Capacity-1 bytes. A submit
// replaces whatever is stored, a successful receive hands the message out and
// clears the slot. Both operations take the mailbox guard without blocking:
// when another caller holds it they fail at once with ErrBusy, and it is up to
// the caller to retry (see SubmitWithRetry).
//
// A mailbox lives either on the heap (New) or in a memory-mapped file shared
// between processes (OpenShared), where the guard is backed by flock(2).
//
// Example usage:
//
//	mb := mailbox.New()
//	p := mailbox.NewProducer(mb)
//	c := mailbox.NewConsumer(mb)
//
//	n, err := p.Submit([]byte("hello")) // n == 5
//	msg, err := c.Receive(0)             // "hello"
//	_, err = c.Receive(0)                // ErrNoMessage
package mailbox
