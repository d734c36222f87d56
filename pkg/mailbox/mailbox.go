/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package mailbox

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/srediag/shmbox/internal/logging"
)

const (
	// Capacity is the size of the message buffer. A stored message is at
	// most Capacity-1 bytes long.
	Capacity = 1024

	//region layout: magic 4 byte | occupied length 4 byte | payload Capacity byte
	headerSize     = 4 + 4
	magicOffset    = 0
	lengthOffset   = magicOffset + 4
	payloadOffset  = headerSize
	regionMagic    = uint32(0x424d4853) // "SHMB"
	maxMessageSize = Capacity - 1

	// RegionSize is the number of bytes backing one mailbox.
	RegionSize = headerSize + Capacity
)

// State is the externally visible state of the slot.
type State int

const (
	StateEmpty State = iota
	StateOccupied
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "EMPTY"
	case StateOccupied:
		return "OCCUPIED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Mailbox is the single message slot. The zero value is not usable; create
// one with New, NewWithRegion or OpenShared.
//
// Every access to mem after construction happens with guard held.
type Mailbox struct {
	guard   Guard
	mem     []byte
	closer  io.Closer
	metrics *Metrics
	log     *logging.Logger

	closeMu sync.Mutex
	closed  atomic.Bool
}

// Option configures a Mailbox.
type Option func(*Mailbox)

// WithMetrics records mailbox outcomes in m.
func WithMetrics(m *Metrics) Option {
	return func(mb *Mailbox) {
		mb.metrics = m
	}
}

// WithLogger replaces the default "mailbox" logger.
func WithLogger(l *logging.Logger) Option {
	return func(mb *Mailbox) {
		if l != nil {
			mb.log = l
		}
	}
}

// New returns an empty heap mailbox guarded by a MutexGuard.
func New(opts ...Option) *Mailbox {
	mb := newMailbox(make([]byte, RegionSize), &MutexGuard{}, opts)
	binary.LittleEndian.PutUint32(mb.mem[magicOffset:], regionMagic)
	return mb
}

// NewWithRegion builds a mailbox over mem, which must be RegionSize bytes and
// is typically shared with other processes. Zeroed memory is initialised; a
// foreign header is rejected with ErrCorruptRegion.
func NewWithRegion(mem []byte, guard Guard, opts ...Option) (*Mailbox, error) {
	if len(mem) != RegionSize {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrRegionSize, len(mem), RegionSize)
	}
	mb := newMailbox(mem, guard, opts)
	if err := mb.init(); err != nil {
		return nil, err
	}
	return mb, nil
}

func newMailbox(mem []byte, guard Guard, opts []Option) *Mailbox {
	mb := &Mailbox{
		guard: guard,
		mem:   mem,
		log:   internalLogger,
	}
	for _, opt := range opts {
		opt(mb)
	}
	return mb
}

func (mb *Mailbox) init() error {
	if !mb.guard.TryLock() {
		return fmt.Errorf("initialise region: %w", ErrBusy)
	}
	defer mb.guard.Unlock()

	switch binary.LittleEndian.Uint32(mb.mem[magicOffset:]) {
	case regionMagic:
		if n := mb.occupied(); n > maxMessageSize {
			return fmt.Errorf("%w: occupied length %d", ErrCorruptRegion, n)
		}
		mb.log.Debugf("attached to region holding %d bytes", mb.occupied())
	case 0:
		clear(mb.mem)
		binary.LittleEndian.PutUint32(mb.mem[magicOffset:], regionMagic)
		mb.log.Infof("region initialised, capacity %d", Capacity)
	default:
		return ErrCorruptRegion
	}
	return nil
}

// acquire takes the guard without waiting. A closed mailbox reports
// ErrClosed rather than ErrBusy.
func (mb *Mailbox) acquire() error {
	if mb.closed.Load() {
		return ErrClosed
	}
	if !mb.guard.TryLock() {
		if mb.closed.Load() {
			return ErrClosed
		}
		return ErrBusy
	}
	return nil
}

func (mb *Mailbox) occupied() int {
	return int(binary.LittleEndian.Uint32(mb.mem[lengthOffset:]))
}

func (mb *Mailbox) setOccupied(n int) {
	binary.LittleEndian.PutUint32(mb.mem[lengthOffset:], uint32(n))
}

func (mb *Mailbox) payload() []byte {
	return mb.mem[payloadOffset : payloadOffset+Capacity]
}

// TryReplace stores data as the only message, discarding any previous one.
// Data of Capacity bytes or more is cut to Capacity-1 bytes. It returns the
// number of bytes stored, or ErrBusy without touching the slot. A closed
// mailbox returns ErrClosed.
func (mb *Mailbox) TryReplace(data []byte) (int, error) {
	if len(data) > maxMessageSize {
		mb.log.Warnf("the length (%d) exceeds the max size of the buffer, the message has been reduced", len(data))
		mb.metrics.truncated()
		data = data[:maxMessageSize]
	}
	if err := mb.acquire(); err != nil {
		if errors.Is(err, ErrBusy) {
			mb.log.Warnf("write: mailbox in use by another caller")
			mb.metrics.submit(resultBusy, 0)
		}
		return 0, err
	}
	buf := mb.payload()
	clear(buf)
	n := copy(buf, data)
	mb.setOccupied(n)
	mb.guard.Unlock()

	mb.log.Infof("received %d bytes", n)
	mb.metrics.submit(resultAccepted, n)
	mb.metrics.setOccupied(n)
	return n, nil
}

// TryDrain returns the stored message starting at offset and clears the
// slot. See AppendDrain.
func (mb *Mailbox) TryDrain(offset int) ([]byte, error) {
	return mb.AppendDrain(nil, offset)
}

// AppendDrain appends the stored message, starting at offset, to dst and
// clears the slot.
//
// An offset at or past Capacity returns ErrOffsetBeyondEnd before the guard
// is taken. An offset at or past the message length delivers nothing but
// still consumes the message. It fails with ErrBusy on contention and
// ErrEmpty when no message is stored.
func (mb *Mailbox) AppendDrain(dst []byte, offset int) ([]byte, error) {
	switch {
	case offset >= Capacity:
		mb.metrics.receive(resultEOF, 0)
		return dst, ErrOffsetBeyondEnd
	case offset < 0:
		return dst, fmt.Errorf("%w: %d", ErrInvalidOffset, offset)
	}
	if err := mb.acquire(); err != nil {
		if errors.Is(err, ErrBusy) {
			mb.log.Warnf("read: mailbox in use by another caller")
			mb.metrics.receive(resultBusy, 0)
		}
		return dst, err
	}
	n := mb.occupied()
	if n == 0 {
		mb.guard.Unlock()
		mb.log.Infof("there is no message to read")
		mb.metrics.receive(resultEmpty, 0)
		return dst, ErrEmpty
	}
	buf := mb.payload()
	start := min(offset, n)
	if dst == nil {
		dst = make([]byte, 0, n-start)
	}
	dst = append(dst, buf[start:n]...)
	clear(buf)
	mb.setOccupied(0)
	mb.guard.Unlock()

	mb.log.Infof("read %d bytes from offset %d", n-start, offset)
	mb.metrics.receive(resultDelivered, n-start)
	mb.metrics.setOccupied(0)
	return dst, nil
}

// Len returns the length of the stored message without consuming it.
func (mb *Mailbox) Len() (int, error) {
	if err := mb.acquire(); err != nil {
		return 0, err
	}
	defer mb.guard.Unlock()
	return mb.occupied(), nil
}

// State reports whether a message is stored.
func (mb *Mailbox) State() (State, error) {
	n, err := mb.Len()
	if err != nil {
		return StateEmpty, err
	}
	if n == 0 {
		return StateEmpty, nil
	}
	return StateOccupied, nil
}

// Close releases the shared region behind the mailbox, if any. Later
// operations fail with ErrClosed; closing again is a no-op.
func (mb *Mailbox) Close() error {
	mb.closeMu.Lock()
	defer mb.closeMu.Unlock()
	if mb.closed.Swap(true) || mb.closer == nil {
		return nil
	}
	return mb.closer.Close()
}
