package mailbox

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/valyala/bytebufferpool"
)

var (
	_ io.WriteCloser = (*WriteHandle)(nil)
	_ io.ReadCloser  = (*ReadHandle)(nil)
)

// WriteHandle is an open producer endpoint, the byte-stream write surface of
// the mailbox.
type WriteHandle struct {
	p      *Producer
	mu     sync.Mutex
	closed bool
}

// Write submits b as one message. On success it reports len(b) even when the
// message was cut to Capacity-1 bytes; use Producer.Submit to learn the stored
// length.
func (h *WriteHandle) Write(b []byte) (int, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	if _, err := h.p.Submit(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close releases the handle. Closing twice returns ErrClosed.
func (h *WriteHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.closed = true
	return h.p.closed()
}

// ReadHandle is an open consumer endpoint, the byte-stream read surface of
// the mailbox. It keeps a read position like a file offset.
//
// A drain hands over the whole message at once, so bytes that do not fit the
// caller's slice are kept in a pending buffer and served by following Reads
// before the mailbox is touched again.
type ReadHandle struct {
	c       *Consumer
	mu      sync.Mutex
	pos     int
	pending *bytebufferpool.ByteBuffer
	off     int
	closed  bool
}

// Read fills b from the pending buffer or, when that is exhausted, drains the
// mailbox at the current position. The position advances by the number of
// bytes drained. At or past Capacity it returns io.EOF; with nothing stored
// it returns ErrNoMessage.
//
// When the stored message is shorter than the position, Read consumes it and
// returns 0, nil. The mailbox is empty afterwards, so the next Read returns
// ErrNoMessage unless a new message was written in between.
func (h *ReadHandle) Read(b []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, ErrClosed
	}
	if h.pending != nil {
		return h.readPending(b), nil
	}
	if len(b) == 0 {
		return 0, nil
	}

	buf := bytebufferpool.Get()
	data, err := h.c.drain(context.Background(), buf.B[:0], h.pos)
	buf.B = data
	switch {
	case errors.Is(err, ErrOffsetBeyondEnd):
		bytebufferpool.Put(buf)
		return 0, io.EOF
	case err != nil:
		bytebufferpool.Put(buf)
		return 0, err
	}
	h.pos += len(data)
	if len(data) == 0 {
		bytebufferpool.Put(buf)
		return 0, nil
	}
	h.pending, h.off = buf, 0
	return h.readPending(b), nil
}

func (h *ReadHandle) readPending(b []byte) int {
	n := copy(b, h.pending.B[h.off:])
	h.off += n
	if h.off == len(h.pending.B) {
		bytebufferpool.Put(h.pending)
		h.pending, h.off = nil, 0
	}
	return n
}

// Offset returns the current read position.
func (h *ReadHandle) Offset() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pos
}

// Seek moves the read position. Only io.SeekStart and io.SeekCurrent are
// supported; pending bytes are discarded.
func (h *ReadHandle) Seek(offset int64, whence int) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, ErrClosed
	}
	next := int64(h.pos)
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next += offset
	default:
		return 0, ErrInvalidOffset
	}
	if next < 0 {
		return 0, ErrInvalidOffset
	}
	h.dropPending()
	h.pos = int(next)
	return next, nil
}

func (h *ReadHandle) dropPending() {
	if h.pending != nil {
		bytebufferpool.Put(h.pending)
		h.pending, h.off = nil, 0
	}
}

// Close releases the handle and any pending bytes. Closing twice returns
// ErrClosed.
func (h *ReadHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.closed = true
	h.dropPending()
	return h.c.closed()
}
