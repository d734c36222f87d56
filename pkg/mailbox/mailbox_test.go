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
	"bytes"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// switchGuard is a MutexGuard that can be forced to report contention.
type switchGuard struct {
	MutexGuard
	busy    atomic.Bool
	busyFor atomic.Int32
}

func (g *switchGuard) TryLock() bool {
	if g.busy.Load() {
		return false
	}
	if g.busyFor.Load() > 0 && g.busyFor.Add(-1) >= 0 {
		return false
	}
	return g.MutexGuard.TryLock()
}

func newSwitchMailbox(t testing.TB, opts ...Option) (*Mailbox, *switchGuard) {
	g := &switchGuard{}
	mb, err := NewWithRegion(make([]byte, RegionSize), g, opts...)
	require.NoError(t, err)
	return mb, g
}

func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	_ = c.Write(m)
	return m.GetCounter().GetValue()
}

type MailboxTestSuite struct {
	suite.Suite
	mb *Mailbox
}

func (s *MailboxTestSuite) SetupTest() {
	s.mb = New()
}

func (s *MailboxTestSuite) TestHelloExample() {
	n, err := s.mb.TryReplace([]byte("hello"))
	s.Require().NoError(err)
	s.Equal(5, n)

	data, err := s.mb.TryDrain(0)
	s.Require().NoError(err)
	s.Equal("hello", string(data))

	_, err = s.mb.TryDrain(0)
	s.ErrorIs(err, ErrEmpty)
}

func (s *MailboxTestSuite) TestRoundTripSizes() {
	for _, size := range []int{0, 1, 7, 512, Capacity - 2, Capacity - 1} {
		msg := bytes.Repeat([]byte{'x'}, size)
		for i := range msg {
			msg[i] = byte(i % 251)
		}
		n, err := s.mb.TryReplace(msg)
		s.Require().NoError(err)
		s.Equal(size, n)

		data, err := s.mb.TryDrain(0)
		if size == 0 {
			s.ErrorIs(err, ErrEmpty, "an empty message leaves the slot empty")
			continue
		}
		s.Require().NoError(err)
		s.Equal(msg, data)
	}
}

func (s *MailboxTestSuite) TestTruncation() {
	msg := make([]byte, Capacity+100)
	for i := range msg {
		msg[i] = byte('a' + i%26)
	}
	n, err := s.mb.TryReplace(msg)
	s.Require().NoError(err)
	s.Equal(Capacity-1, n)

	data, err := s.mb.TryDrain(0)
	s.Require().NoError(err)
	s.Equal(msg[:Capacity-1], data)
}

func (s *MailboxTestSuite) TestTruncationAtExactCapacity() {
	msg := bytes.Repeat([]byte{'c'}, Capacity)
	n, err := s.mb.TryReplace(msg)
	s.Require().NoError(err)
	s.Equal(Capacity-1, n)
}

func (s *MailboxTestSuite) TestOverwrite() {
	_, err := s.mb.TryReplace([]byte("a much longer first message"))
	s.Require().NoError(err)
	_, err = s.mb.TryReplace([]byte("short"))
	s.Require().NoError(err)

	data, err := s.mb.TryDrain(0)
	s.Require().NoError(err)
	s.Equal("short", string(data), "no bytes of the first message may leak")
}

func (s *MailboxTestSuite) TestOffsetBeyondEnd() {
	_, err := s.mb.TryReplace([]byte("kept"))
	s.Require().NoError(err)

	for _, off := range []int{Capacity, Capacity + 1, 1 << 20} {
		data, err := s.mb.TryDrain(off)
		s.ErrorIs(err, ErrOffsetBeyondEnd)
		s.Empty(data)
	}
	st, err := s.mb.State()
	s.Require().NoError(err)
	s.Equal(StateOccupied, st, "end of stream must not consume the message")
}

func (s *MailboxTestSuite) TestOffsetBeyondEndWhenEmpty() {
	_, err := s.mb.TryDrain(Capacity)
	s.ErrorIs(err, ErrOffsetBeyondEnd)
}

func (s *MailboxTestSuite) TestMidOffset() {
	_, err := s.mb.TryReplace([]byte("hello world"))
	s.Require().NoError(err)

	data, err := s.mb.TryDrain(6)
	s.Require().NoError(err)
	s.Equal("world", string(data))

	_, err = s.mb.TryDrain(0)
	s.ErrorIs(err, ErrEmpty)
}

func (s *MailboxTestSuite) TestOffsetPastMessageClampsToNothing() {
	_, err := s.mb.TryReplace([]byte("hi"))
	s.Require().NoError(err)

	data, err := s.mb.TryDrain(100)
	s.Require().NoError(err, "differs from end of stream: the message was there")
	s.NotNil(data)
	s.Empty(data)

	_, err = s.mb.TryDrain(0)
	s.ErrorIs(err, ErrEmpty, "the message is consumed")
}

func (s *MailboxTestSuite) TestNegativeOffset() {
	_, err := s.mb.TryReplace([]byte("hi"))
	s.Require().NoError(err)
	_, err = s.mb.TryDrain(-1)
	s.ErrorIs(err, ErrInvalidOffset)

	n, err := s.mb.Len()
	s.Require().NoError(err)
	s.Equal(2, n)
}

func (s *MailboxTestSuite) TestAppendDrain() {
	_, err := s.mb.TryReplace([]byte("tail"))
	s.Require().NoError(err)
	out, err := s.mb.AppendDrain([]byte("head-"), 0)
	s.Require().NoError(err)
	s.Equal("head-tail", string(out))
}

func (s *MailboxTestSuite) TestStateMachine() {
	st, err := s.mb.State()
	s.Require().NoError(err)
	s.Equal(StateEmpty, st)
	s.Equal("EMPTY", st.String())

	_, _ = s.mb.TryReplace([]byte("a"))
	st, _ = s.mb.State()
	s.Equal(StateOccupied, st)

	_, _ = s.mb.TryReplace([]byte("b"))
	st, _ = s.mb.State()
	s.Equal(StateOccupied, st)

	_, _ = s.mb.TryDrain(0)
	st, _ = s.mb.State()
	s.Equal(StateEmpty, st)

	_, err = s.mb.TryDrain(0)
	s.ErrorIs(err, ErrEmpty)
	st, _ = s.mb.State()
	s.Equal(StateEmpty, st)
	s.Equal("State(7)", State(7).String())
}

func (s *MailboxTestSuite) TestDrainZeroesPayload() {
	_, err := s.mb.TryReplace([]byte("secret"))
	s.Require().NoError(err)
	_, err = s.mb.TryDrain(0)
	s.Require().NoError(err)
	s.Equal(make([]byte, Capacity), s.mb.payload())
}

func TestMailboxTestSuite(t *testing.T) {
	suite.Run(t, new(MailboxTestSuite))
}

func TestBusy(t *testing.T) {
	mb, g := newSwitchMailbox(t)
	_, err := mb.TryReplace([]byte("first"))
	require.NoError(t, err)

	g.busy.Store(true)
	_, err = mb.TryReplace([]byte("second"))
	assert.ErrorIs(t, err, ErrBusy)
	_, err = mb.TryDrain(0)
	assert.ErrorIs(t, err, ErrBusy)
	_, err = mb.Len()
	assert.ErrorIs(t, err, ErrBusy)
	_, err = mb.State()
	assert.ErrorIs(t, err, ErrBusy)

	// end of stream is decided before the guard
	_, err = mb.TryDrain(Capacity)
	assert.ErrorIs(t, err, ErrOffsetBeyondEnd)

	g.busy.Store(false)
	data, err := mb.TryDrain(0)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data), "a busy write leaves the slot untouched")
}

func TestClosedIsNotBusy(t *testing.T) {
	mb := New()
	_, err := mb.TryReplace([]byte("left behind"))
	require.NoError(t, err)
	require.NoError(t, mb.Close())
	require.NoError(t, mb.Close())

	_, err = mb.TryReplace([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.NotErrorIs(t, err, ErrBusy)
	_, err = mb.TryDrain(0)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = mb.Len()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = mb.State()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBusyWhileGuardHeld(t *testing.T) {
	mb := New()
	require.True(t, mb.guard.TryLock())
	_, err := mb.TryReplace([]byte("x"))
	assert.ErrorIs(t, err, ErrBusy)
	mb.guard.Unlock()
	_, err = mb.TryReplace([]byte("x"))
	assert.NoError(t, err)
}

func TestNewWithRegion(t *testing.T) {
	_, err := NewWithRegion(make([]byte, RegionSize-1), &MutexGuard{})
	assert.ErrorIs(t, err, ErrRegionSize)

	foreign := make([]byte, RegionSize)
	binary.LittleEndian.PutUint32(foreign, 0xdeadbeef)
	_, err = NewWithRegion(foreign, &MutexGuard{})
	assert.ErrorIs(t, err, ErrCorruptRegion)

	bad := make([]byte, RegionSize)
	binary.LittleEndian.PutUint32(bad[magicOffset:], regionMagic)
	binary.LittleEndian.PutUint32(bad[lengthOffset:], Capacity)
	_, err = NewWithRegion(bad, &MutexGuard{})
	assert.ErrorIs(t, err, ErrCorruptRegion)

	g := &switchGuard{}
	g.busy.Store(true)
	_, err = NewWithRegion(make([]byte, RegionSize), g)
	assert.ErrorIs(t, err, ErrBusy)
}

func TestNewWithRegionKeepsMessage(t *testing.T) {
	mem := make([]byte, RegionSize)
	a, err := NewWithRegion(mem, &MutexGuard{})
	require.NoError(t, err)
	_, err = a.TryReplace([]byte("persist"))
	require.NoError(t, err)

	b, err := NewWithRegion(mem, &MutexGuard{})
	require.NoError(t, err)
	data, err := b.TryDrain(0)
	require.NoError(t, err)
	assert.Equal(t, "persist", string(data))
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)
	mb, g := newSwitchMailbox(t, WithMetrics(m))

	_, _ = mb.TryReplace([]byte("hello"))
	_, _ = mb.TryReplace(make([]byte, Capacity*2))
	_, _ = mb.TryDrain(0)
	_, _ = mb.TryDrain(0)
	_, _ = mb.TryDrain(Capacity)
	g.busy.Store(true)
	_, _ = mb.TryReplace([]byte("x"))
	_, _ = mb.TryDrain(0)

	assert.Equal(t, float64(2), counterValue(m.Submits.WithLabelValues(resultAccepted)))
	assert.Equal(t, float64(1), counterValue(m.Submits.WithLabelValues(resultBusy)))
	assert.Equal(t, float64(1), counterValue(m.Receives.WithLabelValues(resultDelivered)))
	assert.Equal(t, float64(1), counterValue(m.Receives.WithLabelValues(resultEmpty)))
	assert.Equal(t, float64(1), counterValue(m.Receives.WithLabelValues(resultEOF)))
	assert.Equal(t, float64(1), counterValue(m.Receives.WithLabelValues(resultBusy)))
	assert.Equal(t, float64(1), counterValue(m.Truncations))
	assert.Equal(t, float64(5+Capacity-1), counterValue(m.Bytes.WithLabelValues("in")))
	assert.Equal(t, float64(Capacity-1), counterValue(m.Bytes.WithLabelValues("out")))

	_, err = NewMetrics(reg)
	assert.Error(t, err, "collectors are already registered")
}

func TestNilMetrics(t *testing.T) {
	m, err := NewMetrics(nil)
	require.NoError(t, err)
	mb := New(WithMetrics(m))
	_, err = mb.TryReplace([]byte("x"))
	assert.NoError(t, err)
}

// Racing writers must never leave a message made of two submissions. Each
// writer fills its message with a single byte value derived from its index
// and a length derived from the same index, so a torn write is detectable.
func TestConcurrentSubmitsNeverTear(t *testing.T) {
	mb := New()
	pool, err := ants.NewPool(16)
	require.NoError(t, err)
	defer pool.Release()

	var (
		wg                 sync.WaitGroup
		accepted, busy     atomic.Int64
		delivered, torn    atomic.Int64
		workers, iteration = 64, 200
	)
	check := func(data []byte) {
		if len(data) == 0 {
			return
		}
		v := data[0]
		if len(data) != 10+int(v) || bytes.Count(data, []byte{v}) != len(data) {
			torn.Add(1)
		}
	}
	for w := 0; w < workers; w++ {
		w := w
		wg.Add(1)
		require.NoError(t, pool.Submit(func() {
			defer wg.Done()
			msg := bytes.Repeat([]byte{byte(w)}, 10+w)
			for i := 0; i < iteration; i++ {
				if w%4 == 0 {
					data, err := mb.TryDrain(0)
					if err == nil {
						delivered.Add(1)
						check(data)
					}
					continue
				}
				switch _, err := mb.TryReplace(msg); err {
				case nil:
					accepted.Add(1)
				case ErrBusy:
					busy.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}
		}))
	}
	wg.Wait()

	if data, err := mb.TryDrain(0); err == nil {
		check(data)
	}
	assert.Zero(t, torn.Load())
	assert.Positive(t, accepted.Load())
	assert.Equal(t, int64(workers-workers/4)*int64(iteration), accepted.Load()+busy.Load(),
		"every submit either succeeds or reports busy")
}

func BenchmarkTryReplace(b *testing.B) {
	mb := New()
	msg := []byte("hello world")
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = mb.TryReplace(msg)
	}
}

func BenchmarkReplaceDrain(b *testing.B) {
	mb := New()
	msg := bytes.Repeat([]byte{'m'}, 512)
	buf := make([]byte, 0, Capacity)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = mb.TryReplace(msg)
		_, _ = mb.AppendDrain(buf[:0], 0)
	}
}
