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
	"context"
	"errors"
	"fmt"

	"github.com/srediag/shmbox/api"
	"github.com/srediag/shmbox/internal/audit"
)

const (
	// DefaultProducerName is the endpoint name of a Producer.
	DefaultProducerName = "shmbox_in"
	// DefaultConsumerName is the endpoint name of a Consumer.
	DefaultConsumerName = "shmbox_out"
)

var (
	_ api.Producer = (*Producer)(nil)
	_ api.Consumer = (*Consumer)(nil)
)

type endpoint struct {
	name      string
	mb        *Mailbox
	lifecycle api.Lifecycle
	telemetry *Telemetry
	journal   *audit.Journal
}

// EndpointOption configures a Producer or a Consumer.
type EndpointOption func(*endpoint)

// WithName overrides the endpoint name used in logs, spans and the lifecycle
// registry.
func WithName(name string) EndpointOption {
	return func(e *endpoint) {
		e.name = name
	}
}

// WithLifecycle reports handle opens and closes to lc.
func WithLifecycle(lc api.Lifecycle) EndpointOption {
	return func(e *endpoint) {
		e.lifecycle = lc
	}
}

// WithTelemetry traces and counts endpoint operations.
func WithTelemetry(t *Telemetry) EndpointOption {
	return func(e *endpoint) {
		if t != nil {
			e.telemetry = t
		}
	}
}

// WithJournal records each operation outcome in j.
func WithJournal(j *audit.Journal) EndpointOption {
	return func(e *endpoint) {
		e.journal = j
	}
}

func newEndpoint(mb *Mailbox, name string, opts []EndpointOption) endpoint {
	e := endpoint{
		name:      name,
		mb:        mb,
		telemetry: noopTelemetry(),
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

func (e *endpoint) opened() error {
	if e.lifecycle == nil {
		return nil
	}
	if err := e.lifecycle.Opened(e.name); err != nil {
		return fmt.Errorf("open %s: %w", e.name, err)
	}
	return nil
}

func (e *endpoint) closed() error {
	if e.lifecycle == nil {
		return nil
	}
	if err := e.lifecycle.Closed(e.name); err != nil {
		return fmt.Errorf("close %s: %w", e.name, err)
	}
	return nil
}

// Producer is the write-only endpoint of a mailbox.
type Producer struct {
	endpoint
}

// NewProducer returns the producer endpoint of mb.
func NewProducer(mb *Mailbox, opts ...EndpointOption) *Producer {
	return &Producer{endpoint: newEndpoint(mb, DefaultProducerName, opts)}
}

// Name returns the endpoint name.
func (p *Producer) Name() string {
	return p.name
}

// Submit replaces the stored message with data. It returns the number of
// bytes stored, which is less than len(data) when data had to be cut to fit,
// or ErrBusy.
func (p *Producer) Submit(data []byte) (int, error) {
	return p.SubmitContext(context.Background(), data)
}

// SubmitContext is Submit with ctx carried into the trace span.
func (p *Producer) SubmitContext(ctx context.Context, data []byte) (int, error) {
	ctx, span := p.telemetry.start(ctx, p.name, "submit")
	n, err := p.mb.TryReplace(data)
	result := resultAccepted
	switch {
	case errors.Is(err, ErrBusy):
		result = resultBusy
	case errors.Is(err, ErrClosed):
		result = resultClosed
	case err == nil && n < len(data):
		p.journal.Record(p.name, "truncate", len(data), fmt.Sprintf("kept %d", n))
	}
	p.journal.Record(p.name, "submit:"+result, n, "")
	p.telemetry.end(ctx, span, p.name, "submit", result, n, err)
	return n, err
}

// Open returns a write handle and tells the lifecycle registry about it.
func (p *Producer) Open() (*WriteHandle, error) {
	if err := p.opened(); err != nil {
		return nil, err
	}
	return &WriteHandle{p: p}, nil
}

// Consumer is the read-only endpoint of a mailbox.
type Consumer struct {
	endpoint
}

// NewConsumer returns the consumer endpoint of mb.
func NewConsumer(mb *Mailbox, opts ...EndpointOption) *Consumer {
	return &Consumer{endpoint: newEndpoint(mb, DefaultConsumerName, opts)}
}

// Name returns the endpoint name.
func (c *Consumer) Name() string {
	return c.name
}

// Receive returns the stored message from offset on and clears the mailbox.
//
// An offset at or past Capacity is the end of the stream: zero bytes and a
// nil error. ErrNoMessage means nothing was stored, ErrBusy means another
// caller held the mailbox.
func (c *Consumer) Receive(offset int) ([]byte, error) {
	return c.ReceiveContext(context.Background(), offset)
}

// ReceiveContext is Receive with ctx carried into the trace span.
func (c *Consumer) ReceiveContext(ctx context.Context, offset int) ([]byte, error) {
	data, err := c.drain(ctx, nil, offset)
	if errors.Is(err, ErrOffsetBeyondEnd) {
		return []byte{}, nil
	}
	return data, err
}

// drain appends to dst and keeps ErrOffsetBeyondEnd for callers that map it
// to io.EOF. ErrEmpty is reported as ErrNoMessage.
func (c *Consumer) drain(ctx context.Context, dst []byte, offset int) ([]byte, error) {
	ctx, span := c.telemetry.start(ctx, c.name, "receive")
	base := len(dst)
	data, err := c.mb.AppendDrain(dst, offset)
	result := resultDelivered
	switch {
	case errors.Is(err, ErrBusy):
		result = resultBusy
	case errors.Is(err, ErrEmpty):
		result = resultEmpty
		err = ErrNoMessage
	case errors.Is(err, ErrOffsetBeyondEnd):
		result = resultEOF
	case errors.Is(err, ErrClosed):
		result = resultClosed
	case err != nil:
		result = "invalid"
	}
	n := len(data) - base
	c.journal.Record(c.name, "receive:"+result, n, fmt.Sprintf("offset %d", offset))
	// end of stream is a success for tracing purposes
	spanErr := err
	if result == resultEOF {
		spanErr = nil
	}
	c.telemetry.end(ctx, span, c.name, "receive", result, n, spanErr)
	return data, err
}

// Open returns a read handle positioned at offset 0 and tells the lifecycle
// registry about it.
func (c *Consumer) Open() (*ReadHandle, error) {
	if err := c.opened(); err != nil {
		return nil, err
	}
	return &ReadHandle{c: c}, nil
}
