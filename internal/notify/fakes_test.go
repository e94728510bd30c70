// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package notify_test

import (
	"context"
	"errors"
	"io"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/gatekeeper/gatekeeper/internal/notify"
)

type fakeChannel struct {
	mu         sync.Mutex
	declared   []string
	published  []amqp.Publishing
	publishErr []error
	deliveries chan amqp.Delivery
	closed     bool
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declared = append(f.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, _ string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.publishErr) > 0 {
		err := f.publishErr[0]
		f.publishErr = f.publishErr[1:]
		if err != nil {
			return err
		}
	}
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Qos(int, int, bool) error { return nil }

func (f *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	if f.deliveries == nil {
		return nil, errors.New("no deliveries configured")
	}
	return f.deliveries, nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) Published() []amqp.Publishing {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]amqp.Publishing(nil), f.published...)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// dialerFor returns a Dialer handing out channels in order, failing once
// they run out.
func dialerFor(channels ...*fakeChannel) (notify.Dialer, *int) {
	var (
		mu    sync.Mutex
		dials int
	)
	return func(string) (notify.Channel, io.Closer, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials > len(channels) {
			return nil, nil, errors.New("broker unavailable")
		}
		return channels[dials-1], nopCloser{}, nil
	}, &dials
}

type acker struct {
	mu     sync.Mutex
	acked  []uint64
	nacked []uint64
}

func (a *acker) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *acker) Nack(tag uint64, _, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked = append(a.nacked, tag)
	return nil
}

func (a *acker) Reject(tag uint64, requeue bool) error { return a.Nack(tag, false, requeue) }

func (a *acker) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.acked), len(a.nacked)
}
