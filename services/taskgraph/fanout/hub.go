// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fanout delivers task lifecycle events to subscribers of a
// tenant channel.
//
// Delivery is fire-and-forget: an event reaches the subscribers attached at
// publish time, there is no replay, and a subscriber whose buffer is full
// misses the event. Publishing never blocks on a slow consumer.
package fanout

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Event names published by the task graph engine.
const (
	EventTaskCreated         = "taskCreated"
	EventTaskUpdated         = "taskUpdated"
	EventTaskCompleted       = "taskCompleted"
	EventTaskDeleted         = "taskDeleted"
	EventDependencyAdded     = "dependencyAdded"
	EventDependencyRemoved   = "dependencyRemoved"
	EventDependencyCompleted = "dependencyCompleted"
)

// DefaultBufferSize is the per-subscriber queue length.
const DefaultBufferSize = 64

// ErrHubClosed is returned by Subscribe after Close.
var ErrHubClosed = errors.New("fanout hub is closed")

// Event is one published notification. It is also the wire frame written
// to WebSocket clients.
type Event struct {
	Name     string    `json:"event"`
	TenantID string    `json:"-"`
	Data     any       `json:"data"`
	At       time.Time `json:"at"`
}

// Recorder receives delivery statistics. Implementations must be safe for
// concurrent use.
type Recorder interface {
	RecordPublish(event string, delivered int)
	RecordDrop(event string)
	SetSubscribers(n int)
}

// Config configures a Hub.
type Config struct {
	// BufferSize is the per-subscriber queue length. Zero means DefaultBufferSize.
	BufferSize int

	// Recorder is optional.
	Recorder Recorder
}

type registry map[string][]*Subscription

// Hub is a tenant-keyed publish/subscribe channel.
//
// # Thread Safety
//
// All methods are safe for concurrent use. The subscriber set is an
// immutable snapshot behind an atomic pointer; Subscribe and detach
// copy it under a mutex, Publish only loads it.
type Hub struct {
	bufferSize int
	recorder   Recorder

	mu     sync.Mutex
	subs   atomic.Pointer[registry]
	count  int
	closed bool
}

// NewHub creates an open hub.
func NewHub(cfg Config) *Hub {
	size := cfg.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	h := &Hub{bufferSize: size, recorder: cfg.Recorder}
	empty := registry{}
	h.subs.Store(&empty)
	return h
}

// Subscribe attaches a new subscriber to tenantID's channel.
func (h *Hub) Subscribe(tenantID string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}

	sub := &Subscription{
		hub:      h,
		tenantID: tenantID,
		ch:       make(chan Event, h.bufferSize),
	}

	cur := *h.subs.Load()
	next := make(registry, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	list := make([]*Subscription, len(cur[tenantID]), len(cur[tenantID])+1)
	copy(list, cur[tenantID])
	next[tenantID] = append(list, sub)
	h.subs.Store(&next)

	h.count++
	h.reportSubscribers()
	return sub, nil
}

func (h *Hub) detach(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cur := *h.subs.Load()
	list := cur[sub.tenantID]
	idx := -1
	for i, s := range list {
		if s == sub {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}

	next := make(registry, len(cur))
	for k, v := range cur {
		next[k] = v
	}
	if len(list) == 1 {
		delete(next, sub.tenantID)
	} else {
		rest := make([]*Subscription, 0, len(list)-1)
		rest = append(rest, list[:idx]...)
		rest = append(rest, list[idx+1:]...)
		next[sub.tenantID] = rest
	}
	h.subs.Store(&next)

	h.count--
	h.reportSubscribers()
}

// Publish delivers an event to every current subscriber of tenantID and
// returns how many received it. It never blocks.
func (h *Hub) Publish(tenantID, event string, payload any) int {
	ev := Event{Name: event, TenantID: tenantID, Data: payload, At: time.Now().UTC()}

	delivered := 0
	for _, sub := range (*h.subs.Load())[tenantID] {
		switch sub.offer(ev) {
		case offerDelivered:
			delivered++
		case offerDropped:
			if h.recorder != nil {
				h.recorder.RecordDrop(event)
			}
		}
	}
	if h.recorder != nil {
		h.recorder.RecordPublish(event, delivered)
	}
	return delivered
}

// Subscribers returns the number of subscribers attached to tenantID.
func (h *Hub) Subscribers(tenantID string) int {
	return len((*h.subs.Load())[tenantID])
}

// Close detaches every subscriber and closes their channels. Publish after
// Close delivers to nobody.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	cur := *h.subs.Load()
	empty := registry{}
	h.subs.Store(&empty)
	h.count = 0
	h.reportSubscribers()
	h.mu.Unlock()

	for _, list := range cur {
		for _, sub := range list {
			sub.shutdown()
		}
	}
}

// reportSubscribers must be called with h.mu held.
func (h *Hub) reportSubscribers() {
	if h.recorder != nil {
		h.recorder.SetSubscribers(h.count)
	}
}

// =============================================================================
// Subscription
// =============================================================================

// Subscription is one consumer attached to a tenant channel.
type Subscription struct {
	hub      *Hub
	tenantID string
	ch       chan Event
	dropped  atomic.Uint64

	// mu guards ch against a send racing its close. Publishers hold the
	// read lock for a single non-blocking send.
	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

// Events returns the delivery channel. It is closed when the subscription
// or the hub is closed.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// TenantID returns the tenant this subscription listens to.
func (s *Subscription) TenantID() string {
	return s.tenantID
}

// Dropped returns how many events this subscriber missed because its
// buffer was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.detach(s)
	s.shutdown()
}

func (s *Subscription) shutdown() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}

type offerResult int

const (
	offerDelivered offerResult = iota
	offerDropped
	offerClosed
)

func (s *Subscription) offer(ev Event) offerResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return offerClosed
	}
	select {
	case s.ch <- ev:
		return offerDelivered
	default:
		s.dropped.Add(1)
		return offerDropped
	}
}
