// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fanout

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRecorder struct {
	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
	subs      atomic.Int64
}

func (r *countingRecorder) RecordPublish(_ string, delivered int) {
	r.published.Add(1)
	r.delivered.Add(int64(delivered))
}

func (r *countingRecorder) RecordDrop(string) { r.dropped.Add(1) }

func (r *countingRecorder) SetSubscribers(n int) { r.subs.Store(int64(n)) }

func TestHub_DeliversToTenantSubscribersOnly(t *testing.T) {
	h := NewHub(Config{})
	defer h.Close()

	a1, err := h.Subscribe("acme")
	require.NoError(t, err)
	a2, err := h.Subscribe("acme")
	require.NoError(t, err)
	g, err := h.Subscribe("globex")
	require.NoError(t, err)

	n := h.Publish("acme", EventTaskUpdated, map[string]string{"id": "t1"})
	assert.Equal(t, 2, n)

	for _, sub := range []*Subscription{a1, a2} {
		ev := <-sub.Events()
		assert.Equal(t, EventTaskUpdated, ev.Name)
		assert.Equal(t, "acme", ev.TenantID)
		assert.False(t, ev.At.IsZero())
	}
	assert.Len(t, g.Events(), 0)
}

func TestHub_PublishWithoutSubscribers(t *testing.T) {
	h := NewHub(Config{})
	defer h.Close()
	assert.Equal(t, 0, h.Publish("acme", EventTaskCreated, nil))
}

func TestHub_FullBufferDropsWithoutBlocking(t *testing.T) {
	rec := &countingRecorder{}
	h := NewHub(Config{BufferSize: 2, Recorder: rec})
	defer h.Close()

	slow, err := h.Subscribe("acme")
	require.NoError(t, err)
	fast, err := h.Subscribe("acme")
	require.NoError(t, err)

	for range 5 {
		h.Publish("acme", EventTaskUpdated, nil)
		<-fast.Events()
	}

	assert.Len(t, slow.Events(), 2)
	assert.Equal(t, uint64(3), slow.Dropped())
	assert.Equal(t, uint64(0), fast.Dropped())
	assert.Equal(t, int64(3), rec.dropped.Load())
	assert.Equal(t, int64(5), rec.published.Load())
	assert.Equal(t, int64(7), rec.delivered.Load())
}

func TestHub_CloseSubscriptionDetaches(t *testing.T) {
	rec := &countingRecorder{}
	h := NewHub(Config{Recorder: rec})
	defer h.Close()

	sub, err := h.Subscribe("acme")
	require.NoError(t, err)
	assert.Equal(t, 1, h.Subscribers("acme"))
	assert.Equal(t, int64(1), rec.subs.Load())

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, h.Subscribers("acme"))
	assert.Equal(t, int64(0), rec.subs.Load())

	_, open := <-sub.Events()
	assert.False(t, open)
	assert.Equal(t, 0, h.Publish("acme", EventTaskUpdated, nil))
}

func TestHub_CloseEndsAllSubscriptions(t *testing.T) {
	h := NewHub(Config{})
	a, err := h.Subscribe("acme")
	require.NoError(t, err)
	g, err := h.Subscribe("globex")
	require.NoError(t, err)

	h.Close()
	h.Close()

	for _, sub := range []*Subscription{a, g} {
		_, open := <-sub.Events()
		assert.False(t, open)
	}
	_, err = h.Subscribe("acme")
	assert.ErrorIs(t, err, ErrHubClosed)
	assert.Equal(t, 0, h.Publish("acme", EventTaskUpdated, nil))

	// Closing a subscription after the hub is gone is harmless.
	a.Close()
}

// TestHub_ConcurrentAttachDetachAndPublish is meant to run under -race.
func TestHub_ConcurrentAttachDetachAndPublish(t *testing.T) {
	h := NewHub(Config{BufferSize: 4})
	defer h.Close()

	var publishers, churners sync.WaitGroup
	stop := make(chan struct{})

	for range 4 {
		publishers.Add(1)
		go func() {
			defer publishers.Done()
			for {
				select {
				case <-stop:
					return
				default:
					h.Publish("acme", EventTaskUpdated, nil)
				}
			}
		}()
	}

	for range 8 {
		churners.Add(1)
		go func() {
			defer churners.Done()
			for range 200 {
				sub, err := h.Subscribe("acme")
				if err != nil {
					return
				}
				sub.Close()
			}
		}()
	}

	churners.Wait()
	close(stop)
	publishers.Wait()

	assert.Equal(t, 0, h.Subscribers("acme"))
}
