package live

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

var (
	_ Source    = (*MemoryHub)(nil)
	_ Publisher = (*MemoryHub)(nil)
)

// MemoryHub is an in-process live channel used when Redis is not
// configured and in tests. Subscribers of one review receive events in
// publish order.
type MemoryHub struct {
	// publishMu serializes publishers so sequence order matches delivery order.
	publishMu sync.Mutex

	mu     sync.Mutex
	subs   map[string]map[*memorySubscription]struct{}
	seq    map[string]int64
	buffer int
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		subs:   make(map[string]map[*memorySubscription]struct{}),
		seq:    make(map[string]int64),
		buffer: 64,
	}
}

func (h *MemoryHub) Subscribe(ctx context.Context, reviewID string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &memorySubscription{
		hub:      h,
		reviewID: reviewID,
		ch:       make(chan Delivery, h.buffer),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[reviewID] == nil {
		h.subs[reviewID] = make(map[*memorySubscription]struct{})
	}
	h.subs[reviewID][sub] = struct{}{}
	return sub, nil
}

func (h *MemoryHub) Publish(ctx context.Context, env Envelope) (int64, error) {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	h.mu.Lock()
	h.seq[env.ReviewID]++
	env.Seq = h.seq[env.ReviewID]
	targets := h.snapshot(env.ReviewID)
	h.mu.Unlock()

	data, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("marshal envelope: %w", err)
	}
	for _, sub := range targets {
		if err := sub.send(ctx, Delivery{Data: data}); err != nil {
			return env.Seq, err
		}
	}
	return env.Seq, nil
}

// PublishRaw delivers data as-is without assigning a sequence number.
func (h *MemoryHub) PublishRaw(ctx context.Context, reviewID string, data []byte) error {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	h.mu.Lock()
	targets := h.snapshot(reviewID)
	h.mu.Unlock()

	for _, sub := range targets {
		if err := sub.send(ctx, Delivery{Data: data}); err != nil {
			return err
		}
	}
	return nil
}

// Fail reports a channel error to every subscriber of the review.
func (h *MemoryHub) Fail(ctx context.Context, reviewID string, cause error) error {
	h.mu.Lock()
	targets := h.snapshot(reviewID)
	h.mu.Unlock()

	for _, sub := range targets {
		if err := sub.send(ctx, Delivery{Err: cause}); err != nil {
			return err
		}
	}
	return nil
}

// Subscribers reports how many subscriptions are open for the review.
func (h *MemoryHub) Subscribers(reviewID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[reviewID])
}

func (h *MemoryHub) snapshot(reviewID string) []*memorySubscription {
	out := make([]*memorySubscription, 0, len(h.subs[reviewID]))
	for sub := range h.subs[reviewID] {
		out = append(out, sub)
	}
	return out
}

func (h *MemoryHub) remove(sub *memorySubscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[sub.reviewID], sub)
	if len(h.subs[sub.reviewID]) == 0 {
		delete(h.subs, sub.reviewID)
	}
}

type memorySubscription struct {
	hub      *MemoryHub
	reviewID string

	// mu guards ch against a send racing with close.
	mu     sync.Mutex
	ch     chan Delivery
	done   chan struct{}
	once   sync.Once
	closed bool
}

func (s *memorySubscription) Deliveries() <-chan Delivery {
	return s.ch
}

func (s *memorySubscription) send(ctx context.Context, d Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	select {
	case s.ch <- d:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.hub.remove(s)
		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
	return nil
}
