// Package pipeline connects the pollers to the delivery engine.
//
// Queue is a bounded channel of Measurements shared by every producer. A full
// queue blocks producers until the delivery engine drains it, which is the
// only backpressure between polling and writing.
package pipeline

import (
	"context"

	"github.com/bb-Ricardo/fritzinfluxdb/pkg/types"
)

// DefaultCapacity is used when NewQueue is given a non-positive capacity.
const DefaultCapacity = 1000

// Queue is safe for concurrent use by any number of producers and one consumer.
type Queue struct {
	ch chan types.Measurement
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{ch: make(chan types.Measurement, capacity)}
}

// Push enqueues m, blocking while the queue is full. It returns ctx.Err() if
// ctx is cancelled first.
func (q *Queue) Push(ctx context.Context, m types.Measurement) error {
	select {
	case q.ch <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PushAll enqueues ms in order and stops at the first cancellation.
func (q *Queue) PushAll(ctx context.Context, ms []types.Measurement) error {
	for _, m := range ms {
		if err := q.Push(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// Drain appends every currently queued measurement to dst without blocking.
func (q *Queue) Drain(dst []types.Measurement) []types.Measurement {
	for {
		select {
		case m := <-q.ch:
			dst = append(dst, m)
		default:
			return dst
		}
	}
}

// Len returns the number of queued measurements.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }
