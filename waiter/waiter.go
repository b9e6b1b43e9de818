// Copyright 2018 The klaytn Authors
// This file is part of the klaytn library.
//
// The klaytn library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The klaytn library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the klaytn library. If not, see <http://www.gnu.org/licenses/>.

// Package waiter implements the long-poll primitive of spec §4.6: park a
// miner's poll request until new work appears or the deadline elapses, then
// re-run the matcher exactly once.
package waiter

import (
	"context"
	"sync"
	"time"

	"github.com/ground-x/compute-coordinator/store"
)

// Matcher is the capability the waiter needs from C5; it is an interface
// here (rather than *match.Matcher) purely so tests can substitute a fake
// without constructing a full store.
type Matcher interface {
	Dispatch(ctx context.Context, minerID string) (*store.JobRow, error)
}

// Broadcaster is the internal notification channel of spec §4.6 step 2: a
// shared, in-process pub/sub that wakes every parked waiter whenever a job
// becomes newly eligible for matching. Subscribers hold a 1-buffered
// channel so a notification fired between Subscribe and the waiter's
// select is never lost, mirroring the at-least-once wake guarantee an
// event-mux-style broadcaster gives its subscribers.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

// NewBroadcaster constructs an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan struct{}]struct{})}
}

// Subscribe registers a new waiter and returns its wake channel plus an
// unsubscribe func the caller must call exactly once (typically deferred).
func (b *Broadcaster) Subscribe() (ch chan struct{}, unsubscribe func()) {
	ch = make(chan struct{}, 1)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
	}
}

// NotifyNewWork wakes every registered waiter. It satisfies
// queue.NewWorkNotifier structurally, so Coordinator can hand a
// *Broadcaster straight to queue.New without either package importing the
// other.
func (b *Broadcaster) NotifyNewWork() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
			// already has a pending wake queued; one wake is as good as many.
		}
	}
}

// Waiter is the C6 component.
type Waiter struct {
	matcher     Matcher
	broadcaster *Broadcaster
	pollCap     time.Duration
}

// New constructs a Waiter bounded by pollCap (spec §6: poll_cap_seconds).
func New(matcher Matcher, broadcaster *Broadcaster, pollCap time.Duration) *Waiter {
	return &Waiter{matcher: matcher, broadcaster: broadcaster, pollCap: pollCap}
}

// Poll implements spec §4.6: run the matcher once; if nothing is eligible
// and maxWait > 0, suspend (clamped to pollCap) until a wake or the
// deadline, then run the matcher exactly once more. ctx cancellation (a
// dropped miner connection) tears the wait down with no state change.
func (w *Waiter) Poll(ctx context.Context, minerID string, maxWait time.Duration) (*store.JobRow, error) {
	ch, unsubscribe := w.broadcaster.Subscribe()
	defer unsubscribe()

	job, err := w.matcher.Dispatch(ctx, minerID)
	if err != nil || job != nil {
		return job, err
	}
	if maxWait <= 0 {
		return nil, nil
	}

	wait := maxWait
	if wait > w.pollCap {
		wait = w.pollCap
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ch:
	case <-timer.C:
	case <-ctx.Done():
		return nil, nil
	}

	return w.matcher.Dispatch(ctx, minerID)
}
