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

package waiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ground-x/compute-coordinator/store"
)

type fakeMatcher struct {
	mu    sync.Mutex
	calls int
	jobs  []*store.JobRow // popped one per call, nil once exhausted
	err   error
}

func (f *fakeMatcher) Dispatch(ctx context.Context, minerID string) (*store.JobRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.jobs) == 0 {
		return nil, nil
	}
	job := f.jobs[0]
	f.jobs = f.jobs[1:]
	return job, nil
}

func (f *fakeMatcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestPollReturnsImmediatelyWhenMatcherFindsWork(t *testing.T) {
	job := &store.JobRow{JobID: "j1"}
	m := &fakeMatcher{jobs: []*store.JobRow{job}}
	w := New(m, NewBroadcaster(), time.Minute)

	got, err := w.Poll(context.Background(), "miner1", time.Minute)
	require.NoError(t, err)
	require.Same(t, job, got)
	require.Equal(t, 1, m.Calls())
}

func TestPollReturnsNilImmediatelyWhenMaxWaitIsZero(t *testing.T) {
	m := &fakeMatcher{}
	w := New(m, NewBroadcaster(), time.Minute)

	start := time.Now()
	got, err := w.Poll(context.Background(), "miner1", 0)
	require.NoError(t, err)
	require.Nil(t, got)
	require.Less(t, time.Since(start), 100*time.Millisecond)
	require.Equal(t, 1, m.Calls())
}

func TestPollWakesOnBroadcastAndReDispatches(t *testing.T) {
	job := &store.JobRow{JobID: "j2"}
	m := &fakeMatcher{} // first call returns nil: no jobs queued yet
	b := NewBroadcaster()
	w := New(m, b, time.Minute)

	done := make(chan struct{})
	var got *store.JobRow
	var pollErr error
	go func() {
		got, pollErr = w.Poll(context.Background(), "miner1", time.Minute)
		close(done)
	}()

	// give Poll time to run its first Dispatch and subscribe
	time.Sleep(20 * time.Millisecond)
	m.mu.Lock()
	m.jobs = []*store.JobRow{job}
	m.mu.Unlock()
	b.NotifyNewWork()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Poll did not wake on broadcast")
	}
	require.NoError(t, pollErr)
	require.Same(t, job, got)
	require.Equal(t, 2, m.Calls())
}

func TestPollClampsWaitToPollCap(t *testing.T) {
	m := &fakeMatcher{}
	w := New(m, NewBroadcaster(), 30*time.Millisecond)

	start := time.Now()
	got, err := w.Poll(context.Background(), "miner1", time.Hour)
	elapsed := time.Since(start)
	require.NoError(t, err)
	require.Nil(t, got)
	require.Less(t, elapsed, 200*time.Millisecond)
	require.Equal(t, 2, m.Calls())
}

func TestPollReturnsNilOnContextCancellation(t *testing.T) {
	m := &fakeMatcher{}
	w := New(m, NewBroadcaster(), time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	var got *store.JobRow
	var pollErr error
	go func() {
		got, pollErr = w.Poll(ctx, "miner1", time.Minute)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Poll did not return on ctx cancellation")
	}
	require.NoError(t, pollErr)
	require.Nil(t, got)
}

func TestBroadcasterUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroadcaster()
	ch, unsubscribe := b.Subscribe()
	unsubscribe()
	b.NotifyNewWork()

	select {
	case <-ch:
		t.Fatal("unsubscribed channel should not receive a wake")
	default:
	}
}

func TestDispatchErrorPropagates(t *testing.T) {
	m := &fakeMatcher{err: context.DeadlineExceeded}
	w := New(m, NewBroadcaster(), time.Minute)

	_, err := w.Poll(context.Background(), "miner1", time.Minute)
	require.Error(t, err)
	require.Equal(t, 1, m.Calls())
}
