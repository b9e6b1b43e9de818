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

package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ground-x/compute-coordinator/apierr"
	"github.com/ground-x/compute-coordinator/store"
)

type countingNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *countingNotifier) NotifyNewWork() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count++
}

func (n *countingNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.count
}

func newTestQueue(t *testing.T, maxAttempts int) (*Queue, store.Store, *countingNotifier) {
	t.Helper()
	s := store.NewMemStore()
	n := &countingNotifier{}
	q, err := New(s, Config{TTLMin: time.Second, TTLMax: time.Hour, MaxAttempts: maxAttempts}, n, 0)
	require.NoError(t, err)
	return q, s, n
}

func TestSubmitValidatesPayloadSize(t *testing.T) {
	q, _, _ := newTestQueue(t, 3)
	big := make([]byte, defaultMaxPayloadBytes+1)
	_, err := q.Submit(context.Background(), "c1", big, nil, time.Minute, "")
	require.True(t, apierr.As(err, apierr.InvalidPayload))
}

func TestSubmitValidatesTTLRange(t *testing.T) {
	q, _, _ := newTestQueue(t, 3)
	_, err := q.Submit(context.Background(), "c1", []byte("{}"), nil, time.Millisecond, "")
	require.True(t, apierr.As(err, apierr.TTLOutOfRange))
}

func TestSubmitIsIdempotentPerClientAndKey(t *testing.T) {
	q, _, notifier := newTestQueue(t, 3)
	ctx := context.Background()

	j1, err := q.Submit(ctx, "c1", []byte("{}"), nil, time.Minute, "idem1")
	require.NoError(t, err)

	j2, err := q.Submit(ctx, "c1", []byte(`{"different":true}`), nil, time.Minute, "idem1")
	require.NoError(t, err)
	require.Equal(t, j1.JobID, j2.JobID)

	require.Equal(t, 1, notifier.Count())
}

func TestGetEnforcesOwnership(t *testing.T) {
	q, _, _ := newTestQueue(t, 3)
	ctx := context.Background()
	j, err := q.Submit(ctx, "c1", []byte("{}"), nil, time.Minute, "")
	require.NoError(t, err)

	_, err = q.Get(ctx, "c2", j.JobID)
	require.True(t, apierr.As(err, apierr.Forbidden))

	_, err = q.Get(ctx, "c1", j.JobID)
	require.NoError(t, err)
}

func TestCancelQueuedJobIsTerminal(t *testing.T) {
	q, _, _ := newTestQueue(t, 3)
	ctx := context.Background()
	j, err := q.Submit(ctx, "c1", []byte("{}"), nil, time.Minute, "")
	require.NoError(t, err)

	canceled, err := q.Cancel(ctx, "c1", j.JobID)
	require.NoError(t, err)
	require.Equal(t, store.JobCanceled, canceled.State)
	require.NotNil(t, canceled.FinishedAt)
}

func TestCancelIsIdempotent(t *testing.T) {
	q, _, _ := newTestQueue(t, 3)
	ctx := context.Background()
	j, err := q.Submit(ctx, "c1", []byte("{}"), nil, time.Minute, "")
	require.NoError(t, err)

	first, err := q.Cancel(ctx, "c1", j.JobID)
	require.NoError(t, err)
	second, err := q.Cancel(ctx, "c1", j.JobID)
	require.NoError(t, err)
	require.Equal(t, first.State, second.State)
}

func TestCancelRunningJobDecrementsMinerInflight(t *testing.T) {
	q, s, _ := newTestQueue(t, 3)
	ctx := context.Background()
	j, err := q.Submit(ctx, "c1", []byte("{}"), nil, time.Minute, "")
	require.NoError(t, err)

	_, err = s.UpsertMiner(ctx, "m1", func(cur *store.MinerRow) (*store.MinerRow, error) {
		return &store.MinerRow{Concurrency: 1, Inflight: 1, Status: store.MinerOnline}, nil
	})
	require.NoError(t, err)
	_, err = s.UpdateJob(ctx, j.JobID, func(row *store.JobRow) (*store.JobRow, error) {
		row.State = store.JobRunning
		row.AssignedMinerID = "m1"
		now := time.Now()
		row.StartedAt = &now
		return row, nil
	})
	require.NoError(t, err)

	canceled, err := q.Cancel(ctx, "c1", j.JobID)
	require.NoError(t, err)
	require.Equal(t, store.JobCanceled, canceled.State)

	m, err := s.GetMiner(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, 0, m.Inflight)
}

func TestTickExpiryMovesExpiredQueuedJobsToExpired(t *testing.T) {
	q, s, _ := newTestQueue(t, 3)
	ctx := context.Background()
	j, err := q.Submit(ctx, "c1", []byte("{}"), nil, time.Second, "")
	require.NoError(t, err)

	_, err = s.UpdateJob(ctx, j.JobID, func(row *store.JobRow) (*store.JobRow, error) {
		row.ExpiresAt = time.Now().Add(-time.Second)
		return row, nil
	})
	require.NoError(t, err)

	n, err := q.TickExpiry(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := s.GetJob(ctx, j.JobID)
	require.NoError(t, err)
	require.Equal(t, store.JobExpired, got.State)
	require.NotNil(t, got.FinishedAt)
}

func TestOnMinerOfflineRequeuesUnderMaxAttempts(t *testing.T) {
	q, s, notifier := newTestQueue(t, 3)
	ctx := context.Background()
	j, err := q.Submit(ctx, "c1", []byte("{}"), nil, time.Minute, "")
	require.NoError(t, err)

	_, err = s.UpdateJob(ctx, j.JobID, func(row *store.JobRow) (*store.JobRow, error) {
		row.State = store.JobRunning
		row.AssignedMinerID = "m1"
		now := time.Now()
		row.StartedAt = &now
		return row, nil
	})
	require.NoError(t, err)

	n, err := q.OnMinerOffline(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := s.GetJob(ctx, j.JobID)
	require.NoError(t, err)
	require.Equal(t, store.JobQueued, got.State)
	require.Equal(t, 1, got.Attempts)
	require.Equal(t, "", got.AssignedMinerID)
	require.Nil(t, got.StartedAt)
	require.Equal(t, 2, notifier.Count()) // one for submit, one for the re-queue wake
}

func TestOnMinerOfflineAbandonsAfterMaxAttempts(t *testing.T) {
	q, s, _ := newTestQueue(t, 1)
	ctx := context.Background()
	j, err := q.Submit(ctx, "c1", []byte("{}"), nil, time.Minute, "")
	require.NoError(t, err)

	_, err = s.UpdateJob(ctx, j.JobID, func(row *store.JobRow) (*store.JobRow, error) {
		row.State = store.JobRunning
		row.AssignedMinerID = "m1"
		return row, nil
	})
	require.NoError(t, err)

	n, err := q.OnMinerOffline(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := s.GetJob(ctx, j.JobID)
	require.NoError(t, err)
	require.Equal(t, store.JobFailed, got.State)
	require.Equal(t, "abandoned", got.Error)
}
