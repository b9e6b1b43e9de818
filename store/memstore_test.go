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

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCreateJobIdempotencyKeyIsUnique(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	j1 := &JobRow{JobID: "job1", ClientID: "c1", IdempotencyKey: "k1", State: JobQueued, RequestedAt: time.Now()}
	require.NoError(t, s.CreateJob(ctx, j1))

	j2 := &JobRow{JobID: "job2", ClientID: "c1", IdempotencyKey: "k1", State: JobQueued, RequestedAt: time.Now()}
	err := s.CreateJob(ctx, j2)
	require.ErrorIs(t, err, ErrAlreadyExists)

	found, err := s.FindByIdempotencyKey(ctx, "c1", "k1")
	require.NoError(t, err)
	require.Equal(t, "job1", found)
}

func TestUpdateJobAppliesMutatorAndBumpsVersion(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	require.NoError(t, s.CreateJob(ctx, &JobRow{JobID: "job1", ClientID: "c1", State: JobQueued, RequestedAt: time.Now()}))

	updated, err := s.UpdateJob(ctx, "job1", func(cur *JobRow) (*JobRow, error) {
		cur.State = JobRunning
		cur.AssignedMinerID = "m1"
		return cur, nil
	})
	require.NoError(t, err)
	require.Equal(t, JobRunning, updated.State)
	require.Equal(t, int64(2), updated.Version)

	got, err := s.GetJob(ctx, "job1")
	require.NoError(t, err)
	require.Equal(t, "m1", got.AssignedMinerID)
}

func TestUpdateJobMutatorVetoLeavesRowUnchanged(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	require.NoError(t, s.CreateJob(ctx, &JobRow{JobID: "job1", ClientID: "c1", State: JobQueued, RequestedAt: time.Now()}))

	sentinel := errors.New("conflict")
	_, err := s.UpdateJob(ctx, "job1", func(cur *JobRow) (*JobRow, error) {
		return nil, sentinel
	})
	require.ErrorIs(t, err, sentinel)

	got, err := s.GetJob(ctx, "job1")
	require.NoError(t, err)
	require.Equal(t, JobQueued, got.State)
	require.Equal(t, int64(1), got.Version)
}

func TestListQueuedJobsByAgeOrdersByRequestedAtThenJobID(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, s.CreateJob(ctx, &JobRow{JobID: "bbb", ClientID: "c1", State: JobQueued, RequestedAt: base}))
	require.NoError(t, s.CreateJob(ctx, &JobRow{JobID: "aaa", ClientID: "c1", State: JobQueued, RequestedAt: base}))
	require.NoError(t, s.CreateJob(ctx, &JobRow{JobID: "ccc", ClientID: "c1", State: JobQueued, RequestedAt: base.Add(-time.Second)}))

	rows, err := s.ListQueuedJobsByAge(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, []string{"ccc", "aaa", "bbb"}, []string{rows[0].JobID, rows[1].JobID, rows[2].JobID})
}

func TestListJobsPaginatesWithCursor(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	base := time.Now()
	for i, id := range []string{"j1", "j2", "j3", "j4"} {
		require.NoError(t, s.CreateJob(ctx, &JobRow{
			JobID: id, ClientID: "c1", State: JobQueued,
			RequestedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	page1, cursor, err := s.ListJobs(ctx, JobQueued, "", 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.NotEmpty(t, cursor)

	page2, cursor2, err := s.ListJobs(ctx, JobQueued, cursor, 2)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	require.Empty(t, cursor2)

	require.Equal(t, "j3", page2[0].JobID)
	require.Equal(t, "j4", page2[1].JobID)
}

func TestUpsertMinerTracksVersionAcrossCalls(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	m, err := s.UpsertMiner(ctx, "m1", func(cur *MinerRow) (*MinerRow, error) {
		return &MinerRow{Concurrency: 2, Status: MinerOnline, HeartbeatAt: time.Now()}, nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), m.Version)

	m2, err := s.UpsertMiner(ctx, "m1", func(cur *MinerRow) (*MinerRow, error) {
		require.NotNil(t, cur)
		cur.Inflight++
		return cur, nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), m2.Version)
	require.Equal(t, 1, m2.Inflight)
}

func TestAppendReceiptRejectsDuplicateID(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	r := &ReceiptRow{ReceiptID: "r1", JobID: "job1", Nonce: "n1", FinishedAt: time.Now()}
	require.NoError(t, s.AppendReceipt(ctx, r))
	require.ErrorIs(t, s.AppendReceipt(ctx, r), ErrAlreadyExists)

	found, err := s.FindReceiptByNonce(ctx, "job1", "n1")
	require.NoError(t, err)
	require.Equal(t, "r1", found.ReceiptID)
}

func TestReceiptHistoryPreservesAppendOrder(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	require.NoError(t, s.AppendReceipt(ctx, &ReceiptRow{ReceiptID: "r1", JobID: "job1", Nonce: "n1"}))
	require.NoError(t, s.AppendReceipt(ctx, &ReceiptRow{ReceiptID: "r2", JobID: "job1", Nonce: "n2"}))

	hist, err := s.ReceiptHistory(ctx, "job1")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	require.Equal(t, "r1", hist[0].ReceiptID)
	require.Equal(t, "r2", hist[1].ReceiptID)

	latest, err := s.LatestReceipt(ctx, "job1")
	require.NoError(t, err)
	require.Equal(t, "r2", latest.ReceiptID)
}

func TestGetJobNotFound(t *testing.T) {
	s := NewMemStore()
	_, err := s.GetJob(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}
