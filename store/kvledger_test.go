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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ground-x/compute-coordinator/store/kv"
)

func newTestKVLedger(t *testing.T) *KVLedgerStore {
	t.Helper()
	backend, err := kv.Open(kv.EngineLevelDB, t.TempDir())
	require.NoError(t, err)
	return NewKVLedgerStore(NewMemStore(), backend)
}

func TestKVLedgerAppendAndHistoryOrdering(t *testing.T) {
	ls := newTestKVLedger(t)
	defer ls.Close()
	ctx := context.Background()

	now := time.Now()
	first := &ReceiptRow{ReceiptID: "r1", JobID: "job1", Nonce: "n1", CreatedAt: now}
	second := &ReceiptRow{ReceiptID: "r2", JobID: "job1", Nonce: "n2", CreatedAt: now.Add(time.Second)}

	require.NoError(t, ls.AppendReceipt(ctx, first))
	require.NoError(t, ls.AppendReceipt(ctx, second))

	history, err := ls.ReceiptHistory(ctx, "job1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "r1", history[0].ReceiptID)
	require.Equal(t, "r2", history[1].ReceiptID)

	latest, err := ls.LatestReceipt(ctx, "job1")
	require.NoError(t, err)
	require.Equal(t, "r2", latest.ReceiptID)
}

func TestKVLedgerAppendRejectsDuplicateReceiptID(t *testing.T) {
	ls := newTestKVLedger(t)
	defer ls.Close()
	ctx := context.Background()

	row := &ReceiptRow{ReceiptID: "r1", JobID: "job1", Nonce: "n1"}
	require.NoError(t, ls.AppendReceipt(ctx, row))
	require.ErrorIs(t, ls.AppendReceipt(ctx, row), ErrAlreadyExists)
}

func TestKVLedgerFindReceiptByNonce(t *testing.T) {
	ls := newTestKVLedger(t)
	defer ls.Close()
	ctx := context.Background()

	require.NoError(t, ls.AppendReceipt(ctx, &ReceiptRow{ReceiptID: "r1", JobID: "job1", Nonce: "n1"}))

	found, err := ls.FindReceiptByNonce(ctx, "job1", "n1")
	require.NoError(t, err)
	require.Equal(t, "r1", found.ReceiptID)

	_, err = ls.FindReceiptByNonce(ctx, "job1", "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestOpenDispatchesMemoryScheme(t *testing.T) {
	s, err := Open("memory://", "", "")
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.(*MemStore)
	require.True(t, ok)
}

func TestOpenDispatchesKVLedgerWhenConfigured(t *testing.T) {
	s, err := Open("memory://", t.TempDir(), kv.EngineLevelDB)
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.(*KVLedgerStore)
	require.True(t, ok)
}
