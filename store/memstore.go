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
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemStore is the default, in-process Store used by tests and by
// single-process deployments that accept losing state on restart. Every
// mutation takes the single mutex; row-level locking is simulated by
// (read copy, mutate copy, compare version, swap) under that mutex, which
// gives memstore the same CAS-on-version contract sqlstore exposes.
type MemStore struct {
	mu sync.Mutex

	jobs  map[string]*JobRow
	idemp map[string]string // "clientID\x00key" -> job_id

	miners map[string]*MinerRow

	attempts map[string][]*AttemptRow // job_id -> attempts, append order

	receipts     map[string][]*ReceiptRow // job_id -> receipts, append order
	receiptByID  map[string]*ReceiptRow   // receipt_id -> receipt
	receiptNonce map[string]*ReceiptRow   // "job_id\x00nonce" -> receipt

	stats Stats
}

// NewMemStore constructs an empty in-memory Store.
func NewMemStore() *MemStore {
	return &MemStore{
		jobs:         make(map[string]*JobRow),
		idemp:        make(map[string]string),
		miners:       make(map[string]*MinerRow),
		attempts:     make(map[string][]*AttemptRow),
		receipts:     make(map[string][]*ReceiptRow),
		receiptByID:  make(map[string]*ReceiptRow),
		receiptNonce: make(map[string]*ReceiptRow),
	}
}

func idempKey(clientID, key string) string { return clientID + "\x00" + key }
func nonceKey(jobID, nonce string) string   { return jobID + "\x00" + nonce }

func cloneJob(j *JobRow) *JobRow {
	cp := *j
	if j.Constraints != nil {
		c := *j.Constraints
		cp.Constraints = &c
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}

func cloneMiner(m *MinerRow) *MinerRow {
	cp := *m
	if m.PricePerHour != nil {
		p := *m.PricePerHour
		cp.PricePerHour = &p
	}
	cp.Capabilities.SupportedModels = append([]string(nil), m.Capabilities.SupportedModels...)
	return &cp
}

func (s *MemStore) CreateJob(ctx context.Context, row *JobRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if row.IdempotencyKey != "" {
		k := idempKey(row.ClientID, row.IdempotencyKey)
		if _, ok := s.idemp[k]; ok {
			return ErrAlreadyExists
		}
		s.idemp[k] = row.JobID
	}
	if _, ok := s.jobs[row.JobID]; ok {
		return ErrAlreadyExists
	}
	row.Version = 1
	s.jobs[row.JobID] = cloneJob(row)
	s.stats.QueueDepth++
	return nil
}

func (s *MemStore) GetJob(ctx context.Context, jobID string) (*JobRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(j), nil
}

func (s *MemStore) FindByIdempotencyKey(ctx context.Context, clientID, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobID, ok := s.idemp[idempKey(clientID, key)]
	if !ok {
		return "", ErrNotFound
	}
	return jobID, nil
}

func (s *MemStore) UpdateJob(ctx context.Context, jobID string, mutate JobMutator) (*JobRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	before := cloneJob(cur)
	next, err := mutate(cloneJob(cur))
	if err != nil {
		return nil, err
	}
	next.Version = before.Version + 1
	s.jobs[jobID] = cloneJob(next)
	s.reconcileStatsLocked(before, next)
	return cloneJob(next), nil
}

// reconcileStatsLocked updates queue-depth/completion counters when a job's
// state changes; called with s.mu held.
func (s *MemStore) reconcileStatsLocked(before, after *JobRow) {
	if before.State == after.State {
		return
	}
	if before.State == JobQueued {
		s.stats.QueueDepth--
	}
	if after.State == JobQueued {
		s.stats.QueueDepth++
	}
	switch after.State {
	case JobCompleted:
		s.stats.Completed++
	case JobFailed:
		s.stats.Failed++
	case JobExpired:
		s.stats.Expired++
	case JobCanceled:
		s.stats.Canceled++
	}
}

func (s *MemStore) ListQueuedJobsByAge(ctx context.Context, limit int) ([]*JobRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*JobRow
	for _, j := range s.jobs {
		if j.State == JobQueued {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].RequestedAt.Equal(out[k].RequestedAt) {
			return out[i].RequestedAt.Before(out[k].RequestedAt)
		}
		return out[i].JobID < out[k].JobID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) ListExpiredQueuedJobs(ctx context.Context, asOf int64, limit int) ([]*JobRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*JobRow
	for _, j := range s.jobs {
		if j.State == JobQueued && j.ExpiresAt.Unix() <= asOf {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].JobID < out[k].JobID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) ListRunningByMiner(ctx context.Context, minerID string) ([]*JobRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*JobRow
	for _, j := range s.jobs {
		if j.State == JobRunning && j.AssignedMinerID == minerID {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].JobID < out[k].JobID })
	return out, nil
}

// ListJobs implements keyset pagination: the cursor encodes the last row's
// (requested_at_unix, job_id) as "base64(unixseconds:job_id)".
func (s *MemStore) ListJobs(ctx context.Context, state JobState, cursor string, limit int) ([]*JobRow, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*JobRow
	for _, j := range s.jobs {
		if state != "" && j.State != state {
			continue
		}
		all = append(all, cloneJob(j))
	}
	sort.Slice(all, func(i, k int) bool {
		if !all[i].RequestedAt.Equal(all[k].RequestedAt) {
			return all[i].RequestedAt.Before(all[k].RequestedAt)
		}
		return all[i].JobID < all[k].JobID
	})

	afterTS, afterID, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", fmt.Errorf("store: invalid cursor: %w", err)
	}

	start := 0
	if cursor != "" {
		for i, j := range all {
			if j.RequestedAt.Unix() > afterTS || (j.RequestedAt.Unix() == afterTS && j.JobID > afterID) {
				start = i
				goto found
			}
		}
		start = len(all)
	found:
	}

	if limit <= 0 {
		limit = 100
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	page := all[start:end]

	next := ""
	if end < len(all) {
		last := page[len(page)-1]
		next = encodeCursor(last.RequestedAt.Unix(), last.JobID)
	}
	return page, next, nil
}

func encodeCursor(ts int64, jobID string) string {
	raw := fmt.Sprintf("%d:%s", ts, jobID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (ts int64, jobID string, err error) {
	if cursor == "" {
		return 0, "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, "", err
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("malformed cursor")
	}
	_, err = fmt.Sscanf(parts[0], "%d", &ts)
	if err != nil {
		return 0, "", err
	}
	return ts, parts[1], nil
}

func (s *MemStore) UpsertMiner(ctx context.Context, minerID string, mutate MinerMutator) (*MinerRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.miners[minerID]
	var curCopy *MinerRow
	if cur != nil {
		curCopy = cloneMiner(cur)
	}
	next, err := mutate(curCopy)
	if err != nil {
		return nil, err
	}
	if cur != nil {
		next.Version = cur.Version + 1
	} else {
		next.Version = 1
	}
	next.MinerID = minerID
	s.miners[minerID] = cloneMiner(next)
	return cloneMiner(next), nil
}

func (s *MemStore) GetMiner(ctx context.Context, minerID string) (*MinerRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.miners[minerID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMiner(m), nil
}

func (s *MemStore) SnapshotOnlineMiners(ctx context.Context) ([]*MinerRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*MinerRow
	for _, m := range s.miners {
		if m.Status == MinerOnline {
			out = append(out, cloneMiner(m))
		}
	}
	return out, nil
}

func (s *MemStore) ListStaleMiners(ctx context.Context, cutoff int64) ([]*MinerRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*MinerRow
	for _, m := range s.miners {
		if m.Status != MinerOffline && m.HeartbeatAt.Unix() <= cutoff {
			out = append(out, cloneMiner(m))
		}
	}
	return out, nil
}

func (s *MemStore) ListMiners(ctx context.Context) ([]*MinerRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*MinerRow, 0, len(s.miners))
	for _, m := range s.miners {
		out = append(out, cloneMiner(m))
	}
	sort.Slice(out, func(i, k int) bool { return out[i].MinerID < out[k].MinerID })
	return out, nil
}

func (s *MemStore) DeleteMiner(ctx context.Context, minerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.miners[minerID]; !ok {
		return ErrNotFound
	}
	delete(s.miners, minerID)
	return nil
}

func (s *MemStore) PutAttempt(ctx context.Context, row *AttemptRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.attempts[row.JobID]
	for i, a := range list {
		if a.AttemptNumber == row.AttemptNumber {
			cp := *row
			list[i] = &cp
			return nil
		}
	}
	cp := *row
	s.attempts[row.JobID] = append(list, &cp)
	return nil
}

func (s *MemStore) ListAttempts(ctx context.Context, jobID string) ([]*AttemptRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.attempts[jobID]
	out := make([]*AttemptRow, len(list))
	for i, a := range list {
		cp := *a
		out[i] = &cp
	}
	return out, nil
}

func (s *MemStore) AppendReceipt(ctx context.Context, row *ReceiptRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.receiptByID[row.ReceiptID]; ok {
		return ErrAlreadyExists
	}
	cp := *row
	s.receipts[row.JobID] = append(s.receipts[row.JobID], &cp)
	s.receiptByID[row.ReceiptID] = &cp
	s.receiptNonce[nonceKey(row.JobID, row.Nonce)] = &cp
	return nil
}

func (s *MemStore) FindReceiptByNonce(ctx context.Context, jobID, nonce string) (*ReceiptRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receiptNonce[nonceKey(jobID, nonce)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemStore) LatestReceipt(ctx context.Context, jobID string) (*ReceiptRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.receipts[jobID]
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	cp := *list[len(list)-1]
	return &cp, nil
}

func (s *MemStore) ReceiptHistory(ctx context.Context, jobID string) ([]*ReceiptRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.receipts[jobID]
	out := make([]*ReceiptRow, len(list))
	for i, r := range list {
		cp := *r
		out[i] = &cp
	}
	return out, nil
}

func (s *MemStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.MinersTotal = len(s.miners)
	for _, m := range s.miners {
		if m.Status == MinerOnline {
			st.MinersOnline++
		}
	}
	return st, nil
}

func (s *MemStore) Close() error { return nil }

var _ Store = (*MemStore)(nil)
