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
)

// Sentinel errors every backend must return verbatim (via errors.Is) so
// callers above the store boundary can translate them into the coordinator's
// own error taxonomy without knowing which backend is in use.
var (
	ErrNotFound        = errors.New("store: not found")
	ErrVersionConflict = errors.New("store: version conflict")
	ErrAlreadyExists   = errors.New("store: already exists")
)

// JobMutator is applied to a JobRow under the store's atomic update
// primitive; it returns the mutated row, or an error to abort the update
// with no write performed. This is how C4/C5/C7 implement compare-and-swap
// transitions without the store knowing anything about job semantics.
type JobMutator func(cur *JobRow) (*JobRow, error)

// MinerMutator is the miner-row analogue of JobMutator.
type MinerMutator func(cur *MinerRow) (*MinerRow, error)

// Store is the capability interface every persistence backend satisfies.
// Implementations: memstore (default, in-process tests) and sqlstore (MySQL
// via gorm, version-column CAS). Durable receipt history additionally lives
// behind store/kv for deployments that want an embedded append log
// independent of the row store.
type Store interface {
	// CreateJob inserts a new job row. Returns ErrAlreadyExists if the
	// (client_id, idempotency_key) pair is already bound to a job_id; the
	// caller is expected to have checked FindByIdempotencyKey first, this
	// is the race-losing path's fallback.
	CreateJob(ctx context.Context, row *JobRow) error

	// GetJob fetches a job by id. Returns ErrNotFound if absent.
	GetJob(ctx context.Context, jobID string) (*JobRow, error)

	// FindByIdempotencyKey looks up a previously created job_id for
	// (clientID, key). Returns ErrNotFound if none exists yet.
	FindByIdempotencyKey(ctx context.Context, clientID, key string) (string, error)

	// UpdateJob applies mutate to the current row for jobID under the
	// store's atomic primitive (row lock or CAS-on-version). mutate may
	// return an error to veto the update (e.g. an invalid transition); that
	// error is returned to the caller unchanged and no write happens.
	// ErrVersionConflict is returned (with no mutation applied) when a
	// concurrent writer won the race; callers retry with a fresh read.
	UpdateJob(ctx context.Context, jobID string, mutate JobMutator) (*JobRow, error)

	// ListQueuedJobsByAge returns up to limit QUEUED jobs ordered by
	// requested_at ascending, job_id ascending as the tie-break, for the
	// matcher (spec §4.5 step 3).
	ListQueuedJobsByAge(ctx context.Context, limit int) ([]*JobRow, error)

	// ListExpiredQueuedJobs returns QUEUED jobs whose expires_at <= asOf,
	// for the expiry ticker.
	ListExpiredQueuedJobs(ctx context.Context, asOf int64, limit int) ([]*JobRow, error)

	// ListRunningByMiner returns RUNNING jobs currently assigned to
	// minerID, for the offline re-queue sweep.
	ListRunningByMiner(ctx context.Context, minerID string) ([]*JobRow, error)

	// ListJobs is the admin listing primitive: optional state filter,
	// keyset-paginated by (requested_at, job_id) via an opaque cursor.
	ListJobs(ctx context.Context, state JobState, cursor string, limit int) (rows []*JobRow, nextCursor string, err error)

	// UpsertMiner creates or atomically mutates a miner row.
	UpsertMiner(ctx context.Context, minerID string, mutate MinerMutator) (*MinerRow, error)

	// GetMiner fetches a miner by id. Returns ErrNotFound if absent.
	GetMiner(ctx context.Context, minerID string) (*MinerRow, error)

	// SnapshotOnlineMiners returns all ONLINE miners for the matcher.
	SnapshotOnlineMiners(ctx context.Context) ([]*MinerRow, error)

	// ListStaleMiners returns miners whose heartbeat_at is at or before
	// cutoff and whose status is not already OFFLINE, for the reaper.
	ListStaleMiners(ctx context.Context, cutoff int64) ([]*MinerRow, error)

	// ListMiners is the admin roster listing.
	ListMiners(ctx context.Context) ([]*MinerRow, error)

	// DeleteMiner hard-deletes a miner row (admin eviction).
	DeleteMiner(ctx context.Context, minerID string) error

	// PutAttempt appends or updates an attempt row.
	PutAttempt(ctx context.Context, row *AttemptRow) error

	// ListAttempts returns every attempt recorded for jobID, in creation
	// order.
	ListAttempts(ctx context.Context, jobID string) ([]*AttemptRow, error)

	// AppendReceipt durably appends a receipt row. The caller (C7) has
	// already verified there is no conflicting receipt for
	// (job_id, nonce); AppendReceipt itself only guards against a literal
	// duplicate receipt_id.
	AppendReceipt(ctx context.Context, row *ReceiptRow) error

	// FindReceiptByNonce looks up a previously stored receipt for
	// (jobID, nonce), for the C7 replay check. Returns ErrNotFound if none.
	FindReceiptByNonce(ctx context.Context, jobID, nonce string) (*ReceiptRow, error)

	// LatestReceipt returns the most recently appended receipt for jobID.
	// Returns ErrNotFound if the job has none.
	LatestReceipt(ctx context.Context, jobID string) (*ReceiptRow, error)

	// ReceiptHistory returns every receipt for jobID in append order.
	ReceiptHistory(ctx context.Context, jobID string) ([]*ReceiptRow, error)

	// Stats returns the counters behind GET /v1/admin/stats.
	Stats(ctx context.Context) (Stats, error)

	// Close releases any resources (connections, file handles) held by
	// the backend.
	Close() error
}

// Stats is the windowed counter set the admin stats endpoint reports.
type Stats struct {
	QueueDepth    int
	MinersOnline  int
	MinersTotal   int
	Completed     int64
	Failed        int64
	Expired       int64
	Canceled      int64
}
