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

// Package queue implements the job state machine of spec §4.4: submit,
// cancel, periodic TTL expiry, and miner-loss re-queue, enforcing every
// transition and the inflight/attempts invariants at the store boundary.
package queue

import (
	"context"
	"time"

	"github.com/ground-x/compute-coordinator/apierr"
	"github.com/ground-x/compute-coordinator/common"
	"github.com/ground-x/compute-coordinator/events"
	"github.com/ground-x/compute-coordinator/log"
	"github.com/ground-x/compute-coordinator/metrics"
	"github.com/ground-x/compute-coordinator/store"
)

var logger = log.NewModuleLogger("queue")

var (
	submittedCounter = metrics.NewRegisteredCounter("queue/submitted_total", nil)
	expiredCounter   = metrics.NewRegisteredCounter("queue/expired_total", nil)
	requeuedCounter  = metrics.NewRegisteredCounter("queue/requeued_total", nil)
	abandonedCounter = metrics.NewRegisteredCounter("queue/abandoned_total", nil)
)

const defaultMaxPayloadBytes = 1 << 20 // 1 MiB, spec §3/§8 boundary

// NewWorkNotifier is implemented by the long-poll waiter; the queue calls it
// whenever a job becomes newly eligible for matching (fresh submit or a
// miner-loss re-queue), per spec §4.6 step 3's wake conditions.
type NewWorkNotifier interface {
	NotifyNewWork()
}

// Config collects the queue's tunables (spec §6).
type Config struct {
	TTLMin          time.Duration
	TTLMax          time.Duration
	MaxAttempts     int
	MaxPayloadBytes int // 0 defaults to 1 MiB
}

func (c Config) sanitize() Config {
	if c.MaxPayloadBytes <= 0 {
		c.MaxPayloadBytes = defaultMaxPayloadBytes
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	return c
}

// Queue is the C4 component. It holds no state of its own beyond an
// idempotency fast-path cache; all durable state lives in store.Store.
type Queue struct {
	store    store.Store
	cfg      Config
	notifier NewWorkNotifier
	idemp    common.Cache // "clientID\x00key" -> job_id, fast path in front of store.FindByIdempotencyKey
	events   events.Publisher
}

// SetPublisher attaches the optional lifecycle-event sink (spec supplement
// §C); nil (the default) makes every publish call below a no-op.
func (q *Queue) SetPublisher(p events.Publisher) { q.events = p }

func (q *Queue) publish(kind events.Kind, row *store.JobRow) {
	if q.events == nil || row == nil {
		return
	}
	q.events.Publish(events.FromJob(kind, row))
}

// New constructs a Queue. idempCacheSize bounds the idempotency fast-path
// cache; 0 picks a sane default.
func New(s store.Store, cfg Config, notifier NewWorkNotifier, idempCacheSize int) (*Queue, error) {
	if idempCacheSize <= 0 {
		idempCacheSize = 10000
	}
	cache, err := common.NewCache(common.LRUConfig{CacheSize: idempCacheSize})
	if err != nil {
		return nil, err
	}
	return &Queue{store: s, cfg: cfg.sanitize(), notifier: notifier, idemp: cache}, nil
}

func idempCacheKey(clientID, key string) string { return clientID + "\x00" + key }

// Submit implements spec §4.4's submit contract.
func (q *Queue) Submit(ctx context.Context, clientID string, payload []byte, constraints *store.Constraints, ttl time.Duration, idempotencyKey string) (*store.JobRow, error) {
	if len(payload) > q.cfg.MaxPayloadBytes {
		return nil, apierr.Newf(apierr.InvalidPayload, "payload exceeds %d bytes", q.cfg.MaxPayloadBytes)
	}
	if ttl < q.cfg.TTLMin || ttl > q.cfg.TTLMax {
		return nil, apierr.Newf(apierr.TTLOutOfRange, "ttl_seconds must be in [%d, %d]", int(q.cfg.TTLMin.Seconds()), int(q.cfg.TTLMax.Seconds()))
	}

	if idempotencyKey != "" {
		if existing, ok := q.lookupIdempotent(ctx, clientID, idempotencyKey); ok {
			row, err := q.store.GetJob(ctx, existing)
			if err == nil {
				return row, nil
			}
		}
	}

	now := time.Now()
	row := &store.JobRow{
		JobID:          common.NewOpaqueID(),
		ClientID:       clientID,
		Payload:        payload,
		Constraints:    constraints,
		RequestedAt:    now,
		ExpiresAt:      now.Add(ttl),
		State:          store.JobQueued,
		IdempotencyKey: idempotencyKey,
	}

	err := q.store.CreateJob(ctx, row)
	if err == store.ErrAlreadyExists {
		// either a literal job_id collision (astronomically unlikely) or a
		// concurrent submit under the same idempotency key won the race;
		// the latter is the real case this path exists for.
		if idempotencyKey != "" {
			existing, lookupErr := q.store.FindByIdempotencyKey(ctx, clientID, idempotencyKey)
			if lookupErr == nil {
				q.cacheIdempotent(clientID, idempotencyKey, existing)
				return q.store.GetJob(ctx, existing)
			}
		}
		return nil, apierr.Wrap(apierr.Internal, err, "failed to create job")
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, err, "failed to create job")
	}

	if idempotencyKey != "" {
		q.cacheIdempotent(clientID, idempotencyKey, row.JobID)
	}
	submittedCounter.Inc(1)
	q.publish(events.JobSubmitted, row)
	q.wakeWaiters()
	return row, nil
}

func (q *Queue) lookupIdempotent(ctx context.Context, clientID, key string) (string, bool) {
	if v, ok := q.idemp.Get(idempCacheKey(clientID, key)); ok {
		return v.(string), true
	}
	jobID, err := q.store.FindByIdempotencyKey(ctx, clientID, key)
	if err != nil {
		return "", false
	}
	q.cacheIdempotent(clientID, key, jobID)
	return jobID, true
}

func (q *Queue) cacheIdempotent(clientID, key, jobID string) {
	q.idemp.Add(idempCacheKey(clientID, key), jobID)
}

func (q *Queue) wakeWaiters() {
	if q.notifier != nil {
		q.notifier.NotifyNewWork()
	}
}

// Get fetches job metadata, enforcing client ownership when clientID is
// non-empty (empty clientID is the wallet/admin read path).
func (q *Queue) Get(ctx context.Context, clientID, jobID string) (*store.JobRow, error) {
	row, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, apierr.New(apierr.JobNotFound, "job not found")
		}
		return nil, apierr.Wrap(apierr.Internal, err, "failed to fetch job")
	}
	if clientID != "" && row.ClientID != clientID {
		return nil, apierr.New(apierr.Forbidden, "not the owner of this job")
	}
	return row, nil
}

// Cancel implements spec §4.4's cancel contract: idempotent, and a RUNNING
// cancel marks the job CANCELED immediately while letting a late result
// persist only as an attempt record (spec §5 cancellation semantics).
func (q *Queue) Cancel(ctx context.Context, clientID, jobID string) (*store.JobRow, error) {
	cur, err := q.Get(ctx, clientID, jobID)
	if err != nil {
		return nil, err
	}
	if cur.State.Terminal() {
		return cur, nil // L-idemp-cancel: already-terminal is a no-op success
	}

	wasRunning := cur.State == store.JobRunning
	assignedMiner := cur.AssignedMinerID

	row, err := q.store.UpdateJob(ctx, jobID, func(j *store.JobRow) (*store.JobRow, error) {
		if j.State.Terminal() {
			return j, nil
		}
		if j.State != store.JobQueued && j.State != store.JobRunning {
			return nil, apierr.New(apierr.ConflictState, "job is not cancelable from its current state")
		}
		now := time.Now()
		j.State = store.JobCanceled
		j.FinishedAt = &now
		return j, nil
	})
	if err != nil {
		if err == store.ErrVersionConflict {
			return q.Cancel(ctx, clientID, jobID) // lost the race, retry against fresh state
		}
		return nil, translateStoreErr(err)
	}

	if wasRunning && assignedMiner != "" {
		q.closeAttempt(ctx, jobID, row.Attempts+1, store.AttemptCanceled)
		q.decrementInflight(ctx, assignedMiner)
	}
	q.publish(events.JobCanceled, row)
	return row, nil
}

// Fail implements the miner-initiated fail contract of spec §6
// (`POST /v1/miners/{job_id}/fail`) and §5 ("A miner-initiated fail for its
// own RUNNING job is terminal with state FAILED"): only the miner currently
// assigned the job may fail it, and only while it is still RUNNING.
func (q *Queue) Fail(ctx context.Context, minerID, jobID, reason string) (*store.JobRow, error) {
	cur, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, apierr.New(apierr.JobNotFound, "job not found")
		}
		return nil, apierr.Wrap(apierr.Internal, err, "failed to fetch job")
	}
	if cur.AssignedMinerID != minerID {
		return nil, apierr.New(apierr.Forbidden, "not the assigned miner for this job")
	}

	row, err := q.store.UpdateJob(ctx, jobID, func(j *store.JobRow) (*store.JobRow, error) {
		if j.State != store.JobRunning || j.AssignedMinerID != minerID {
			return nil, apierr.New(apierr.ConflictState, "job is not RUNNING for this miner")
		}
		now := time.Now()
		j.State = store.JobFailed
		j.FinishedAt = &now
		j.Error = reason
		return j, nil
	})
	if err != nil {
		if err == store.ErrVersionConflict {
			return q.Fail(ctx, minerID, jobID, reason) // lost the race, retry against fresh state
		}
		return nil, translateStoreErr(err)
	}

	q.closeAttempt(ctx, jobID, row.Attempts+1, store.AttemptFailed)
	q.decrementInflight(ctx, minerID)
	q.publish(events.JobFailed, row)
	return row, nil
}

// TickExpiry implements spec §4.4's tick_expiry: every QUEUED job whose
// expires_at has passed transitions to EXPIRED. Called periodically
// (period <= 1s) by Coordinator.
func (q *Queue) TickExpiry(ctx context.Context) (int, error) {
	now := time.Now()
	rows, err := q.store.ListExpiredQueuedJobs(ctx, now.Unix(), 0)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, row := range rows {
		updated, err := q.store.UpdateJob(ctx, row.JobID, func(j *store.JobRow) (*store.JobRow, error) {
			if j.State != store.JobQueued {
				return j, nil // already moved on (race with cancel); nothing to do
			}
			finishedAt := now
			j.State = store.JobExpired
			j.FinishedAt = &finishedAt
			return j, nil
		})
		if err != nil && err != store.ErrVersionConflict {
			logger.Error("tick_expiry: update failed", "job_id", row.JobID, "err", err)
			continue
		}
		if err == nil && updated.State == store.JobExpired {
			expiredCounter.Inc(1)
			q.publish(events.JobExpired, updated)
			n++
		}
	}
	return n, nil
}

// OnMinerOffline implements spec §4.4's on_miner_offline: every RUNNING job
// assigned to minerID is either returned to QUEUED (attempts bounded by
// max_attempts) or abandoned to FAILED.
func (q *Queue) OnMinerOffline(ctx context.Context, minerID string) (int, error) {
	rows, err := q.store.ListRunningByMiner(ctx, minerID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, row := range rows {
		requeued, err := q.requeueOrAbandon(ctx, row)
		if err == errNotHandled {
			continue
		}
		if err != nil {
			logger.Error("on_miner_offline: transition failed", "job_id", row.JobID, "err", err)
			continue
		}
		n++
		if requeued {
			requeuedCounter.Inc(1)
		} else {
			abandonedCounter.Inc(1)
		}
	}
	if n > 0 {
		q.wakeWaiters()
	}
	return n, nil
}

func (q *Queue) requeueOrAbandon(ctx context.Context, row *store.JobRow) (requeued bool, err error) {
	handled := false
	updated, err := q.store.UpdateJob(ctx, row.JobID, func(j *store.JobRow) (*store.JobRow, error) {
		if j.State != store.JobRunning {
			return j, nil // already resolved (e.g. client canceled it first)
		}
		handled = true
		if j.Attempts+1 < q.cfg.MaxAttempts {
			j.Attempts++
			j.AssignedMinerID = ""
			j.StartedAt = nil
			j.State = store.JobQueued
			requeued = true
			return j, nil
		}
		now := time.Now()
		j.State = store.JobFailed
		j.FinishedAt = &now
		j.Error = "abandoned"
		requeued = false
		return j, nil
	})
	if err != nil {
		return false, err
	}
	if !handled {
		return false, errNotHandled
	}
	outcome := store.AttemptRequeued
	if !requeued {
		outcome = store.AttemptAbandoned
	}
	q.closeAttempt(ctx, row.JobID, row.Attempts+1, outcome)
	q.decrementInflight(ctx, row.AssignedMinerID)
	if !requeued {
		q.publish(events.JobFailed, updated)
	}
	return requeued, nil
}

// errNotHandled signals OnMinerOffline's caller that a listed job had
// already left RUNNING (a race with a client cancel or its own completion)
// by the time the update ran; the caller treats this as a no-op, not a
// failure worth logging.
var errNotHandled = &skipErr{}

type skipErr struct{}

func (*skipErr) Error() string { return "queue: job already left running" }

func (q *Queue) closeAttempt(ctx context.Context, jobID string, attemptNumber int, outcome store.AttemptOutcome) {
	now := time.Now()
	row := &store.AttemptRow{JobID: jobID, AttemptNumber: attemptNumber}
	if attempts, err := q.store.ListAttempts(ctx, jobID); err == nil {
		for _, a := range attempts {
			if a.AttemptNumber == attemptNumber {
				row = a // keep the miner_id/started_at the matcher recorded
			}
		}
	}
	row.EndedAt = &now
	row.Outcome = outcome
	if err := q.store.PutAttempt(ctx, row); err != nil {
		logger.Error("failed to close attempt record", "job_id", jobID, "err", err)
	}
}

func (q *Queue) decrementInflight(ctx context.Context, minerID string) {
	if minerID == "" {
		return
	}
	_, err := q.store.UpsertMiner(ctx, minerID, func(cur *store.MinerRow) (*store.MinerRow, error) {
		if cur == nil {
			return nil, store.ErrNotFound
		}
		if cur.Inflight > 0 {
			cur.Inflight--
		}
		return cur, nil
	})
	if err != nil && err != store.ErrNotFound {
		logger.Error("failed to decrement miner inflight", "miner_id", minerID, "err", err)
	}
}

func translateStoreErr(err error) error {
	if ae, ok := err.(*apierr.Error); ok {
		return ae
	}
	return apierr.Wrap(apierr.Internal, err, "store operation failed")
}
