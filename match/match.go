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

// Package match implements the matcher/dispatcher (spec §4.5): given a
// polling miner, pick the oldest eligible QUEUED job and atomically assign
// it, retrying a bounded number of times if a concurrent matcher wins the
// race on the same candidate.
package match

import (
	"context"
	"strings"
	"time"

	"github.com/ground-x/compute-coordinator/apierr"
	"github.com/ground-x/compute-coordinator/events"
	"github.com/ground-x/compute-coordinator/log"
	"github.com/ground-x/compute-coordinator/metrics"
	"github.com/ground-x/compute-coordinator/store"
)

var logger = log.NewModuleLogger("match")

var (
	assignedCounter  = metrics.NewRegisteredCounter("match/assigned_total", nil)
	contentionMeter  = metrics.NewRegisteredCounter("match/cas_retry_total", nil)
)

const defaultCandidateLimit = 64
const defaultMaxRetries = 8

// Matcher is the C5 component.
type Matcher struct {
	store          store.Store
	candidateLimit int
	maxRetries     int
	events         events.Publisher
}

// SetPublisher attaches the optional lifecycle-event sink (spec supplement
// §C); nil (the default) makes the publish call below a no-op.
func (m *Matcher) SetPublisher(p events.Publisher) { m.events = p }

// New constructs a Matcher. candidateLimit bounds how many QUEUED jobs are
// pulled per call before giving up (0 picks a default); maxRetries bounds
// how many candidates are tried before surfacing an empty result.
func New(s store.Store, candidateLimit, maxRetries int) *Matcher {
	if candidateLimit <= 0 {
		candidateLimit = defaultCandidateLimit
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Matcher{store: s, candidateLimit: candidateLimit, maxRetries: maxRetries}
}

// Dispatch runs one matching pass for minerID. It returns the job just
// assigned to the miner, or (nil, nil) if none is eligible right now —
// NO_ELIGIBLE_MINER is never surfaced as an error (spec §4.5).
func (m *Matcher) Dispatch(ctx context.Context, minerID string) (*store.JobRow, error) {
	miner, err := m.store.GetMiner(ctx, minerID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, apierr.New(apierr.Forbidden, "miner not registered")
		}
		return nil, apierr.Wrap(apierr.Internal, err, "failed to load miner")
	}
	if miner.Status != store.MinerOnline || miner.Inflight >= miner.Concurrency {
		return nil, nil
	}

	candidates, err := m.store.ListQueuedJobsByAge(ctx, m.candidateLimit)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, err, "failed to list queued jobs")
	}

	tries := 0
	for _, job := range candidates {
		if !eligible(job, miner) {
			continue
		}
		if tries >= m.maxRetries {
			break
		}
		tries++

		assigned, err := m.tryAssign(ctx, job.JobID, minerID)
		if err == store.ErrVersionConflict {
			contentionMeter.Inc(1)
			continue // another matcher won this job; try the next candidate
		}
		if err != nil {
			return nil, err
		}
		if assigned != nil {
			assignedCounter.Inc(1)
			if m.events != nil {
				m.events.Publish(events.FromJob(events.JobAssigned, assigned))
			}
			return assigned, nil
		}
		// job was no longer QUEUED by the time we looked (another matcher
		// got there without a version conflict, e.g. a cancel); move on.
	}
	return nil, nil
}

// tryAssign attempts the single atomic QUEUED->RUNNING transition for job,
// incrementing the miner's inflight counter in the same pass the job row
// transitions (see queue's DESIGN note on cross-row atomicity: the miner
// update is a second store call, same tradeoff as cancel/requeue).
func (m *Matcher) tryAssign(ctx context.Context, jobID, minerID string) (*store.JobRow, error) {
	now := time.Now()
	updated, err := m.store.UpdateJob(ctx, jobID, func(j *store.JobRow) (*store.JobRow, error) {
		if j.State != store.JobQueued {
			return j, nil
		}
		j.State = store.JobRunning
		j.AssignedMinerID = minerID
		j.StartedAt = &now
		return j, nil
	})
	if err != nil {
		return nil, err
	}
	if updated.State != store.JobRunning || updated.AssignedMinerID != minerID {
		return nil, nil // someone else (or a cancel) got there first
	}

	attemptNumber := updated.Attempts + 1
	if err := m.store.PutAttempt(ctx, &store.AttemptRow{
		JobID: jobID, AttemptNumber: attemptNumber, MinerID: minerID, StartedAt: now,
	}); err != nil {
		logger.Error("failed to record attempt", "job_id", jobID, "err", err)
	}

	_, err = m.store.UpsertMiner(ctx, minerID, func(cur *store.MinerRow) (*store.MinerRow, error) {
		if cur == nil {
			return nil, store.ErrNotFound
		}
		cur.Inflight++
		return cur, nil
	})
	if err != nil {
		logger.Error("failed to increment miner inflight", "miner_id", minerID, "err", err)
	}
	return updated, nil
}

// eligible implements spec §4.5 step 1's constraint-satisfaction rule.
func eligible(job *store.JobRow, miner *store.MinerRow) bool {
	if miner.Inflight >= miner.Concurrency {
		return false
	}
	c := job.Constraints
	if c == nil {
		return true
	}
	if c.GPUModelPrefix != "" && !strings.HasPrefix(miner.Capabilities.GPUModel, c.GPUModelPrefix) {
		return false
	}
	if c.MinVRAMGiB > 0 && miner.Capabilities.GPUMemoryGiB < c.MinVRAMGiB {
		return false
	}
	if c.Region != "" && c.Region != miner.Capabilities.Region {
		return false
	}
	if len(c.RequiredModels) > 0 && !subsetOf(c.RequiredModels, miner.Capabilities.SupportedModels) {
		return false
	}
	if c.MaxPricePerHour != nil {
		// Open-question decision: a miner with no declared price is
		// ineligible for a job that caps price, rather than assumed free.
		if miner.PricePerHour == nil || *miner.PricePerHour > *c.MaxPricePerHour {
			return false
		}
	}
	return true
}

func subsetOf(required, available []string) bool {
	set := make(map[string]struct{}, len(available))
	for _, a := range available {
		set[a] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}
