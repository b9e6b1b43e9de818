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

// Package registry implements the miner registry (spec §4.3): capability
// upsert, heartbeat-driven liveness, draining, and the periodic reaper that
// demotes stale miners to OFFLINE and triggers re-queue of their work.
package registry

import (
	"context"
	"time"

	"github.com/ground-x/compute-coordinator/log"
	"github.com/ground-x/compute-coordinator/metrics"
	"github.com/ground-x/compute-coordinator/store"
)

var logger = log.NewModuleLogger("registry")

var (
	minersOnlineGauge  = metrics.NewRegisteredGauge("registry/miners_online", nil)
	reaperOfflineMeter = metrics.NewRegisteredCounter("registry/reaper_offline_total", nil)
)

// OfflineHandler is invoked once per miner the reaper just marked OFFLINE,
// so C4 can re-queue or fail its RUNNING jobs (spec §4.3: "trigger §4.4
// re-queue"). Registry does not import queue directly to avoid a cyclic
// dependency; Coordinator wires the two together.
type OfflineHandler func(ctx context.Context, minerID string)

// Registry is the miner-registry component. It is a thin business-rule
// layer over store.Store: every mutation still goes through the store's
// atomic UpsertMiner primitive.
type Registry struct {
	store store.Store

	heartbeatTimeout time.Duration
	reaperPeriod     time.Duration

	onOffline OfflineHandler

	stop chan struct{}
	done chan struct{}
}

// Config collects the registry's tunables (spec §6: heartbeat_timeout_seconds,
// reaper_period_seconds).
type Config struct {
	HeartbeatTimeout time.Duration
	ReaperPeriod     time.Duration
}

// New constructs a Registry. Call Start to launch the background reaper.
func New(s store.Store, cfg Config, onOffline OfflineHandler) *Registry {
	return &Registry{
		store:            s,
		heartbeatTimeout: cfg.HeartbeatTimeout,
		reaperPeriod:     cfg.ReaperPeriod,
		onOffline:        onOffline,
		stop:             make(chan struct{}),
		done:             make(chan struct{}),
	}
}

// Register upserts a miner's declared capabilities and concurrency (spec
// §4.3 register). A brand-new miner starts ONLINE with inflight=0; an
// existing miner keeps its current inflight on a re-register, since
// re-registering capabilities mid-flight should not silently clear
// in-progress work accounting. A re-registering OFFLINE miner returns to
// ONLINE; a DRAINING miner stays DRAINING.
func (r *Registry) Register(ctx context.Context, minerID string, caps store.Capabilities, concurrency int, pricePerHour *float64) (*store.MinerRow, error) {
	now := time.Now()
	return r.store.UpsertMiner(ctx, minerID, func(cur *store.MinerRow) (*store.MinerRow, error) {
		if cur == nil {
			return &store.MinerRow{
				Capabilities: caps,
				Concurrency:  concurrency,
				PricePerHour: pricePerHour,
				HeartbeatAt:  now,
				Status:       store.MinerOnline,
				Inflight:     0,
			}, nil
		}
		cur.Capabilities = caps
		cur.Concurrency = concurrency
		cur.PricePerHour = pricePerHour
		cur.HeartbeatAt = now
		if cur.Status == store.MinerOffline {
			cur.Status = store.MinerOnline
		}
		return cur, nil
	})
}

// Heartbeat refreshes liveness (spec §4.3 heartbeat). A miner returning from
// OFFLINE transitions back to ONLINE; an optional inflight_hint lets a miner
// reconcile the coordinator's view of its load after a restart.
func (r *Registry) Heartbeat(ctx context.Context, minerID string, inflightHint *int) (*store.MinerRow, error) {
	now := time.Now()
	row, err := r.store.UpsertMiner(ctx, minerID, func(cur *store.MinerRow) (*store.MinerRow, error) {
		if cur == nil {
			return nil, store.ErrNotFound
		}
		cur.HeartbeatAt = now
		if cur.Status == store.MinerOffline {
			cur.Status = store.MinerOnline
			logger.Info("miner returned online", "miner_id", minerID)
		}
		if inflightHint != nil {
			cur.Inflight = *inflightHint
		}
		return cur, nil
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// Drain sets status=DRAINING, leaving inflight untouched (spec §4.3 drain):
// the miner stops receiving new work but its existing jobs run to
// completion.
func (r *Registry) Drain(ctx context.Context, minerID string) (*store.MinerRow, error) {
	return r.store.UpsertMiner(ctx, minerID, func(cur *store.MinerRow) (*store.MinerRow, error) {
		if cur == nil {
			return nil, store.ErrNotFound
		}
		cur.Status = store.MinerDraining
		return cur, nil
	})
}

// Snapshot returns every ONLINE miner with its capabilities, for the
// matcher (spec §4.3 snapshot).
func (r *Registry) Snapshot(ctx context.Context) ([]*store.MinerRow, error) {
	return r.store.SnapshotOnlineMiners(ctx)
}

// Evict hard-deletes a miner row; admin-only per spec §3 "deletable only by
// admin".
func (r *Registry) Evict(ctx context.Context, minerID string) error {
	return r.store.DeleteMiner(ctx, minerID)
}

// Start launches the background reaper goroutine.
func (r *Registry) Start(ctx context.Context) {
	go r.reapLoop(ctx)
}

// Shutdown stops the reaper and waits for it to exit.
func (r *Registry) Shutdown() {
	close(r.stop)
	<-r.done
}

func (r *Registry) reapLoop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.reaperPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reapOnce(ctx)
		}
	}
}

// reapOnce marks every miner whose heartbeat has aged past heartbeatTimeout
// as OFFLINE and notifies onOffline for each (spec §4.3's periodic reaper).
func (r *Registry) reapOnce(ctx context.Context) {
	cutoff := time.Now().Add(-r.heartbeatTimeout).Unix()
	stale, err := r.store.ListStaleMiners(ctx, cutoff)
	if err != nil {
		logger.Error("reaper: list stale miners failed", "err", err)
		return
	}
	for _, m := range stale {
		_, err := r.store.UpsertMiner(ctx, m.MinerID, func(cur *store.MinerRow) (*store.MinerRow, error) {
			if cur == nil || cur.Status == store.MinerOffline {
				return nil, errAlreadyHandled
			}
			if time.Now().Add(-r.heartbeatTimeout).Before(cur.HeartbeatAt) {
				// heartbeat refreshed between the list scan and this
				// update; do not flap it offline.
				return nil, errAlreadyHandled
			}
			cur.Status = store.MinerOffline
			return cur, nil
		})
		if err == errAlreadyHandled {
			continue
		}
		if err != nil {
			logger.Error("reaper: mark offline failed", "miner_id", m.MinerID, "err", err)
			continue
		}
		reaperOfflineMeter.Inc(1)
		logger.Info("miner marked offline by reaper", "miner_id", m.MinerID)
		if r.onOffline != nil {
			r.onOffline(ctx, m.MinerID)
		}
	}

	online, err := r.store.SnapshotOnlineMiners(ctx)
	if err == nil {
		minersOnlineGauge.Update(int64(len(online)))
	}
}

// errAlreadyHandled is a private sentinel UpsertMiner's mutate closure uses
// to veto a write without it surfacing as a real error to the reaper loop.
var errAlreadyHandled = &skipError{}

type skipError struct{}

func (*skipError) Error() string { return "registry: already handled" }
