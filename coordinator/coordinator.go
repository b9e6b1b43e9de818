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

// Package coordinator wires C1-C7 (auth, store, registry, queue, matcher,
// waiter, receipt builder) into the single long-lived object cmd/coordinatord
// constructs and httpapi serves, the way node/service.go assembles a klaytn
// node's services around one shared database handle.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v7"

	"github.com/ground-x/compute-coordinator/auth"
	"github.com/ground-x/compute-coordinator/config"
	"github.com/ground-x/compute-coordinator/events"
	"github.com/ground-x/compute-coordinator/log"
	"github.com/ground-x/compute-coordinator/match"
	"github.com/ground-x/compute-coordinator/queue"
	"github.com/ground-x/compute-coordinator/receipt"
	"github.com/ground-x/compute-coordinator/registry"
	"github.com/ground-x/compute-coordinator/store"
	"github.com/ground-x/compute-coordinator/waiter"
)

var logger = log.NewModuleLogger("coordinator")

// expiryTickPeriod is the scan interval for queue.TickExpiry; spec §4.4
// only asks that expiry be enforced "within a bounded period", so a
// sub-second tick keeps the observed slack well under any reasonable SLA.
const expiryTickPeriod = 500 * time.Millisecond

// Coordinator is the assembled C1-C7 pipeline plus the background loops
// (reaper, expiry ticker) that keep it live.
type Coordinator struct {
	Keys    *auth.KeyTable
	Limiter auth.Limiter

	Store    store.Store
	Registry *registry.Registry
	Queue    *queue.Queue
	Matcher  *match.Matcher
	Waiter   *waiter.Waiter
	Receipts *receipt.Builder
	Events   events.Publisher

	cfg config.Config

	stop     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New assembles every component from cfg, returning a Coordinator ready for
// Start. It never runs background goroutines itself; call Start for that.
func New(cfg config.Config) (*Coordinator, error) {
	st, err := store.Open(cfg.DatabaseURL, cfg.ReceiptLedgerDir, store.ParseLedgerEngine(cfg.ReceiptLedgerEngine))
	if err != nil {
		return nil, err
	}

	pub, err := events.New(events.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
	if err != nil {
		st.Close()
		return nil, err
	}

	broadcaster := waiter.NewBroadcaster()

	q, err := queue.New(st, queue.Config{
		TTLMin:      cfg.TTLMin(),
		TTLMax:      cfg.TTLMax(),
		MaxAttempts: cfg.MaxAttempts,
	}, broadcaster, 0)
	if err != nil {
		st.Close()
		return nil, err
	}
	q.SetPublisher(pub)

	matcher := match.New(st, 0, 0)
	matcher.SetPublisher(pub)

	w := waiter.New(matcher, broadcaster, cfg.PollCap())

	builder, err := receipt.New(st, 0, cfg.ReceiptSigningKey, cfg.ReceiptAttestationKey)
	if err != nil {
		st.Close()
		return nil, err
	}
	builder.SetPublisher(pub)

	reg := registry.New(st, registry.Config{
		HeartbeatTimeout: cfg.HeartbeatTimeout(),
		ReaperPeriod:     cfg.ReaperPeriod(),
	}, func(ctx context.Context, minerID string) {
		if _, err := q.OnMinerOffline(ctx, minerID); err != nil {
			logger.Error("failed to re-queue jobs for offline miner", "miner_id", minerID, "err", err)
		}
	})

	keys := auth.NewKeyTable(cfg.ClientAPIKeys, cfg.MinerAPIKeys, cfg.AdminAPIKeys)

	limiter, err := newLimiter(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &Coordinator{
		Keys:     keys,
		Limiter:  limiter,
		Store:    st,
		Registry: reg,
		Queue:    q,
		Matcher:  matcher,
		Waiter:   w,
		Receipts: builder,
		Events:   pub,
		cfg:      cfg,
		stop:     make(chan struct{}),
	}, nil
}

// newLimiter picks auth.RedisLimiter when cfg.RedisAddr is set, otherwise
// the in-process auth.WindowLimiter (spec §4.1: either is a conforming
// implementation of the same sliding-window contract).
func newLimiter(cfg config.Config) (auth.Limiter, error) {
	window := cfg.RateLimitWindow()
	if cfg.RedisAddr == "" {
		return auth.NewWindowLimiter(window, cfg.RateLimitMaxRequests), nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return auth.NewRedisLimiter(client, window, cfg.RateLimitMaxRequests), nil
}

// Start launches the registry reaper and the periodic expiry ticker. It
// returns immediately; both loops run until Shutdown is called.
func (c *Coordinator) Start(ctx context.Context) {
	c.Registry.Start(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(expiryTickPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := c.Queue.TickExpiry(ctx); err != nil {
					logger.Error("expiry tick failed", "err", err)
				} else if n > 0 {
					logger.Debug("expired queued jobs", "count", n)
				}
			case <-c.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the background loops and closes the store and event
// publisher. It is safe to call more than once.
func (c *Coordinator) Shutdown() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
	c.Registry.Shutdown()
	c.wg.Wait()
	if c.Events != nil {
		if err := c.Events.Close(); err != nil {
			logger.Error("failed to close event publisher", "err", err)
		}
	}
	if err := c.Store.Close(); err != nil {
		logger.Error("failed to close store", "err", err)
	}
}
