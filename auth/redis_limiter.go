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

package auth

import (
	"fmt"
	"time"

	"github.com/go-redis/redis/v7"

	"github.com/ground-x/compute-coordinator/log"
)

var redisLogger = log.NewModuleLogger("auth/redis")

// RedisLimiter is the distributed alternative to WindowLimiter, for
// deployments running more than one coordinator process behind a load
// balancer where the rate limit must be shared. It approximates the sliding
// window with a fixed bucket per (key, window-epoch) incremented with INCR
// and expired with PEXPIRE on first write — a coarser approximation than
// WindowLimiter's exact ring buffer, traded for O(1) distributed state.
type RedisLimiter struct {
	client      *redis.Client
	window      time.Duration
	maxRequests int
}

// NewRedisLimiter builds a Limiter backed by the given redis client.
func NewRedisLimiter(client *redis.Client, window time.Duration, maxRequests int) *RedisLimiter {
	return &RedisLimiter{client: client, window: window, maxRequests: maxRequests}
}

func (l *RedisLimiter) bucketKey(key string, now time.Time) string {
	epoch := now.Unix() / int64(l.window.Seconds())
	return fmt.Sprintf("ratelimit:%s:%d", key, epoch)
}

func (l *RedisLimiter) Allow(key string, now time.Time) (bool, time.Duration) {
	bk := l.bucketKey(key, now)

	count, err := l.client.Incr(bk).Result()
	if err != nil {
		// fail open: a rate limiter outage must not take down the whole
		// API surface. Logged loudly so an operator notices the degraded
		// backend.
		redisLogger.Error("redis incr failed, failing open", "key", key, "err", err)
		return true, 0
	}
	if count == 1 {
		l.client.PExpire(bk, l.window)
	}
	if count <= int64(l.maxRequests) {
		return true, 0
	}

	ttl, err := l.client.PTTL(bk).Result()
	if err != nil || ttl < 0 {
		ttl = l.window
	}
	return false, ttl
}

var _ Limiter = (*RedisLimiter)(nil)
