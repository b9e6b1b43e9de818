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
	"sync"
	"time"
)

// WindowLimiter is the default in-process Limiter: a true sliding window
// per key, implemented as a ring of request timestamps. Memory is bounded
// by maxRequests per key, so a busy key never grows its bookkeeping past
// the quota it is being measured against.
type WindowLimiter struct {
	window      time.Duration
	maxRequests int

	mu      sync.Mutex
	buckets map[string]*slidingBucket
}

type slidingBucket struct {
	times []time.Time // ring buffer of the last maxRequests timestamps
	head  int
	count int
}

// NewWindowLimiter builds a limiter enforcing at most maxRequests per key in
// any trailing window-length interval (spec §4.1: window_seconds,
// max_requests).
func NewWindowLimiter(window time.Duration, maxRequests int) *WindowLimiter {
	return &WindowLimiter{
		window:      window,
		maxRequests: maxRequests,
		buckets:     make(map[string]*slidingBucket),
	}
}

func (l *WindowLimiter) Allow(key string, now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &slidingBucket{times: make([]time.Time, l.maxRequests)}
		l.buckets[key] = b
	}

	cutoff := now.Add(-l.window)
	if b.count < l.maxRequests {
		b.times[(b.head+b.count)%l.maxRequests] = now
		b.count++
		return true, 0
	}

	oldest := b.times[b.head]
	if oldest.Before(cutoff) || oldest.Equal(cutoff) {
		// the oldest request has aged out of the window; slide it out and
		// admit this one in its place.
		b.times[b.head] = now
		b.head = (b.head + 1) % l.maxRequests
		return true, 0
	}

	return false, oldest.Add(l.window).Sub(now)
}

var _ Limiter = (*WindowLimiter)(nil)
