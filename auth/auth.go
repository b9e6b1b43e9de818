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

// Package auth resolves an opaque API key to a principal (client/miner/
// admin) and enforces the per-key sliding-window rate limit of spec §4.1.
package auth

import (
	"time"

	"github.com/ground-x/compute-coordinator/apierr"
)

// Tier identifies which of the three disjoint key sets a principal belongs
// to.
type Tier string

const (
	TierClient Tier = "client"
	TierMiner  Tier = "miner"
	TierAdmin  Tier = "admin"
)

// Principal is the resolved identity behind an opaque key.
type Principal struct {
	ID   string // client_id or miner_id; empty for admin
	Tier Tier
}

// KeyTable resolves opaque keys within one tier to a stable principal id.
// The principal id is the key itself: clients/miners are not required to
// register an identity before authenticating, the key IS the identity,
// matching "derived from authenticated key" in spec §3.
type KeyTable struct {
	client map[string]struct{}
	miner  map[string]struct{}
	admin  map[string]struct{}
}

// NewKeyTable builds a KeyTable from the three comma-separated key lists in
// spec §6's configuration surface.
func NewKeyTable(clientKeys, minerKeys, adminKeys []string) *KeyTable {
	t := &KeyTable{
		client: make(map[string]struct{}, len(clientKeys)),
		miner:  make(map[string]struct{}, len(minerKeys)),
		admin:  make(map[string]struct{}, len(adminKeys)),
	}
	for _, k := range clientKeys {
		t.client[k] = struct{}{}
	}
	for _, k := range minerKeys {
		t.miner[k] = struct{}{}
	}
	for _, k := range adminKeys {
		t.admin[k] = struct{}{}
	}
	return t
}

// Resolve maps key to a Principal within the expected tier, or
// UNAUTHORIZED_KEY if key is missing or belongs to a different tier.
func (t *KeyTable) Resolve(wantTier Tier, key string) (Principal, error) {
	if key == "" {
		return Principal{}, apierr.New(apierr.UnauthorizedKey, "missing api key")
	}
	var set map[string]struct{}
	switch wantTier {
	case TierClient:
		set = t.client
	case TierMiner:
		set = t.miner
	case TierAdmin:
		set = t.admin
	}
	if _, ok := set[key]; !ok {
		return Principal{}, apierr.New(apierr.UnauthorizedKey, "key not recognized for this endpoint")
	}
	id := key
	if wantTier == TierAdmin {
		id = ""
	}
	return Principal{ID: id, Tier: wantTier}, nil
}

// Limiter enforces the per-key sliding-window quota. Implementations:
// *WindowLimiter (in-process, default/tests) and *RedisLimiter (distributed).
type Limiter interface {
	// Allow reports whether key may make one more request right now. When
	// it returns false, retryAfter is the caller's hint for how long to
	// wait before the window has room again.
	Allow(key string, now time.Time) (ok bool, retryAfter time.Duration)
}

// CheckRateLimit is the shared C8 call site: translate a Limiter decision
// into RATE_LIMITED with the retry_after detail spec §7 specifies.
func CheckRateLimit(l Limiter, key string, now time.Time) error {
	ok, retryAfter := l.Allow(key, now)
	if ok {
		return nil
	}
	return apierr.New(apierr.RateLimited, "rate limit exceeded").
		WithDetails(map[string]interface{}{"retry_after": int64(retryAfter.Seconds())})
}
