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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ground-x/compute-coordinator/apierr"
)

func TestKeyTableResolvesCorrectTier(t *testing.T) {
	kt := NewKeyTable([]string{"ck1"}, []string{"mk1"}, []string{"ak1"})

	p, err := kt.Resolve(TierClient, "ck1")
	require.NoError(t, err)
	require.Equal(t, "ck1", p.ID)
	require.Equal(t, TierClient, p.Tier)

	_, err = kt.Resolve(TierClient, "mk1")
	require.True(t, apierr.As(err, apierr.UnauthorizedKey))

	_, err = kt.Resolve(TierMiner, "")
	require.True(t, apierr.As(err, apierr.UnauthorizedKey))
}

func TestKeyTableAdminPrincipalHasNoID(t *testing.T) {
	kt := NewKeyTable(nil, nil, []string{"ak1"})
	p, err := kt.Resolve(TierAdmin, "ak1")
	require.NoError(t, err)
	require.Equal(t, "", p.ID)
}

func TestWindowLimiterAdmitsUpToMaxThenRejects(t *testing.T) {
	l := NewWindowLimiter(time.Second, 2)
	now := time.Now()

	ok, _ := l.Allow("k1", now)
	require.True(t, ok)
	ok, _ = l.Allow("k1", now)
	require.True(t, ok)

	ok, retryAfter := l.Allow("k1", now)
	require.False(t, ok)
	require.Greater(t, retryAfter, time.Duration(0))
}

func TestWindowLimiterSlidesOutExpiredEntries(t *testing.T) {
	l := NewWindowLimiter(100*time.Millisecond, 1)
	now := time.Now()

	ok, _ := l.Allow("k1", now)
	require.True(t, ok)

	ok, _ = l.Allow("k1", now.Add(50*time.Millisecond))
	require.False(t, ok)

	ok, _ = l.Allow("k1", now.Add(150*time.Millisecond))
	require.True(t, ok)
}

func TestWindowLimiterIsolatesKeys(t *testing.T) {
	l := NewWindowLimiter(time.Second, 1)
	now := time.Now()

	ok, _ := l.Allow("k1", now)
	require.True(t, ok)
	ok, _ = l.Allow("k2", now)
	require.True(t, ok)
}

func TestCheckRateLimitReturnsRetryAfterDetail(t *testing.T) {
	l := NewWindowLimiter(time.Minute, 1)
	now := time.Now()
	require.NoError(t, CheckRateLimit(l, "k1", now))

	err := CheckRateLimit(l, "k1", now)
	require.True(t, apierr.As(err, apierr.RateLimited))
	var e *apierr.Error
	ok := false
	if ae, isErr := err.(*apierr.Error); isErr {
		e = ae
		ok = true
	}
	require.True(t, ok)
	require.Contains(t, e.Details, "retry_after")
}
