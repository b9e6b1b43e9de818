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

package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ground-x/compute-coordinator/config"
	"github.com/ground-x/compute-coordinator/store"
)

func testConfig() config.Config {
	cfg := config.Default
	cfg.DatabaseURL = "memory://"
	cfg.ClientAPIKeys = []string{"ck1"}
	cfg.MinerAPIKeys = []string{"mk1"}
	cfg.AdminAPIKeys = []string{"ak1"}
	cfg.HeartbeatTimeoutSeconds = 60
	cfg.ReaperPeriodSeconds = 1
	return cfg
}

func TestNewAssemblesAllComponents(t *testing.T) {
	c, err := New(testConfig())
	require.NoError(t, err)
	defer c.Shutdown()

	require.NotNil(t, c.Keys)
	require.NotNil(t, c.Limiter)
	require.NotNil(t, c.Store)
	require.NotNil(t, c.Registry)
	require.NotNil(t, c.Queue)
	require.NotNil(t, c.Matcher)
	require.NotNil(t, c.Waiter)
	require.NotNil(t, c.Receipts)
}

func TestSubmitPollAndOfflineRequeueFlow(t *testing.T) {
	c, err := New(testConfig())
	require.NoError(t, err)
	defer c.Shutdown()

	ctx := context.Background()
	c.Start(ctx)

	job, err := c.Queue.Submit(ctx, "client1", []byte(`{"task":"noop"}`), nil, time.Minute, "")
	require.NoError(t, err)
	require.Equal(t, store.JobQueued, job.State)

	_, err = c.Registry.Register(ctx, "miner1", store.Capabilities{GPUModel: "A100"}, 1, nil)
	require.NoError(t, err)

	assigned, err := c.Matcher.Dispatch(ctx, "miner1")
	require.NoError(t, err)
	require.NotNil(t, assigned)
	require.Equal(t, job.JobID, assigned.JobID)
	require.Equal(t, store.JobRunning, assigned.State)

	// Simulate the miner going offline: Registry's onOffline callback was
	// wired to Queue.OnMinerOffline in New, so the reaper re-queues the job
	// without any component directly importing another's package.
	n, err := c.Queue.OnMinerOffline(ctx, "miner1")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	refetched, err := c.Queue.Get(ctx, "client1", job.JobID)
	require.NoError(t, err)
	require.Equal(t, store.JobQueued, refetched.State)
}
