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

package events

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ground-x/compute-coordinator/store"
)

func TestNewWithNoBrokersReturnsNopPublisher(t *testing.T) {
	p, err := New(Config{})
	require.NoError(t, err)
	_, ok := p.(NopPublisher)
	require.True(t, ok)

	// A NopPublisher never panics and closes cleanly.
	p.Publish(Event{Kind: JobSubmitted, JobID: "j1"})
	require.NoError(t, p.Close())
}

func TestFromJobCopiesCurrentState(t *testing.T) {
	job := &store.JobRow{JobID: "j1", ClientID: "c1", AssignedMinerID: "m1", State: store.JobRunning}
	e := FromJob(JobAssigned, job)
	require.Equal(t, JobAssigned, e.Kind)
	require.Equal(t, "j1", e.JobID)
	require.Equal(t, "c1", e.ClientID)
	require.Equal(t, "m1", e.MinerID)
	require.Equal(t, "RUNNING", e.State)
	require.False(t, e.Timestamp.IsZero())
}
