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

package receipt

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ed25519"

	"github.com/ground-x/compute-coordinator/store"
)

func runningJob(t *testing.T, s store.Store, jobID, minerID string) *store.JobRow {
	t.Helper()
	started := time.Now().Add(-time.Minute)
	require.NoError(t, s.CreateJob(context.Background(), &store.JobRow{
		JobID: jobID, ClientID: "client1", Payload: []byte(`{"prompt":"hi"}`),
		RequestedAt: started, ExpiresAt: started.Add(time.Hour),
		State: store.JobRunning, AssignedMinerID: minerID, StartedAt: &started, Attempts: 1,
	}))
	got, err := s.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	return got
}

func sign(t *testing.T, pub ed25519.PublicKey, priv ed25519.PrivateKey, job *store.JobRow, sub MinerSubmission) MinerSubmission {
	t.Helper()
	canon, err := canonicalBytes(payloadFields(job, sub))
	require.NoError(t, err)
	sub.Signature = store.Signature{PublicKey: pub, Sig: ed25519.Sign(priv, canon), Algo: "ed25519"}
	return sub
}

func TestSubmitVerifiesSignatureAndCompletesJob(t *testing.T) {
	s := store.NewMemStore()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	b, err := New(s, 0, "", "")
	require.NoError(t, err)

	job := runningJob(t, s, "job1", "miner1")
	sub := MinerSubmission{
		JobID: "job1", MinerID: "miner1", Provider: "miner1", Units: 1.5,
		UnitType: "gpu_seconds", Model: "llama-70b", Nonce: "n1", FinishedAt: time.Now(),
	}
	sub = sign(t, pub, priv, job, sub)

	row, err := b.Submit(context.Background(), sub)
	require.NoError(t, err)
	require.Equal(t, "job1", row.JobID)
	require.NotEmpty(t, row.ReceiptID)
	require.Empty(t, row.Attestations)

	got, err := s.GetJob(context.Background(), "job1")
	require.NoError(t, err)
	require.Equal(t, store.JobCompleted, got.State)
	require.NotNil(t, got.FinishedAt)
}

func TestSubmitRejectsBadSignature(t *testing.T) {
	s := store.NewMemStore()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	otherPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	b, err := New(s, 0, "", "")
	require.NoError(t, err)

	job := runningJob(t, s, "job1", "miner1")
	sub := MinerSubmission{JobID: "job1", MinerID: "miner1", Nonce: "n1", FinishedAt: time.Now()}
	sub = sign(t, otherPub, priv, job, sub) // public key doesn't match the signing key

	_, err = b.Submit(context.Background(), sub)
	require.Error(t, err)
}

func TestSubmitReplayWithIdenticalPayloadReturnsSameReceipt(t *testing.T) {
	s := store.NewMemStore()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	b, err := New(s, 0, "", "")
	require.NoError(t, err)

	job := runningJob(t, s, "job1", "miner1")
	finishedAt := time.Now()
	sub := MinerSubmission{JobID: "job1", MinerID: "miner1", Nonce: "n1", FinishedAt: finishedAt}
	sub = sign(t, pub, priv, job, sub)

	first, err := b.Submit(context.Background(), sub)
	require.NoError(t, err)

	second, err := b.Submit(context.Background(), sub)
	require.NoError(t, err)
	require.Equal(t, first.ReceiptID, second.ReceiptID)
}

func TestSubmitReplayWithDivergentPayloadIsConflict(t *testing.T) {
	s := store.NewMemStore()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	b, err := New(s, 0, "", "")
	require.NoError(t, err)

	job := runningJob(t, s, "job1", "miner1")
	finishedAt := time.Now()
	sub := MinerSubmission{JobID: "job1", MinerID: "miner1", Units: 1.0, Nonce: "n1", FinishedAt: finishedAt}
	sub = sign(t, pub, priv, job, sub)
	_, err = b.Submit(context.Background(), sub)
	require.NoError(t, err)

	job2, err := s.GetJob(context.Background(), "job1")
	require.NoError(t, err)
	diverged := MinerSubmission{JobID: "job1", MinerID: "miner1", Units: 99.0, Nonce: "n1", FinishedAt: finishedAt}
	diverged = sign(t, pub, priv, job2, diverged)

	_, err = b.Submit(context.Background(), diverged)
	require.Error(t, err)
}

func TestSubmitRejectsJobNotRunningForMiner(t *testing.T) {
	s := store.NewMemStore()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	b, err := New(s, 0, "", "")
	require.NoError(t, err)

	job := runningJob(t, s, "job1", "miner1")
	sub := MinerSubmission{JobID: "job1", MinerID: "someone-else", Nonce: "n1", FinishedAt: time.Now()}
	sub = sign(t, pub, priv, job, sub)

	_, err = b.Submit(context.Background(), sub)
	require.Error(t, err)
}

func TestCoordinatorAttestationEmittedWhenKeyConfigured(t *testing.T) {
	s := store.NewMemStore()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, coordPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	b, err := New(s, 0, hex.EncodeToString(coordPriv), "")
	require.NoError(t, err)

	job := runningJob(t, s, "job1", "miner1")
	sub := MinerSubmission{JobID: "job1", MinerID: "miner1", Nonce: "n1", FinishedAt: time.Now()}
	sub = sign(t, pub, priv, job, sub)

	row, err := b.Submit(context.Background(), sub)
	require.NoError(t, err)
	require.Len(t, row.Attestations, 1)
	require.True(t, ed25519.Verify(row.Attestations[0].PublicKey, row.Canonical, row.Attestations[0].Sig))
}

func TestBothAttestationsEmittedWhenBothKeysConfigured(t *testing.T) {
	s := store.NewMemStore()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, coordPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, attestPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	b, err := New(s, 0, hex.EncodeToString(coordPriv), hex.EncodeToString(attestPriv))
	require.NoError(t, err)

	job := runningJob(t, s, "job1", "miner1")
	sub := MinerSubmission{JobID: "job1", MinerID: "miner1", Nonce: "n1", FinishedAt: time.Now()}
	sub = sign(t, pub, priv, job, sub)

	row, err := b.Submit(context.Background(), sub)
	require.NoError(t, err)
	require.Len(t, row.Attestations, 2)
}

func TestCanonicalBytesSortsKeysAndNormalizesStrings(t *testing.T) {
	b1, err := canonicalBytes(fields{"b": 1, "a": "x"})
	require.NoError(t, err)
	require.Equal(t, `{"a":"x","b":1}`, string(b1))

	b2, err := canonicalBytes(fields{"s": "é"})
	require.NoError(t, err)
	require.Equal(t, "{\"s\":\"é\"}", string(b2))
}

func TestGetLatestReceiptNotFound(t *testing.T) {
	s := store.NewMemStore()
	b, err := New(s, 0, "", "")
	require.NoError(t, err)
	_, err = b.GetLatestReceipt(context.Background(), "ghost")
	require.Error(t, err)
}
