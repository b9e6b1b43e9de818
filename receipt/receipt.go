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

// Package receipt implements the receipt builder & signer (spec §4.7):
// canonical payload construction, Ed25519 miner-signature verification and
// coordinator attestation, and the idempotent (job_id, nonce) replay
// contract, appended durably to the job's receipt history on the same pass
// that completes the job.
package receipt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ed25519"

	"github.com/ground-x/compute-coordinator/apierr"
	"github.com/ground-x/compute-coordinator/events"
	"github.com/ground-x/compute-coordinator/log"
	"github.com/ground-x/compute-coordinator/metrics"
	"github.com/ground-x/compute-coordinator/store"
)

var logger = log.NewModuleLogger("receipt")

var (
	completedCounter = metrics.NewRegisteredCounter("receipt/completed_total", nil)
	replayMeter       = metrics.NewRegisteredCounter("receipt/replay_hit_total", nil)
)

const defaultReplayCacheBytes = 32 * 1024 * 1024

// MinerSubmission is what a miner posts to /v1/miners/{job_id}/result: the
// fields of the canonical payload it does not share with the job row,
// plus its signature over the reconstructed canonical bytes.
type MinerSubmission struct {
	JobID          string
	MinerID        string
	Provider       string
	Units          float64
	UnitType       string
	Model          string
	ArtifactSHA256 string
	Nonce          string
	FinishedAt     time.Time
	HubID          string
	ChainID        string
	Signature      store.Signature

	// ResultInline and ResultURI are not part of the canonical signing
	// payload (spec §4.7's field set); they are the job's §3 "Result"
	// (inline JSON or an external reference) and are stored on the job row
	// alongside the COMPLETED transition, not on the receipt itself.
	ResultInline []byte
	ResultURI    string
}

// Builder is the C7 component.
type Builder struct {
	store          store.Store
	replay         *fastcache.Cache
	signingKey     ed25519.PrivateKey // coordinator attestation key; nil if unconfigured
	attestationKey ed25519.PrivateKey // second, optional attestation key; nil if unconfigured
	events         events.Publisher
}

// SetPublisher attaches the optional lifecycle-event sink (spec supplement
// §C); nil (the default) makes the publish call below a no-op.
func (b *Builder) SetPublisher(p events.Publisher) { b.events = p }

// New constructs a Builder. signingKeyHex/attestationKeyHex are hex-encoded
// Ed25519 seeds or full private keys; an empty string leaves that
// attestation slot unconfigured (spec: "absence of a configured key is
// permitted, receipt still valid"). replayCacheBytes == 0 picks a default
// fastcache size; a negative value disables the fast-path cache entirely
// and relies on the store alone.
func New(s store.Store, replayCacheBytes int, signingKeyHex, attestationKeyHex string) (*Builder, error) {
	signingKey, err := loadKey(signingKeyHex)
	if err != nil {
		return nil, errors.Wrap(err, "receipt_signing_key")
	}
	attestationKey, err := loadKey(attestationKeyHex)
	if err != nil {
		return nil, errors.Wrap(err, "receipt_attestation_key")
	}

	var cache *fastcache.Cache
	if replayCacheBytes >= 0 {
		if replayCacheBytes == 0 {
			replayCacheBytes = defaultReplayCacheBytes
		}
		cache = fastcache.New(replayCacheBytes)
	}

	return &Builder{store: s, replay: cache, signingKey: signingKey, attestationKey: attestationKey}, nil
}

// Submit implements spec §4.7 end to end: verify the miner's signature over
// the coordinator-reconstructed canonical bytes, enforce the
// (job_id, nonce) replay rule, append the receipt, and transition the job
// to COMPLETED in the same logical step.
func (b *Builder) Submit(ctx context.Context, sub MinerSubmission) (*store.ReceiptRow, error) {
	job, err := b.store.GetJob(ctx, sub.JobID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, apierr.New(apierr.JobNotFound, "job not found")
		}
		return nil, apierr.Wrap(apierr.Internal, err, "failed to load job")
	}
	if job.StartedAt == nil {
		return nil, apierr.New(apierr.ConflictState, "job has no recorded start time")
	}

	f := payloadFields(job, sub)
	canon, err := canonicalBytes(f)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, err, "failed to canonicalize receipt payload")
	}

	if existing, hit, err := b.checkReplay(ctx, sub.JobID, sub.Nonce, canon); err != nil {
		return nil, err
	} else if hit {
		replayMeter.Inc(1)
		return existing, nil
	}

	if job.State != store.JobRunning || job.AssignedMinerID != sub.MinerID {
		return nil, apierr.New(apierr.ConflictState, "job is not RUNNING for this miner")
	}

	if len(sub.Signature.PublicKey) != ed25519.PublicKeySize ||
		!ed25519.Verify(sub.Signature.PublicKey, canon, sub.Signature.Sig) {
		return nil, apierr.New(apierr.BadSignature, "miner signature verification failed")
	}

	var attestations []store.Signature
	if b.signingKey != nil {
		attestations = append(attestations, b.sign(canon, b.signingKey))
	}
	if b.attestationKey != nil {
		attestations = append(attestations, b.sign(canon, b.attestationKey))
	}

	row := &store.ReceiptRow{
		ReceiptID:      sha256Hex(canon),
		JobID:          job.JobID,
		AttemptNumber:  job.Attempts + 1,
		Provider:       sub.Provider,
		Client:         job.ClientID,
		Units:          sub.Units,
		UnitType:       sub.UnitType,
		Model:          sub.Model,
		PromptHash:     f["prompt_hash"].(string),
		StartedAt:      *job.StartedAt,
		FinishedAt:     sub.FinishedAt,
		ArtifactSHA256: sub.ArtifactSHA256,
		Nonce:          sub.Nonce,
		HubID:          sub.HubID,
		ChainID:        sub.ChainID,
		Canonical:      canon,
		Signature:      sub.Signature,
		Attestations:   attestations,
		CreatedAt:      time.Now(),
	}

	if err := b.store.AppendReceipt(ctx, row); err != nil {
		if err == store.ErrAlreadyExists {
			return nil, apierr.New(apierr.ConflictReceipt, "receipt already recorded")
		}
		return nil, apierr.Wrap(apierr.Internal, err, "failed to persist receipt")
	}

	finishedAt := sub.FinishedAt
	updatedJob, err := b.store.UpdateJob(ctx, job.JobID, func(cur *store.JobRow) (*store.JobRow, error) {
		if cur.State != store.JobRunning || cur.AssignedMinerID != sub.MinerID {
			// Lost the race to a concurrent cancel/offline transition; the
			// receipt still stands as attempt evidence (spec §5 cancellation
			// semantics) but the job's own state is left untouched.
			return cur, nil
		}
		cur.State = store.JobCompleted
		cur.FinishedAt = &finishedAt
		cur.ResultInline = sub.ResultInline
		cur.ResultURI = sub.ResultURI
		return cur, nil
	})
	if err != nil {
		logger.Error("failed to transition job to COMPLETED after receipt append", "job_id", job.JobID, "err", err)
	} else {
		completedCounter.Inc(1)
		if updatedJob.State == store.JobCompleted {
			b.decrementInflight(ctx, sub.MinerID)
			if b.events != nil {
				b.events.Publish(events.FromJob(events.JobCompleted, updatedJob))
			}
		}
	}

	if b.replay != nil {
		b.replay.Set(replayKey(sub.JobID, sub.Nonce), canon)
	}
	return row, nil
}

// decrementInflight mirrors queue.Queue's own inflight bookkeeping: the
// COMPLETED transition is the single most common RUNNING->terminal path and
// must release the miner's slot the same as cancel/fail/requeue do.
func (b *Builder) decrementInflight(ctx context.Context, minerID string) {
	if minerID == "" {
		return
	}
	_, err := b.store.UpsertMiner(ctx, minerID, func(cur *store.MinerRow) (*store.MinerRow, error) {
		if cur == nil {
			return nil, store.ErrNotFound
		}
		if cur.Inflight > 0 {
			cur.Inflight--
		}
		return cur, nil
	})
	if err != nil && err != store.ErrNotFound {
		logger.Error("failed to decrement miner inflight", "miner_id", minerID, "err", err)
	}
}

// checkReplay implements the L-idemp-receipt law: a resubmission with
// byte-identical canonical bytes returns the previously stored receipt; a
// divergent payload is CONFLICT_RECEIPT. The fastcache lookup is a
// fast path only — a miss or a matching hit always falls through to the
// durable store, while a hit that differs from canon is an immediate
// CONFLICT_RECEIPT without a store lookup.
func (b *Builder) checkReplay(ctx context.Context, jobID, nonce string, canon []byte) (*store.ReceiptRow, bool, error) {
	key := replayKey(jobID, nonce)
	if b.replay != nil {
		if cached, ok := b.replay.HasGet(nil, key); ok && string(cached) != string(canon) {
			return nil, false, apierr.New(apierr.ConflictReceipt, "receipt for job_id+nonce already exists with a different payload")
		}
	}

	existing, err := b.store.FindReceiptByNonce(ctx, jobID, nonce)
	if err == store.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apierr.Wrap(apierr.Internal, err, "failed to check receipt replay")
	}
	if b.replay != nil {
		b.replay.Set(key, existing.Canonical)
	}
	if string(existing.Canonical) != string(canon) {
		return nil, false, apierr.New(apierr.ConflictReceipt, "receipt for job_id+nonce already exists with a different payload")
	}
	return existing, true, nil
}

// GetLatestReceipt implements get_latest_receipt(job_id).
func (b *Builder) GetLatestReceipt(ctx context.Context, jobID string) (*store.ReceiptRow, error) {
	r, err := b.store.LatestReceipt(ctx, jobID)
	if err == store.ErrNotFound {
		return nil, apierr.New(apierr.JobNotFound, "no receipt for job")
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, err, "failed to load latest receipt")
	}
	return r, nil
}

// GetReceiptHistory implements get_receipt_history(job_id).
func (b *Builder) GetReceiptHistory(ctx context.Context, jobID string) ([]*store.ReceiptRow, error) {
	rows, err := b.store.ReceiptHistory(ctx, jobID)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, err, "failed to load receipt history")
	}
	return rows, nil
}

func payloadFields(job *store.JobRow, sub MinerSubmission) fields {
	f := fields{
		"job_id":      job.JobID,
		"provider":    sub.Provider,
		"client":      job.ClientID,
		"units":       sub.Units,
		"unit_type":   sub.UnitType,
		"model":       sub.Model,
		"prompt_hash": "sha256:" + sha256Hex(job.Payload),
		"started_at":  job.StartedAt.Unix(),
		"finished_at": sub.FinishedAt.Unix(),
		"nonce":       sub.Nonce,
	}
	if sub.ArtifactSHA256 != "" {
		f["artifact_sha256"] = sub.ArtifactSHA256
	}
	if sub.HubID != "" {
		f["hub_id"] = sub.HubID
	}
	if sub.ChainID != "" {
		f["chain_id"] = sub.ChainID
	}
	return f
}

func (b *Builder) sign(canon []byte, key ed25519.PrivateKey) store.Signature {
	pub, _ := key.Public().(ed25519.PublicKey)
	return store.Signature{
		PublicKey: append([]byte(nil), pub...),
		Sig:       ed25519.Sign(key, canon),
		Algo:      "ed25519",
	}
}

func loadKey(hexKey string) (ed25519.PrivateKey, error) {
	if hexKey == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, errors.Wrap(err, "invalid hex encoding")
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, errors.Errorf("ed25519 key must be %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func replayKey(jobID, nonce string) []byte {
	return []byte(jobID + "\x00" + nonce)
}
