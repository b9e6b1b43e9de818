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

// Package store defines the durable row shapes and the capability interface
// every persistence backend (in-memory, SQL, embedded KV) must satisfy.
package store

import "time"

// JobState is one of the six states in the job lifecycle state machine.
type JobState string

const (
	JobQueued    JobState = "QUEUED"
	JobRunning   JobState = "RUNNING"
	JobCompleted JobState = "COMPLETED"
	JobFailed    JobState = "FAILED"
	JobCanceled  JobState = "CANCELED"
	JobExpired   JobState = "EXPIRED"
)

// Terminal reports whether s accepts no further transitions.
func (s JobState) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCanceled, JobExpired:
		return true
	default:
		return false
	}
}

// Constraints is the optional set of matching requirements a client attaches
// to a job; a nil field means "no requirement" for that dimension.
type Constraints struct {
	GPUModelPrefix  string   `json:"gpu_model_prefix,omitempty"`
	MinVRAMGiB      float64  `json:"min_vram_gib,omitempty"`
	RequiredModels  []string `json:"required_models,omitempty"`
	Region          string   `json:"region,omitempty"`
	MaxPricePerHour *float64 `json:"max_price_per_hour,omitempty"`
}

// JobRow is the durable representation of a Job (spec §3).
type JobRow struct {
	JobID           string
	ClientID        string
	Payload         []byte
	Constraints     *Constraints
	RequestedAt     time.Time
	ExpiresAt       time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
	State           JobState
	AssignedMinerID string
	Attempts        int
	ResultInline    []byte
	ResultURI       string
	Error           string
	IdempotencyKey  string

	Version int64 // optimistic-CAS fencing token
}

// MinerStatus is one of the three liveness states a miner occupies.
type MinerStatus string

const (
	MinerOnline   MinerStatus = "ONLINE"
	MinerDraining MinerStatus = "DRAINING"
	MinerOffline  MinerStatus = "OFFLINE"
)

// Capabilities is the bounded (<=4KiB serialized) capability descriptor a
// miner declares at registration.
type Capabilities struct {
	GPUModel        string   `json:"gpu_model"`
	GPUMemoryGiB    float64  `json:"gpu_memory_gib"`
	GPUCount        int      `json:"gpu_count"`
	CUDAVersion     string   `json:"cuda_version"`
	SupportedModels []string `json:"supported_models"`
	Region          string   `json:"region"`
}

// MinerRow is the durable representation of a Miner (spec §3).
type MinerRow struct {
	MinerID       string
	Capabilities  Capabilities
	Concurrency   int
	PricePerHour  *float64
	HeartbeatAt   time.Time
	Status        MinerStatus
	Inflight      int

	Version int64
}

// AttemptOutcome records how an attempt's tenure ended.
type AttemptOutcome string

const (
	AttemptCompleted AttemptOutcome = "COMPLETED"
	AttemptFailed    AttemptOutcome = "FAILED"
	AttemptCanceled  AttemptOutcome = "CANCELED"
	AttemptRequeued  AttemptOutcome = "REQUEUED"
	AttemptAbandoned AttemptOutcome = "ABANDONED"
)

// AttemptRow is one (job_id, attempt_number) tuple (spec §3, "Attempt").
type AttemptRow struct {
	JobID         string
	AttemptNumber int
	MinerID       string
	StartedAt     time.Time
	EndedAt       *time.Time
	Outcome       AttemptOutcome
}

// Signature is an Ed25519 signature over a receipt's canonical bytes.
type Signature struct {
	PublicKey []byte `json:"public_key"`
	Sig       []byte `json:"sig"`
	Algo      string `json:"algo"`
}

// ReceiptRow is the durable, immutable-after-write representation of a
// Receipt (spec §3); one is appended per successful attempt.
type ReceiptRow struct {
	ReceiptID      string
	JobID          string
	AttemptNumber  int
	Provider       string
	Client         string
	Units          float64
	UnitType       string
	Model          string
	PromptHash     string
	StartedAt      time.Time
	FinishedAt     time.Time
	ArtifactSHA256 string
	Nonce          string
	HubID          string
	ChainID        string
	Canonical      []byte // canonical JSON this receipt was signed over
	Signature      Signature
	Attestations   []Signature
	CreatedAt      time.Time
}
