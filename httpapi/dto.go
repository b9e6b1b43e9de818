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

package httpapi

import (
	"encoding/json"

	"github.com/ground-x/compute-coordinator/store"
)

// submitJobRequest is the body of POST /v1/jobs (spec §6).
type submitJobRequest struct {
	Payload     json.RawMessage     `json:"payload"`
	Constraints *store.Constraints  `json:"constraints,omitempty"`
	TTLSeconds  int                 `json:"ttl_seconds"`
}

type submitJobResponse struct {
	JobID       string `json:"job_id"`
	State       string `json:"state"`
	RequestedAt int64  `json:"requested_at"`
	ExpiresAt   int64  `json:"expires_at"`
}

// jobView is the GET /v1/jobs/{job_id} body; also embedded in the poll and
// admin-listing responses.
type jobView struct {
	JobID           string              `json:"job_id"`
	ClientID        string              `json:"client_id"`
	State           string              `json:"state"`
	Constraints     *store.Constraints  `json:"constraints,omitempty"`
	RequestedAt     int64               `json:"requested_at"`
	ExpiresAt       int64               `json:"expires_at"`
	StartedAt       *int64              `json:"started_at,omitempty"`
	FinishedAt      *int64              `json:"finished_at,omitempty"`
	AssignedMinerID string              `json:"assigned_miner_id,omitempty"`
	Attempts        int                 `json:"attempts"`
	Error           string              `json:"error,omitempty"`
}

func newJobView(row *store.JobRow) jobView {
	v := jobView{
		JobID:           row.JobID,
		ClientID:        row.ClientID,
		State:           string(row.State),
		Constraints:     row.Constraints,
		RequestedAt:     row.RequestedAt.Unix(),
		ExpiresAt:       row.ExpiresAt.Unix(),
		AssignedMinerID: row.AssignedMinerID,
		Attempts:        row.Attempts,
		Error:           row.Error,
	}
	if row.StartedAt != nil {
		t := row.StartedAt.Unix()
		v.StartedAt = &t
	}
	if row.FinishedAt != nil {
		t := row.FinishedAt.Unix()
		v.FinishedAt = &t
	}
	return v
}

// jobResultResponse is the 200 body of GET /v1/jobs/{job_id}/result.
type jobResultResponse struct {
	JobID        string          `json:"job_id"`
	State        string          `json:"state"`
	ResultInline json.RawMessage `json:"result_inline,omitempty"`
	ResultURI    string          `json:"result_uri,omitempty"`
}

// registerMinerRequest is the body of POST /v1/miners/register.
type registerMinerRequest struct {
	Capabilities store.Capabilities `json:"capabilities"`
	Concurrency  int                `json:"concurrency"`
	PricePerHour *float64           `json:"price_per_hour,omitempty"`
}

type minerView struct {
	MinerID      string             `json:"miner_id"`
	Capabilities store.Capabilities `json:"capabilities"`
	Concurrency  int                `json:"concurrency"`
	PricePerHour *float64           `json:"price_per_hour,omitempty"`
	Status       string             `json:"status"`
	Inflight     int                `json:"inflight"`
	HeartbeatAt  int64              `json:"heartbeat_at"`
}

func newMinerView(row *store.MinerRow) minerView {
	return minerView{
		MinerID:      row.MinerID,
		Capabilities: row.Capabilities,
		Concurrency:  row.Concurrency,
		PricePerHour: row.PricePerHour,
		Status:       string(row.Status),
		Inflight:     row.Inflight,
		HeartbeatAt:  row.HeartbeatAt.Unix(),
	}
}

// heartbeatRequest is the body of POST /v1/miners/heartbeat.
type heartbeatRequest struct {
	InflightHint *int `json:"inflight_hint,omitempty"`
}

// pollRequest is the body of POST /v1/miners/poll.
type pollRequest struct {
	MaxWaitSeconds int `json:"max_wait_seconds"`
}

// pollResponse is an empty object when no job is assigned.
type pollResponse struct {
	Job *jobView `json:"job,omitempty"`
}

// minerResultRequest is the body of POST /v1/miners/{job_id}/result: the
// receipt's canonical fields plus the miner's signature and the job result.
type minerResultRequest struct {
	Provider       string          `json:"provider"`
	Units          float64         `json:"units"`
	UnitType       string          `json:"unit_type"`
	Model          string          `json:"model"`
	ArtifactSHA256 string          `json:"artifact_sha256,omitempty"`
	Nonce          string          `json:"nonce"`
	FinishedAt     int64           `json:"finished_at"`
	HubID          string          `json:"hub_id,omitempty"`
	ChainID        string          `json:"chain_id,omitempty"`
	Signature      store.Signature `json:"signature"`
	ResultInline   json.RawMessage `json:"result_inline,omitempty"`
	ResultURI      string          `json:"result_uri,omitempty"`
}

// receiptView is the normative receipt shape of spec §6.
type receiptView struct {
	JobID          string            `json:"job_id"`
	Provider       string            `json:"provider"`
	Client         string            `json:"client"`
	Units          float64           `json:"units"`
	UnitType       string            `json:"unit_type"`
	Model          string            `json:"model"`
	PromptHash     string            `json:"prompt_hash"`
	StartedAt      int64             `json:"started_at"`
	FinishedAt     int64             `json:"finished_at"`
	ArtifactSHA256 string            `json:"artifact_sha256,omitempty"`
	Nonce          string            `json:"nonce"`
	HubID          string            `json:"hub_id,omitempty"`
	ChainID        string            `json:"chain_id,omitempty"`
	Signature      store.Signature   `json:"signature"`
	Attestations   []store.Signature `json:"attestations"`
}

func newReceiptView(r *store.ReceiptRow) receiptView {
	attestations := r.Attestations
	if attestations == nil {
		attestations = []store.Signature{}
	}
	return receiptView{
		JobID:          r.JobID,
		Provider:       r.Provider,
		Client:         r.Client,
		Units:          r.Units,
		UnitType:       r.UnitType,
		Model:          r.Model,
		PromptHash:     r.PromptHash,
		StartedAt:      r.StartedAt.Unix(),
		FinishedAt:     r.FinishedAt.Unix(),
		ArtifactSHA256: r.ArtifactSHA256,
		Nonce:          r.Nonce,
		HubID:          r.HubID,
		ChainID:        r.ChainID,
		Signature:      r.Signature,
		Attestations:   attestations,
	}
}

// failJobRequest is the body of POST /v1/miners/{job_id}/fail.
type failJobRequest struct {
	Error string `json:"error"`
}

// adminJobsResponse is the body of GET /v1/admin/jobs.
type adminJobsResponse struct {
	Jobs       []jobView `json:"jobs"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

// adminMinersResponse is the body of GET /v1/admin/miners.
type adminMinersResponse struct {
	Miners []minerView `json:"miners"`
}

// adminStatsResponse mirrors store.Stats with wire-friendly field names.
type adminStatsResponse struct {
	QueueDepth   int   `json:"queue_depth"`
	MinersOnline int   `json:"miners_online"`
	MinersTotal  int   `json:"miners_total"`
	Completed    int64 `json:"completed"`
	Failed       int64 `json:"failed"`
	Expired      int64 `json:"expired"`
	Canceled     int64 `json:"canceled"`
}

func newAdminStatsResponse(s store.Stats) adminStatsResponse {
	return adminStatsResponse{
		QueueDepth:   s.QueueDepth,
		MinersOnline: s.MinersOnline,
		MinersTotal:  s.MinersTotal,
		Completed:    s.Completed,
		Failed:       s.Failed,
		Expired:      s.Expired,
		Canceled:     s.Canceled,
	}
}
