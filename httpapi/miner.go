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
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/ground-x/compute-coordinator/auth"
	"github.com/ground-x/compute-coordinator/receipt"
)

func (s *Server) registerMiner(w http.ResponseWriter, r *http.Request, _ httprouter.Params, p auth.Principal) {
	var req registerMinerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	row, err := s.registry.Register(r.Context(), p.ID, req.Capabilities, req.Concurrency, req.PricePerHour)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newMinerView(row))
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request, _ httprouter.Params, p auth.Principal) {
	var req heartbeatRequest
	if err := decodeJSONOptional(r, &req); err != nil {
		writeError(w, err)
		return
	}
	row, err := s.registry.Heartbeat(r.Context(), p.ID, req.InflightHint)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newMinerView(row))
}

func (s *Server) drain(w http.ResponseWriter, r *http.Request, _ httprouter.Params, p auth.Principal) {
	var req struct{}
	if err := decodeJSONOptional(r, &req); err != nil {
		writeError(w, err)
		return
	}
	row, err := s.registry.Drain(r.Context(), p.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newMinerView(row))
}

// poll implements spec §4.6's long-poll contract: the response body is
// the empty object {} (not an error) when no work showed up before the deadline.
func (s *Server) poll(w http.ResponseWriter, r *http.Request, _ httprouter.Params, p auth.Principal) {
	var req pollRequest
	if err := decodeJSONOptional(r, &req); err != nil {
		writeError(w, err)
		return
	}
	maxWait := time.Duration(req.MaxWaitSeconds) * time.Second

	row, err := s.waiter.Poll(r.Context(), p.ID, maxWait)
	if err != nil {
		writeError(w, err)
		return
	}
	if row == nil {
		writeJSON(w, http.StatusOK, pollResponse{})
		return
	}
	v := newJobView(row)
	writeJSON(w, http.StatusOK, pollResponse{Job: &v})
}

func (s *Server) submitResult(w http.ResponseWriter, r *http.Request, ps httprouter.Params, p auth.Principal) {
	var req minerResultRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	row, err := s.receipts.Submit(r.Context(), receipt.MinerSubmission{
		JobID:          ps.ByName("job_id"),
		MinerID:        p.ID,
		Provider:       req.Provider,
		Units:          req.Units,
		UnitType:       req.UnitType,
		Model:          req.Model,
		ArtifactSHA256: req.ArtifactSHA256,
		Nonce:          req.Nonce,
		FinishedAt:     time.Unix(req.FinishedAt, 0).UTC(),
		HubID:          req.HubID,
		ChainID:        req.ChainID,
		Signature:      req.Signature,
		ResultInline:   req.ResultInline,
		ResultURI:      req.ResultURI,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newReceiptView(row))
}

func (s *Server) failJob(w http.ResponseWriter, r *http.Request, ps httprouter.Params, p auth.Principal) {
	var req failJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	row, err := s.queue.Fail(r.Context(), p.ID, ps.ByName("job_id"), req.Error)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobView(row))
}
