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
	"strconv"

	"github.com/julienschmidt/httprouter"

	"github.com/ground-x/compute-coordinator/apierr"
	"github.com/ground-x/compute-coordinator/auth"
	"github.com/ground-x/compute-coordinator/store"
)

const defaultAdminListLimit = 100

func (s *Server) adminStats(w http.ResponseWriter, r *http.Request, _ httprouter.Params, _ auth.Principal) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, err, "failed to load stats"))
		return
	}
	writeJSON(w, http.StatusOK, newAdminStatsResponse(stats))
}

// adminJobs implements GET /v1/admin/jobs?state=&cursor=&limit= (spec §6
// plus the cursor parameter SPEC_FULL.md adds for the store's keyset
// pagination primitive).
func (s *Server) adminJobs(w http.ResponseWriter, r *http.Request, _ httprouter.Params, _ auth.Principal) {
	q := r.URL.Query()
	limit := defaultAdminListLimit
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	rows, nextCursor, err := s.store.ListJobs(r.Context(), store.JobState(q.Get("state")), q.Get("cursor"), limit)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, err, "failed to list jobs"))
		return
	}

	views := make([]jobView, 0, len(rows))
	for _, row := range rows {
		views = append(views, newJobView(row))
	}
	writeJSON(w, http.StatusOK, adminJobsResponse{Jobs: views, NextCursor: nextCursor})
}

func (s *Server) adminMiners(w http.ResponseWriter, r *http.Request, _ httprouter.Params, _ auth.Principal) {
	rows, err := s.store.ListMiners(r.Context())
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, err, "failed to list miners"))
		return
	}
	views := make([]minerView, 0, len(rows))
	for _, row := range rows {
		views = append(views, newMinerView(row))
	}
	writeJSON(w, http.StatusOK, adminMinersResponse{Miners: views})
}

// adminEvictMiner is the SPEC_FULL.md supplement to §6's admin surface:
// hard-deletes a miner row per spec §3's "deletable only by admin".
func (s *Server) adminEvictMiner(w http.ResponseWriter, r *http.Request, ps httprouter.Params, _ auth.Principal) {
	if err := s.registry.Evict(r.Context(), ps.ByName("miner_id")); err != nil {
		if err == store.ErrNotFound {
			writeJSON(w, http.StatusNotFound, apierr.Envelope{Error: apierr.EnvelopeBody{
				Code:    "MINER_NOT_FOUND",
				Message: "miner not found",
			}})
			return
		}
		writeError(w, apierr.Wrap(apierr.Internal, err, "failed to evict miner"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
