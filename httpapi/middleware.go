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
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/ground-x/compute-coordinator/apierr"
	"github.com/ground-x/compute-coordinator/auth"
)

// principalHandler is a route handler already resolved to its principal.
type principalHandler func(w http.ResponseWriter, r *http.Request, ps httprouter.Params, p auth.Principal)

// bearerKey extracts the opaque key from "Authorization: Bearer <key>", the
// implementer's choice for spec §6's "agreed header" (recorded in
// DESIGN.md).
func bearerKey(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimPrefix(h, prefix)
	}
	return h
}

// withAuth resolves the caller against wantTier, enforces the rate limit,
// and only then calls next; any failure short-circuits with the common
// error envelope (spec §4.8).
func (s *Server) withAuth(wantTier auth.Tier, next principalHandler) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		key := bearerKey(r)
		p, err := s.keys.Resolve(wantTier, key)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := auth.CheckRateLimit(s.limiter, key, time.Now()); err != nil {
			writeError(w, err)
			return
		}
		next(w, r, ps, p)
	}
}

// withClientOrWallet implements the "client or wallet" principal of the
// receipt read endpoints: the implementer's decision (no "wallet" tier
// exists in auth.KeyTable) is that a settlement/wallet caller authenticates
// with an admin-tier key; a client-tier key is tried first so normal job
// owners keep working unchanged.
func (s *Server) withClientOrWallet(next principalHandler) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		key := bearerKey(r)
		p, err := s.keys.Resolve(auth.TierClient, key)
		if err != nil {
			p, err = s.keys.Resolve(auth.TierAdmin, key)
		}
		if err != nil {
			writeError(w, apierr.New(apierr.UnauthorizedKey, "key not recognized for this endpoint"))
			return
		}
		if err := auth.CheckRateLimit(s.limiter, key, time.Now()); err != nil {
			writeError(w, err)
			return
		}
		next(w, r, ps, p)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to encode response body", "err", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, env := apierr.ToEnvelope(err)
	writeJSON(w, status, env)
}

const maxRequestBodyBytes = 2 << 20 // 2 MiB, headroom over the 1 MiB payload cap for framing overhead

func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return apierr.Wrap(apierr.InvalidPayload, err, "malformed JSON body")
	}
	return nil
}

// decodeJSONOptional is decodeJSON for endpoints whose body is entirely
// optional (heartbeat, drain): an empty body leaves dst at its zero value
// instead of erroring.
func decodeJSONOptional(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return apierr.Wrap(apierr.InvalidPayload, err, "malformed JSON body")
	}
	return nil
}
