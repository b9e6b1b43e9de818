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

// Package httpapi implements the C8 HTTP surface of spec §6: it resolves an
// auth principal via auth.KeyTable, enforces the per-key rate limit, and
// dispatches to the C3-C7 components, serializing every error through the
// common envelope of spec §7.
package httpapi

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/ground-x/compute-coordinator/auth"
	"github.com/ground-x/compute-coordinator/log"
	"github.com/ground-x/compute-coordinator/queue"
	"github.com/ground-x/compute-coordinator/receipt"
	"github.com/ground-x/compute-coordinator/registry"
	"github.com/ground-x/compute-coordinator/store"
	"github.com/ground-x/compute-coordinator/waiter"
)

var logger = log.NewModuleLogger("httpapi")

// Server is the C8 component: a thin dispatch layer over C1 (auth) plus
// C3-C7, with no business logic of its own beyond request/response
// marshaling and ownership checks.
type Server struct {
	keys    *auth.KeyTable
	limiter auth.Limiter

	store    store.Store
	registry *registry.Registry
	queue    *queue.Queue
	waiter   *waiter.Waiter
	receipts *receipt.Builder

	handler http.Handler
}

// Deps collects every capability Server dispatches to; Coordinator
// constructs one from its assembled components.
type Deps struct {
	Keys    *auth.KeyTable
	Limiter auth.Limiter

	Store    store.Store
	Registry *registry.Registry
	Queue    *queue.Queue
	Waiter   *waiter.Waiter
	Receipts *receipt.Builder

	// CORSAllowedOrigins configures the outer CORS policy; empty allows none.
	CORSAllowedOrigins []string
}

// New builds a Server and its routed, CORS-wrapped http.Handler.
func New(d Deps) *Server {
	s := &Server{
		keys:     d.Keys,
		limiter:  d.Limiter,
		store:    d.Store,
		registry: d.Registry,
		queue:    d.Queue,
		waiter:   d.Waiter,
		receipts: d.Receipts,
	}

	r := httprouter.New()
	s.routes(r)

	opts := cors.Options{
		AllowedOrigins: d.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key"},
	}
	if len(d.CORSAllowedOrigins) == 0 {
		// rs/cors treats an empty origin list as "allow all"; refuse every
		// cross-origin request instead.
		opts.AllowOriginFunc = func(string) bool { return false }
	}
	c := cors.New(opts)
	s.handler = c.Handler(r)
	return s
}

// ServeHTTP makes Server itself usable as an http.Handler (e.g. with
// http.Server or httptest).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes(r *httprouter.Router) {
	r.POST("/v1/jobs", s.withAuth(auth.TierClient, s.submitJob))
	r.GET("/v1/jobs/:job_id", s.withAuth(auth.TierClient, s.getJob))
	r.GET("/v1/jobs/:job_id/result", s.withAuth(auth.TierClient, s.getJobResult))
	r.POST("/v1/jobs/:job_id/cancel", s.withAuth(auth.TierClient, s.cancelJob))
	r.GET("/v1/jobs/:job_id/receipt", s.withClientOrWallet(s.getLatestReceipt))
	r.GET("/v1/jobs/:job_id/receipts", s.withClientOrWallet(s.getReceiptHistory))

	r.POST("/v1/miners/register", s.withAuth(auth.TierMiner, s.registerMiner))
	r.POST("/v1/miners/heartbeat", s.withAuth(auth.TierMiner, s.heartbeat))
	r.POST("/v1/miners/poll", s.withAuth(auth.TierMiner, s.poll))
	r.POST("/v1/miners/:job_id/result", s.withAuth(auth.TierMiner, s.submitResult))
	r.POST("/v1/miners/:job_id/fail", s.withAuth(auth.TierMiner, s.failJob))
	r.POST("/v1/miners/drain", s.withAuth(auth.TierMiner, s.drain))

	r.GET("/v1/admin/stats", s.withAuth(auth.TierAdmin, s.adminStats))
	r.GET("/v1/admin/jobs", s.withAuth(auth.TierAdmin, s.adminJobs))
	r.GET("/v1/admin/miners", s.withAuth(auth.TierAdmin, s.adminMiners))
	// Miner eviction is a SPEC_FULL.md supplement (the original spec only
	// names GET endpoints for admin); DELETE keeps the admin surface
	// RESTful rather than overloading POST for a destructive action.
	r.DELETE("/v1/admin/miners/:miner_id", s.withAuth(auth.TierAdmin, s.adminEvictMiner))
}
