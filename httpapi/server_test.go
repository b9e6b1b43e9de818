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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ground-x/compute-coordinator/auth"
	"github.com/ground-x/compute-coordinator/match"
	"github.com/ground-x/compute-coordinator/queue"
	"github.com/ground-x/compute-coordinator/receipt"
	"github.com/ground-x/compute-coordinator/registry"
	"github.com/ground-x/compute-coordinator/store"
	"github.com/ground-x/compute-coordinator/waiter"
)

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	st := store.NewMemStore()
	broadcaster := waiter.NewBroadcaster()

	q, err := queue.New(st, queue.Config{TTLMin: time.Second, TTLMax: time.Hour, MaxAttempts: 3}, broadcaster, 0)
	require.NoError(t, err)

	matcher := match.New(st, 0, 0)
	w := waiter.New(matcher, broadcaster, 5*time.Second)

	builder, err := receipt.New(st, 0, "", "")
	require.NoError(t, err)

	reg := registry.New(st, registry.Config{HeartbeatTimeout: time.Minute, ReaperPeriod: time.Second}, nil)

	keys := auth.NewKeyTable([]string{"ck1"}, []string{"mk1"}, []string{"ak1"})
	limiter := auth.NewWindowLimiter(time.Minute, 1000)

	s := New(Deps{
		Keys:     keys,
		Limiter:  limiter,
		Store:    st,
		Registry: reg,
		Queue:    q,
		Waiter:   w,
		Receipts: builder,
	})
	return s, st
}

func doRequest(s *Server, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestSubmitJobRequiresClientKey(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/v1/jobs", "", submitJobRequest{Payload: json.RawMessage(`{}`), TTLSeconds: 60})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitAndFetchJobRoundTrips(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/v1/jobs", "ck1", submitJobRequest{Payload: json.RawMessage(`{"a":1}`), TTLSeconds: 60})
	require.Equal(t, http.StatusOK, rec.Code)

	var submitted submitJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	require.Equal(t, "QUEUED", submitted.State)

	rec = doRequest(s, http.MethodGet, "/v1/jobs/"+submitted.JobID, "ck1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view jobView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, submitted.JobID, view.JobID)
}

func TestGetJobForeignClientIsForbidden(t *testing.T) {
	s, _ := newTestServer(t)
	keysCk2 := auth.NewKeyTable([]string{"ck1", "ck2"}, []string{"mk1"}, []string{"ak1"})
	s.keys = keysCk2

	rec := doRequest(s, http.MethodPost, "/v1/jobs", "ck1", submitJobRequest{Payload: json.RawMessage(`{}`), TTLSeconds: 60})
	var submitted submitJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))

	rec = doRequest(s, http.MethodGet, "/v1/jobs/"+submitted.JobID, "ck2", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestResultEndpointIsNotReadyBeforeTerminal(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/v1/jobs", "ck1", submitJobRequest{Payload: json.RawMessage(`{}`), TTLSeconds: 60})
	var submitted submitJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))

	rec = doRequest(s, http.MethodGet, "/v1/jobs/"+submitted.JobID+"/result", "ck1", nil)
	require.Equal(t, 425, rec.Code)
}

func TestCancelThenResultIsGone(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/v1/jobs", "ck1", submitJobRequest{Payload: json.RawMessage(`{}`), TTLSeconds: 60})
	var submitted submitJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))

	rec = doRequest(s, http.MethodPost, "/v1/jobs/"+submitted.JobID+"/cancel", "ck1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, http.MethodGet, "/v1/jobs/"+submitted.JobID+"/result", "ck1", nil)
	require.Equal(t, http.StatusGone, rec.Code)
}

func TestMinerRegisterAndPoll(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/v1/miners/register", "mk1", registerMinerRequest{
		Capabilities: store.Capabilities{GPUModel: "H100", GPUMemoryGiB: 80, Region: "us-east"},
		Concurrency:  2,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, http.MethodPost, "/v1/jobs", "ck1", submitJobRequest{Payload: json.RawMessage(`{}`), TTLSeconds: 60})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, http.MethodPost, "/v1/miners/poll", "mk1", pollRequest{MaxWaitSeconds: 0})
	require.Equal(t, http.StatusOK, rec.Code)

	var poll pollResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &poll))
	require.NotNil(t, poll.Job)
	require.Equal(t, "RUNNING", poll.Job.State)
}

func TestAdminStatsRequiresAdminKey(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/v1/admin/stats", "ck1", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(s, http.MethodGet, "/v1/admin/stats", "ak1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReceiptEndpointAcceptsWalletAdminKey(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/v1/jobs", "ck1", submitJobRequest{Payload: json.RawMessage(`{}`), TTLSeconds: 60})
	var submitted submitJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))

	rec = doRequest(s, http.MethodGet, "/v1/jobs/"+submitted.JobID+"/receipt", "ak1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code) // no receipt yet, but auth passed
}
