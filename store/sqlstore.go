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

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jinzhu/gorm"
	_ "github.com/go-sql-driver/mysql"

	"github.com/ground-x/compute-coordinator/log"
)

var sqlLogger = log.NewModuleLogger("store/sql")

// jobModel is the gorm-mapped row for the jobs table. version is the
// optimistic-CAS fencing column required by spec §4.2.
type jobModel struct {
	JobID           string `gorm:"primary_key;column:job_id"`
	ClientID        string `gorm:"column:client_id;index"`
	Payload         []byte `gorm:"column:payload;type:mediumblob"`
	ConstraintsJSON []byte `gorm:"column:constraints_json"`
	RequestedAt     int64  `gorm:"column:requested_at;index:idx_state_requested"`
	ExpiresAt       int64  `gorm:"column:expires_at"`
	StartedAt       *int64 `gorm:"column:started_at"`
	FinishedAt      *int64 `gorm:"column:finished_at"`
	State           string `gorm:"column:state;index:idx_state_requested"`
	AssignedMinerID string `gorm:"column:assigned_miner_id;index"`
	Attempts        int    `gorm:"column:attempts"`
	ResultInline    []byte `gorm:"column:result_inline;type:mediumblob"`
	ResultURI       string `gorm:"column:result_uri"`
	Error           string `gorm:"column:error"`
	IdempotencyKey  string `gorm:"column:idempotency_key;index:idx_client_idemp"`
	Version         int64  `gorm:"column:version"`
}

func (jobModel) TableName() string { return "jobs" }

type minerModel struct {
	MinerID          string  `gorm:"primary_key;column:miner_id"`
	CapabilitiesJSON []byte  `gorm:"column:capabilities_json"`
	Concurrency      int     `gorm:"column:concurrency"`
	PricePerHour     *float64 `gorm:"column:price_per_hour"`
	HeartbeatAt      int64   `gorm:"column:heartbeat_at;index"`
	Status           string  `gorm:"column:status"`
	Inflight         int     `gorm:"column:inflight"`
	Version          int64   `gorm:"column:version"`
}

func (minerModel) TableName() string { return "miners" }

type attemptModel struct {
	ID            uint64 `gorm:"primary_key;column:id"`
	JobID         string `gorm:"column:job_id;index"`
	AttemptNumber int    `gorm:"column:attempt_number"`
	MinerID       string `gorm:"column:miner_id"`
	StartedAt     int64  `gorm:"column:started_at"`
	EndedAt       *int64 `gorm:"column:ended_at"`
	Outcome       string `gorm:"column:outcome"`
}

func (attemptModel) TableName() string { return "attempts" }

type receiptModel struct {
	ReceiptID      string `gorm:"primary_key;column:receipt_id"`
	JobID          string `gorm:"column:job_id;index:idx_job_created"`
	AttemptNumber  int    `gorm:"column:attempt_number"`
	Provider       string `gorm:"column:provider"`
	Client         string `gorm:"column:client"`
	Units          float64 `gorm:"column:units"`
	UnitType       string `gorm:"column:unit_type"`
	Model          string `gorm:"column:model"`
	PromptHash     string `gorm:"column:prompt_hash"`
	StartedAt      int64  `gorm:"column:started_at"`
	FinishedAt     int64  `gorm:"column:finished_at"`
	ArtifactSHA256 string `gorm:"column:artifact_sha256"`
	Nonce          string `gorm:"column:nonce;index:idx_job_nonce"`
	HubID          string `gorm:"column:hub_id"`
	ChainID        string `gorm:"column:chain_id"`
	Canonical      []byte `gorm:"column:canonical;type:mediumblob"`
	SignatureJSON  []byte `gorm:"column:signature_json"`
	AttestJSON     []byte `gorm:"column:attestations_json"`
	CreatedAt      int64  `gorm:"column:created_at;index:idx_job_created"`
}

func (receiptModel) TableName() string { return "receipts" }

// SQLStore is a MySQL-backed Store using gorm, with optimistic
// compare-and-swap on each row's version column in place of row locking
// (spec §4.2: "select … for update-equivalent … OR compare-and-swap").
type SQLStore struct {
	db *gorm.DB
}

// OpenSQLStore opens (and migrates) a MySQL-backed Store at dsn.
func OpenSQLStore(dsn string) (*SQLStore, error) {
	db, err := gorm.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open mysql: %w", err)
	}
	db.LogMode(false)
	if err := db.AutoMigrate(&jobModel{}, &minerModel{}, &attemptModel{}, &receiptModel{}).Error; err != nil {
		db.Close()
		return nil, fmt.Errorf("store: automigrate: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func toJobModel(r *JobRow) (*jobModel, error) {
	var cj []byte
	var err error
	if r.Constraints != nil {
		cj, err = json.Marshal(r.Constraints)
		if err != nil {
			return nil, err
		}
	}
	m := &jobModel{
		JobID: r.JobID, ClientID: r.ClientID, Payload: r.Payload, ConstraintsJSON: cj,
		RequestedAt: r.RequestedAt.Unix(), ExpiresAt: r.ExpiresAt.Unix(),
		State: string(r.State), AssignedMinerID: r.AssignedMinerID, Attempts: r.Attempts,
		ResultInline: r.ResultInline, ResultURI: r.ResultURI, Error: r.Error,
		IdempotencyKey: r.IdempotencyKey, Version: r.Version,
	}
	if r.StartedAt != nil {
		ts := r.StartedAt.Unix()
		m.StartedAt = &ts
	}
	if r.FinishedAt != nil {
		ts := r.FinishedAt.Unix()
		m.FinishedAt = &ts
	}
	return m, nil
}

func fromJobModel(m *jobModel) (*JobRow, error) {
	r := &JobRow{
		JobID: m.JobID, ClientID: m.ClientID, Payload: m.Payload,
		RequestedAt: time.Unix(m.RequestedAt, 0), ExpiresAt: time.Unix(m.ExpiresAt, 0),
		State: JobState(m.State), AssignedMinerID: m.AssignedMinerID, Attempts: m.Attempts,
		ResultInline: m.ResultInline, ResultURI: m.ResultURI, Error: m.Error,
		IdempotencyKey: m.IdempotencyKey, Version: m.Version,
	}
	if len(m.ConstraintsJSON) > 0 {
		var c Constraints
		if err := json.Unmarshal(m.ConstraintsJSON, &c); err != nil {
			return nil, err
		}
		r.Constraints = &c
	}
	if m.StartedAt != nil {
		t := time.Unix(*m.StartedAt, 0)
		r.StartedAt = &t
	}
	if m.FinishedAt != nil {
		t := time.Unix(*m.FinishedAt, 0)
		r.FinishedAt = &t
	}
	return r, nil
}

func (s *SQLStore) CreateJob(ctx context.Context, row *JobRow) error {
	row.Version = 1
	m, err := toJobModel(row)
	if err != nil {
		return err
	}
	if row.IdempotencyKey != "" {
		var count int
		s.db.Model(&jobModel{}).Where("client_id = ? AND idempotency_key = ?", row.ClientID, row.IdempotencyKey).Count(&count)
		if count > 0 {
			return ErrAlreadyExists
		}
	}
	if err := s.db.Create(m).Error; err != nil {
		return ErrAlreadyExists
	}
	return nil
}

func (s *SQLStore) GetJob(ctx context.Context, jobID string) (*JobRow, error) {
	var m jobModel
	if err := s.db.Where("job_id = ?", jobID).First(&m).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return fromJobModel(&m)
}

func (s *SQLStore) FindByIdempotencyKey(ctx context.Context, clientID, key string) (string, error) {
	var m jobModel
	err := s.db.Select("job_id").Where("client_id = ? AND idempotency_key = ?", clientID, key).First(&m).Error
	if err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	return m.JobID, nil
}

// UpdateJob implements CAS: read current row, apply mutate, write back with
// `WHERE job_id = ? AND version = ?`; zero rows affected means a concurrent
// writer won, surfaced as ErrVersionConflict for the caller to retry.
func (s *SQLStore) UpdateJob(ctx context.Context, jobID string, mutate JobMutator) (*JobRow, error) {
	cur, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	next, err := mutate(cur)
	if err != nil {
		return nil, err
	}
	next.Version = cur.Version + 1
	m, err := toJobModel(next)
	if err != nil {
		return nil, err
	}
	tx := s.db.Model(&jobModel{}).
		Where("job_id = ? AND version = ?", jobID, cur.Version).
		Updates(m)
	if tx.Error != nil {
		return nil, tx.Error
	}
	if tx.RowsAffected == 0 {
		return nil, ErrVersionConflict
	}
	return next, nil
}

func (s *SQLStore) ListQueuedJobsByAge(ctx context.Context, limit int) ([]*JobRow, error) {
	return s.listJobsWhere("state = ?", []interface{}{string(JobQueued)}, "requested_at asc, job_id asc", limit)
}

func (s *SQLStore) ListExpiredQueuedJobs(ctx context.Context, asOf int64, limit int) ([]*JobRow, error) {
	return s.listJobsWhere("state = ? AND expires_at <= ?", []interface{}{string(JobQueued), asOf}, "job_id asc", limit)
}

func (s *SQLStore) ListRunningByMiner(ctx context.Context, minerID string) ([]*JobRow, error) {
	return s.listJobsWhere("state = ? AND assigned_miner_id = ?", []interface{}{string(JobRunning), minerID}, "job_id asc", 0)
}

func (s *SQLStore) listJobsWhere(where string, args []interface{}, order string, limit int) ([]*JobRow, error) {
	q := s.db.Where(where, args...).Order(order)
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []jobModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*JobRow, 0, len(models))
	for i := range models {
		r, err := fromJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *SQLStore) ListJobs(ctx context.Context, state JobState, cursor string, limit int) ([]*JobRow, string, error) {
	afterTS, afterID, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", fmt.Errorf("store: invalid cursor: %w", err)
	}
	q := s.db.Model(&jobModel{})
	if state != "" {
		q = q.Where("state = ?", string(state))
	}
	if cursor != "" {
		q = q.Where("(requested_at > ?) OR (requested_at = ? AND job_id > ?)", afterTS, afterTS, afterID)
	}
	if limit <= 0 {
		limit = 100
	}
	var models []jobModel
	if err := q.Order("requested_at asc, job_id asc").Limit(limit + 1).Find(&models).Error; err != nil {
		return nil, "", err
	}
	next := ""
	if len(models) > limit {
		last := models[limit-1]
		next = encodeCursor(last.RequestedAt, last.JobID)
		models = models[:limit]
	}
	out := make([]*JobRow, 0, len(models))
	for i := range models {
		r, err := fromJobModel(&models[i])
		if err != nil {
			return nil, "", err
		}
		out = append(out, r)
	}
	return out, next, nil
}

func toMinerModel(r *MinerRow) (*minerModel, error) {
	cj, err := json.Marshal(r.Capabilities)
	if err != nil {
		return nil, err
	}
	return &minerModel{
		MinerID: r.MinerID, CapabilitiesJSON: cj, Concurrency: r.Concurrency,
		PricePerHour: r.PricePerHour, HeartbeatAt: r.HeartbeatAt.Unix(),
		Status: string(r.Status), Inflight: r.Inflight, Version: r.Version,
	}, nil
}

func fromMinerModel(m *minerModel) (*MinerRow, error) {
	var caps Capabilities
	if len(m.CapabilitiesJSON) > 0 {
		if err := json.Unmarshal(m.CapabilitiesJSON, &caps); err != nil {
			return nil, err
		}
	}
	return &MinerRow{
		MinerID: m.MinerID, Capabilities: caps, Concurrency: m.Concurrency,
		PricePerHour: m.PricePerHour, HeartbeatAt: time.Unix(m.HeartbeatAt, 0),
		Status: MinerStatus(m.Status), Inflight: m.Inflight, Version: m.Version,
	}, nil
}

func (s *SQLStore) UpsertMiner(ctx context.Context, minerID string, mutate MinerMutator) (*MinerRow, error) {
	var m minerModel
	err := s.db.Where("miner_id = ?", minerID).First(&m).Error
	switch {
	case err == nil:
		cur, ferr := fromMinerModel(&m)
		if ferr != nil {
			return nil, ferr
		}
		next, merr := mutate(cur)
		if merr != nil {
			return nil, merr
		}
		next.MinerID = minerID
		next.Version = cur.Version + 1
		nm, cerr := toMinerModel(next)
		if cerr != nil {
			return nil, cerr
		}
		tx := s.db.Model(&minerModel{}).Where("miner_id = ? AND version = ?", minerID, cur.Version).Updates(nm)
		if tx.Error != nil {
			return nil, tx.Error
		}
		if tx.RowsAffected == 0 {
			return nil, ErrVersionConflict
		}
		return next, nil
	case gorm.IsRecordNotFoundError(err):
		next, merr := mutate(nil)
		if merr != nil {
			return nil, merr
		}
		next.MinerID = minerID
		next.Version = 1
		nm, cerr := toMinerModel(next)
		if cerr != nil {
			return nil, cerr
		}
		if err := s.db.Create(nm).Error; err != nil {
			return nil, err
		}
		return next, nil
	default:
		return nil, err
	}
}

func (s *SQLStore) GetMiner(ctx context.Context, minerID string) (*MinerRow, error) {
	var m minerModel
	if err := s.db.Where("miner_id = ?", minerID).First(&m).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return fromMinerModel(&m)
}

func (s *SQLStore) SnapshotOnlineMiners(ctx context.Context) ([]*MinerRow, error) {
	return s.listMinersWhere("status = ?", []interface{}{string(MinerOnline)})
}

func (s *SQLStore) ListStaleMiners(ctx context.Context, cutoff int64) ([]*MinerRow, error) {
	return s.listMinersWhere("status <> ? AND heartbeat_at <= ?", []interface{}{string(MinerOffline), cutoff})
}

func (s *SQLStore) ListMiners(ctx context.Context) ([]*MinerRow, error) {
	return s.listMinersWhere("1 = 1", nil)
}

func (s *SQLStore) listMinersWhere(where string, args []interface{}) ([]*MinerRow, error) {
	var models []minerModel
	if err := s.db.Where(where, args...).Order("miner_id asc").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*MinerRow, 0, len(models))
	for i := range models {
		r, err := fromMinerModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *SQLStore) DeleteMiner(ctx context.Context, minerID string) error {
	tx := s.db.Where("miner_id = ?", minerID).Delete(&minerModel{})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) PutAttempt(ctx context.Context, row *AttemptRow) error {
	m := &attemptModel{
		JobID: row.JobID, AttemptNumber: row.AttemptNumber, MinerID: row.MinerID,
		StartedAt: row.StartedAt.Unix(), Outcome: string(row.Outcome),
	}
	if row.EndedAt != nil {
		ts := row.EndedAt.Unix()
		m.EndedAt = &ts
	}
	var existing attemptModel
	err := s.db.Where("job_id = ? AND attempt_number = ?", row.JobID, row.AttemptNumber).First(&existing).Error
	if err == nil {
		m.ID = existing.ID
		return s.db.Save(m).Error
	}
	if !gorm.IsRecordNotFoundError(err) {
		return err
	}
	return s.db.Create(m).Error
}

func (s *SQLStore) ListAttempts(ctx context.Context, jobID string) ([]*AttemptRow, error) {
	var models []attemptModel
	if err := s.db.Where("job_id = ?", jobID).Order("attempt_number asc").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*AttemptRow, 0, len(models))
	for _, m := range models {
		a := &AttemptRow{JobID: m.JobID, AttemptNumber: m.AttemptNumber, MinerID: m.MinerID,
			StartedAt: time.Unix(m.StartedAt, 0), Outcome: AttemptOutcome(m.Outcome)}
		if m.EndedAt != nil {
			t := time.Unix(*m.EndedAt, 0)
			a.EndedAt = &t
		}
		out = append(out, a)
	}
	return out, nil
}

func toReceiptModel(r *ReceiptRow) (*receiptModel, error) {
	sig, err := json.Marshal(r.Signature)
	if err != nil {
		return nil, err
	}
	att, err := json.Marshal(r.Attestations)
	if err != nil {
		return nil, err
	}
	return &receiptModel{
		ReceiptID: r.ReceiptID, JobID: r.JobID, AttemptNumber: r.AttemptNumber,
		Provider: r.Provider, Client: r.Client, Units: r.Units, UnitType: r.UnitType,
		Model: r.Model, PromptHash: r.PromptHash, StartedAt: r.StartedAt.Unix(),
		FinishedAt: r.FinishedAt.Unix(), ArtifactSHA256: r.ArtifactSHA256, Nonce: r.Nonce,
		HubID: r.HubID, ChainID: r.ChainID, Canonical: r.Canonical,
		SignatureJSON: sig, AttestJSON: att, CreatedAt: r.CreatedAt.Unix(),
	}, nil
}

func fromReceiptModel(m *receiptModel) (*ReceiptRow, error) {
	r := &ReceiptRow{
		ReceiptID: m.ReceiptID, JobID: m.JobID, AttemptNumber: m.AttemptNumber,
		Provider: m.Provider, Client: m.Client, Units: m.Units, UnitType: m.UnitType,
		Model: m.Model, PromptHash: m.PromptHash, StartedAt: time.Unix(m.StartedAt, 0),
		FinishedAt: time.Unix(m.FinishedAt, 0), ArtifactSHA256: m.ArtifactSHA256, Nonce: m.Nonce,
		HubID: m.HubID, ChainID: m.ChainID, Canonical: m.Canonical, CreatedAt: time.Unix(m.CreatedAt, 0),
	}
	if len(m.SignatureJSON) > 0 {
		if err := json.Unmarshal(m.SignatureJSON, &r.Signature); err != nil {
			return nil, err
		}
	}
	if len(m.AttestJSON) > 0 {
		if err := json.Unmarshal(m.AttestJSON, &r.Attestations); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (s *SQLStore) AppendReceipt(ctx context.Context, row *ReceiptRow) error {
	m, err := toReceiptModel(row)
	if err != nil {
		return err
	}
	if err := s.db.Create(m).Error; err != nil {
		return ErrAlreadyExists
	}
	return nil
}

func (s *SQLStore) FindReceiptByNonce(ctx context.Context, jobID, nonce string) (*ReceiptRow, error) {
	var m receiptModel
	if err := s.db.Where("job_id = ? AND nonce = ?", jobID, nonce).First(&m).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return fromReceiptModel(&m)
}

func (s *SQLStore) LatestReceipt(ctx context.Context, jobID string) (*ReceiptRow, error) {
	var m receiptModel
	err := s.db.Where("job_id = ?", jobID).Order("created_at desc").First(&m).Error
	if err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return fromReceiptModel(&m)
}

func (s *SQLStore) ReceiptHistory(ctx context.Context, jobID string) ([]*ReceiptRow, error) {
	var models []receiptModel
	if err := s.db.Where("job_id = ?", jobID).Order("created_at asc").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*ReceiptRow, 0, len(models))
	for i := range models {
		r, err := fromReceiptModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *SQLStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var queueDepth, minersOnline, minersTotal int
	s.db.Model(&jobModel{}).Where("state = ?", string(JobQueued)).Count(&queueDepth)
	s.db.Model(&minerModel{}).Where("status = ?", string(MinerOnline)).Count(&minersOnline)
	s.db.Model(&minerModel{}).Count(&minersTotal)
	st.QueueDepth, st.MinersOnline, st.MinersTotal = queueDepth, minersOnline, minersTotal

	var completed, failed, expired, canceled int
	s.db.Model(&jobModel{}).Where("state = ?", string(JobCompleted)).Count(&completed)
	s.db.Model(&jobModel{}).Where("state = ?", string(JobFailed)).Count(&failed)
	s.db.Model(&jobModel{}).Where("state = ?", string(JobExpired)).Count(&expired)
	s.db.Model(&jobModel{}).Where("state = ?", string(JobCanceled)).Count(&canceled)
	st.Completed, st.Failed, st.Expired, st.Canceled = int64(completed), int64(failed), int64(expired), int64(canceled)
	return st, nil
}

func (s *SQLStore) Close() error {
	sqlLogger.Info("closing sql store")
	return s.db.Close()
}

var _ Store = (*SQLStore)(nil)
