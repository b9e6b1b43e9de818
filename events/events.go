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

// Package events publishes job lifecycle transitions onto a Kafka topic for
// downstream settlement/analytics consumers. It is purely additive: nothing
// in the coordinator's correctness depends on a publish actually landing.
package events

import (
	"encoding/json"
	"time"

	"github.com/Shopify/sarama"

	"github.com/ground-x/compute-coordinator/log"
	"github.com/ground-x/compute-coordinator/store"
)

var logger = log.NewModuleLogger("events")

// Kind is the lifecycle transition an Event records.
type Kind string

const (
	JobSubmitted Kind = "job_submitted"
	JobAssigned  Kind = "job_assigned"
	JobCompleted Kind = "job_completed"
	JobFailed    Kind = "job_failed"
	JobCanceled  Kind = "job_canceled"
	JobExpired   Kind = "job_expired"
)

// Event is the JSON body published for every lifecycle transition.
type Event struct {
	Kind      Kind      `json:"kind"`
	JobID     string    `json:"job_id"`
	ClientID  string    `json:"client_id,omitempty"`
	MinerID   string    `json:"miner_id,omitempty"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher is the C4/C8 sink. Config absence of brokers yields a
// *NopPublisher; presence yields a Kafka-backed one.
type Publisher interface {
	Publish(e Event)
	Close() error
}

// NopPublisher discards every event; it is the default when no Kafka
// brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}
func (NopPublisher) Close() error  { return nil }

// Config is the kafka_brokers/kafka_topic configuration knob set.
type Config struct {
	Brokers []string
	Topic   string
}

// kafkaPublisher wraps a sarama.AsyncProducer the same way
// datasync/chaindatafetcher's kafka broker does: async send, errors logged
// rather than surfaced (a dropped lifecycle event never blocks a job
// transition).
type kafkaPublisher struct {
	producer sarama.AsyncProducer
	topic    string
}

// New constructs a Publisher. An empty Brokers list returns a NopPublisher
// so the feature is opt-in with zero config-surface cost when unused.
func New(cfg Config) (Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return NopPublisher{}, nil
	}

	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.Return.Successes = false
	saramaCfg.Producer.Return.Errors = true
	saramaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	saramaCfg.Producer.Compression = sarama.CompressionSnappy
	saramaCfg.Producer.Flush.Frequency = 500 * time.Millisecond
	saramaCfg.Version = sarama.MaxVersion

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, err
	}

	p := &kafkaPublisher{producer: producer, topic: cfg.Topic}
	go p.drainErrors()
	return p, nil
}

func (p *kafkaPublisher) Publish(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		logger.Error("failed to marshal lifecycle event", "kind", e.Kind, "job_id", e.JobID, "err", err)
		return
	}
	p.producer.Input() <- &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(e.JobID),
		Value: sarama.ByteEncoder(data),
	}
}

func (p *kafkaPublisher) drainErrors() {
	for err := range p.producer.Errors() {
		logger.Error("failed to publish lifecycle event", "err", err)
	}
}

func (p *kafkaPublisher) Close() error {
	return p.producer.Close()
}

// FromJob builds a lifecycle Event from a job row's current state.
func FromJob(kind Kind, job *store.JobRow) Event {
	return Event{
		Kind:      kind,
		JobID:     job.JobID,
		ClientID:  job.ClientID,
		MinerID:   job.AssignedMinerID,
		State:     string(job.State),
		Timestamp: time.Now(),
	}
}
