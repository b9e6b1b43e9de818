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

// Package metrics provides a process-wide metric registry
// (NewRegisteredCounter/Gauge/Timer, DefaultRegistry) on top of
// rcrowley/go-metrics, with a Prometheus collector for exposition and an
// expvar hook for /debug/metrics.
package metrics

import (
	"expvar"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	gometrics "github.com/rcrowley/go-metrics"
)

// DefaultRegistry is the process-wide metric registry, mirroring
// gometrics.DefaultRegistry so existing NewRegistered* helpers attach here.
var DefaultRegistry = gometrics.DefaultRegistry

// NewRegisteredCounter creates (or fetches) a named counter in r, defaulting
// to DefaultRegistry when r is nil.
func NewRegisteredCounter(name string, r gometrics.Registry) gometrics.Counter {
	if r == nil {
		r = DefaultRegistry
	}
	return gometrics.GetOrRegisterCounter(name, r)
}

// NewRegisteredGauge creates (or fetches) a named gauge in r.
func NewRegisteredGauge(name string, r gometrics.Registry) gometrics.Gauge {
	if r == nil {
		r = DefaultRegistry
	}
	return gometrics.GetOrRegisterGauge(name, r)
}

// NewRegisteredTimer creates (or fetches) a named timer in r.
func NewRegisteredTimer(name string, r gometrics.Registry) gometrics.Timer {
	if r == nil {
		r = DefaultRegistry
	}
	return gometrics.GetOrRegisterTimer(name, r)
}

// collector adapts the go-metrics registry to prometheus.Collector by
// walking the registry on every scrape.
type collector struct{}

func (collector) Describe(ch chan<- *prometheus.Desc) {}

func (collector) Collect(ch chan<- prometheus.Metric) {
	DefaultRegistry.Each(func(name string, i interface{}) {
		switch m := i.(type) {
		case gometrics.Counter:
			ch <- prometheus.MustNewConstMetric(
				prometheus.NewDesc(sanitize(name), name, nil, nil),
				prometheus.CounterValue, float64(m.Count()))
		case gometrics.Gauge:
			ch <- prometheus.MustNewConstMetric(
				prometheus.NewDesc(sanitize(name), name, nil, nil),
				prometheus.GaugeValue, float64(m.Value()))
		case gometrics.Timer:
			ch <- prometheus.MustNewConstMetric(
				prometheus.NewDesc(sanitize(name)+"_seconds", name, nil, nil),
				prometheus.GaugeValue, m.Mean()/1e9)
		}
	})
}

func sanitize(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	return "coordinator_" + string(out)
}

// Handler exposes Prometheus text-format metrics plus a /debug/metrics
// expvar view for operators who prefer the plain key/value dump.
func Handler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector{})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/debug/metrics", expvar.Handler())
	return mux
}
