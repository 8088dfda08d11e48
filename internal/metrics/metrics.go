// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes relay counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bcem/msgrelay/internal/admission"
	"github.com/bcem/msgrelay/internal/dispatch"
	"github.com/bcem/msgrelay/internal/models"
)

const namespace = "msgrelay"

// Recorder records admission decisions and dispatch outcomes.
type Recorder struct {
	gatherer  prometheus.Gatherer
	decisions *prometheus.CounterVec
	outcomes  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
}

// New registers the relay collectors on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		gatherer: reg,
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_decisions_total",
			Help:      "Guard chain decisions by channel.",
		}, []string{"channel", "decision"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_outcomes_total",
			Help:      "Terminal request outcomes by channel.",
		}, []string{"channel", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transport_duration_seconds",
			Help:      "Time spent in the delivery transport.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"channel"}),
	}
	reg.MustRegister(r.decisions, r.outcomes, r.latency)
	return r
}

// Decision counts one guard decision.
func (r *Recorder) Decision(ch models.Channel, d admission.Decision) {
	if r == nil {
		return
	}
	r.decisions.WithLabelValues(string(ch), d.String()).Inc()
}

// Outcome counts one terminal outcome.
func (r *Recorder) Outcome(o dispatch.Outcome) {
	if r == nil {
		return
	}
	r.outcomes.WithLabelValues(string(o.Channel), o.Kind.String()).Inc()
}

// Transport observes how long a transport call took.
func (r *Recorder) Transport(ch models.Channel, d time.Duration) {
	if r == nil {
		return
	}
	r.latency.WithLabelValues(string(ch)).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
