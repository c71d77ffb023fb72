// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package event

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type busMetrics struct {
	published   *prometheus.CounterVec
	delivered   *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	retried     *prometheus.CounterVec
	failed      *prometheus.CounterVec
	subscribers prometheus.Gauge
}

func newBusMetrics(reg prometheus.Registerer) *busMetrics {
	factory := promauto.With(reg)
	labels := []string{"type"}
	return &busMetrics{
		published: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "govcore_events_published_total",
			Help: "events published on the bus",
		}, labels),
		delivered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "govcore_events_delivered_total",
			Help: "events acknowledged by a subscriber",
		}, labels),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "govcore_events_dropped_total",
			Help: "events dropped because a subscriber queue was full",
		}, labels),
		retried: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "govcore_events_redelivered_total",
			Help: "event redelivery attempts after a handler error",
		}, labels),
		failed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "govcore_events_failed_total",
			Help: "events abandoned after exhausting delivery attempts",
		}, labels),
		subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "govcore_event_subscribers",
			Help: "registered event subscribers",
		}),
	}
}
