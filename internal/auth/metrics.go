// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package auth

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_auth_operations_total",
			Help: "Total number of auth operations by operation and outcome kind",
		},
		[]string{"operation", "outcome"},
	)
	tokensIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_tokens_issued_total",
			Help: "Total number of signed tokens by class",
		},
		[]string{"class"},
	)
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_notifications_total",
			Help: "Total number of notification attempts by outcome",
		},
		[]string{"outcome"},
	)
)

// RegisterMetrics registers the auth collectors with reg.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{operationsTotal, tokensIssued, notificationsTotal} {
		if err := reg.Register(c); err != nil {
			return err //nolint:wrapcheck // registration errors are self-describing
		}
	}
	return nil
}

func observe(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = KindOf(err).String()
	}
	operationsTotal.WithLabelValues(operation, outcome).Inc()
}
