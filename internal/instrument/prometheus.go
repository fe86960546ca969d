// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !noprometheus

// Package instrument exports Prometheus metrics for the Arke roles.
package instrument

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/op/go-logging.v1"
)

var (
	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arke_requests_total",
			Help: "Number of handled requests by role, action and status",
		},
		[]string{"role", "action", "status"},
	)
	requestDuration = prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "arke_request_duration_seconds",
			Help:       "Time spent handling a request",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"role", "action"},
	)
	rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arke_rate_limited_total",
			Help: "Number of requests refused by the per peer rate limit",
		},
		[]string{"role"},
	)
	registrations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "arke_registrations_total",
			Help: "Number of identities attested by the registrar",
		},
	)
	partialKeys = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arke_blind_partial_keys_total",
			Help: "Number of blind partial keys issued",
		},
		[]string{"issuer"},
	)
	deadDropOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arke_dead_drop_operations_total",
			Help: "Number of store operations by kind",
		},
		[]string{"op"},
	)
	overwrites = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "arke_dead_drop_overwrites_total",
			Help: "Number of writes that replaced an unread message",
		},
	)
	replayedNonces = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "arke_replayed_nonces_total",
			Help: "Number of location proofs refused for a reused nonce",
		},
	)
	wakeups = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "arke_subscription_wakeups_total",
			Help: "Number of subscriptions woken by a write",
		},
	)

	registerOnce sync.Once
	serveOnce    sync.Once
)

func register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(requests, requestDuration, rateLimited, registrations,
			partialKeys, deadDropOps, overwrites, replayedNonces, wakeups)
	})
}

// StartPrometheusListener serves /metrics on address.  It does nothing
// when address is empty.
func StartPrometheusListener(address string, log *logging.Logger) {
	register()
	if address == "" {
		return
	}
	serveOnce.Do(func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{
			Addr:              address,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Noticef("Serving metrics on: %v", address)
			if err := srv.ListenAndServe(); err != nil {
				log.Errorf("Metrics listener failed: %v", err)
			}
		}()
	})
}

// Request records one handled request.
func Request(role, action, status string, elapsed time.Duration) {
	register()
	requests.WithLabelValues(role, action, status).Inc()
	requestDuration.WithLabelValues(role, action).Observe(elapsed.Seconds())
}

// RateLimited counts a refused request.
func RateLimited(role string) {
	register()
	rateLimited.WithLabelValues(role).Inc()
}

// Registration counts an attested identity.
func Registration() {
	register()
	registrations.Inc()
}

// PartialKeyIssued counts a blind partial key from issuer.
func PartialKeyIssued(issuer string) {
	register()
	partialKeys.WithLabelValues(issuer).Inc()
}

// DeadDropOp counts a store operation ("write", "read", "delete").
func DeadDropOp(op string) {
	register()
	deadDropOps.WithLabelValues(op).Inc()
}

// Overwrite counts a lost update.
func Overwrite() {
	register()
	overwrites.Inc()
}

// NonceReplayed counts a refused proof.
func NonceReplayed() {
	register()
	replayedNonces.Inc()
}

// Wakeup counts a woken subscription.
func Wakeup() {
	register()
	wakeups.Inc()
}
