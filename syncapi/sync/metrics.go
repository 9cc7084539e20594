// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package sync

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	deltasAppliedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "syncclient",
			Subsystem: "sync",
			Name:      "deltas_applied_total",
			Help:      "Total number of sync deltas reconciled into snapshots.",
		},
	)
	roomsReconciledCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "syncclient",
			Subsystem: "sync",
			Name:      "rooms_reconciled_total",
			Help:      "Total number of room snapshots touched by reconciliation.",
		},
	)
	skippedEntriesCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "syncclient",
			Subsystem: "sync",
			Name:      "skipped_entries_total",
			Help:      "Total number of malformed delta entries dropped.",
		},
	)
	integrityWarningsCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "syncclient",
			Subsystem: "sync",
			Name:      "integrity_warnings_total",
			Help:      "Total number of recoverable integrity violations in server data.",
		},
	)
	ruleMatchesCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "syncclient",
			Subsystem: "push",
			Name:      "rule_matches_total",
			Help:      "Total number of push rule matches by rule kind.",
		},
		[]string{"kind"},
	)
	reconcileDurationHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "syncclient",
			Subsystem: "sync",
			Name:      "reconcile_duration_seconds",
			Help:      "Time taken to reconcile one sync delta.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
	)
)

func init() {
	prometheus.MustRegister(
		deltasAppliedCounter,
		roomsReconciledCounter,
		skippedEntriesCounter,
		integrityWarningsCounter,
		ruleMatchesCounter,
		reconcileDurationHistogram,
	)
}

func observeReconcile(duration time.Duration, res *ApplyResult) {
	deltasAppliedCounter.Inc()
	roomsReconciledCounter.Add(float64(len(res.TouchedRooms)))
	skippedEntriesCounter.Add(float64(res.SkippedEvents))
	integrityWarningsCounter.Add(float64(len(res.Warnings)))
	reconcileDurationHistogram.Observe(duration.Seconds())
}
