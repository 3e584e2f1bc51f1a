// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var CycleAnalyticsLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "devguard_policy_daemon_cycle_analytics_load_duration_minutes",
	Help:    "Duration of the cycle analytics data loader daemon in minutes",
	Buckets: prometheus.DefBuckets,
})

var CycleAnalyticsConsistencyCheckDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "devguard_policy_daemon_cycle_analytics_consistency_check_duration_minutes",
	Help:    "Duration of the cycle analytics consistency check daemon in minutes",
	Buckets: prometheus.DefBuckets,
})

var ComplianceEvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "devguard_policy_daemon_compliance_evaluation_duration_minutes",
	Help:    "Duration of the compliance control evaluation daemon in minutes",
	Buckets: prometheus.DefBuckets,
})

var PolicySyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "devguard_policy_daemon_policy_sync_duration_minutes",
	Help:    "Duration of syncing the security policy files into policy snapshots in minutes",
	Buckets: prometheus.DefBuckets,
})

var StageEventsUpserted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "devguard_policy_stage_events_upserted_total",
	Help: "The total number of upserted cycle analytics stage events",
})

var StageEventsDeleted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "devguard_policy_stage_events_deleted_total",
	Help: "The total number of stage events deleted by the consistency check",
})

var LoaderResults = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "devguard_policy_cycle_analytics_loader_results_total",
	Help: "Outcomes of the cycle analytics loaders by reason",
}, []string{"reason"})
