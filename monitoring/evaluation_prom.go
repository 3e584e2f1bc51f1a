// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ApprovalEvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "devguard_policy_approval_evaluation_duration_seconds",
	Help:    "Duration of evaluating the approval rules of a merge request in seconds",
	Buckets: prometheus.DefBuckets,
})

var ApprovalRuleOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "devguard_policy_approval_rule_outcomes_total",
	Help: "Evaluated approval rules by report type and resulting state",
}, []string{"report_type", "state"})

var ViolationsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "devguard_policy_violations_written_total",
	Help: "Created, updated and deleted scan result policy violations",
}, []string{"operation"})

var CommentsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "devguard_policy_comments_generated_total",
	Help: "Bot comments by operation (created, updated, skipped, lock_timeout)",
}, []string{"operation"})

var ComplianceControlStatuses = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "devguard_policy_compliance_control_statuses_total",
	Help: "Evaluated compliance controls by resulting status",
}, []string{"status"})
