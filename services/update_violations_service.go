// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/database/models"
	"github.com/l3montree-dev/devguard-policy/dtos"
	"github.com/l3montree-dev/devguard-policy/monitoring"
	"github.com/l3montree-dev/devguard-policy/shared"
	"github.com/l3montree-dev/devguard-policy/utils"
	"gorm.io/gorm/clause"
)

// ViolationsResult describes the rows of a merge request after Execute.
type ViolationsResult struct {
	// rows were created, changed or deleted
	Changed bool
	// remaining rows keyed by policy read id
	Remaining map[uuid.UUID]models.ScanResultPolicyViolation
	// policies whose rows carried data and were deleted
	Resolved []uuid.UUID
}

// Violated reports whether one of the policies still has a row.
func (r ViolationsResult) Violated(policyIDs []uuid.UUID) bool {
	for _, id := range policyIDs {
		if _, ok := r.Remaining[id]; ok {
			return true
		}
	}
	return false
}

// Pending reports whether one of the policies has a row without data.
func (r ViolationsResult) Pending(policyIDs []uuid.UUID) bool {
	for _, id := range policyIDs {
		if v, ok := r.Remaining[id]; ok && v.Pending() {
			return true
		}
	}
	return false
}

// UpdateViolationsService collects the outcome of every evaluated policy of
// a merge request and writes it in one go.
type UpdateViolationsService struct {
	mergeRequest models.MergeRequest
	repository   shared.ScanResultPolicyViolationRepository
	broker       shared.PubSubBroker

	// insertion order keeps writes deterministic
	order    []uuid.UUID
	policies map[uuid.UUID]models.ScanResultPolicyRead
	violated map[uuid.UUID]bool
	data     map[uuid.UUID]*dtos.ViolationData

	existing []models.ScanResultPolicyViolation
}

func NewUpdateViolationsService(mergeRequest models.MergeRequest, repository shared.ScanResultPolicyViolationRepository, broker shared.PubSubBroker) *UpdateViolationsService {
	return &UpdateViolationsService{
		mergeRequest: mergeRequest,
		repository:   repository,
		broker:       broker,
		policies:     make(map[uuid.UUID]models.ScanResultPolicyRead),
		violated:     make(map[uuid.UUID]bool),
		data:         make(map[uuid.UUID]*dtos.ViolationData),
	}
}

func (s *UpdateViolationsService) track(policy models.ScanResultPolicyRead, violated bool) {
	if _, ok := s.policies[policy.ID]; !ok {
		s.order = append(s.order, policy.ID)
	}
	s.policies[policy.ID] = policy
	s.violated[policy.ID] = violated
}

// Add marks policies as violated (keeping their data) or unviolated.
func (s *UpdateViolationsService) Add(violated, unviolated []models.ScanResultPolicyRead) {
	for _, p := range unviolated {
		s.RemoveViolation(p)
	}
	for _, p := range violated {
		s.track(p, true)
	}
}

func (s *UpdateViolationsService) RemoveViolation(policy models.ScanResultPolicyRead) {
	s.track(policy, false)
	delete(s.data, policy.ID)
}

func (s *UpdateViolationsService) dataFor(policyID uuid.UUID) *dtos.ViolationData {
	data, ok := s.data[policyID]
	if !ok {
		data = &dtos.ViolationData{}
		s.data[policyID] = data
	}
	return data
}

// AddViolation merges the violation of the report type into the data of the policy.
func (s *UpdateViolationsService) AddViolation(policy models.ScanResultPolicyRead, reportType dtos.ApprovalReportType, violation dtos.ReportViolation, violationContext *dtos.ViolationContext) {
	s.track(policy, true)
	data := s.dataFor(policy.ID)
	if data.Violations == nil {
		data.Violations = make(map[dtos.ApprovalReportType]dtos.ReportViolation)
	}
	data.Violations[reportType] = mergeReportViolation(data.Violations[reportType], violation)
	if violationContext != nil {
		data.Context = violationContext
	}
}

func (s *UpdateViolationsService) AddError(policy models.ScanResultPolicyRead, code dtos.ViolationErrorCode, missingScans []string, violationContext *dtos.ViolationContext) {
	s.track(policy, true)
	data := s.dataFor(policy.ID)
	for _, e := range data.Errors {
		if e.Error == code {
			return
		}
	}
	data.Errors = append(data.Errors, dtos.ViolationError{Error: code, MissingScans: missingScans})
	if violationContext != nil {
		data.Context = violationContext
	}
}

func (s *UpdateViolationsService) Skip(policy models.ScanResultPolicyRead) {
	s.AddError(policy, dtos.ErrorEvaluationSkipped, nil, nil)
}

func mergeReportViolation(a, b dtos.ReportViolation) dtos.ReportViolation {
	if b.UUIDs != nil {
		if a.UUIDs == nil {
			a.UUIDs = &dtos.UUIDViolations{}
		}
		a.UUIDs.NewlyDetected = utils.Uniq(append(a.UUIDs.NewlyDetected, b.UUIDs.NewlyDetected...))
		a.UUIDs.PreviouslyExisting = utils.Uniq(append(a.UUIDs.PreviouslyExisting, b.UUIDs.PreviouslyExisting...))
	}
	for license, dependencies := range b.Licenses {
		if a.Licenses == nil {
			a.Licenses = make(map[string][]string)
		}
		a.Licenses[license] = utils.SortedUniq(append(a.Licenses[license], dependencies...))
	}
	if b.Commits != nil {
		if a.Commits == nil {
			a.Commits = &dtos.CommitViolation{}
		}
		a.Commits.Any = a.Commits.Any || b.Commits.Any
		a.Commits.SHAs = utils.Uniq(append(a.Commits.SHAs, b.Commits.SHAs...))
	}
	return a
}

// violationStatus derives the status from the data of a violation.
func violationStatus(policy models.ScanResultPolicyRead, data *dtos.ViolationData) dtos.ViolationStatus {
	switch {
	case data == nil:
		return dtos.ViolationStatusRunning
	case data.HasViolations():
		if policy.WarnMode {
			return dtos.ViolationStatusWarn
		}
		return dtos.ViolationStatusFailed
	case data.HasErrors():
		if policy.FailOpen() || policy.WarnMode {
			return dtos.ViolationStatusWarn
		}
		if data.OnlyError(dtos.ErrorEvaluationSkipped) {
			return dtos.ViolationStatusSkipped
		}
	}
	return dtos.ViolationStatusFailed
}

func sameData(a, b *dtos.ViolationData) bool {
	if a == nil || b == nil {
		return a == b
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ja) == string(jb)
}

// Execute writes the collected state in its own transaction and publishes
// the resulting events.
func (s *UpdateViolationsService) Execute(ctx context.Context) (ViolationsResult, error) {
	if err := s.Prepare(ctx); err != nil {
		return ViolationsResult{}, err
	}
	var result ViolationsResult
	err := s.repository.Transaction(func(tx shared.DB) error {
		var err error
		result, err = s.ExecuteInTx(ctx, tx)
		return err
	})
	if err != nil {
		return result, err
	}
	s.PublishEvents(ctx, result)
	return result, nil
}

// Prepare loads the current rows of the merge request. It has to run before
// ExecuteInTx.
func (s *UpdateViolationsService) Prepare(ctx context.Context) error {
	existing, err := s.repository.FindByMergeRequest(ctx, s.mergeRequest.ID)
	if err != nil {
		return err
	}
	s.existing = existing
	return nil
}

// ExecuteInTx writes the collected state without publishing events. Rows
// whose status and data did not change are not written.
func (s *UpdateViolationsService) ExecuteInTx(ctx context.Context, tx shared.DB) (ViolationsResult, error) {
	remaining := make(map[uuid.UUID]models.ScanResultPolicyViolation, len(s.existing))
	for _, v := range s.existing {
		remaining[v.ScanResultPolicyReadID] = v
	}

	upserts := make([]*models.ScanResultPolicyViolation, 0)
	var toDelete, resolved []uuid.UUID
	created := 0

	for _, policyID := range s.order {
		policy := s.policies[policyID]
		prev, had := remaining[policyID]

		if !s.violated[policyID] {
			if had {
				toDelete = append(toDelete, policyID)
				if prev.ViolationData.HasViolations() || prev.ViolationData.HasErrors() {
					resolved = append(resolved, policyID)
				}
			}
			continue
		}

		data, hasNewData := s.data[policyID]
		if !hasNewData && had {
			data = prev.ViolationData
		}
		if data != nil {
			trimmed := data.Trimmed(dtos.MaxViolations)
			data = &trimmed
		}
		status := violationStatus(policy, data)
		if had && prev.Status == status && sameData(prev.ViolationData, data) {
			continue
		}

		row := &models.ScanResultPolicyViolation{
			ProjectID:              s.mergeRequest.ProjectID,
			MergeRequestID:         s.mergeRequest.ID,
			ScanResultPolicyReadID: policyID,
			Status:                 status,
			ViolationData:          data,
		}
		if had {
			row.ID = prev.ID
			row.CreatedAt = prev.CreatedAt
		} else {
			created++
		}
		upserts = append(upserts, row)
	}

	if err := s.repository.Upsert(tx, &upserts, []clause.Column{{Name: "merge_request_id"}, {Name: "scan_result_policy_read_id"}}, []string{"status", "violation_data", "updated_at"}); err != nil {
		return ViolationsResult{}, err
	}
	deleted, err := s.repository.DeleteByPolicies(ctx, tx, s.mergeRequest.ID, toDelete)
	if err != nil {
		return ViolationsResult{}, err
	}

	for _, id := range toDelete {
		delete(remaining, id)
	}
	for _, row := range upserts {
		remaining[row.ScanResultPolicyReadID] = *row
	}

	monitoring.ViolationsWritten.WithLabelValues("created").Add(float64(created))
	monitoring.ViolationsWritten.WithLabelValues("updated").Add(float64(len(upserts) - created))
	monitoring.ViolationsWritten.WithLabelValues("deleted").Add(float64(deleted))

	return ViolationsResult{
		Changed:   len(upserts) > 0 || deleted > 0,
		Remaining: remaining,
		Resolved:  resolved,
	}, nil
}

// PublishEvents is called after the transaction committed.
func (s *UpdateViolationsService) PublishEvents(ctx context.Context, result ViolationsResult) {
	if !result.Changed {
		return
	}
	s.publish(ctx, shared.ViolationsUpdated, dtos.ViolationsUpdatedEvent{MergeRequestID: s.mergeRequest.ID})

	running := slices.ContainsFunc(mapValues(result.Remaining), func(v models.ScanResultPolicyViolation) bool {
		return v.Status == dtos.ViolationStatusRunning
	})
	if len(result.Remaining) > 0 && !running {
		s.publish(ctx, shared.PolicyViolationsDetected, dtos.PolicyViolationsDetectedEvent{MergeRequestID: s.mergeRequest.ID})
	}
	if len(result.Resolved) > 0 && len(result.Remaining) == 0 {
		s.publish(ctx, shared.PolicyViolationsResolved, dtos.PolicyViolationsResolvedEvent{MergeRequestID: s.mergeRequest.ID})
	}
}

func (s *UpdateViolationsService) publish(ctx context.Context, channel shared.PubSubChannel, event any) {
	if s.broker == nil {
		return
	}
	if err := s.broker.Publish(ctx, shared.NewSimplePubSubMessage(channel, shared.PayloadOf(event))); err != nil {
		slog.Error("could not publish violation event", "channel", channel, "merge_request_id", s.mergeRequest.ID, "err", err)
	}
}

func mapValues[K comparable, V any](m map[K]V) []V {
	values := make([]V, 0, len(m))
	for _, v := range m {
		values = append(values, v)
	}
	return values
}
