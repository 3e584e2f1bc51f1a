// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package services

import (
	"context"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/database/models"
	"github.com/l3montree-dev/devguard-policy/dtos"
	"github.com/l3montree-dev/devguard-policy/policy"
	"github.com/l3montree-dev/devguard-policy/shared"
	"github.com/l3montree-dev/devguard-policy/statemachine"
	"github.com/l3montree-dev/devguard-policy/utils"
)

type RuleKind int

const (
	RuleKindScanFinding RuleKind = iota
	RuleKindLicenseScanning
	RuleKindAnyMergeRequest
	// scan_finding rules which only look at vulnerabilities already on the default branch
	RuleKindPreExistingStates
)

// PolicyRule is a merge request approval rule tagged with the evaluation it needs.
type PolicyRule struct {
	Kind RuleKind
	Rule models.ApprovalMergeRequestRule
}

func NewPolicyRule(rule models.ApprovalMergeRequestRule) PolicyRule {
	switch rule.ReportType {
	case dtos.ReportTypeLicenseScanning:
		return PolicyRule{Kind: RuleKindLicenseScanning, Rule: rule}
	case dtos.ReportTypeAnyMergeRequest:
		return PolicyRule{Kind: RuleKindAnyMergeRequest, Rule: rule}
	}
	if len(rule.VulnerabilityStates) > 0 && rule.OnlyPreviouslyExistingStates() {
		return PolicyRule{Kind: RuleKindPreExistingStates, Rule: rule}
	}
	return PolicyRule{Kind: RuleKindScanFinding, Rule: rule}
}

// RuleOutcome is the result of evaluating a single rule. ErrorCode is set
// when the rule could not be evaluated against the reports.
type RuleOutcome struct {
	Input        statemachine.RuleInput
	ErrorCode    dtos.ViolationErrorCode
	MissingScans []string
	Violation    dtos.ReportViolation
}

// EvaluationContext carries the pipelines of one merge request evaluation.
// Scan types and dependencies are loaded once and shared by every rule.
type EvaluationContext struct {
	MergeRequest      models.MergeRequest
	Project           models.Project
	PipelineIDs       []uuid.UUID
	TargetPipelineIDs []uuid.UUID

	finder                  *FindingsFinder
	vulnerabilityRepository shared.VulnerabilityRepository
	mergeRequestRepository  shared.MergeRequestRepository

	scanTypes       []dtos.ScanType
	targetScanTypes []dtos.ScanType
	loadedScanTypes bool
}

func NewEvaluationContext(mergeRequest models.MergeRequest, project models.Project, pipelineIDs, targetPipelineIDs []uuid.UUID, finder *FindingsFinder, vulnerabilityRepository shared.VulnerabilityRepository, mergeRequestRepository shared.MergeRequestRepository) *EvaluationContext {
	return &EvaluationContext{
		MergeRequest:            mergeRequest,
		Project:                 project,
		PipelineIDs:             pipelineIDs,
		TargetPipelineIDs:       targetPipelineIDs,
		finder:                  finder,
		vulnerabilityRepository: vulnerabilityRepository,
		mergeRequestRepository:  mergeRequestRepository,
	}
}

// ViolationContext is stored next to the violation data.
func (c *EvaluationContext) ViolationContext() *dtos.ViolationContext {
	return &dtos.ViolationContext{
		PipelineIDs:       c.PipelineIDs,
		TargetPipelineIDs: c.TargetPipelineIDs,
	}
}

func (c *EvaluationContext) HasTarget() bool {
	return len(c.TargetPipelineIDs) > 0
}

func (c *EvaluationContext) loadScanTypes(ctx context.Context) error {
	if c.loadedScanTypes {
		return nil
	}
	var err error
	if c.scanTypes, err = c.finder.ScanTypes(ctx, c.PipelineIDs); err != nil {
		return err
	}
	if c.HasTarget() {
		if c.targetScanTypes, err = c.finder.ScanTypes(ctx, c.TargetPipelineIDs); err != nil {
			return err
		}
	}
	c.loadedScanTypes = true
	return nil
}

// MissingScans returns the required scan types the merge request pipeline
// did not run. Required are the scanners of the rule which the target
// pipeline ran (every target scan type for a rule without scanners). Without
// a target pipeline the scanners of the rule are required.
func (c *EvaluationContext) MissingScans(ctx context.Context, scanners []dtos.ScanType) ([]string, error) {
	if err := c.loadScanTypes(ctx); err != nil {
		return nil, err
	}
	var required []dtos.ScanType
	switch {
	case !c.HasTarget():
		required = scanners
	case len(scanners) == 0:
		required = c.targetScanTypes
	default:
		required = utils.Intersect(scanners, c.targetScanTypes)
	}
	missing := utils.Difference(required, c.scanTypes)
	return utils.SortedUniq(utils.Map(missing, func(s dtos.ScanType) string { return string(s) })), nil
}

func (c *EvaluationContext) applicable(rule models.ApprovalMergeRequestRule) bool {
	read := rule.ScanResultPolicyRead
	if read == nil {
		return true
	}
	return policy.AppliesTo(read.Branches, read.BranchType, read.BranchExceptions, policy.ProjectBranches{
		FullPath:          c.Project.FullPath,
		DefaultBranch:     c.Project.DefaultBranch,
		ProtectedBranches: c.Project.ProtectedBranches,
	}, c.MergeRequest.TargetBranch)
}

func failOpen(rule models.ApprovalMergeRequestRule) bool {
	return rule.ScanResultPolicyRead != nil && rule.ScanResultPolicyRead.FailOpen()
}

// Evaluate runs the evaluation matching the kind of the rule.
func (r PolicyRule) Evaluate(ctx context.Context, c *EvaluationContext) (RuleOutcome, error) {
	if !c.applicable(r.Rule) {
		return RuleOutcome{Input: statemachine.RuleInput{Applicable: false}}, nil
	}
	switch r.Kind {
	case RuleKindLicenseScanning:
		return evaluateLicenseScanning(ctx, c, r.Rule)
	case RuleKindAnyMergeRequest:
		return evaluateAnyMergeRequest(ctx, c, r.Rule)
	case RuleKindPreExistingStates:
		return evaluatePreExistingStates(ctx, c, r.Rule)
	}
	return evaluateScanFinding(ctx, c, r.Rule)
}

func findingFilter(rule models.ApprovalMergeRequestRule) dtos.FindingFilter {
	filter := dtos.FindingFilter{
		Scanners:       rule.Scanners,
		SeverityLevels: rule.SeverityLevels,
	}
	if rule.ScanResultPolicyRead != nil {
		attributes := rule.ScanResultPolicyRead.VulnerabilityAttributes.Data()
		filter.FixAvailable = attributes.FixAvailable
		filter.FalsePositive = attributes.FalsePositive
	}
	return filter
}

func evaluateScanFinding(ctx context.Context, c *EvaluationContext, rule models.ApprovalMergeRequestRule) (RuleOutcome, error) {
	input := statemachine.RuleInput{
		Applicable:             true,
		FailOpen:               failOpen(rule),
		VulnerabilitiesAllowed: rule.VulnerabilitiesAllowed,
	}

	missing, err := c.MissingScans(ctx, rule.Scanners)
	if err != nil {
		return RuleOutcome{}, err
	}
	if len(missing) > 0 {
		input.MissingScans = missing
		return RuleOutcome{Input: input, ErrorCode: dtos.ErrorScanRemoved, MissingScans: missing}, nil
	}

	filter := findingFilter(rule)
	current, err := c.finder.Execute(ctx, c.PipelineIDs, filter)
	if err != nil {
		return RuleOutcome{}, err
	}
	var target []string
	if c.HasTarget() {
		if target, err = c.finder.Execute(ctx, c.TargetPipelineIDs, filter); err != nil {
			return RuleOutcome{}, err
		}
	}
	classification := statemachine.Classify(current, target)

	lookup := append(append([]string{}, classification.NewlyDetected...), classification.PreviouslyExisting...)
	vulnerabilities, err := c.vulnerabilityRepository.FindByUUIDs(ctx, c.Project.ID, lookup)
	if err != nil {
		return RuleOutcome{}, err
	}
	byUUID := make(map[string]models.Vulnerability, len(vulnerabilities))
	for _, v := range vulnerabilities {
		byUUID[v.UUID] = v
	}

	states := rule.EffectiveVulnerabilityStates()
	violation := dtos.UUIDViolations{}
	for _, id := range classification.NewlyDetected {
		state := dtos.VulnerabilityStateNewNeedsTriage
		if v, ok := byUUID[id]; ok && v.IsDismissed() {
			state = dtos.VulnerabilityStateNewDismissed
		}
		if slices.Contains(states, state) {
			violation.NewlyDetected = append(violation.NewlyDetected, id)
		}
	}
	for _, id := range classification.PreviouslyExisting {
		if v, ok := byUUID[id]; ok && slices.Contains(states, v.State) {
			violation.PreviouslyExisting = append(violation.PreviouslyExisting, id)
		}
	}

	input.ViolationCount = len(violation.NewlyDetected) + len(violation.PreviouslyExisting)
	return RuleOutcome{Input: input, Violation: dtos.ReportViolation{UUIDs: &violation}}, nil
}

func evaluatePreExistingStates(ctx context.Context, c *EvaluationContext, rule models.ApprovalMergeRequestRule) (RuleOutcome, error) {
	vulnerabilities, total, err := c.vulnerabilityRepository.FindByStates(ctx, c.Project.ID, rule.PreviouslyExistingStates(), rule.SeverityLevels, rule.Scanners, dtos.MaxViolations)
	if err != nil {
		return RuleOutcome{}, err
	}
	return RuleOutcome{
		Input: statemachine.RuleInput{
			Applicable:             true,
			FailOpen:               failOpen(rule),
			ViolationCount:         int(total),
			VulnerabilitiesAllowed: rule.VulnerabilitiesAllowed,
		},
		Violation: dtos.ReportViolation{UUIDs: &dtos.UUIDViolations{
			PreviouslyExisting: utils.Map(vulnerabilities, func(v models.Vulnerability) string { return v.UUID }),
		}},
	}, nil
}

func licenseDenied(license string, licensePolicy dtos.LicensePolicy) bool {
	listed := slices.ContainsFunc(licensePolicy.LicenseTypes, func(l string) bool {
		return strings.EqualFold(l, license)
	})
	if licensePolicy.MatchOnInclusion {
		return listed
	}
	return !listed
}

func evaluateLicenseScanning(ctx context.Context, c *EvaluationContext, rule models.ApprovalMergeRequestRule) (RuleOutcome, error) {
	input := statemachine.RuleInput{Applicable: true, FailOpen: failOpen(rule)}
	if err := c.loadScanTypes(ctx); err != nil {
		return RuleOutcome{}, err
	}
	if !slices.Contains(c.scanTypes, dtos.ScanTypeDependencyScanning) {
		input.Indeterminate = true
		return RuleOutcome{Input: input, ErrorCode: dtos.ErrorArtifactsMissing}, nil
	}

	dependencies, err := c.finder.Dependencies(ctx, c.PipelineIDs)
	if err != nil {
		return RuleOutcome{}, err
	}
	targetDependencies := map[string]bool{}
	if c.HasTarget() {
		deps, err := c.finder.Dependencies(ctx, c.TargetPipelineIDs)
		if err != nil {
			return RuleOutcome{}, err
		}
		for _, d := range deps {
			for _, license := range d.Licenses {
				targetDependencies[d.Name+"\x00"+strings.ToLower(license)] = true
			}
		}
	}

	var licensePolicy dtos.LicensePolicy
	states := []string{string(dtos.LicenseStateNewlyDetected), string(dtos.LicenseStateDetected)}
	if rule.ScanResultPolicyRead != nil {
		licensePolicy = rule.ScanResultPolicyRead.Licenses.Data()
		if len(rule.ScanResultPolicyRead.LicenseStates) > 0 {
			states = rule.ScanResultPolicyRead.LicenseStates
		}
	}

	violations := map[string][]string{}
	count := 0
	for _, d := range dependencies {
		for _, license := range d.Licenses {
			if !licenseDenied(license, licensePolicy) {
				continue
			}
			state := dtos.LicenseStateNewlyDetected
			if targetDependencies[d.Name+"\x00"+strings.ToLower(license)] {
				state = dtos.LicenseStateDetected
			}
			if !slices.Contains(states, string(state)) {
				continue
			}
			violations[license] = utils.SortedUniq(append(violations[license], d.Name))
			count++
		}
	}

	input.ViolationCount = count
	if len(violations) == 0 {
		return RuleOutcome{Input: input}, nil
	}
	return RuleOutcome{Input: input, Violation: dtos.ReportViolation{Licenses: violations}}, nil
}

func evaluateAnyMergeRequest(ctx context.Context, c *EvaluationContext, rule models.ApprovalMergeRequestRule) (RuleOutcome, error) {
	input := statemachine.RuleInput{Applicable: true, FailOpen: failOpen(rule)}
	commits, err := c.mergeRequestRepository.Commits(ctx, c.MergeRequest.ID)
	if err != nil {
		return RuleOutcome{}, err
	}

	commitsType := dtos.CommitsAny
	if rule.ScanResultPolicyRead != nil && rule.ScanResultPolicyRead.Commits != nil {
		commitsType = *rule.ScanResultPolicyRead.Commits
	}

	if commitsType == dtos.CommitsUnsigned {
		unsigned := utils.Map(utils.Filter(commits, func(commit models.MergeRequestCommit) bool {
			return !commit.Signed
		}), func(commit models.MergeRequestCommit) string {
			return commit.SHA
		})
		input.ViolationCount = len(unsigned)
		if len(unsigned) == 0 {
			return RuleOutcome{Input: input}, nil
		}
		return RuleOutcome{Input: input, Violation: dtos.ReportViolation{Commits: &dtos.CommitViolation{Any: true, SHAs: unsigned}}}, nil
	}

	input.ViolationCount = len(commits)
	if len(commits) == 0 {
		return RuleOutcome{Input: input}, nil
	}
	return RuleOutcome{Input: input, Violation: dtos.ReportViolation{Commits: &dtos.CommitViolation{Any: true}}}, nil
}
