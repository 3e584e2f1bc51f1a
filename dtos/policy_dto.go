package dtos

import (
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityUnknown  Severity = "unknown"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var AllSeverities = []Severity{SeverityInfo, SeverityUnknown, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

func (s Severity) Valid() bool {
	return slices.Contains(AllSeverities, s)
}

// ScanType is the report type a scanner produces.
type ScanType string

const (
	ScanTypeSAST                 ScanType = "sast"
	ScanTypeDependencyScanning   ScanType = "dependency_scanning"
	ScanTypeContainerScanning    ScanType = "container_scanning"
	ScanTypeSecretDetection      ScanType = "secret_detection"
	ScanTypeDAST                 ScanType = "dast"
	ScanTypeCoverageFuzzing      ScanType = "coverage_fuzzing"
	ScanTypeAPIFuzzing           ScanType = "api_fuzzing"
	ScanTypeClusterImageScanning ScanType = "cluster_image_scanning"
)

var AllScanTypes = []ScanType{
	ScanTypeSAST,
	ScanTypeDependencyScanning,
	ScanTypeContainerScanning,
	ScanTypeSecretDetection,
	ScanTypeDAST,
	ScanTypeCoverageFuzzing,
	ScanTypeAPIFuzzing,
	ScanTypeClusterImageScanning,
}

func (s ScanType) Valid() bool {
	return slices.Contains(AllScanTypes, s)
}

func (s ScanType) Title() string {
	switch s {
	case ScanTypeSAST:
		return "SAST"
	case ScanTypeDAST:
		return "DAST"
	case ScanTypeAPIFuzzing:
		return "API fuzzing"
	}
	title := strings.ReplaceAll(string(s), "_", " ")
	if title == "" {
		return title
	}
	return strings.ToUpper(title[:1]) + title[1:]
}

type ApprovalReportType string

const (
	ReportTypeScanFinding     ApprovalReportType = "scan_finding"
	ReportTypeLicenseScanning ApprovalReportType = "license_scanning"
	ReportTypeAnyMergeRequest ApprovalReportType = "any_merge_request"
)

// ordered the way they appear in the bot comment
var AllApprovalReportTypes = []ApprovalReportType{ReportTypeScanFinding, ReportTypeLicenseScanning, ReportTypeAnyMergeRequest}

func (r ApprovalReportType) Valid() bool {
	return slices.Contains(AllApprovalReportTypes, r)
}

func (r ApprovalReportType) Title() string {
	switch r {
	case ReportTypeScanFinding:
		return "Scan finding"
	case ReportTypeLicenseScanning:
		return "License scanning"
	case ReportTypeAnyMergeRequest:
		return "Any merge request"
	}
	return string(r)
}

type VulnerabilityState string

const (
	VulnerabilityStateDetected  VulnerabilityState = "detected"
	VulnerabilityStateConfirmed VulnerabilityState = "confirmed"
	VulnerabilityStateDismissed VulnerabilityState = "dismissed"
	VulnerabilityStateResolved  VulnerabilityState = "resolved"

	VulnerabilityStateNewNeedsTriage VulnerabilityState = "new_needs_triage"
	VulnerabilityStateNewDismissed   VulnerabilityState = "new_dismissed"
)

var NewlyDetectedStates = []VulnerabilityState{VulnerabilityStateNewNeedsTriage, VulnerabilityStateNewDismissed}

var PreviouslyExistingStates = []VulnerabilityState{
	VulnerabilityStateDetected,
	VulnerabilityStateConfirmed,
	VulnerabilityStateDismissed,
	VulnerabilityStateResolved,
}

func (s VulnerabilityState) IsNew() bool {
	return slices.Contains(NewlyDetectedStates, s)
}

func (s VulnerabilityState) Valid() bool {
	return s.IsNew() || slices.Contains(PreviouslyExistingStates, s)
}

type FallbackBehavior string

const (
	FallbackOpen   FallbackBehavior = "open"
	FallbackClosed FallbackBehavior = "closed"
)

type CommitsType string

const (
	CommitsAny      CommitsType = "any"
	CommitsUnsigned CommitsType = "unsigned"
)

type LicenseState string

const (
	LicenseStateNewlyDetected LicenseState = "newly_detected"
	LicenseStateDetected      LicenseState = "detected"
)

type BranchType string

const (
	BranchTypeAll       BranchType = "all"
	BranchTypeProtected BranchType = "protected"
	BranchTypeDefault   BranchType = "default"
)

// VulnerabilityAttributes restricts findings by their attributes. A nil
// pointer means the attribute is not taken into account.
type VulnerabilityAttributes struct {
	FixAvailable  *bool `json:"fix_available,omitempty" yaml:"fix_available,omitempty"`
	FalsePositive *bool `json:"false_positive,omitempty" yaml:"false_positive,omitempty"`
}

type PolicyTuning struct {
	UnblockRulesUsingExecutionPolicies bool `json:"unblock_rules_using_execution_policies" yaml:"unblock_rules_using_execution_policies"`
}

type LicensePolicy struct {
	// true: LicenseTypes is a deny list. false: LicenseTypes is an allow list.
	MatchOnInclusion bool     `json:"match_on_inclusion_license"`
	LicenseTypes     []string `json:"license_types"`
}

// BranchException removes a branch from the scope of a policy rule. FullPath
// limits the exception to a single project.
type BranchException struct {
	Name     string `json:"name" yaml:"name"`
	FullPath string `json:"full_path,omitempty" yaml:"full_path,omitempty"`
}

// Matches compares case sensitive and without any globbing.
func (b BranchException) Matches(branch, projectFullPath string) bool {
	if b.Name != branch {
		return false
	}
	if b.FullPath == "" {
		return true
	}
	return b.FullPath == projectFullPath
}

// UnmarshalYAML accepts the plain branch name form next to the mapping form.
func (b *BranchException) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		b.Name = value.Value
		return nil
	}
	type plain BranchException
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*b = BranchException(p)
	return nil
}
