// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package services

import (
	"bytes"
	_ "embed"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/dtos"
)

const (
	MessageHeader           = dtos.BotCommentHeader
	ViolationsBlockingTitle = ":warning: **Violations blocking this merge request**"
	ViolationsDetectedTitle = ":warning: **Violations detected in this merge request**"
	MoreViolationsDetected  = "More violations have been detected in addition to the list above. Check the full list in the merge request security widget."
)

var (
	violatedReportsPattern   = regexp.MustCompile(`<!-- violated_reports: ([a-z_,]*) -->`)
	optionalApprovalsPattern = regexp.MustCompile(`<!-- optional_approvals: ([a-z_,]*) -->`)
)

//go:embed templates/policy_violation_comment.md.gotmpl
var policyViolationCommentTemplate string

var commentTemplate = template.Must(template.New("policy-violation-comment").Funcs(commentFuncs()).Parse(policyViolationCommentTemplate))

func commentFuncs() template.FuncMap {
	funcs := sprig.TxtFuncMap()
	funcs["severityTitle"] = func(s dtos.Severity) string {
		if s == "" {
			return ""
		}
		return strings.ToUpper(string(s[:1])) + string(s[1:])
	}
	funcs["scanTitle"] = func(s dtos.ScanType) string {
		return s.Title()
	}
	funcs["reportTitle"] = func(r dtos.ApprovalReportType) string {
		return r.Title()
	}
	funcs["pipelineLinks"] = func(projectURL string, ids []uuid.UUID) string {
		if len(ids) == 0 {
			return "None"
		}
		links := make([]string, len(ids))
		for i, id := range ids {
			links[i] = fmt.Sprintf("[#%s](%s/-/pipelines/%s)", id, projectURL, id)
		}
		return strings.Join(links, ", ")
	}
	return funcs
}

func parseReportTypes(pattern *regexp.Regexp, body string) []dtos.ApprovalReportType {
	match := pattern.FindStringSubmatch(body)
	if match == nil {
		return nil
	}
	var reportTypes []dtos.ApprovalReportType
	for _, s := range strings.Split(match[1], ",") {
		reportType := dtos.ApprovalReportType(s)
		if reportType.Valid() && !slices.Contains(reportTypes, reportType) {
			reportTypes = append(reportTypes, reportType)
		}
	}
	return reportTypes
}

func joinReportTypes(reportTypes []dtos.ApprovalReportType) string {
	s := make([]string, len(reportTypes))
	for i, r := range reportTypes {
		s[i] = string(r)
	}
	return strings.Join(s, ",")
}

// PolicyViolationComment is the bot comment of a merge request. The report
// types which currently violate a policy are kept in markers of the comment
// body so the next evaluation can update them.
type PolicyViolationComment struct {
	Existing *dtos.BotComment

	reports                 []dtos.ApprovalReportType
	optionalApprovalReports []dtos.ApprovalReportType
}

func NewPolicyViolationComment(existing *dtos.BotComment) *PolicyViolationComment {
	comment := &PolicyViolationComment{Existing: existing}
	if existing != nil {
		comment.reports = parseReportTypes(violatedReportsPattern, existing.Body)
		comment.optionalApprovalReports = parseReportTypes(optionalApprovalsPattern, existing.Body)
	}
	return comment
}

func (c *PolicyViolationComment) Reports() []dtos.ApprovalReportType {
	return slices.Clone(c.reports)
}

func (c *PolicyViolationComment) OptionalApprovalReports() []dtos.ApprovalReportType {
	return slices.Clone(c.optionalApprovalReports)
}

// AddReportType marks the report type as violated. Unknown report types are ignored.
func (c *PolicyViolationComment) AddReportType(reportType dtos.ApprovalReportType, requiresApproval bool) {
	if !reportType.Valid() {
		return
	}
	if !slices.Contains(c.reports, reportType) {
		c.reports = append(c.reports, reportType)
	}
	if requiresApproval {
		c.optionalApprovalReports = slices.DeleteFunc(c.optionalApprovalReports, func(r dtos.ApprovalReportType) bool {
			return r == reportType
		})
	} else if !slices.Contains(c.optionalApprovalReports, reportType) {
		c.optionalApprovalReports = append(c.optionalApprovalReports, reportType)
	}
}

func (c *PolicyViolationComment) RemoveReportType(reportType dtos.ApprovalReportType) {
	isType := func(r dtos.ApprovalReportType) bool { return r == reportType }
	c.reports = slices.DeleteFunc(c.reports, isType)
	c.optionalApprovalReports = slices.DeleteFunc(c.optionalApprovalReports, isType)
}

func (c *PolicyViolationComment) ClearReportTypes() {
	c.reports = nil
	c.optionalApprovalReports = nil
}

// RequiresApproval is true when one of the violated report types is not optional.
func (c *PolicyViolationComment) RequiresApproval() bool {
	return slices.ContainsFunc(c.reports, func(r dtos.ApprovalReportType) bool {
		return !slices.Contains(c.optionalApprovalReports, r)
	})
}

type LicenseDetails struct {
	License      string
	Dependencies []string
}

type ErrorDetails struct {
	Code        dtos.ViolationErrorCode
	Title       string
	Description string
}

type ComparisonPipelines struct {
	ReportType        dtos.ApprovalReportType
	PipelineIDs       []uuid.UUID
	TargetPipelineIDs []uuid.UUID
}

// CommentDetails is everything the body renders besides the markers.
type CommentDetails struct {
	ProjectURL   string
	SourceBranch string
	TargetBranch string

	// approval rule names, sorted
	ViolatedPolicies        []string
	LicensePolicies         []string
	AnyMergeRequestPolicies []string
	FailOpenPolicies        []string
	WarnModePolicies        []string
	HasErrors               bool

	NewlyDetected       []dtos.FindingDetails
	PreviouslyExisting  []dtos.FindingDetails
	UnsignedCommits     []string
	Licenses            []LicenseDetails
	Errors              []ErrorDetails
	ComparisonPipelines []ComparisonPipelines
	Truncated           bool
}

func (d CommentDetails) HasViolationDetails() bool {
	return len(d.NewlyDetected) > 0 || len(d.PreviouslyExisting) > 0 || len(d.UnsignedCommits) > 0 ||
		len(d.Licenses) > 0 || len(d.Errors) > 0
}

// ErrorDetailsFor maps an error code onto the text shown in the comment.
func ErrorDetailsFor(e dtos.ViolationError) ErrorDetails {
	switch e.Error {
	case dtos.ErrorArtifactsMissing:
		return ErrorDetails{Code: e.Error, Title: "Pipeline configuration error", Description: "Security reports required by policies could not be found."}
	case dtos.ErrorScanRemoved:
		return ErrorDetails{Code: e.Error, Title: "Scanner removed by this merge request", Description: fmt.Sprintf("Missing scans: %s.", strings.Join(e.MissingScans, ", "))}
	case dtos.ErrorEvaluationSkipped:
		return ErrorDetails{Code: e.Error, Title: "Evaluation skipped", Description: "The pipeline did not finish successfully, policies could not be evaluated."}
	}
	return ErrorDetails{Code: e.Error, Title: "Unknown error", Description: string(e.Error)}
}

type commentView struct {
	CommentDetails
	Header            string
	Reports           string
	OptionalApprovals string
	Violated          bool
	RequiresApproval  bool
	BlockingTitle     string
	DetectedTitle     string
	MoreViolations    string
	MultipleReports   bool
}

func (c *PolicyViolationComment) Body(details CommentDetails) (string, error) {
	details.ComparisonPipelines = slices.DeleteFunc(slices.Clone(details.ComparisonPipelines), func(p ComparisonPipelines) bool {
		return len(p.PipelineIDs) == 0 && len(p.TargetPipelineIDs) == 0
	})
	view := commentView{
		CommentDetails:    details,
		Header:            MessageHeader,
		Reports:           joinReportTypes(c.reports),
		OptionalApprovals: joinReportTypes(c.optionalApprovalReports),
		Violated:          len(c.reports) > 0,
		RequiresApproval:  c.RequiresApproval(),
		BlockingTitle:     ViolationsBlockingTitle,
		DetectedTitle:     ViolationsDetectedTitle,
		MoreViolations:    MoreViolationsDetected,
		MultipleReports:   len(details.ComparisonPipelines) > 1,
	}
	var buf bytes.Buffer
	if err := commentTemplate.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("could not render policy violation comment: %w", err)
	}
	return buf.String(), nil
}
