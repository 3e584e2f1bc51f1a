package dtos

import (
	"encoding/json"
	"slices"

	"github.com/google/uuid"
)

// MaxViolations bounds every list stored inside a violation document.
const MaxViolations = 10

type ViolationStatus string

const (
	ViolationStatusFailed  ViolationStatus = "failed"
	ViolationStatusWarn    ViolationStatus = "warn"
	ViolationStatusRunning ViolationStatus = "running"
	ViolationStatusSkipped ViolationStatus = "skipped"
)

type ViolationErrorCode string

const (
	ErrorScanRemoved       ViolationErrorCode = "SCAN_REMOVED"
	ErrorArtifactsMissing  ViolationErrorCode = "ARTIFACTS_MISSING"
	ErrorEvaluationSkipped ViolationErrorCode = "EVALUATION_SKIPPED"
)

type ViolationError struct {
	Error        ViolationErrorCode `json:"error"`
	MissingScans []string           `json:"missing_scans,omitempty"`
}

type UUIDViolations struct {
	NewlyDetected      []string `json:"newly_detected,omitempty"`
	PreviouslyExisting []string `json:"previously_existing,omitempty"`
}

func (u *UUIDViolations) Empty() bool {
	return u == nil || (len(u.NewlyDetected) == 0 && len(u.PreviouslyExisting) == 0)
}

// CommitViolation is encoded as `true` when any commit violates, or as the
// list of offending shas.
type CommitViolation struct {
	Any  bool
	SHAs []string
}

func (c CommitViolation) MarshalJSON() ([]byte, error) {
	if len(c.SHAs) > 0 {
		return json.Marshal(c.SHAs)
	}
	return json.Marshal(c.Any)
}

func (c *CommitViolation) UnmarshalJSON(b []byte) error {
	var flag bool
	if err := json.Unmarshal(b, &flag); err == nil {
		c.Any = flag
		c.SHAs = nil
		return nil
	}
	var shas []string
	if err := json.Unmarshal(b, &shas); err != nil {
		return err
	}
	c.Any = len(shas) > 0
	c.SHAs = shas
	return nil
}

// ReportViolation holds the violation details of a single report type. Only
// the part matching the report type is set.
type ReportViolation struct {
	UUIDs    *UUIDViolations     `json:"uuids,omitempty"`
	Licenses map[string][]string `json:"licenses,omitempty"`
	Commits  *CommitViolation    `json:"commits,omitempty"`
}

func (r ReportViolation) Empty() bool {
	return r.UUIDs.Empty() && len(r.Licenses) == 0 && (r.Commits == nil || (!r.Commits.Any && len(r.Commits.SHAs) == 0))
}

type ViolationContext struct {
	PipelineIDs       []uuid.UUID `json:"pipeline_ids"`
	TargetPipelineIDs []uuid.UUID `json:"target_pipeline_ids"`
}

// ViolationData is the document stored on a scan result policy violation.
type ViolationData struct {
	Violations map[ApprovalReportType]ReportViolation `json:"violations,omitempty"`
	Errors     []ViolationError                       `json:"errors,omitempty"`
	Context    *ViolationContext                      `json:"context,omitempty"`
	// set when at least one list was cut to MaxViolations
	Truncated bool `json:"truncated,omitempty"`
}

func (d *ViolationData) HasViolations() bool {
	if d == nil {
		return false
	}
	for _, v := range d.Violations {
		if !v.Empty() {
			return true
		}
	}
	return false
}

func (d *ViolationData) HasErrors() bool {
	return d != nil && len(d.Errors) > 0
}

func (d *ViolationData) OnlyError(code ViolationErrorCode) bool {
	if !d.HasErrors() {
		return false
	}
	for _, e := range d.Errors {
		if e.Error != code {
			return false
		}
	}
	return true
}

func (d *ViolationData) ErrorCodes() []ViolationErrorCode {
	if d == nil {
		return nil
	}
	codes := make([]ViolationErrorCode, 0, len(d.Errors))
	for _, e := range d.Errors {
		if !slices.Contains(codes, e.Error) {
			codes = append(codes, e.Error)
		}
	}
	return codes
}

// Trimmed returns a copy in which every list holds at most limit entries.
func (d ViolationData) Trimmed(limit int) ViolationData {
	out := ViolationData{
		Errors:    d.Errors,
		Context:   d.Context,
		Truncated: d.Truncated,
	}
	if d.Violations == nil {
		return out
	}
	trim := func(s []string, limit int) []string {
		if len(s) <= limit {
			return s
		}
		out.Truncated = true
		return s[:limit]
	}
	out.Violations = make(map[ApprovalReportType]ReportViolation, len(d.Violations))
	for reportType, v := range d.Violations {
		trimmed := ReportViolation{}
		if v.UUIDs != nil {
			trimmed.UUIDs = &UUIDViolations{
				NewlyDetected:      trim(v.UUIDs.NewlyDetected, limit),
				PreviouslyExisting: trim(v.UUIDs.PreviouslyExisting, limit),
			}
		}
		if v.Licenses != nil {
			trimmed.Licenses = make(map[string][]string, len(v.Licenses))
			keys := make([]string, 0, len(v.Licenses))
			for license := range v.Licenses {
				keys = append(keys, license)
			}
			slices.Sort(keys)
			for _, license := range trim(keys, limit) {
				trimmed.Licenses[license] = trim(v.Licenses[license], limit)
			}
		}
		if v.Commits != nil {
			trimmed.Commits = &CommitViolation{Any: v.Commits.Any, SHAs: trim(v.Commits.SHAs, limit)}
		}
		out.Violations[reportType] = trimmed
	}
	return out
}
