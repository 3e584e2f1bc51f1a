package dtos

// FindingFilter narrows the findings of a set of pipelines. Empty slices and
// nil pointers do not filter.
type FindingFilter struct {
	Scanners       []ScanType
	SeverityLevels []Severity
	FixAvailable   *bool
	FalsePositive  *bool
	UUIDs          []string
	Limit          int
}

// FindingDetails is what the bot comment shows for a single finding.
type FindingDetails struct {
	UUID       string   `json:"uuid"`
	Name       string   `json:"name"`
	Severity   Severity `json:"severity"`
	ReportType ScanType `json:"reportType"`
	Location   string   `json:"location"`
}
