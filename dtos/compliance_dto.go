package dtos

import (
	"github.com/google/uuid"
)

type ComplianceStatus int

const (
	ComplianceStatusPass ComplianceStatus = iota
	ComplianceStatusFail
	ComplianceStatusPending
)

func (s ComplianceStatus) String() string {
	switch s {
	case ComplianceStatusPass:
		return "pass"
	case ComplianceStatusFail:
		return "fail"
	case ComplianceStatusPending:
		return "pending"
	}
	return "unknown"
}

type ControlType int

const (
	ControlTypeInternal ControlType = iota
	ControlTypeExternal
)

// ControlExpression is the boolean expression of an internal control.
type ControlExpression struct {
	Operator string `json:"operator"`
	Field    string `json:"field"`
	Value    any    `json:"value"`
}

type CoverageStatistics struct {
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`
}

type ControlCoverageStatistics struct {
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`
}

type RequirementStatusOrder string

const (
	OrderByUpdatedAt   RequirementStatusOrder = "updated_at"
	OrderByProject     RequirementStatusOrder = "project"
	OrderByRequirement RequirementStatusOrder = "requirement"
	OrderByFramework   RequirementStatusOrder = "framework"
)

type RequirementStatusQuery struct {
	ProjectIDs     []uuid.UUID
	RequirementIDs []uuid.UUID
	FrameworkIDs   []uuid.UUID
	OrderBy        RequirementStatusOrder
	// asc or desc
	Direction string
}

type ControlStatusReport struct {
	ProjectID uuid.UUID `json:"projectId" validate:"required"`
	ControlID uuid.UUID `json:"controlId" validate:"required"`
	Status    string    `json:"status" validate:"required,oneof=pass fail pending"`
}
