// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package services

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/database/models"
	"github.com/l3montree-dev/devguard-policy/dtos"
	"github.com/l3montree-dev/devguard-policy/shared"
)

const (
	MaxRequirementsPerFramework = 50
	MaxControlsPerRequirement   = 5
	MaxFrameworksPerProject     = 20

	maxControlFieldLength = 255
)

func ValidateFramework(framework models.ComplianceFramework, namespace models.Namespace, sameNameCount int64) shared.ValidationErrors {
	var errs shared.ValidationErrors
	if framework.NamespaceID != namespace.ID {
		errs.Add("namespace", "must be the namespace of the framework.")
	}
	if !namespace.IsGroup() {
		errs.Add("namespace", "must be a group, user namespaces are not supported.")
	} else if !namespace.IsRoot() {
		errs.Add("namespace", "must be a root group.")
	}
	if strings.TrimSpace(framework.Name) == "" {
		errs.Add("name", "can't be blank")
	} else if sameNameCount > 0 {
		errs.Add("name", "has already been taken")
	}
	return errs
}

// ValidateRequirement checks a requirement which is about to be created.
// requirementCount is the number of requirements the framework already has.
func ValidateRequirement(requirement models.ComplianceRequirement, framework models.ComplianceFramework, requirementCount int64) shared.ValidationErrors {
	var errs shared.ValidationErrors
	if requirement.FrameworkID != framework.ID {
		errs.Add("framework", "must be the framework of the requirement.")
	}
	if requirement.NamespaceID != framework.NamespaceID {
		errs.Add("namespace", "must be the same as the framework's namespace.")
	}
	if strings.TrimSpace(requirement.Name) == "" {
		errs.Add("name", "can't be blank")
	}
	if requirementCount >= MaxRequirementsPerFramework {
		errs.Add("framework", fmt.Sprintf("cannot have more than %d requirements", MaxRequirementsPerFramework))
	}
	return errs
}

// ValidateFrameworkSetting checks that a framework can be applied to a project
// which already has settingCount frameworks.
func ValidateFrameworkSetting(project models.Project, framework models.ComplianceFramework, settingCount int64) shared.ValidationErrors {
	var errs shared.ValidationErrors
	if project.Namespace.RootID() != framework.NamespaceID {
		errs.Add("project", "must belong to the same namespace.")
	}
	if settingCount >= MaxFrameworksPerProject {
		errs.Add("project", fmt.Sprintf("cannot have more than %d frameworks", MaxFrameworksPerProject))
	}
	return errs
}

var localHosts = []string{"localhost", "0.0.0.0", "127.0.0.1", "::1"}

func validateExternalURL(errs *shared.ValidationErrors, raw string, saas bool) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs.Add("external_url", "must be a valid http or https url")
		return
	}
	if !saas {
		return
	}
	host := strings.ToLower(u.Hostname())
	for _, local := range localHosts {
		if host == local {
			errs.Add("external_url", "cannot be a localhost address")
			return
		}
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		errs.Add("external_url", "cannot be a localhost address")
	}
}

// ValidateControl checks a control against the other controls of its
// requirement. siblings may contain the control itself, it is skipped by id.
func ValidateControl(control models.ComplianceRequirementsControl, requirement models.ComplianceRequirement, siblings []models.ComplianceRequirementsControl, saas bool) shared.ValidationErrors {
	var errs shared.ValidationErrors
	others := make([]models.ComplianceRequirementsControl, 0, len(siblings))
	for _, s := range siblings {
		if control.ID != uuid.Nil && s.ID == control.ID {
			continue
		}
		others = append(others, s)
	}

	if control.RequirementID != requirement.ID {
		errs.Add("compliance_requirement", "must be the requirement of the control.")
	}
	if control.NamespaceID != requirement.NamespaceID {
		errs.Add("namespace", "must be the same as the compliance requirement's namespace.")
	}
	if len(others) >= MaxControlsPerRequirement {
		errs.Add("", fmt.Sprintf("Compliance requirement cannot have more than %d controls", MaxControlsPerRequirement))
	}
	if control.Expression != nil && len(*control.Expression) > maxControlFieldLength {
		errs.Add("expression", fmt.Sprintf("is too long (maximum is %d characters)", maxControlFieldLength))
	}
	if control.ExternalControlName != nil && len(*control.ExternalControlName) > maxControlFieldLength {
		errs.Add("external_control_name", fmt.Sprintf("is too long (maximum is %d characters)", maxControlFieldLength))
	}

	if control.IsExternal() {
		if control.ExternalURL == nil || *control.ExternalURL == "" {
			errs.Add("external_url", "can't be blank")
		} else {
			validateExternalURL(&errs, *control.ExternalURL, saas)
		}
		if control.SecretToken == nil || *control.SecretToken == "" {
			errs.Add("secret_token", "can't be blank")
		}
		if control.ExternalControlName != nil && *control.ExternalControlName != "" {
			for _, o := range others {
				if o.ExternalControlName != nil && *o.ExternalControlName == *control.ExternalControlName {
					errs.Add("external_control_name", "has already been taken")
					break
				}
			}
		}
		return errs
	}

	for _, o := range others {
		if !o.IsExternal() && o.Name == control.Name {
			errs.Add("name", "has already been taken")
			break
		}
	}
	if control.Expression == nil || *control.Expression == "" {
		errs.Add("expression", "can't be blank")
		return errs
	}
	expression, messages, err := ParseControlExpression(*control.Expression)
	if err != nil {
		errs.Add("expression", err.Error())
		return errs
	}
	for _, m := range messages {
		errs.Add("expression", m)
	}
	if len(messages) > 0 {
		return errs
	}
	if predefined, matches := MatchesPredefined(control.Name, expression); predefined && !matches {
		errs.Add("expression", "does not match the name of the predefined control.")
	}
	return errs
}

// ValidateControlStatus checks the cross entity invariants of a project
// control status. requirementStatus is optional.
func ValidateControlStatus(
	status models.ProjectControlComplianceStatus,
	project models.Project,
	control models.ComplianceRequirementsControl,
	requirement models.ComplianceRequirement,
	appliedFrameworkIDs []uuid.UUID,
	requirementStatus *models.ProjectRequirementComplianceStatus,
) shared.ValidationErrors {
	var errs shared.ValidationErrors
	if status.ProjectID != project.ID || status.ControlID != control.ID || status.RequirementID != requirement.ID {
		errs.Add("", "Project, control and requirement must match the status.")
	}
	if control.RequirementID != requirement.ID {
		errs.Add("compliance_requirements_control", "must belong to the compliance requirement.")
	}
	if !slices.Contains(appliedFrameworkIDs, requirement.FrameworkID) {
		errs.Add("project", "should have the compliance requirement's framework applied to it.")
	}
	if project.Namespace.RootID() != requirement.NamespaceID || status.NamespaceID != requirement.NamespaceID {
		errs.Add("project", "must belong to the same namespace.")
	}
	if requirementStatus != nil && requirementStatus.RequirementID != requirement.ID {
		errs.Add("requirement_status", "must belong to the same compliance requirement.")
	}
	return errs
}

// ValidateRequirementStatus checks the cross entity invariants of a project
// requirement status.
func ValidateRequirementStatus(
	status models.ProjectRequirementComplianceStatus,
	project models.Project,
	requirement models.ComplianceRequirement,
	appliedFrameworkIDs []uuid.UUID,
) shared.ValidationErrors {
	var errs shared.ValidationErrors
	if !slices.Contains(appliedFrameworkIDs, status.FrameworkID) {
		errs.Add("compliance_framework", "must be applied to the project.")
	}
	if project.Namespace.RootID() != requirement.NamespaceID || status.NamespaceID != requirement.NamespaceID {
		errs.Add("project", "must belong to the same namespace.")
	}
	if requirement.FrameworkID != status.FrameworkID {
		errs.Add("compliance_requirement", "must belong to the same compliance framework.")
	}
	return errs
}

func ParseComplianceStatus(s string) (dtos.ComplianceStatus, error) {
	switch s {
	case "pass":
		return dtos.ComplianceStatusPass, nil
	case "fail":
		return dtos.ComplianceStatusFail, nil
	case "pending":
		return dtos.ComplianceStatusPending, nil
	}
	return dtos.ComplianceStatusPending, fmt.Errorf("unknown compliance status %q", s)
}
