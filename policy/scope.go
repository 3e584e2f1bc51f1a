// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package policy

import (
	"path"
	"slices"

	"github.com/l3montree-dev/devguard-policy/dtos"
)

// ProjectBranches is what scope matching needs to know about a project.
type ProjectBranches struct {
	FullPath          string
	DefaultBranch     string
	ProtectedBranches []string
}

func (p ProjectBranches) isProtected(branch string) bool {
	return branch == p.DefaultBranch || slices.Contains(p.ProtectedBranches, branch)
}

// IsExcepted reports whether a branch exception removes the branch from the scope.
func IsExcepted(exceptions []dtos.BranchException, branch, projectFullPath string) bool {
	for _, exception := range exceptions {
		if exception.Matches(branch, projectFullPath) {
			return true
		}
	}
	return false
}

// AppliesTo decides whether a rule with this scope governs merge requests
// targeting branch. Explicit branches take precedence over the branch type.
// Branch names may use shell patterns, exceptions are always exact.
func AppliesTo(branches []string, branchType *dtos.BranchType, exceptions []dtos.BranchException, project ProjectBranches, branch string) bool {
	if IsExcepted(exceptions, branch, project.FullPath) {
		return false
	}
	if len(branches) > 0 {
		for _, pattern := range branches {
			if pattern == branch {
				return true
			}
			if ok, err := path.Match(pattern, branch); err == nil && ok {
				return true
			}
		}
		return false
	}
	if branchType == nil {
		// no branches and no branch type means every protected branch
		return project.isProtected(branch)
	}
	switch *branchType {
	case dtos.BranchTypeAll:
		return true
	case dtos.BranchTypeDefault:
		return branch == project.DefaultBranch
	case dtos.BranchTypeProtected:
		return project.isProtected(branch)
	}
	return false
}

func (s BranchScope) AppliesTo(project ProjectBranches, branch string) bool {
	return AppliesTo(s.Branches, s.BranchType, s.BranchExceptions, project, branch)
}

// EnforcedScanTypes returns the scans the enabled scan execution policies run
// on the branch. A rule carrying branch exceptions does not count: whether
// its exceptions hold for the pipelines of the merge request is not known
// here, so the scan is not considered enforced.
func (d Document) EnforcedScanTypes(project ProjectBranches, branch string) []dtos.ScanType {
	var scanTypes []dtos.ScanType
	for _, p := range d.ScanExecutionPolicies {
		if !p.Enabled {
			continue
		}
		enforced := slices.ContainsFunc(p.Rules, func(rule ExecutionRule) bool {
			return len(rule.BranchExceptions) == 0 && rule.AppliesTo(project, branch)
		})
		if !enforced {
			continue
		}
		for _, action := range p.Actions {
			if !slices.Contains(scanTypes, action.Scan) {
				scanTypes = append(scanTypes, action.Scan)
			}
		}
	}
	return scanTypes
}
