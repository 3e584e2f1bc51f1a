// Copyright (C) 2025 l3montree GmbH
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package statemachine

type RuleState string

const (
	StateNotEvaluated  RuleState = "not_evaluated"
	StateUnblocked     RuleState = "unblocked"
	StateViolated      RuleState = "violated"
	StateMissingData   RuleState = "missing_data"
	StateIndeterminate RuleState = "indeterminate"
)

type ApprovalAction int

const (
	ApprovalsUnchanged ApprovalAction = iota
	// approvals_required becomes 0
	ApprovalsReset
	// approvals_required goes back to the value of the project rule
	ApprovalsRestored
)

type ViolationAction int

const (
	ViolationUnchanged ViolationAction = iota
	ViolationRemove
	ViolationRecord
	ViolationRecordError
	ViolationRecordWarning
)

// RuleInput is everything the transition of a single approval rule depends on.
type RuleInput struct {
	// false when the target branch is outside of the rule scope or excepted
	Applicable bool
	// required scan types the merge request pipeline did not run
	MissingScans []string
	// a scan execution policy enforces the missing scans on the branch
	MissingScansEnforced bool
	// the evaluation could not complete, for example because report artifacts are gone
	Indeterminate bool
	FailOpen      bool

	ViolationCount         int
	VulnerabilitiesAllowed int
}

type Decision struct {
	State     RuleState
	Approvals ApprovalAction
	Violation ViolationAction
}

// Blocking reports whether the merge request needs the approvals of the rule.
func (d Decision) Blocking() bool {
	return d.Approvals == ApprovalsRestored
}

func failOpenOrClosed(state RuleState, failOpen bool) Decision {
	if failOpen {
		return Decision{State: state, Approvals: ApprovalsReset, Violation: ViolationRecordWarning}
	}
	return Decision{State: state, Approvals: ApprovalsRestored, Violation: ViolationRecordError}
}

// Decide runs the transition of a rule from not_evaluated into its next state.
// A rule is violated when the count exceeds the allowed vulnerabilities.
func Decide(in RuleInput) Decision {
	if !in.Applicable {
		return Decision{State: StateNotEvaluated, Approvals: ApprovalsReset, Violation: ViolationRemove}
	}
	if len(in.MissingScans) > 0 && !in.MissingScansEnforced {
		return failOpenOrClosed(StateMissingData, in.FailOpen)
	}
	if in.Indeterminate {
		return failOpenOrClosed(StateIndeterminate, in.FailOpen)
	}
	if in.ViolationCount > in.VulnerabilitiesAllowed {
		return Decision{State: StateViolated, Approvals: ApprovalsRestored, Violation: ViolationRecord}
	}
	return Decision{State: StateUnblocked, Approvals: ApprovalsReset, Violation: ViolationRemove}
}

// ApprovalsRequiredFor applies the action to the approvals of the merge
// request rule. A restored rule keeps a non zero value, the configured value
// only replaces a previous reset.
func ApprovalsRequiredFor(action ApprovalAction, current, configured int) int {
	switch action {
	case ApprovalsReset:
		return 0
	case ApprovalsRestored:
		if current == 0 {
			return configured
		}
	}
	return current
}
