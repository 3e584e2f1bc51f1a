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

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	t.Run("should classify every current uuid as newly detected without a target", func(t *testing.T) {
		res := Classify([]string{"a", "b"}, nil)
		assert.Equal(t, []string{"a", "b"}, res.NewlyDetected)
		assert.Empty(t, res.PreviouslyExisting)
		assert.Empty(t, res.NoLongerDetected)
	})

	t.Run("should split current uuids by their presence in the target", func(t *testing.T) {
		res := Classify([]string{"a", "b", "c"}, []string{"b", "d"})
		assert.Equal(t, []string{"a", "c"}, res.NewlyDetected)
		assert.Equal(t, []string{"b"}, res.PreviouslyExisting)
		assert.Equal(t, []string{"d"}, res.NoLongerDetected)
	})

	t.Run("should ignore duplicated uuids", func(t *testing.T) {
		res := Classify([]string{"a", "a", "b"}, []string{"b", "b"})
		assert.Equal(t, []string{"a"}, res.NewlyDetected)
		assert.Equal(t, []string{"b"}, res.PreviouslyExisting)
	})

	t.Run("should partition the current set for arbitrary inputs", func(t *testing.T) {
		r := rand.New(rand.NewPCG(1, 2))
		for range 200 {
			current := randomUUIDs(r)
			target := randomUUIDs(r)
			res := Classify(current, target)

			currentSet := NewUUIDSet(current)
			targetSet := NewUUIDSet(target)
			union := NewUUIDSet(append(append([]string{}, res.NewlyDetected...), res.PreviouslyExisting...))
			assert.Equal(t, currentSet.Len(), union.Len())
			assert.Equal(t, currentSet.Len(), len(res.NewlyDetected)+len(res.PreviouslyExisting))

			for _, uuid := range res.NewlyDetected {
				assert.True(t, currentSet.Contains(uuid))
				assert.False(t, targetSet.Contains(uuid))
			}
			for _, uuid := range res.PreviouslyExisting {
				assert.True(t, currentSet.Contains(uuid))
				assert.True(t, targetSet.Contains(uuid))
			}
		}
	})
}

func randomUUIDs(r *rand.Rand) []string {
	n := r.IntN(8)
	uuids := make([]string, n)
	for i := range uuids {
		uuids[i] = fmt.Sprintf("uuid-%d", r.IntN(10))
	}
	return uuids
}

func TestDecide(t *testing.T) {
	t.Run("should skip rules outside of the branch scope", func(t *testing.T) {
		d := Decide(RuleInput{Applicable: false, ViolationCount: 5})
		assert.Equal(t, StateNotEvaluated, d.State)
		assert.Equal(t, ViolationRemove, d.Violation)
		assert.False(t, d.Blocking())
	})

	t.Run("should unblock with a warning when scans are missing and the policy fails open", func(t *testing.T) {
		d := Decide(RuleInput{Applicable: true, MissingScans: []string{"sast"}, FailOpen: true})
		assert.Equal(t, StateMissingData, d.State)
		assert.Equal(t, ApprovalsReset, d.Approvals)
		assert.Equal(t, ViolationRecordWarning, d.Violation)
	})

	t.Run("should keep the approvals when scans are missing and the policy fails closed", func(t *testing.T) {
		d := Decide(RuleInput{Applicable: true, MissingScans: []string{"sast"}})
		assert.Equal(t, StateMissingData, d.State)
		assert.Equal(t, ApprovalsRestored, d.Approvals)
		assert.Equal(t, ViolationRecordError, d.Violation)
		assert.True(t, d.Blocking())
	})

	t.Run("should evaluate the findings when an execution policy enforces the missing scans", func(t *testing.T) {
		d := Decide(RuleInput{Applicable: true, MissingScans: []string{"sast"}, MissingScansEnforced: true})
		assert.Equal(t, StateUnblocked, d.State)
	})

	t.Run("should treat an indeterminate evaluation like missing data", func(t *testing.T) {
		assert.Equal(t, ApprovalsRestored, Decide(RuleInput{Applicable: true, Indeterminate: true}).Approvals)
		assert.Equal(t, ApprovalsReset, Decide(RuleInput{Applicable: true, Indeterminate: true, FailOpen: true}).Approvals)
	})

	t.Run("should only violate when the count exceeds the allowed vulnerabilities", func(t *testing.T) {
		atLimit := Decide(RuleInput{Applicable: true, ViolationCount: 1, VulnerabilitiesAllowed: 1})
		assert.Equal(t, StateUnblocked, atLimit.State)
		assert.Equal(t, ViolationRemove, atLimit.Violation)

		overLimit := Decide(RuleInput{Applicable: true, ViolationCount: 2, VulnerabilitiesAllowed: 1})
		assert.Equal(t, StateViolated, overLimit.State)
		assert.Equal(t, ViolationRecord, overLimit.Violation)
		assert.Equal(t, ApprovalsRestored, overLimit.Approvals)
	})
}

func TestApprovalsRequiredFor(t *testing.T) {
	assert.Equal(t, 0, ApprovalsRequiredFor(ApprovalsReset, 2, 2))
	assert.Equal(t, 2, ApprovalsRequiredFor(ApprovalsRestored, 0, 2))
	assert.Equal(t, 3, ApprovalsRequiredFor(ApprovalsRestored, 3, 2))
	assert.Equal(t, 1, ApprovalsRequiredFor(ApprovalsUnchanged, 1, 2))
}
