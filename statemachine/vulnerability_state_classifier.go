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

// UUIDSet keeps finding uuids unique and in insertion order.
type UUIDSet struct {
	members map[string]struct{}
	order   []string
}

func NewUUIDSet(uuids []string) *UUIDSet {
	set := &UUIDSet{
		members: make(map[string]struct{}, len(uuids)),
		order:   make([]string, 0, len(uuids)),
	}
	for _, uuid := range uuids {
		set.Add(uuid)
	}
	return set
}

func (s *UUIDSet) Add(uuid string) {
	if _, exists := s.members[uuid]; exists {
		return
	}
	s.members[uuid] = struct{}{}
	s.order = append(s.order, uuid)
}

func (s *UUIDSet) Contains(uuid string) bool {
	_, exists := s.members[uuid]
	return exists
}

func (s *UUIDSet) Len() int {
	return len(s.order)
}

func (s *UUIDSet) Slice() []string {
	return append([]string(nil), s.order...)
}

// Classification of the findings of a merge request pipeline relative to the
// baseline pipeline of the target branch.
type Classification struct {
	NewlyDetected      []string
	PreviouslyExisting []string
	NoLongerDetected   []string
}

// Classify diffs the current uuids against the target uuids. Without a
// target pipeline target is empty and every current uuid is newly detected.
func Classify(current, target []string) Classification {
	currentSet := NewUUIDSet(current)
	targetSet := NewUUIDSet(target)

	res := Classification{
		NewlyDetected:      []string{},
		PreviouslyExisting: []string{},
		NoLongerDetected:   []string{},
	}
	for _, uuid := range currentSet.order {
		if targetSet.Contains(uuid) {
			res.PreviouslyExisting = append(res.PreviouslyExisting, uuid)
		} else {
			res.NewlyDetected = append(res.NewlyDetected, uuid)
		}
	}
	for _, uuid := range targetSet.order {
		if !currentSet.Contains(uuid) {
			res.NoLongerDetected = append(res.NoLongerDetected, uuid)
		}
	}
	return res
}
