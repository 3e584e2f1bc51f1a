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

package utils

import (
	"cmp"
	"slices"
)

func Filter[T any](s []T, f func(T) bool) []T {
	r := make([]T, 0, len(s))
	for _, v := range s {
		if f(v) {
			r = append(r, v)
		}
	}
	return r
}

func Map[T, U any](s []T, f func(T) U) []U {
	r := make([]U, len(s))
	for i, v := range s {
		r[i] = f(v)
	}
	return r
}

func Find[T any](s []T, f func(T) bool) (T, bool) {
	for _, v := range s {
		if f(v) {
			return v, true
		}
	}
	var t T
	return t, false
}

func Any[T any](s []T, f func(T) bool) bool {
	return slices.ContainsFunc(s, f)
}

func All[T any](s []T, f func(T) bool) bool {
	for _, v := range s {
		if !f(v) {
			return false
		}
	}
	return true
}

func Contains[T comparable](s []T, el T) bool {
	return slices.Contains(s, el)
}

// Uniq keeps the first occurrence of every element.
func Uniq[T comparable](s []T) []T {
	seen := make(map[T]struct{}, len(s))
	res := make([]T, 0, len(s))
	for _, v := range s {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		res = append(res, v)
	}
	return res
}

// SortedUniq returns the distinct elements in ascending order.
func SortedUniq[T cmp.Ordered](s []T) []T {
	res := Uniq(s)
	slices.Sort(res)
	return res
}

type CompareResult[T any] struct {
	OnlyInA []T
	OnlyInB []T
	// the elements of A
	InBoth []T
}

// CompareSlices partitions a and b by the key the serializer returns. The
// order of a (and b for OnlyInB) is preserved.
func CompareSlices[T any, K comparable](a, b []T, serializer func(T) K) CompareResult[T] {
	res := CompareResult[T]{}
	inA := make(map[K]struct{}, len(a))
	inB := make(map[K]struct{}, len(b))
	for _, v := range b {
		inB[serializer(v)] = struct{}{}
	}
	for _, v := range a {
		key := serializer(v)
		inA[key] = struct{}{}
		if _, ok := inB[key]; ok {
			res.InBoth = append(res.InBoth, v)
		} else {
			res.OnlyInA = append(res.OnlyInA, v)
		}
	}
	for _, v := range b {
		if _, ok := inA[serializer(v)]; !ok {
			res.OnlyInB = append(res.OnlyInB, v)
		}
	}
	return res
}

func Intersect[T comparable](a, b []T) []T {
	return CompareSlices(Uniq(a), b, func(t T) T { return t }).InBoth
}

// Difference returns the elements of a which are not in b.
func Difference[T comparable](a, b []T) []T {
	return CompareSlices(Uniq(a), b, func(t T) T { return t }).OnlyInA
}

func Chunk[T any](s []T, size int) [][]T {
	if size <= 0 {
		return [][]T{s}
	}
	return slices.Collect(slices.Chunk(s, size))
}
