// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package models

import (
	"strings"

	"github.com/google/uuid"
)

type NamespaceType string

const (
	NamespaceTypeGroup   NamespaceType = "group"
	NamespaceTypeUser    NamespaceType = "user"
	NamespaceTypeProject NamespaceType = "project"
)

type Namespace struct {
	Model
	Name     string        `json:"name" gorm:"not null"`
	Path     string        `json:"path" gorm:"not null"`
	Type     NamespaceType `json:"type" gorm:"not null;default:group"`
	ParentID *uuid.UUID    `json:"parentId" gorm:"type:uuid"`
	// slash separated ids from the root namespace down to this namespace
	TraversalPath string `json:"traversalPath" gorm:"not null;index"`
}

func (Namespace) TableName() string {
	return "namespaces"
}

func (n Namespace) IsRoot() bool {
	return n.ParentID == nil
}

func (n Namespace) IsGroup() bool {
	return n.Type == NamespaceTypeGroup
}

// RootID is the first element of the traversal path.
func (n Namespace) RootID() uuid.UUID {
	first, _, _ := strings.Cut(n.TraversalPath, "/")
	id, err := uuid.Parse(first)
	if err != nil {
		return n.ID
	}
	return id
}

// Contains reports whether other is this namespace or one of its descendants.
func (n Namespace) Contains(other Namespace) bool {
	return other.TraversalPath == n.TraversalPath || strings.HasPrefix(other.TraversalPath, n.TraversalPath+"/")
}
