// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/database/models"
	"github.com/l3montree-dev/devguard-policy/dtos"
	"github.com/l3montree-dev/devguard-policy/shared"
	"github.com/l3montree-dev/devguard-policy/utils"
)

// FindingsFinder is the read only view on the scan results of pipelines.
type FindingsFinder struct {
	pipelineRepository shared.PipelineRepository
	findingRepository  shared.FindingRepository
}

func NewFindingsFinder(pipelineRepository shared.PipelineRepository, findingRepository shared.FindingRepository) *FindingsFinder {
	return &FindingsFinder{
		pipelineRepository: pipelineRepository,
		findingRepository:  findingRepository,
	}
}

// PipelineIDs returns the pipeline together with its related pipelines
// (same ref and sha, for example scheduled or child pipelines).
func (f *FindingsFinder) PipelineIDs(ctx context.Context, pipeline models.Pipeline) ([]uuid.UUID, error) {
	related, err := f.pipelineRepository.Related(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	ids := []uuid.UUID{pipeline.ID}
	for _, p := range related {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

func (f *FindingsFinder) CanStoreSecurityReports(ctx context.Context, pipelineIDs []uuid.UUID) (bool, error) {
	return f.pipelineRepository.CanStoreSecurityReports(ctx, pipelineIDs)
}

// Execute returns the distinct uuids of the findings matching every
// predicate of the filter. A missing scan yields an empty result, use
// ScanTypes to tell the two apart.
func (f *FindingsFinder) Execute(ctx context.Context, pipelineIDs []uuid.UUID, filter dtos.FindingFilter) ([]string, error) {
	findings, err := f.findingRepository.FindByPipelines(ctx, pipelineIDs, filter)
	if err != nil {
		return nil, err
	}
	return utils.Uniq(utils.Map(findings, func(f models.Finding) string {
		return f.UUID
	})), nil
}

func (f *FindingsFinder) Findings(ctx context.Context, pipelineIDs []uuid.UUID, filter dtos.FindingFilter) ([]models.Finding, error) {
	return f.findingRepository.FindByPipelines(ctx, pipelineIDs, filter)
}

// ScanTypes returns the scan types which completed in one of the pipelines.
func (f *FindingsFinder) ScanTypes(ctx context.Context, pipelineIDs []uuid.UUID) ([]dtos.ScanType, error) {
	return f.findingRepository.ScanTypes(ctx, pipelineIDs)
}

func (f *FindingsFinder) Dependencies(ctx context.Context, pipelineIDs []uuid.UUID) ([]models.PipelineDependency, error) {
	return f.findingRepository.Dependencies(ctx, pipelineIDs)
}
