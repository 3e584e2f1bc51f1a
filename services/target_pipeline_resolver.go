// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/database/models"
	"github.com/l3montree-dev/devguard-policy/shared"
	"github.com/moznion/go-optional"
	"gorm.io/gorm"
)

// TargetPipelineResolver finds the pipeline of the target branch the findings
// of a merge request pipeline are compared with.
type TargetPipelineResolver struct {
	pipelineRepository shared.PipelineRepository
}

func NewTargetPipelineResolver(pipelineRepository shared.PipelineRepository) *TargetPipelineResolver {
	return &TargetPipelineResolver{pipelineRepository: pipelineRepository}
}

type pipelineLookup func(ctx context.Context) (optional.Option[models.Pipeline], error)

func (r *TargetPipelineResolver) lookup(projectID uuid.UUID, ref string, sha *string) pipelineLookup {
	return func(ctx context.Context) (optional.Option[models.Pipeline], error) {
		if sha != nil && *sha == "" {
			return optional.None[models.Pipeline](), nil
		}
		pipeline, err := r.pipelineRepository.LatestWithSecurityReports(ctx, projectID, ref, sha)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return optional.None[models.Pipeline](), nil
			}
			return optional.None[models.Pipeline](), err
		}
		return optional.Some(pipeline), nil
	}
}

// Resolve consults, in this order and each only if the previous found nothing:
// the target branch pipeline of the diff base sha, the latest target branch
// pipeline, the pipeline of the diff start sha and for merged results
// pipelines the pipeline of the merge base.
func (r *TargetPipelineResolver) Resolve(ctx context.Context, mergeRequest models.MergeRequest, pipeline *models.Pipeline) (optional.Option[models.Pipeline], error) {
	project := mergeRequest.ProjectID

	chain := []pipelineLookup{}
	if mergeRequest.DiffBaseSHA != nil {
		chain = append(chain, r.lookup(project, mergeRequest.TargetBranch, mergeRequest.DiffBaseSHA))
	}
	chain = append(chain, r.lookup(project, mergeRequest.TargetBranch, nil))
	if mergeRequest.DiffStartSHA != nil {
		chain = append(chain, r.lookup(project, mergeRequest.TargetBranch, mergeRequest.DiffStartSHA))
	}
	if pipeline != nil && pipeline.IsMergedResult() {
		chain = append(chain, r.lookup(project, mergeRequest.TargetBranch, pipeline.TargetSHA))
	}

	for _, next := range chain {
		found, err := next(ctx)
		if err != nil {
			return optional.None[models.Pipeline](), err
		}
		if found.IsSome() {
			return found, nil
		}
	}
	return optional.None[models.Pipeline](), nil
}
