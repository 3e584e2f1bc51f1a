// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/database/models"
	"github.com/l3montree-dev/devguard-policy/dtos"
	"github.com/l3montree-dev/devguard-policy/monitoring"
	"github.com/l3montree-dev/devguard-policy/shared"
	"github.com/l3montree-dev/devguard-policy/utils"
)

const (
	LoaderBatchLimit  = 500
	MaxUpsertCount    = 10000
	DefaultMaxRuntime = 30 * time.Second
)

// stageGroup is every stage sharing one stage event hash.
type stageGroup struct {
	hashID int64
	stage  models.ValueStreamStage
}

func uniqueStages(stages []models.ValueStreamStage) []stageGroup {
	seen := map[int64]bool{}
	groups := make([]stageGroup, 0, len(stages))
	for _, stage := range stages {
		if seen[stage.StageEventHashID] {
			continue
		}
		seen[stage.StageEventHashID] = true
		groups = append(groups, stageGroup{hashID: stage.StageEventHashID, stage: stage})
	}
	return groups
}

func stageLabels(stages []stageGroup) []uuid.UUID {
	var labels []uuid.UUID
	for _, g := range stages {
		if g.stage.StartEventLabelID != nil {
			labels = append(labels, *g.stage.StartEventLabelID)
		}
		if g.stage.EndEventLabelID != nil {
			labels = append(labels, *g.stage.EndEventLabelID)
		}
	}
	return utils.Uniq(labels)
}

// DataLoaderService denormalizes the lifecycle timestamps of issues and merge
// requests into stage event rows. Runs stop at a record or runtime ceiling
// and hand back a context to resume from.
type DataLoaderService struct {
	stageRepository      shared.StageRepository
	issuableRepository   shared.IssuableRepository
	stageEventRepository shared.StageEventRepository
	namespaceRepository  shared.NamespaceRepository
	projectRepository    shared.ProjectRepository
	licenseService       shared.LicenseService
	now                  func() time.Time
}

func NewDataLoaderService(
	stageRepository shared.StageRepository,
	issuableRepository shared.IssuableRepository,
	stageEventRepository shared.StageEventRepository,
	namespaceRepository shared.NamespaceRepository,
	projectRepository shared.ProjectRepository,
	licenseService shared.LicenseService,
) *DataLoaderService {
	return &DataLoaderService{
		stageRepository:      stageRepository,
		issuableRepository:   issuableRepository,
		stageEventRepository: stageEventRepository,
		namespaceRepository:  namespaceRepository,
		projectRepository:    projectRepository,
		licenseService:       licenseService,
		now:                  time.Now,
	}
}

func (s *DataLoaderService) stages(ctx context.Context, params shared.DataLoaderParams, hierarchy []models.Namespace) ([]models.ValueStreamStage, error) {
	stages := params.Stages
	if len(stages) == 0 {
		all, err := s.stageRepository.FindByNamespace(ctx, params.Namespace.ID)
		if err != nil {
			return nil, err
		}
		for _, stage := range all {
			if model, ok := StageModel(stage); ok && model == params.Model {
				stages = append(stages, stage)
			}
		}
		return stages, nil
	}
	namespaceIDs := utils.Map(hierarchy, func(n models.Namespace) uuid.UUID { return n.ID })
	for _, stage := range stages {
		model, ok := StageModel(stage)
		if !ok || model != params.Model || !utils.Contains(namespaceIDs, stage.NamespaceID) {
			return nil, shared.ErrIncorrectStage
		}
	}
	return stages, nil
}

func (s *DataLoaderService) Execute(ctx context.Context, params shared.DataLoaderParams) (dtos.LoaderResult, error) {
	result := dtos.LoaderResult{Model: string(params.Model), Context: params.Context}
	if !s.licenseService.FeatureAvailable(FeatureCycleAnalytics) {
		result.Reason = dtos.ReasonMissingLicense
		return result, nil
	}
	if !params.Model.Valid() {
		return result, fmt.Errorf("Model %s is not supported: %w", params.Model, shared.ErrUnsupportedModel)
	}

	batchLimit := params.BatchLimit
	if batchLimit <= 0 {
		batchLimit = LoaderBatchLimit
	}
	maxUpsertCount := params.MaxUpsertCount
	if maxUpsertCount <= 0 {
		maxUpsertCount = MaxUpsertCount
	}
	maxRuntime := params.MaxRuntime
	if maxRuntime <= 0 {
		maxRuntime = DefaultMaxRuntime
	}
	limiter := NewRuntimeLimiter(maxRuntime, s.now)

	hierarchy, err := s.namespaceRepository.Hierarchy(ctx, params.Namespace)
	if err != nil {
		return result, err
	}
	stages, err := s.stages(ctx, params, hierarchy)
	if err != nil {
		return result, err
	}
	projects, err := s.projectRepository.FindByNamespaces(ctx, utils.Map(hierarchy, func(n models.Namespace) uuid.UUID { return n.ID }))
	if err != nil {
		return result, err
	}
	groupOf := make(map[uuid.UUID]uuid.UUID, len(projects))
	for _, p := range projects {
		groupOf[p.ID] = p.NamespaceID
	}
	projectIDs := utils.Map(projects, func(p models.Project) uuid.UUID { return p.ID })

	groups := uniqueStages(stages)
	labels := stageLabels(groups)
	processed := 0
	loaderContext := params.Context.Clone()

	for _, group := range groups {
		cursor := loaderContext.Cursor(group.hashID)
		for {
			records, err := s.issuableRepository.Batch(ctx, params.Model, projectIDs, cursor, batchLimit)
			if err != nil {
				return result, err
			}
			if len(records) == 0 {
				break
			}

			issuableIDs := utils.Map(records, func(r models.IssuableRecord) uuid.UUID { return r.ID })
			labelEvents, err := s.issuableRepository.LabelEvents(ctx, params.Model, issuableIDs, labels)
			if err != nil {
				return result, err
			}
			timelines := newLabelTimelines(params.Model, labelEvents)

			events := make([]models.StageEvent, 0, len(records))
			for _, record := range records {
				if event, ok := BuildStageEvent(group.stage, groupOf[record.ProjectID], record, timelines); ok {
					events = append(events, event)
				}
			}
			if err := s.stageEventRepository.Upsert(ctx, params.Model, events); err != nil {
				return result, err
			}
			monitoring.StageEventsUpserted.Add(float64(len(events)))

			last := records[len(records)-1]
			cursor = &dtos.LoaderCursor{UpdatedAt: last.UpdatedAt, ID: last.ID}
			loaderContext.SetCursor(group.hashID, *cursor)
			processed += len(records)

			if processed >= maxUpsertCount || limiter.OverTimeLimit() {
				loaderContext.ProcessedRecords += processed
				loaderContext.Runtime += limiter.ElapsedTime()
				result.Reason = dtos.ReasonLimitReached
				result.Context = loaderContext
				monitoring.LoaderResults.WithLabelValues(string(result.Reason)).Inc()
				return result, nil
			}
			if len(records) < batchLimit {
				break
			}
		}
	}

	slog.Debug("cycle analytics model processed", "namespace", params.Namespace.Path, "model", params.Model, "records", processed)
	result.Reason = dtos.ReasonModelProcessed
	result.Context = dtos.LoaderContext{
		ProcessedRecords: loaderContext.ProcessedRecords + processed,
		Runtime:          loaderContext.Runtime + limiter.ElapsedTime(),
	}
	monitoring.LoaderResults.WithLabelValues(string(result.Reason)).Inc()
	return result, nil
}

// ConsistencyCheckService removes stage events whose issuable was deleted.
type ConsistencyCheckService struct {
	stageRepository      shared.StageRepository
	issuableRepository   shared.IssuableRepository
	stageEventRepository shared.StageEventRepository
	namespaceRepository  shared.NamespaceRepository
	licenseService       shared.LicenseService
	batchLimit           int
	maxRuntime           time.Duration
	now                  func() time.Time
}

func NewConsistencyCheckService(
	stageRepository shared.StageRepository,
	issuableRepository shared.IssuableRepository,
	stageEventRepository shared.StageEventRepository,
	namespaceRepository shared.NamespaceRepository,
	licenseService shared.LicenseService,
) *ConsistencyCheckService {
	return &ConsistencyCheckService{
		stageRepository:      stageRepository,
		issuableRepository:   issuableRepository,
		stageEventRepository: stageEventRepository,
		namespaceRepository:  namespaceRepository,
		licenseService:       licenseService,
		batchLimit:           LoaderBatchLimit,
		maxRuntime:           DefaultMaxRuntime,
		now:                  time.Now,
	}
}

func (s *ConsistencyCheckService) Execute(ctx context.Context, namespace models.Namespace, loaderContext dtos.LoaderContext) (dtos.LoaderResult, error) {
	result := dtos.LoaderResult{Context: loaderContext}
	if !namespace.IsGroup() || !namespace.IsRoot() {
		result.Reason = dtos.ReasonRequiresTopLevelNamespace
		return result, nil
	}
	if !s.licenseService.FeatureAvailable(FeatureCycleAnalytics) {
		result.Reason = dtos.ReasonMissingLicense
		return result, nil
	}
	limiter := NewRuntimeLimiter(s.maxRuntime, s.now)

	hierarchy, err := s.namespaceRepository.Hierarchy(ctx, namespace)
	if err != nil {
		return result, err
	}
	groupIDs := utils.Map(hierarchy, func(n models.Namespace) uuid.UUID { return n.ID })
	stages, err := s.stageRepository.FindByNamespaces(ctx, groupIDs)
	if err != nil {
		return result, err
	}

	for _, group := range uniqueStages(stages) {
		model, ok := StageModel(group.stage)
		if !ok {
			continue
		}
		var after *uuid.UUID
		if cursor := loaderContext.Cursor(group.hashID); cursor != nil {
			after = &cursor.ID
		}
		for {
			events, err := s.stageEventRepository.Batch(ctx, model, group.hashID, groupIDs, after, s.batchLimit)
			if err != nil {
				return result, err
			}
			if len(events) == 0 {
				break
			}
			issuableIDs := utils.Map(events, func(e models.StageEvent) uuid.UUID { return e.IssuableID })
			existing, err := s.issuableRepository.ExistingIDs(ctx, model, issuableIDs)
			if err != nil {
				return result, err
			}
			if missing := utils.Difference(issuableIDs, existing); len(missing) > 0 {
				deleted, err := s.stageEventRepository.Delete(ctx, model, group.hashID, missing)
				if err != nil {
					return result, err
				}
				monitoring.StageEventsDeleted.Add(float64(deleted))
			}

			last := issuableIDs[len(issuableIDs)-1]
			after = &last
			loaderContext.SetCursor(group.hashID, dtos.LoaderCursor{ID: last})
			loaderContext.ProcessedRecords += len(events)

			if limiter.OverTimeLimit() {
				loaderContext.Runtime += limiter.ElapsedTime()
				result.Reason = dtos.ReasonLimitReached
				result.Context = loaderContext
				monitoring.LoaderResults.WithLabelValues(string(result.Reason)).Inc()
				return result, nil
			}
			if len(events) < s.batchLimit {
				break
			}
		}
	}

	result.Reason = dtos.ReasonNamespaceProcessed
	result.Context = dtos.LoaderContext{
		ProcessedRecords: loaderContext.ProcessedRecords,
		Runtime:          loaderContext.Runtime + limiter.ElapsedTime(),
	}
	monitoring.LoaderResults.WithLabelValues(string(result.Reason)).Inc()
	return result, nil
}
