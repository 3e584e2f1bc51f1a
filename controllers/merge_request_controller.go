// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package controllers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/database/models"
	"github.com/l3montree-dev/devguard-policy/dtos"
	"github.com/l3montree-dev/devguard-policy/shared"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

type MergeRequestController struct {
	mergeRequestRepository    shared.MergeRequestRepository
	pipelineRepository        shared.PipelineRepository
	mergeRequestPolicyService shared.MergeRequestPolicyService
}

func NewMergeRequestController(mergeRequestRepository shared.MergeRequestRepository, pipelineRepository shared.PipelineRepository, mergeRequestPolicyService shared.MergeRequestPolicyService) *MergeRequestController {
	return &MergeRequestController{
		mergeRequestRepository:    mergeRequestRepository,
		pipelineRepository:        pipelineRepository,
		mergeRequestPolicyService: mergeRequestPolicyService,
	}
}

// Resync re-evaluates the approval rules of a merge request. Without a
// pipeline id the head pipeline of the merge request is used.
func (c *MergeRequestController) Resync(ctx shared.Context) error {
	mergeRequestID, err := uuid.Parse(ctx.Param("mergeRequestID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid merge request id")
	}

	var req dtos.ResyncMergeRequestRequest
	if ctx.Request().ContentLength > 0 {
		if err := ctx.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "could not parse request body").WithInternal(err)
		}
	}

	mergeRequest, err := c.mergeRequestRepository.Read(mergeRequestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "merge request not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "could not read merge request").WithInternal(err)
	}

	var pipeline *models.Pipeline
	if req.PipelineID != nil {
		p, err := c.pipelineRepository.Read(*req.PipelineID)
		if err != nil {
			return echo.NewHTTPError(http.StatusNotFound, "pipeline not found").WithInternal(err)
		}
		pipeline = &p
	}

	if err := c.mergeRequestPolicyService.SyncMergeRequest(ctx.Request().Context(), mergeRequest, pipeline); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not sync merge request").WithInternal(err)
	}
	return ctx.NoContent(http.StatusAccepted)
}
