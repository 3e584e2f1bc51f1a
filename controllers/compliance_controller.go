// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package controllers

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/dtos"
	"github.com/l3montree-dev/devguard-policy/shared"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

const secretTokenHeader = "X-Secret-Token"

type ComplianceController struct {
	complianceService shared.ComplianceService
	controlRepository shared.ComplianceControlRepository
	projectRepository shared.ProjectRepository
}

func NewComplianceController(complianceService shared.ComplianceService, controlRepository shared.ComplianceControlRepository, projectRepository shared.ProjectRepository) *ComplianceController {
	return &ComplianceController{
		complianceService: complianceService,
		controlRepository: controlRepository,
		projectRepository: projectRepository,
	}
}

// projectIDs reads the projects from the projectId query parameters or,
// when a namespaceId is given, every project of that namespace.
func (c *ComplianceController) projectIDs(ctx shared.Context) ([]uuid.UUID, error) {
	if namespace := ctx.QueryParam("namespaceId"); namespace != "" {
		namespaceID, err := uuid.Parse(namespace)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid namespace id")
		}
		projects, err := c.projectRepository.FindByNamespaces(ctx.Request().Context(), []uuid.UUID{namespaceID})
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusInternalServerError, "could not list projects").WithInternal(err)
		}
		ids := make([]uuid.UUID, 0, len(projects))
		for _, project := range projects {
			ids = append(ids, project.ID)
		}
		return ids, nil
	}

	params := ctx.QueryParams()["projectId"]
	if len(params) == 0 {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "projectId or namespaceId is required")
	}
	ids := make([]uuid.UUID, 0, len(params))
	for _, p := range params {
		id, err := uuid.Parse(p)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid project id")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *ComplianceController) CoverageStatistics(ctx shared.Context) error {
	ids, err := c.projectIDs(ctx)
	if err != nil {
		return err
	}
	stats, err := c.complianceService.CoverageStatistics(ctx.Request().Context(), ids)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not calculate coverage statistics").WithInternal(err)
	}
	return ctx.JSON(http.StatusOK, stats)
}

func (c *ComplianceController) ControlCoverageStatistics(ctx shared.Context) error {
	ids, err := c.projectIDs(ctx)
	if err != nil {
		return err
	}
	stats, err := c.complianceService.ControlCoverageStatistics(ctx.Request().Context(), ids)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not calculate control coverage statistics").WithInternal(err)
	}
	return ctx.JSON(http.StatusOK, stats)
}

// ReportControlStatus is called by external controls. The request must carry
// the secret token of the control.
func (c *ComplianceController) ReportControlStatus(ctx shared.Context) error {
	var report dtos.ControlStatusReport
	if err := ctx.Bind(&report); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not parse request body").WithInternal(err)
	}

	control, err := c.controlRepository.Read(report.ControlID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "compliance control not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "could not read compliance control").WithInternal(err)
	}

	token := ctx.Request().Header.Get(secretTokenHeader)
	if control.SecretToken == nil || token == "" || subtle.ConstantTimeCompare([]byte(*control.SecretToken), []byte(token)) != 1 {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid secret token")
	}

	status, err := c.complianceService.ReportControlStatus(ctx.Request().Context(), report)
	if err != nil {
		var validationErrs shared.ValidationErrors
		var structErrs validator.ValidationErrors
		switch {
		case errors.As(err, &validationErrs):
			return echo.NewHTTPError(http.StatusUnprocessableEntity, validationErrs.Error())
		case errors.As(err, &structErrs):
			return echo.NewHTTPError(http.StatusBadRequest, structErrs.Error())
		case errors.Is(err, gorm.ErrRecordNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "project not found").WithInternal(err)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "could not store control status").WithInternal(err)
	}
	return ctx.JSON(http.StatusOK, status)
}
