// Copyright (C) 2024 Tim Bastin, l3montree GmbH
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
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package repositories

import (
	"github.com/l3montree-dev/devguard-policy/shared"
	"go.uber.org/fx"
)

// Module provides all repository constructors as their interfaces
var Module = fx.Options(
	fx.Provide(fx.Annotate(NewConfigRepository, fx.As(new(shared.ConfigRepository)))),
	fx.Provide(fx.Annotate(NewNamespaceRepository, fx.As(new(shared.NamespaceRepository)))),
	fx.Provide(fx.Annotate(NewProjectRepository, fx.As(new(shared.ProjectRepository)))),
	fx.Provide(fx.Annotate(NewPipelineRepository, fx.As(new(shared.PipelineRepository)))),
	fx.Provide(fx.Annotate(NewFindingRepository, fx.As(new(shared.FindingRepository)))),
	fx.Provide(fx.Annotate(NewVulnerabilityRepository, fx.As(new(shared.VulnerabilityRepository)))),
	fx.Provide(fx.Annotate(NewMergeRequestRepository, fx.As(new(shared.MergeRequestRepository)))),
	fx.Provide(fx.Annotate(NewApprovalRuleRepository, fx.As(new(shared.ApprovalRuleRepository)))),
	fx.Provide(fx.Annotate(NewScanResultPolicyReadRepository, fx.As(new(shared.ScanResultPolicyReadRepository)))),
	fx.Provide(fx.Annotate(NewScanResultPolicyViolationRepository, fx.As(new(shared.ScanResultPolicyViolationRepository)))),
	fx.Provide(fx.Annotate(NewComplianceFrameworkRepository, fx.As(new(shared.ComplianceFrameworkRepository)))),
	fx.Provide(fx.Annotate(NewComplianceRequirementRepository, fx.As(new(shared.ComplianceRequirementRepository)))),
	fx.Provide(fx.Annotate(NewComplianceControlRepository, fx.As(new(shared.ComplianceControlRepository)))),
	fx.Provide(fx.Annotate(NewProjectControlStatusRepository, fx.As(new(shared.ProjectControlStatusRepository)))),
	fx.Provide(fx.Annotate(NewProjectRequirementStatusRepository, fx.As(new(shared.ProjectRequirementStatusRepository)))),
	fx.Provide(fx.Annotate(NewStageRepository, fx.As(new(shared.StageRepository)))),
	fx.Provide(fx.Annotate(NewIssuableRepository, fx.As(new(shared.IssuableRepository)))),
	fx.Provide(fx.Annotate(NewStageEventRepository, fx.As(new(shared.StageEventRepository)))),
)
