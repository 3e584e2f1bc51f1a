package services

import (
	"time"

	"github.com/l3montree-dev/devguard-policy/policy"
	"github.com/l3montree-dev/devguard-policy/shared"
	"github.com/l3montree-dev/devguard-policy/utils"
	"go.uber.org/fx"
)

const policyBlobCacheSize = 128

func NewPolicyReader() (*policy.GitReader, error) {
	timeout, err := time.ParseDuration(utils.GetEnvOrDefault("POLICY_FETCH_TIMEOUT", "10s"))
	if err != nil {
		return nil, err
	}
	return policy.NewGitReader(utils.GetEnvOrDefault("POLICY_REPOSITORY_ROOT", "/var/lib/devguard-policy/repositories"), policyBlobCacheSize, timeout)
}

// ServiceModule provides all service-layer constructors
var ServiceModule = fx.Options(
	fx.Provide(fx.Annotate(NewConfigService, fx.As(new(shared.ConfigService)))),
	fx.Provide(fx.Annotate(NewLicenseService, fx.As(new(shared.LicenseService)))),
	fx.Provide(fx.Annotate(NewDatabaseLeaderElector, fx.As(new(shared.LeaderElector)))),
	fx.Provide(fx.Annotate(NewInternalEventService, fx.As(new(shared.InternalEventTracker)))),
	fx.Provide(NewPolicyReader),
	fx.Provide(NewFindingsFinder),
	fx.Provide(NewTargetPipelineResolver),
	fx.Provide(NewPolicySyncService),
	fx.Provide(NewEvaluationFactory),
	fx.Provide(NewUpdateApprovalsService),
	fx.Provide(NewMergeRequestPolicyService),
	fx.Provide(NewGeneratePolicyCommentService),
	fx.Provide(NewComplianceService),
	fx.Provide(NewDataLoaderService),
	fx.Provide(NewConsistencyCheckService),
	fx.Provide(func(s *PolicySyncService) shared.PolicySyncService { return s }),
	fx.Provide(func(s *MergeRequestPolicyService) shared.MergeRequestPolicyService { return s }),
	fx.Provide(func(s *GeneratePolicyCommentService) shared.PolicyCommentService { return s }),
	fx.Provide(func(s *ComplianceService) shared.ComplianceService { return s }),
	fx.Provide(func(s *DataLoaderService) shared.CycleAnalyticsDataLoader { return s }),
	fx.Provide(func(s *ConsistencyCheckService) shared.CycleAnalyticsConsistencyChecker { return s }),
)
