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

package daemons

import (
	"context"
	"log/slog"
	"time"

	"github.com/l3montree-dev/devguard-policy/shared"
	"go.uber.org/fx"
)

const tickInterval = 5 * time.Minute

// DaemonRunner encapsulates daemon dependencies and lifecycle
type DaemonRunner struct {
	broker                    shared.PubSubBroker
	configService             shared.ConfigService
	leaderElector             shared.LeaderElector
	namespaceRepository       shared.NamespaceRepository
	projectRepository         shared.ProjectRepository
	dataLoader                shared.CycleAnalyticsDataLoader
	consistencyChecker        shared.CycleAnalyticsConsistencyChecker
	complianceService         shared.ComplianceService
	policySyncService         shared.PolicySyncService
	mergeRequestPolicyService shared.MergeRequestPolicyService
	commentService            shared.PolicyCommentService

	commentWorker *CommentWorker
}

// NewDaemonRunner creates a new daemon runner with injected dependencies
func NewDaemonRunner(
	broker shared.PubSubBroker,
	configService shared.ConfigService,
	leaderElector shared.LeaderElector,
	namespaceRepository shared.NamespaceRepository,
	projectRepository shared.ProjectRepository,
	dataLoader shared.CycleAnalyticsDataLoader,
	consistencyChecker shared.CycleAnalyticsConsistencyChecker,
	complianceService shared.ComplianceService,
	policySyncService shared.PolicySyncService,
	mergeRequestPolicyService shared.MergeRequestPolicyService,
	commentService shared.PolicyCommentService,
) *DaemonRunner {
	return &DaemonRunner{
		broker:                    broker,
		configService:             configService,
		leaderElector:             leaderElector,
		namespaceRepository:       namespaceRepository,
		projectRepository:         projectRepository,
		dataLoader:                dataLoader,
		consistencyChecker:        consistencyChecker,
		complianceService:         complianceService,
		policySyncService:         policySyncService,
		mergeRequestPolicyService: mergeRequestPolicyService,
		commentService:            commentService,
		commentWorker:             NewCommentWorker(commentService, leaderElector),
	}
}

// Start initiates the broker listeners and the periodic background jobs.
func (runner *DaemonRunner) Start(ctx context.Context) error {
	if err := runner.listen(ctx); err != nil {
		return err
	}
	go func() {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			runner.tick(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return nil
}

func (runner *DaemonRunner) tick(ctx context.Context) {
	if runner.leaderElector.IsLeader() {
		slog.Info("this instance is the leader - running background jobs")
		runner.runDaemons(ctx)
	} else {
		slog.Info("not the leader - skipping background jobs")
	}
}

var Module = fx.Module("daemons",
	fx.Provide(NewDaemonRunner),
	fx.Invoke(func(lc fx.Lifecycle, runner *DaemonRunner) {
		ctx, cancel := context.WithCancel(context.Background())
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				return runner.Start(ctx)
			},
			OnStop: func(context.Context) error {
				cancel()
				return nil
			},
		})
	}),
)
