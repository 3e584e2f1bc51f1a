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

	"github.com/l3montree-dev/devguard-policy/dtos"
	"github.com/l3montree-dev/devguard-policy/monitoring"
	"github.com/l3montree-dev/devguard-policy/shared"
)

const evaluationTimeout = 5 * time.Minute

// listen subscribes to the broker channels. Every instance receives every
// message, only the leader acts on them.
func (runner *DaemonRunner) listen(ctx context.Context) error {
	pipelines, err := runner.broker.Subscribe(shared.PipelineCompleted)
	if err != nil {
		return err
	}
	policyChanges, err := runner.broker.Subscribe(shared.PolicyChange)
	if err != nil {
		return err
	}
	comments, err := runner.broker.Subscribe(shared.GeneratePolicyComment)
	if err != nil {
		return err
	}

	go consume(ctx, pipelines, runner.leaderElector, runner.HandlePipelineCompleted)
	go consume(ctx, policyChanges, runner.leaderElector, runner.HandlePolicyChange)
	go runner.commentWorker.Run(ctx, comments)
	return nil
}

func consume(ctx context.Context, messages <-chan map[string]any, leaderElector shared.LeaderElector, handle func(ctx context.Context, payload map[string]any) error) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-messages:
			if !ok {
				return
			}
			if !leaderElector.IsLeader() {
				continue
			}
			if err := handle(ctx, payload); err != nil {
				monitoring.Alert("could not handle broker message", err)
			}
		}
	}
}

// HandlePipelineCompleted evaluates the approval rules of every open merge
// request the pipeline ran for.
func (runner *DaemonRunner) HandlePipelineCompleted(ctx context.Context, payload map[string]any) error {
	var event dtos.PipelineCompletedEvent
	if err := shared.DecodePayload(payload, &event); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, evaluationTimeout)
	defer cancel()
	slog.Debug("pipeline completed", "pipeline_id", event.PipelineID)
	return runner.mergeRequestPolicyService.SyncPipeline(ctx, event.PipelineID)
}

// HandlePolicyChange refreshes the policy snapshots of the project and the
// approval rules of its open merge requests.
func (runner *DaemonRunner) HandlePolicyChange(ctx context.Context, payload map[string]any) error {
	var event dtos.PolicyChangedEvent
	if err := shared.DecodePayload(payload, &event); err != nil {
		return err
	}
	project, err := runner.projectRepository.Read(event.ProjectID)
	if err != nil {
		return err
	}
	return runner.policySyncService.SyncProject(ctx, project)
}
