package commands

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/database/models"
	"github.com/l3montree-dev/devguard-policy/shared"
	"github.com/spf13/cobra"
)

func NewEvaluateCommand() *cobra.Command {
	evaluate := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate the approval rules of a merge request or of every merge request of a pipeline",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			mergeRequestID, err := optionalUUID(config.GetString("merge-request"))
			if err != nil {
				return err
			}
			pipelineID, err := optionalUUID(config.GetString("pipeline"))
			if err != nil {
				return err
			}
			if mergeRequestID == nil && pipelineID == nil {
				return errors.New("either --merge-request or --pipeline is required")
			}

			var mergeRequestRepository shared.MergeRequestRepository
			var pipelineRepository shared.PipelineRepository
			var policyService shared.MergeRequestPolicyService

			return withApp([]any{&mergeRequestRepository, &pipelineRepository, &policyService}, func() error {
				ctx := cmd.Context()
				if mergeRequestID == nil {
					return policyService.SyncPipeline(ctx, *pipelineID)
				}
				return evaluateMergeRequest(ctx, mergeRequestRepository, pipelineRepository, policyService, *mergeRequestID, pipelineID)
			})
		},
	}

	evaluate.Flags().String("merge-request", "", "id of the merge request to evaluate")
	evaluate.Flags().String("pipeline", "", "id of the pipeline to evaluate, defaults to the head pipeline of the merge request")
	return evaluate
}

func evaluateMergeRequest(ctx context.Context, mergeRequestRepository shared.MergeRequestRepository, pipelineRepository shared.PipelineRepository, policyService shared.MergeRequestPolicyService, mergeRequestID uuid.UUID, pipelineID *uuid.UUID) error {
	mergeRequest, err := mergeRequestRepository.Read(mergeRequestID)
	if err != nil {
		return err
	}
	var pipeline *models.Pipeline
	if pipelineID != nil {
		p, err := pipelineRepository.Read(*pipelineID)
		if err != nil {
			return err
		}
		pipeline = &p
	}
	if err := policyService.SyncMergeRequest(ctx, mergeRequest, pipeline); err != nil {
		return err
	}
	slog.Info("merge request evaluated", "merge_request_id", mergeRequest.ID, "iid", mergeRequest.IID)
	return nil
}

func optionalUUID(s string) (*uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
