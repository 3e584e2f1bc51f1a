package commands

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/shared"
	"github.com/spf13/cobra"
)

func NewComplianceCommand() *cobra.Command {
	compliance := cobra.Command{
		Use:   "compliance",
		Short: "Compliance frameworks and controls",
	}

	compliance.AddCommand(newComplianceStatsCommand())
	compliance.AddCommand(newComplianceEvaluateCommand())
	return &compliance
}

func newComplianceStatsCommand() *cobra.Command {
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print the coverage statistics of the given projects",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := config.GetStringSlice("project")
			if len(paths) == 0 {
				return errors.New("at least one --project is required")
			}

			var projectRepository shared.ProjectRepository
			var complianceService shared.ComplianceService
			return withApp([]any{&projectRepository, &complianceService}, func() error {
				ctx := cmd.Context()
				ids := make([]uuid.UUID, 0, len(paths))
				for _, path := range paths {
					project, err := projectRepository.ReadByFullPath(ctx, path)
					if err != nil {
						return err
					}
					ids = append(ids, project.ID)
				}

				coverage, err := complianceService.CoverageStatistics(ctx, ids)
				if err != nil {
					return err
				}
				controls, err := complianceService.ControlCoverageStatistics(ctx, ids)
				if err != nil {
					return err
				}

				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"projects": coverage,
					"controls": controls,
				})
			})
		},
	}
	stats.Flags().StringSlice("project", nil, "full path of a project, can be repeated")
	return stats
}

func newComplianceEvaluateCommand() *cobra.Command {
	evaluate := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate the internal controls of one project or of every project",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			var projectRepository shared.ProjectRepository
			var complianceService shared.ComplianceService
			return withApp([]any{&projectRepository, &complianceService}, func() error {
				ctx := cmd.Context()
				path := config.GetString("project")
				if path == "" {
					return complianceService.EvaluateAll(ctx)
				}
				project, err := projectRepository.ReadByFullPath(ctx, path)
				if err != nil {
					return err
				}
				if err := complianceService.EvaluateProject(ctx, project); err != nil {
					return err
				}
				slog.Info("compliance controls evaluated", "project_path", project.FullPath)
				return nil
			})
		},
	}
	evaluate.Flags().String("project", "", "full path of the project, every project when empty")
	return evaluate
}
