package daemons

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/l3montree-dev/devguard-policy/database/models"
	"github.com/l3montree-dev/devguard-policy/dtos"
	"github.com/l3montree-dev/devguard-policy/monitoring"
	"github.com/l3montree-dev/devguard-policy/shared"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

const (
	keyComplianceEvaluation = "daemons.complianceEvaluation"
	keyPolicySync           = "daemons.policySync"
	keyCycleAnalyticsLoad   = "daemons.cycleAnalyticsLoad"
	keyConsistencyCheck     = "daemons.cycleAnalyticsConsistencyCheck"
)

func getLastRunTime(configService shared.ConfigService, key string) (time.Time, error) {
	var lastRun struct {
		Time time.Time `json:"time"`
	}

	err := configService.GetJSONConfig(key, &lastRun)

	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		slog.Error("could not get last run time", "err", err, "key", key)
		return time.Time{}, err
	} else if errors.Is(err, gorm.ErrRecordNotFound) {
		slog.Info("no last run time found. Setting to 0", "key", key)
		return time.Time{}, nil
	}

	return lastRun.Time, nil
}

func shouldRun(configService shared.ConfigService, key string, interval time.Duration) bool {
	lastTime, err := getLastRunTime(configService, key)
	if err != nil {
		return false
	}

	return time.Since(lastTime) > interval
}

func markRun(configService shared.ConfigService, key string) error {
	return configService.SetJSONConfig(key, struct {
		Time time.Time `json:"time"`
	}{
		Time: time.Now(),
	})
}

func (runner *DaemonRunner) runDaemons(ctx context.Context) {
	daemonStart := time.Now()
	slog.Info("starting background jobs", "time", daemonStart)

	if shouldRun(runner.configService, keyPolicySync, time.Hour) {
		start := time.Now()
		if err := runner.SyncPolicies(ctx); err != nil {
			monitoring.Alert("could not sync security policies", err)
		}
		if err := markRun(runner.configService, keyPolicySync); err != nil {
			slog.Error("could not mark policy sync as done", "err", err)
		}
		monitoring.PolicySyncDuration.Observe(time.Since(start).Minutes())
	}

	if shouldRun(runner.configService, keyComplianceEvaluation, time.Hour) {
		if err := runner.complianceService.EvaluateAll(ctx); err != nil {
			monitoring.Alert("could not evaluate compliance controls", err)
		}
		if err := markRun(runner.configService, keyComplianceEvaluation); err != nil {
			slog.Error("could not mark compliance evaluation as done", "err", err)
		}
	}

	// the loader persists its cursors, a run which hits a limit simply
	// continues on the next tick
	if shouldRun(runner.configService, keyCycleAnalyticsLoad, 12*time.Hour) {
		start := time.Now()
		done, err := runner.LoadCycleAnalytics(ctx)
		if err != nil {
			monitoring.Alert("could not load cycle analytics", err)
		} else if done {
			if err := markRun(runner.configService, keyCycleAnalyticsLoad); err != nil {
				slog.Error("could not mark cycle analytics load as done", "err", err)
			}
		}
		monitoring.CycleAnalyticsLoadDuration.Observe(time.Since(start).Minutes())
	}

	if shouldRun(runner.configService, keyConsistencyCheck, 24*time.Hour) {
		start := time.Now()
		done, err := runner.CheckCycleAnalyticsConsistency(ctx)
		if err != nil {
			monitoring.Alert("could not check cycle analytics consistency", err)
		} else if done {
			if err := markRun(runner.configService, keyConsistencyCheck); err != nil {
				slog.Error("could not mark consistency check as done", "err", err)
			}
		}
		monitoring.CycleAnalyticsConsistencyCheckDuration.Observe(time.Since(start).Minutes())
	}

	slog.Info("background jobs finished", "duration", time.Since(daemonStart))
}

// SyncPolicies refreshes the policy snapshots of every project.
func (runner *DaemonRunner) SyncPolicies(ctx context.Context) error {
	projects, err := runner.projectRepository.All()
	if err != nil {
		return err
	}
	for _, project := range projects {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := runner.policySyncService.SyncProject(ctx, project); err != nil {
			slog.Error("could not sync security policy", "project_path", project.FullPath, "err", err)
		}
	}
	return nil
}

func loaderContextKey(kind string, namespace models.Namespace, model dtos.AnalyticsModel) string {
	if model == "" {
		return fmt.Sprintf("cycleAnalytics.%s.%s", kind, namespace.ID)
	}
	return fmt.Sprintf("cycleAnalytics.%s.%s.%s", kind, namespace.ID, model)
}

func (runner *DaemonRunner) loaderContext(key string) dtos.LoaderContext {
	var loaderContext dtos.LoaderContext
	if err := runner.configService.GetJSONConfig(key, &loaderContext); err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		slog.Warn("could not read loader context, starting from scratch", "key", key, "err", err)
	}
	return loaderContext
}

// LoadCycleAnalytics runs the data loader for every root group and model.
// It returns true when every loader finished.
func (runner *DaemonRunner) LoadCycleAnalytics(ctx context.Context) (bool, error) {
	namespaces, err := runner.namespaceRepository.RootGroups(ctx)
	if err != nil {
		return false, err
	}
	done := true
	for _, namespace := range namespaces {
		for _, model := range []dtos.AnalyticsModel{dtos.AnalyticsModelIssue, dtos.AnalyticsModelMergeRequest} {
			key := loaderContextKey("load", namespace, model)
			result, err := runner.dataLoader.Execute(ctx, shared.DataLoaderParams{
				Namespace: namespace,
				Model:     model,
				Context:   runner.loaderContext(key),
			})
			if err != nil {
				return false, err
			}
			if result.Reason == dtos.ReasonLimitReached {
				done = false
			}
			if err := runner.configService.SetJSONConfig(key, result.Context); err != nil {
				return false, err
			}
			slog.Info("cycle analytics loaded", "namespace", namespace.Path, "model", model, "reason", result.Reason, "processed_records", result.Context.ProcessedRecords)
		}
	}
	return done, nil
}

// CheckCycleAnalyticsConsistency returns true when every namespace was checked completely.
func (runner *DaemonRunner) CheckCycleAnalyticsConsistency(ctx context.Context) (bool, error) {
	namespaces, err := runner.namespaceRepository.RootGroups(ctx)
	if err != nil {
		return false, err
	}
	done := true
	for _, namespace := range namespaces {
		key := loaderContextKey("consistency", namespace, "")
		result, err := runner.consistencyChecker.Execute(ctx, namespace, runner.loaderContext(key))
		if err != nil {
			return false, err
		}
		if result.Reason == dtos.ReasonLimitReached {
			done = false
		}
		if err := runner.configService.SetJSONConfig(key, result.Context); err != nil {
			return false, err
		}
	}
	return done, nil
}
