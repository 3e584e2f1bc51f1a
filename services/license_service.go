// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package services

import (
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/l3montree-dev/devguard-policy/shared"
)

const (
	licensedFeaturesKey = "licensedFeatures"

	FeatureCycleAnalytics   = "cycle_analytics_for_groups"
	FeatureSecurityPolicies = "security_orchestration_policies"
	FeatureCompliance       = "project_level_compliance_dashboard"
)

// LicenseService answers feature checks from the licensedFeatures config
// merged with the comma separated LICENSED_FEATURES environment variable.
type LicenseService struct {
	configService shared.ConfigService
	fromEnv       []string
}

func NewLicenseService(configService shared.ConfigService) *LicenseService {
	return &LicenseService{
		configService: configService,
		fromEnv:       parseFeatureList(os.Getenv("LICENSED_FEATURES")),
	}
}

func parseFeatureList(s string) []string {
	var features []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			features = append(features, f)
		}
	}
	return features
}

func (s *LicenseService) FeatureAvailable(feature string) bool {
	if slices.Contains(s.fromEnv, feature) {
		return true
	}
	var features []string
	if err := s.configService.GetJSONConfig(licensedFeaturesKey, &features); err != nil {
		slog.Debug("no licensed features configured", "err", err)
		return false
	}
	return slices.Contains(features, feature)
}
