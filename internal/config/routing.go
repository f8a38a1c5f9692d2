package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// RoutingOverride describes the section-key subsets routed to workers that
// don't receive the full section map, as an alternative to the
// AI_ECONOM_SECTIONS/CONTRACT_EXTRACTOR_SECTIONS environment variables.
type RoutingOverride struct {
	AIEconomSections          []string `yaml:"ai_econom_sections"`
	ContractExtractorSections []string `yaml:"contract_extractor_sections"`
}

// ApplyRoutingOverride loads cfg.RoutingConfigPath, if set, and overlays any
// non-empty subsets onto cfg. A missing or empty path is a no-op.
func ApplyRoutingOverride(cfg *Config) error {
	if cfg.RoutingConfigPath == "" {
		return nil
	}
	data, err := os.ReadFile(cfg.RoutingConfigPath)
	if err != nil {
		return err
	}
	var override RoutingOverride
	if err := yaml.Unmarshal(data, &override); err != nil {
		return err
	}
	if len(override.AIEconomSections) > 0 {
		cfg.AIEconomSections = override.AIEconomSections
	}
	if len(override.ContractExtractorSections) > 0 {
		cfg.ContractExtractorSections = override.ContractExtractorSections
	}
	return nil
}
