package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyRoutingOverrideNoPath(t *testing.T) {
	cfg := Config{AIEconomSections: []string{"part_16"}}
	require.NoError(t, ApplyRoutingOverride(&cfg))
	assert.Equal(t, []string{"part_16"}, cfg.AIEconomSections)
}

func TestApplyRoutingOverrideFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routing.yaml")
	yaml := "ai_econom_sections: [part_14, part_16]\ncontract_extractor_sections: [part_4, part_5]\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg := Config{RoutingConfigPath: path, AIEconomSections: []string{"part_16"}}
	require.NoError(t, ApplyRoutingOverride(&cfg))

	assert.Equal(t, []string{"part_14", "part_16"}, cfg.AIEconomSections)
	assert.Equal(t, []string{"part_4", "part_5"}, cfg.ContractExtractorSections)
}

func TestApplyRoutingOverrideMissingFile(t *testing.T) {
	cfg := Config{RoutingConfigPath: "/nonexistent/routing.yaml"}
	assert.Error(t, ApplyRoutingOverride(&cfg))
}
