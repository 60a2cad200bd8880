package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Store:   StoreConfig{Driver: "sqlite", Path: "test.db"},
		Search:  SearchConfig{Subreddits: []string{"SkincareAddiction"}, Keywords: []string{"retinol"}},
		Score:   ScoreConfig{MinAgeHours: 2},
		Filter:  FilterConfig{Percentile: 95},
		Analyze: AnalyzeConfig{MaxBatchSize: 5},
	}
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestConfig_Validate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "mysql" }},
		{"sqlite without path", func(c *Config) { c.Store.Path = "" }},
		{"postgres without url", func(c *Config) { c.Store.Driver = "postgres"; c.Store.DatabaseURL = "" }},
		{"no subreddits", func(c *Config) { c.Search.Subreddits = nil }},
		{"no keywords", func(c *Config) { c.Search.Keywords = nil }},
		{"zero age floor", func(c *Config) { c.Score.MinAgeHours = 0 }},
		{"percentile out of range", func(c *Config) { c.Filter.Percentile = 100 }},
		{"zero batch size", func(c *Config) { c.Analyze.MaxBatchSize = 0 }},
		{"negative delay", func(c *Config) { c.Analyze.InterBatchDelaySec = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 1.5, cfg.Score.W2)
	assert.Equal(t, 2.0, cfg.Score.MinAgeHours)
	assert.Equal(t, "reciprocal", cfg.Score.DepthDecay)
	assert.Equal(t, 5, cfg.Analyze.MaxBatchSize)
	assert.Equal(t, float64(95), cfg.Filter.Percentile)
}

func TestLoadTaxonomy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taxonomy.yaml")
	content := `categories:
  - skincare_advice
  - product_question
instructions: |
  Classify each opportunity for brand engagement suitability.
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	tax, err := LoadTaxonomy(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"skincare_advice", "product_question"}, tax.Categories)
	assert.Contains(t, tax.Instructions, "brand engagement")
}

func TestLoadTaxonomy_Errors(t *testing.T) {
	_, err := LoadTaxonomy(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("categories: []\ninstructions: x\n"), 0o644))
	_, err = LoadTaxonomy(empty)
	assert.Error(t, err)

	noInstr := filepath.Join(t.TempDir(), "noinstr.yaml")
	require.NoError(t, os.WriteFile(noInstr, []byte("categories: [a]\n"), 0o644))
	_, err = LoadTaxonomy(noInstr)
	assert.Error(t, err)
}
