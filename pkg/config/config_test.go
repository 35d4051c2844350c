package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NotNil(t, cfg)

	assert.Equal(t, "http://localhost:8529", cfg.Arango.Host)
	assert.Equal(t, "memory_bank", cfg.Arango.Database)
	assert.Equal(t, "text_en", cfg.Search.Analyzer)
	assert.Equal(t, 10, cfg.Search.DefaultTopN)
	assert.InDelta(t, 0.7, cfg.Search.SemanticMinScore, 1e-9)
	assert.Equal(t, 1024, cfg.Embedding.DefaultDimension)
	assert.Equal(t, "relationships", cfg.Graph.EdgeCollection)
	assert.InDelta(t, 0.97, cfg.QA.ValidationThreshold, 1e-9)
	assert.Equal(t, 10, cfg.QA.SemaphoreLimit)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ARANGO_HOST", "http://arango:8529")
	t.Setenv("ARANGO_DB_NAME", "knowledge")
	t.Setenv("RECALLMESH_SEARCH_ANALYZER", "text_de")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://arango:8529", cfg.Arango.Host)
	assert.Equal(t, "knowledge", cfg.Arango.Database)
	assert.Equal(t, "text_de", cfg.Search.Analyzer)
}
