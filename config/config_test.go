package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
orchestrator:
  pipelineIntervalInMinutes: 30
  workflows:
    - id: wf-etl
      name: ETL
      description: extract and load
      nodes:
        - id: start
          type: start
        - id: extract
          type: task
          data:
            taskType: sync-data
            retryCount: 2
            timeoutMs: 5000
        - id: end
          type: end
      edges:
        - id: e1
          source: start
          target: extract
        - id: e2
          source: extract
          target: end
commonDatabase:
  dbBasePath: /var/lib/synthos
tasks:
  sync-data:
    source: crm
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Orchestrator.PipelineIntervalInMinutes)
	assert.Equal(t, "/var/lib/synthos", cfg.CommonDatabase.DBBasePath)

	require.Len(t, cfg.Orchestrator.Workflows, 1)
	def := cfg.Workflow("wf-etl")
	require.NotNil(t, def)
	assert.Equal(t, "ETL", def.Name)
	require.Len(t, def.Nodes, 3)
	assert.Equal(t, "sync-data", def.Nodes[1].Data.TaskType)
	assert.Equal(t, 2, def.Nodes[1].Data.RetryCount)
	assert.Equal(t, int64(5000), def.Nodes[1].Data.TimeoutMs)

	assert.Equal(t, map[string]any{"source": "crm"}, cfg.TaskConfig("sync-data"))
	assert.Nil(t, cfg.TaskConfig("ghost"))
	assert.Nil(t, cfg.Workflow("ghost"))
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvDBBasePath, "/tmp/override")
	t.Setenv(EnvPipelineInterval, "5")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override", cfg.CommonDatabase.DBBasePath)
	assert.Equal(t, 5, cfg.Orchestrator.PipelineIntervalInMinutes)
}

func TestLoad_Validation(t *testing.T) {
	t.Run("missing db base path", func(t *testing.T) {
		_, err := Load(writeConfig(t, "orchestrator: {}\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "dbBasePath")
	})

	t.Run("duplicate workflow ids", func(t *testing.T) {
		content := `
orchestrator:
  workflows:
    - id: wf-1
      name: one
    - id: wf-1
      name: two
commonDatabase:
  dbBasePath: /tmp
`
		_, err := Load(writeConfig(t, content))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate")
	})

	t.Run("workflow without id", func(t *testing.T) {
		content := `
orchestrator:
  workflows:
    - name: anonymous
commonDatabase:
  dbBasePath: /tmp
`
		_, err := Load(writeConfig(t, content))
		require.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "orchestrator: ["))
		require.Error(t, err)
	})
}
