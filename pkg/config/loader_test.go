package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
llm:
  base_url: http://llm.local/v1
sandbox:
  base_url: http://sandbox.local
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	// Explicit values.
	assert.Equal(t, "http://llm.local/v1", cfg.LLM.BaseURL)
	assert.Equal(t, "http://sandbox.local", cfg.Sandbox.BaseURL)

	// Everything else stays at the defaults.
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, 30, cfg.Agent.MaxIterations)
	assert.Equal(t, 32768, cfg.Agent.MemoryBudget)
	assert.Equal(t, 1000, cfg.Events.RingCapacity)
	assert.Equal(t, 30*time.Minute, cfg.Events.IdleCutoff)
	assert.False(t, cfg.Database.Enabled)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML+`
server:
  port: 9090
agent:
  max_iterations: 5
events:
  ring_capacity: 50
`))
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Agent.MaxIterations)
	assert.Equal(t, 50, cfg.Events.RingCapacity)
	// Untouched siblings keep their defaults.
	assert.Equal(t, 100, cfg.Events.QueueCapacity)
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "sk-test-123")
	t.Setenv("TEST_DB_PASSWORD", "s3cret$pass")
	cfg, err := Load(writeConfig(t, minimalYAML+`
llm:
  api_key: "{{.TEST_LLM_KEY}}"
database:
  enabled: true
  dsn: postgres://app:{{.TEST_DB_PASSWORD}}@db:5432/agentd
`))
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", cfg.LLM.APIKey)
	assert.Equal(t, "postgres://app:s3cret$pass@db:5432/agentd", cfg.Database.DSN)
}

func TestLoadMissingFileFailsValidation(t *testing.T) {
	// Defaults alone have no LLM or sandbox endpoint, so a missing file is
	// only tolerated up to validation.
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [not: a: mapping"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "port out of range",
			yaml:    minimalYAML + "server:\n  port: 70000\n",
			wantErr: "server.port",
		},
		{
			name:    "database enabled without dsn",
			yaml:    minimalYAML + "database:\n  enabled: true\n",
			wantErr: "database.dsn",
		},
		{
			name:    "missing llm endpoint",
			yaml:    "sandbox:\n  base_url: http://sandbox.local\n",
			wantErr: "llm.base_url",
		},
		{
			name:    "missing sandbox endpoint",
			yaml:    "llm:\n  base_url: http://llm.local/v1\n",
			wantErr: "sandbox.base_url",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TEST_EXPAND_VALUE", "expanded")

	out := ExpandEnv([]byte("key: {{.TEST_EXPAND_VALUE}}"))
	assert.Equal(t, "key: expanded", string(out))

	// Missing variables expand to empty rather than failing.
	out = ExpandEnv([]byte("key: {{.TEST_NO_SUCH_VARIABLE_SET}}"))
	assert.Equal(t, "key: ", string(out))

	// Literal dollar signs pass through untouched.
	out = ExpandEnv([]byte("password: pa$$word"))
	assert.Equal(t, "password: pa$$word", string(out))

	// Content without template syntax is returned as-is.
	plain := []byte("plain: value")
	assert.Equal(t, plain, ExpandEnv(plain))
}
