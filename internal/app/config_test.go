package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azyu/storyloom/internal/llm"
	"github.com/azyu/storyloom/pkg/types"
)

// =============================================================================
// Global Config Tests
// =============================================================================

// TestLoadGlobalConfig_Defaults tests that a missing file yields expanded defaults.
func TestLoadGlobalConfig_Defaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cm := NewConfigManagerAt(t.TempDir())

	config, err := cm.LoadGlobalConfig()
	require.NoError(t, err)

	assert.Equal(t, "openai", config.Defaults.Provider)
	assert.Equal(t, "sk-test", config.Providers["openai"].APIKey)
	assert.NotContains(t, config.ProjectsDir, "~")
}

// TestLoadGlobalConfig_FileOverridesDefaults tests merging of the YAML file.
func TestLoadGlobalConfig_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	projects := filepath.Join(dir, "projects")
	yaml := "projects_dir: " + projects + "\n" +
		"defaults:\n  provider: local\n" +
		"providers:\n  local:\n    base_url: http://127.0.0.1:8080/v1\n    default_model: qwen\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	config, err := NewConfigManagerAt(dir).LoadGlobalConfig()
	require.NoError(t, err)

	assert.Equal(t, projects, config.ProjectsDir)
	assert.Equal(t, "local", config.Defaults.Provider)
	assert.Equal(t, "qwen", config.Providers["local"].DefaultModel)
	assert.Contains(t, config.Providers, "gemini")
}

// TestLoadGlobalConfig_DotEnv tests that .env in the config directory feeds
// key expansion.
func TestLoadGlobalConfig_DotEnv(t *testing.T) {
	const key = "STORYLOOM_TEST_DOTENV_KEY"
	t.Cleanup(func() { os.Unsetenv(key) })

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(key+"=from-dotenv\n"), 0600))
	yaml := "providers:\n  openai:\n    api_key: ${" + key + "}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	config, err := NewConfigManagerAt(dir).LoadGlobalConfig()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", config.Providers["openai"].APIKey)
}

// TestLoadGlobalConfig_Invalid tests validation failures.
func TestLoadGlobalConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad log level", "logging:\n  level: loud\n"},
		{"malformed yaml", "providers: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(tt.yaml), 0644))

			_, err := NewConfigManagerAt(dir).LoadGlobalConfig()
			require.Error(t, err)
		})
	}

	t.Run("bad log level is ErrInvalidConfig", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("logging:\n  level: loud\n"), 0644))
		_, err := NewConfigManagerAt(dir).LoadGlobalConfig()
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

// TestSaveGlobalConfig tests that a saved config is loaded back.
func TestSaveGlobalConfig(t *testing.T) {
	dir := t.TempDir()
	cm := NewConfigManagerAt(dir)

	config := types.DefaultGlobalConfig()
	config.Defaults.Provider = "gemini"
	config.Logging.Level = "debug"
	require.NoError(t, cm.SaveGlobalConfig(config))

	loaded, err := cm.LoadGlobalConfig()
	require.NoError(t, err)
	assert.Equal(t, "gemini", loaded.Defaults.Provider)
	assert.Equal(t, "debug", loaded.Logging.Level)

	_, err = cm.ProviderConfig("anthropic")
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

// TestRawGlobalConfig_KeepsReferences tests that saving an edited raw config
// does not write expanded secrets.
func TestRawGlobalConfig_KeepsReferences(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-secret")
	dir := t.TempDir()
	cm := NewConfigManagerAt(dir)

	raw, err := cm.RawGlobalConfig()
	require.NoError(t, err)
	assert.Equal(t, "${OPENAI_API_KEY}", raw.Providers["openai"].APIKey)

	raw.Defaults.Provider = "gemini"
	require.NoError(t, cm.SaveGlobalConfig(raw))

	data, err := os.ReadFile(cm.Path())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-secret")

	loaded, err := cm.LoadGlobalConfig()
	require.NoError(t, err)
	assert.Equal(t, "sk-secret", loaded.Providers["openai"].APIKey)
}

// =============================================================================
// Provider Tests
// =============================================================================

// TestNewProvider tests provider selection from configuration.
func TestNewProvider(t *testing.T) {
	global := &types.GlobalConfig{
		Providers: map[string]*types.ProviderConfig{
			"openai":   {APIKey: "sk-test", DefaultModel: "gpt-4o"},
			"local":    {BaseURL: "http://localhost:11434/v1", DefaultModel: "llama3"},
			"mystery":  {APIKey: "k"},
			"vllm-box": {BaseURL: "http://10.0.0.2:8000/v1", DefaultModel: "mistral"},
		},
		Defaults: types.DefaultsConfig{Provider: "local"},
	}

	tests := []struct {
		name      string
		cfg       types.LLMConfig
		wantModel string
		wantErr   error
	}{
		{"openai with project model", types.LLMConfig{Provider: "openai", Model: "gpt-4o-mini"}, "gpt-4o-mini", nil},
		{"openai default model", types.LLMConfig{Provider: "openai"}, "gpt-4o", nil},
		{"falls back to default provider", types.LLMConfig{}, "llama3", nil},
		{"compatible server by base url", types.LLMConfig{Provider: "vllm-box"}, "mistral", nil},
		{"unconfigured provider", types.LLMConfig{Provider: "anthropic"}, "", ErrProviderNotFound},
		{"unknown provider without base url", types.LLMConfig{Provider: "mystery"}, "", ErrUnsupportedProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewProvider(context.Background(), global, tt.cfg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, provider)
				return
			}
			require.NoError(t, err)
			defer provider.Close()
			assert.Equal(t, tt.wantModel, provider.Model())
		})
	}

	t.Run("openai without key", func(t *testing.T) {
		global.Providers["openai"].APIKey = ""
		_, err := NewProvider(context.Background(), global, types.LLMConfig{Provider: "openai"})
		assert.ErrorIs(t, err, llm.ErrInvalidAPIKey)
	})
}
