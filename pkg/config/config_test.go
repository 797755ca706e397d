package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp switches into a fresh directory, optionally seeded with config.yaml.
func chdirTemp(t *testing.T, yamlContent string) {
	t.Helper()
	tmpDir := t.TempDir()
	if yamlContent != "" {
		require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ConfigFile), []byte(yamlContent), 0644))
	}

	originalDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(tmpDir))
	t.Cleanup(func() {
		os.Chdir(originalDir)
	})

	for _, key := range []string{"PGHOST", "PORT", "ENVIRONMENT", "VISION_PROVIDER", "LEARNING_STORE", "GENERATION_DEFAULT_CONFIDENCE", "GENERATION_TIMEOUT"} {
		os.Unsetenv(key)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	chdirTemp(t, `
port: "3080"
env: "test"
database:
  host: "db.example.com"
  port: 5432
  user: "testuser"
  database: "testdb"
generation:
  timeout: "90s"
`)

	t.Setenv("PORT", "4080")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := Load("test-version")
	require.NoError(t, err)

	assert.Equal(t, "4080", cfg.Port)
	assert.Equal(t, "production", cfg.Env)
	assert.Equal(t, "test-version", cfg.Version)
	assert.Equal(t, "db.example.com", cfg.Database.Host)
	assert.Equal(t, 90*time.Second, cfg.Generation.Timeout)
}

func TestLoad_MissingConfigFileUsesDefaults(t *testing.T) {
	chdirTemp(t, "")

	cfg, err := Load("dev")
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Vision.Provider)
	assert.Equal(t, "postgres", cfg.Learning.Store)
	assert.Equal(t, 0.8, cfg.Generation.DefaultConfidence)
	assert.Equal(t, 3, cfg.Generation.MaxAttempts)
	assert.Equal(t, 2*time.Minute, cfg.Generation.Timeout)
	assert.Equal(t, 0.02, cfg.Review.TooSmallArea)
	assert.Equal(t, 0.70, cfg.Review.LowConfidence)
	assert.Equal(t, []string{"admin", "reviewer"}, cfg.Auth.ReviewerRoles)
}

func TestLoad_RejectsUnknownProvider(t *testing.T) {
	chdirTemp(t, "")
	t.Setenv("VISION_PROVIDER", "watercolor")

	_, err := Load("dev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vision.provider")
}

func TestLoad_RejectsDefaultConfidenceOutOfRange(t *testing.T) {
	chdirTemp(t, "")
	t.Setenv("GENERATION_DEFAULT_CONFIDENCE", "1.5")

	_, err := Load("dev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_confidence")
}

func TestParseJWKSEndpoints(t *testing.T) {
	endpoints := parseJWKSEndpoints("https://auth.a=https://auth.a/jwks.json, https://auth.b=https://auth.b/jwks.json,broken")

	assert.Equal(t, map[string]string{
		"https://auth.a": "https://auth.a/jwks.json",
		"https://auth.b": "https://auth.b/jwks.json",
	}, endpoints)
	assert.Empty(t, parseJWKSEndpoints(""))
}

func TestVisionConfig_APIKey(t *testing.T) {
	cfg := VisionConfig{Provider: "anthropic", OpenAIAPIKey: "sk-open", AnthropicAPIKey: "sk-ant"}
	assert.Equal(t, "sk-ant", cfg.APIKey())

	cfg.Provider = "openai"
	assert.Equal(t, "sk-open", cfg.APIKey())
}

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	cfg := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", Database: "aves", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=aves sslmode=disable", cfg.ConnectionString())
}
