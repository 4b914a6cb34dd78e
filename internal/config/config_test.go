package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cphillipson/mergebot/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const validConfig = `{
  "github_username": "mergebot",
  "github_token": "token-from-file",
  "github_webhook_path": "/hooks/github",
  "github_webhook_secret": "s3cr3t",
  "repo": "widgets",
  "owner": "acme",
  "host": "0.0.0.0",
  "port": 8080,
  "staging_branch": "staging",
  "dry_run": false,
  "merged_run": false,
  "necessary_approvals": 2,
  "sufficient_approvals": 3,
  "voting_delay_min": "1h",
  "voting_delay_max": "24h",
  "logger_params": {"level": "info"}
}`

func TestLoad_ValidConfig_Succeeds(t *testing.T) {
	path := writeConfig(t, validConfig)

	cfg, err := config.NewLoader().Load(path)

	require.NoError(t, err)
	assert.Equal(t, "acme", cfg.Owner)
	assert.Equal(t, "widgets", cfg.Repo)
	assert.Equal(t, time.Hour, cfg.VotingDelayMin)
	assert.Equal(t, 24*time.Hour, cfg.VotingDelayMax)
	assert.Equal(t, 3, cfg.SufficientApprovals)
}

func TestLoad_SufficientApprovalsNotGreaterThanOne_Fails(t *testing.T) {
	content := `{
  "github_username": "mergebot",
  "github_token": "token-from-file",
  "github_webhook_path": "/hooks/github",
  "repo": "widgets",
  "owner": "acme",
  "port": 8080,
  "staging_branch": "staging",
  "necessary_approvals": 1,
  "sufficient_approvals": 1,
  "voting_delay_min": "1h",
  "voting_delay_max": "24h"
}`
	path := writeConfig(t, content)

	_, err := config.NewLoader().Load(path)

	require.Error(t, err)
}

func TestLoad_UnknownKey_Fails(t *testing.T) {
	content := `{
  "github_token": "token-from-file",
  "github_webhook_path": "/hooks/github",
  "repo": "widgets",
  "owner": "acme",
  "port": 8080,
  "staging_branch": "staging",
  "necessary_approvals": 2,
  "sufficient_approvals": 3,
  "voting_delay_min": "1h",
  "voting_delay_max": "24h",
  "typo_field": true
}`
	path := writeConfig(t, content)

	_, err := config.NewLoader().Load(path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "typo_field")
}

func TestLoad_InvalidDuration_Fails(t *testing.T) {
	content := `{
  "github_token": "token-from-file",
  "github_webhook_path": "/hooks/github",
  "repo": "widgets",
  "owner": "acme",
  "port": 8080,
  "staging_branch": "staging",
  "necessary_approvals": 2,
  "sufficient_approvals": 3,
  "voting_delay_min": "not-a-duration",
  "voting_delay_max": "24h"
}`
	path := writeConfig(t, content)

	_, err := config.NewLoader().Load(path)

	require.Error(t, err)
}

func TestLoad_MissingFile_Fails(t *testing.T) {
	_, err := config.NewLoader().Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.Error(t, err)
}

func TestLoad_EnvOverridesToken(t *testing.T) {
	content := `{
  "github_webhook_path": "/hooks/github",
  "repo": "widgets",
  "owner": "acme",
  "port": 8080,
  "staging_branch": "staging",
  "necessary_approvals": 2,
  "sufficient_approvals": 3,
  "voting_delay_min": "1h",
  "voting_delay_max": "24h"
}`
	path := writeConfig(t, content)
	t.Setenv("GITHUB_TOKEN", "token-from-env")

	cfg, err := config.NewLoader().Load(path)

	require.NoError(t, err)
	assert.Equal(t, "token-from-env", cfg.GitHubToken)
}
