// Package config loads and validates the process configuration of §6.1,
// the way the teacher's own config.Loader does: viper reads the document,
// envconfig overlays credentials from the environment, validator enforces
// struct tags, and a business-rules pass catches what tags can't express.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

const defaultConfigPath = "./config.json"

// Config is the fully-validated, duration-parsed process configuration.
type Config struct {
	GitHubUsername string
	GitHubToken    string

	WebhookPath   string
	WebhookSecret string

	Repo  string
	Owner string

	Host string
	Port int

	StagingBranch string
	DryRun        bool
	MergedRun     bool

	NecessaryApprovals  int
	SufficientApprovals int
	VotingDelayMin      time.Duration
	VotingDelayMax      time.Duration

	LoggerParams map[string]string
}

// rawConfig is the on-disk shape before duration parsing and business-rule
// validation. Field names use mapstructure tags so viper.Unmarshal can
// read either a JSON or YAML document without reflection surprises.
type rawConfig struct {
	GitHubUsername      string            `mapstructure:"github_username"`
	GitHubToken         string            `mapstructure:"github_token"`
	GitHubWebhookPath   string            `mapstructure:"github_webhook_path" validate:"required"`
	GitHubWebhookSecret string            `mapstructure:"github_webhook_secret"`
	Repo                string            `mapstructure:"repo" validate:"required"`
	Owner               string            `mapstructure:"owner" validate:"required"`
	Host                string            `mapstructure:"host"`
	Port                int               `mapstructure:"port" validate:"required"`
	StagingBranch       string            `mapstructure:"staging_branch" validate:"required"`
	DryRun              bool              `mapstructure:"dry_run"`
	MergedRun           bool              `mapstructure:"merged_run"`
	NecessaryApprovals  int               `mapstructure:"necessary_approvals" validate:"min=1"`
	SufficientApprovals int               `mapstructure:"sufficient_approvals" validate:"min=2"`
	VotingDelayMin      string            `mapstructure:"voting_delay_min" validate:"required"`
	VotingDelayMax      string            `mapstructure:"voting_delay_max" validate:"required"`
	LoggerParams        map[string]string `mapstructure:"logger_params"`
}

var knownKeys = map[string]bool{
	"github_username":       true,
	"github_token":          true,
	"github_webhook_path":   true,
	"github_webhook_secret": true,
	"repo":                  true,
	"owner":                 true,
	"host":                  true,
	"port":                  true,
	"staging_branch":        true,
	"dry_run":               true,
	"merged_run":            true,
	"necessary_approvals":   true,
	"sufficient_approvals":  true,
	"voting_delay_min":      true,
	"voting_delay_max":      true,
	"logger_params":         true,
}

// envOverrides is the credential subset that may additionally come from
// the environment, layered over whatever the document provided.
type envOverrides struct {
	Token         string `envconfig:"GITHUB_TOKEN"`
	Username      string `envconfig:"GITHUB_USERNAME"`
	WebhookSecret string `envconfig:"GITHUB_WEBHOOK_SECRET"`
}

// ValidationError is a user-facing configuration validation failure.
type ValidationError struct{ Message string }

func (e *ValidationError) Error() string { return e.Message }

// Loader loads and validates the configuration document.
type Loader struct {
	validator *validator.Validate
}

// NewLoader builds a Loader.
func NewLoader() *Loader {
	return &Loader{validator: validator.New()}
}

// Load reads configPath (defaulting to ./config.json), overlays
// environment credentials, validates, and returns the parsed Config.
func (l *Loader) Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = defaultConfigPath
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	if ext := strings.TrimPrefix(filepath.Ext(configPath), "."); ext == "yaml" || ext == "yml" {
		v.SetConfigType("yaml")
	} else {
		v.SetConfigType("json")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := rejectUnknownKeys(v.AllSettings()); err != nil {
		return nil, err
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("failed to process environment overrides: %w", err)
	}
	if env.Token != "" {
		raw.GitHubToken = env.Token
	}
	if env.Username != "" {
		raw.GitHubUsername = env.Username
	}
	if env.WebhookSecret != "" {
		raw.GitHubWebhookSecret = env.WebhookSecret
	}

	if err := l.validator.Struct(&raw); err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("config validation failed: %v", err)}
	}

	if raw.GitHubToken == "" {
		return nil, &ValidationError{Message: "github_token must be set in the config document or GITHUB_TOKEN"}
	}
	if raw.SufficientApprovals <= 1 {
		return nil, &ValidationError{Message: "sufficient_approvals must be greater than 1"}
	}

	votingMin, err := time.ParseDuration(raw.VotingDelayMin)
	if err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("voting_delay_min: %v", err)}
	}
	votingMax, err := time.ParseDuration(raw.VotingDelayMax)
	if err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("voting_delay_max: %v", err)}
	}
	if votingMax < votingMin {
		return nil, &ValidationError{Message: "voting_delay_max must be >= voting_delay_min"}
	}

	return &Config{
		GitHubUsername:      raw.GitHubUsername,
		GitHubToken:         raw.GitHubToken,
		WebhookPath:         raw.GitHubWebhookPath,
		WebhookSecret:       raw.GitHubWebhookSecret,
		Repo:                raw.Repo,
		Owner:               raw.Owner,
		Host:                raw.Host,
		Port:                raw.Port,
		StagingBranch:       raw.StagingBranch,
		DryRun:              raw.DryRun,
		MergedRun:           raw.MergedRun,
		NecessaryApprovals:  raw.NecessaryApprovals,
		SufficientApprovals: raw.SufficientApprovals,
		VotingDelayMin:      votingMin,
		VotingDelayMax:      votingMax,
		LoggerParams:        raw.LoggerParams,
	}, nil
}

func rejectUnknownKeys(settings map[string]interface{}) error {
	var unknown []string
	for key := range settings {
		if !knownKeys[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		return &ValidationError{Message: fmt.Sprintf("unknown configuration keys: %s", strings.Join(unknown, ", "))}
	}
	return nil
}
