package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix envconfig looks for ahead of each field's
// name. envconfig also inserts the name of the enclosing Config field,
// so the prefixed bot token variable is
// PAI_SLACK_BRIDGE_SLACK_SLACK_BOT_TOKEN.
const EnvPrefix = "PAI_SLACK_BRIDGE"

// Load reads the bridge configuration from environment variables (and, if
// present, an env file discovered by LoadEnvFileCandidates), validating
// the fields the bridge cannot start without.
//
// Tokens are also accepted unprefixed (SLACK_BOT_TOKEN, SLACK_APP_TOKEN,
// AGENT_CLI_PATH, ...) since that is how they are documented in spec.md §6
// and how operators are used to setting them for Slack apps.
func Load() (*Config, error) {
	LoadEnvFileCandidates()

	cfg := DefaultConfig()
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	applyUnprefixedFallbacks(cfg)

	if override := strings.TrimSpace(os.Getenv(ThreadStoreDirOverride)); override != "" {
		cfg.Thread.BasePath = override
	}
	if cfg.Thread.BasePath == "" {
		cfg.Thread.BasePath = cfg.Queue.BasePath + "/threads"
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyUnprefixedFallbacks lets the common Slack-app env var names work
// without the PAI_SLACK_BRIDGE_ prefix, matching how the teacher's
// channelbridge reads SLACK_BOT_TOKEN directly (cmd/channelbridge/main.go).
func applyUnprefixedFallbacks(cfg *Config) {
	if cfg.Slack.BotToken == "" {
		cfg.Slack.BotToken = strings.TrimSpace(os.Getenv("SLACK_BOT_TOKEN"))
	}
	if cfg.Slack.AppToken == "" {
		cfg.Slack.AppToken = strings.TrimSpace(os.Getenv("SLACK_APP_TOKEN"))
	}
	if cfg.Slack.SigningSecret == "" {
		cfg.Slack.SigningSecret = strings.TrimSpace(os.Getenv("SLACK_SIGNING_SECRET"))
	}
	if cfg.Slack.BotUserID == "" {
		cfg.Slack.BotUserID = strings.TrimSpace(os.Getenv("SLACK_BOT_USER_ID"))
	}
	if cfg.Agent.CLIPath == "" {
		cfg.Agent.CLIPath = strings.TrimSpace(os.Getenv("AGENT_CLI_PATH"))
	}
}

// validate enforces the configuration-fatal error policy from spec.md §7:
// a missing required token or CLI path fails process startup with a
// descriptive message, never a panic.
func validate(cfg *Config) error {
	var missing []string
	if strings.TrimSpace(cfg.Slack.BotToken) == "" {
		missing = append(missing, "SLACK_BOT_TOKEN")
	}
	if strings.TrimSpace(cfg.Slack.AppToken) == "" {
		missing = append(missing, "SLACK_APP_TOKEN")
	}
	if strings.TrimSpace(cfg.Agent.CLIPath) == "" {
		missing = append(missing, "AGENT_CLI_PATH")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}
