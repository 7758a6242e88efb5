// Package config provides configuration types and loading for pai-slack-bridge.
package config

import "time"

// Config is the root configuration for the bridge process.
type Config struct {
	Slack     SlackConfig
	Agent     AgentConfig
	Queue     QueueConfig
	Thread    ThreadStoreConfig
	Status    StatusConfig
	Allowlist AllowlistConfig
	Debug     bool `envconfig:"DEBUG"`
}

// SlackConfig holds the Slack app credentials and transport settings.
type SlackConfig struct {
	BotToken      string `envconfig:"SLACK_BOT_TOKEN"`
	AppToken      string `envconfig:"SLACK_APP_TOKEN"`
	SigningSecret string `envconfig:"SLACK_SIGNING_SECRET"`
	BotUserID     string `envconfig:"SLACK_BOT_USER_ID"`
	APIBase       string `envconfig:"SLACK_API_BASE" default:"https://slack.com/api"`
	// EventsListenAddr, when non-empty, also starts an HTTP Events API
	// fallback listener alongside Socket Mode.
	EventsListenAddr string `envconfig:"SLACK_EVENTS_ADDR"`
}

// AgentConfig describes how to invoke the external agent CLI.
type AgentConfig struct {
	CLIPath        string `envconfig:"AGENT_CLI_PATH"`
	WorkingDir     string `envconfig:"AGENT_WORKING_DIR" default:"."`
	MaxOutputChars int    `envconfig:"AGENT_MAX_OUTPUT_CHARS" default:"4000"`
}

// QueueConfig configures the on-disk job queue.
type QueueConfig struct {
	BasePath     string        `envconfig:"QUEUE_BASE_PATH" default:"/tmp/pai-slack-queue"`
	PollInterval time.Duration `envconfig:"QUEUE_POLL_INTERVAL" default:"2s"`
}

// ThreadStoreConfig configures the per-thread transcript store.
type ThreadStoreConfig struct {
	// BasePath is overridden by __THREAD_STORE_DIR for tests, per spec.
	BasePath            string        `envconfig:"THREAD_STORE_DIR"`
	ContextBudgetBytes  int           `envconfig:"THREAD_CONTEXT_BUDGET" default:"6000"`
	CleanupMaxAge       time.Duration `envconfig:"THREAD_CLEANUP_MAX_AGE" default:"72h"`
	CleanupEveryNCycles int           `envconfig:"THREAD_CLEANUP_EVERY_N_CYCLES" default:"100"`
}

// StatusConfig configures the operator-facing HTTP status server.
type StatusConfig struct {
	ListenAddr       string `envconfig:"STATUS_LISTEN_ADDR" default:":18889"`
	DeadLetterDBPath string `envconfig:"DEAD_LETTER_DB_PATH" default:"/tmp/pai-slack-queue/deadletters.db"`
}

// AllowlistConfig restricts intake to specific users/channels. An empty
// list means allow-all, per spec.md §4.D.
type AllowlistConfig struct {
	Users    []string `envconfig:"ALLOW_USERS"`
	Channels []string `envconfig:"ALLOW_CHANNELS"`
}

// ThreadStoreDirOverride is the env var tests use to redirect the thread
// store directory, per spec.md §6.
const ThreadStoreDirOverride = "__THREAD_STORE_DIR"

// DefaultConfig returns a Config with sensible defaults, used as the base
// Load overlays environment values onto.
func DefaultConfig() *Config {
	return &Config{
		Queue: QueueConfig{
			BasePath:     "/tmp/pai-slack-queue",
			PollInterval: 2 * time.Second,
		},
		Thread: ThreadStoreConfig{
			ContextBudgetBytes:  6000,
			CleanupMaxAge:       72 * time.Hour,
			CleanupEveryNCycles: 100,
		},
		Status: StatusConfig{
			ListenAddr:       ":18889",
			DeadLetterDBPath: "/tmp/pai-slack-queue/deadletters.db",
		},
		Agent: AgentConfig{
			WorkingDir:     ".",
			MaxOutputChars: 4000,
		},
		Slack: SlackConfig{
			APIBase: "https://slack.com/api",
		},
	}
}
