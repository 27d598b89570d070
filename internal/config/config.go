package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config application configuration
type Config struct {
	// Microsoft Graph / mailbox
	TenantID     string `env:"O365_TENANT_ID,required"`
	ClientID     string `env:"O365_CLIENT_ID,required"`
	ClientSecret string `env:"O365_CLIENT_SECRET,required"`
	Principal    string `env:"O365_PRINCIPAL,required"` // mailbox the bridge listens on
	GraphBaseURL string `env:"O365_GRAPH_URL" envDefault:"https://graph.microsoft.com/v1.0"`
	LoginBaseURL string `env:"O365_LOGIN_URL" envDefault:"https://login.microsoftonline.com"`

	// Streaming subscription
	ConnectionTimeout time.Duration `env:"O365_CONNECTION_TIMEOUT" envDefault:"120m"`
	KeepAliveInterval time.Duration `env:"O365_KEEPALIVE_INTERVAL" envDefault:"5m"`

	// Jira
	JiraURL           string   `env:"JIRA_PLATFORM_URL,required"`
	JiraUser          string   `env:"JIRA_PLATFORM_USER,required"`
	JiraToken         string   `env:"JIRA_PLATFORM_TOKEN,required"`
	JiraProjectKey    string   `env:"JIRA_PROJECT_KEY,required"`
	JiraIssueType     string   `env:"JIRA_ISSUE_TYPE" envDefault:"Task"`
	JiraDefaultLabels []string `env:"JIRA_DEFAULT_LABELS" envSeparator:","`
	AutomationDomain  string   `env:"JIRA_AUTOMATION_DOMAIN" envDefault:"automation.atlassian.com"`

	// Filters
	WhitelistedDomains   []string `env:"EMAIL_WHITELISTED_DOMAINS,required" envSeparator:","`
	BlacklistedAddresses []string `env:"EMAIL_BLACKLIST" envSeparator:","`
	IgnoredFolders       []string `env:"MAILBOX_IGNORED_FOLDERS" envSeparator:","` // folder ids holding sent copies

	// Remote call retries
	MaxRetries int `env:"REMOTE_MAX_RETRIES" envDefault:"3"`

	// Database
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/jirabridge.db"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.Principal = strings.ToLower(strings.TrimSpace(cfg.Principal))
	for i, d := range cfg.WhitelistedDomains {
		cfg.WhitelistedDomains[i] = strings.ToLower(strings.TrimSpace(d))
	}
	for i, a := range cfg.BlacklistedAddresses {
		cfg.BlacklistedAddresses[i] = strings.ToLower(strings.TrimSpace(a))
	}

	if !strings.Contains(cfg.Principal, "@") {
		return nil, fmt.Errorf("O365_PRINCIPAL must be a mailbox address, got %q", cfg.Principal)
	}

	return cfg, nil
}
