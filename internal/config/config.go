package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Project lookup strategies.
const (
	StrategyDirect     = "direct"
	StrategyIssueAlias = "issue_alias"
)

// ErrMissing is returned when a required setting is absent.
var ErrMissing = errors.New("missing required configuration")

// Config is loaded once at startup and must not be mutated afterwards.
type Config struct {
	Env string `mapstructure:"env"`

	AppID          int64  `mapstructure:"app_id"`
	PrivateKeyPEM  string `mapstructure:"private_key_pem"`
	PrivateKeyPath string `mapstructure:"private_key_path"`
	WebhookSecret  string `mapstructure:"webhook_secret"`
	InstallationID int64  `mapstructure:"installation_id"`
	PersonalToken  string `mapstructure:"github_pat"`
	GitHubHost     string `mapstructure:"github_host"`

	TeamsWebhookURL string `mapstructure:"teams_webhook_url"`
	AMQPURL         string `mapstructure:"amqp_url"`
	AMQPQueue       string `mapstructure:"amqp_queue"`

	ProjectStrategy      string   `mapstructure:"project_strategy"`
	RepoPrefixes         []string `mapstructure:"repo_prefixes"`
	NotifyUnmatchedRepos bool     `mapstructure:"notify_unmatched_repos"`
	ClosedComment        string   `mapstructure:"closed_comment"`
	ProjectPlaceholder   string   `mapstructure:"project_placeholder"`
	DisplayTimezone      string   `mapstructure:"display_timezone"`

	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	WebhookPath string        `mapstructure:"webhook_path"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

// Addr is the listen address of the webhook server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PrivateKey returns the GitHub App private key, reading PrivateKeyPath
// when no inline key is set. Inline keys may carry escaped newlines.
func (c *Config) PrivateKey() ([]byte, error) {
	if c.PrivateKeyPEM != "" {
		return []byte(strings.ReplaceAll(c.PrivateKeyPEM, `\n`, "\n")), nil
	}
	b, err := os.ReadFile(c.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	return b, nil
}

// Location is the zone notification timestamps are rendered in.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.DisplayTimezone)
	if err != nil {
		return nil, fmt.Errorf("loading display timezone %q: %w", c.DisplayTimezone, err)
	}
	return loc, nil
}

// Load reads envFile (when it exists) into the process environment and
// binds every setting from the environment.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	for _, key := range keys {
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.RepoPrefixes = splitList(cfg.RepoPrefixes)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every missing or invalid setting at once.
func (c *Config) Validate() error {
	var missing []string
	if c.AppID == 0 {
		missing = append(missing, "APP_ID")
	}
	if c.PrivateKeyPEM == "" && c.PrivateKeyPath == "" {
		missing = append(missing, "PRIVATE_KEY_PEM")
	}
	if c.WebhookSecret == "" {
		missing = append(missing, "WEBHOOK_SECRET")
	}
	if c.TeamsWebhookURL == "" {
		missing = append(missing, "TEAMS_WEBHOOK_URL")
	}
	if c.ProjectStrategy == StrategyIssueAlias && c.PersonalToken == "" {
		missing = append(missing, "GITHUB_PAT")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
	}

	switch c.ProjectStrategy {
	case StrategyDirect, StrategyIssueAlias:
	default:
		return fmt.Errorf("invalid PROJECT_STRATEGY %q", c.ProjectStrategy)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

var keys = []string{
	"env",
	"app_id",
	"private_key_pem",
	"private_key_path",
	"webhook_secret",
	"installation_id",
	"github_pat",
	"github_host",
	"teams_webhook_url",
	"amqp_url",
	"amqp_queue",
	"project_strategy",
	"repo_prefixes",
	"notify_unmatched_repos",
	"closed_comment",
	"project_placeholder",
	"display_timezone",
	"host",
	"port",
	"webhook_path",
	"http_timeout",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "local")
	v.SetDefault("github_host", "github.com")
	v.SetDefault("amqp_queue", "pr_notifications")
	v.SetDefault("project_strategy", StrategyDirect)
	v.SetDefault("repo_prefixes", []string{"ORA_", "WF_"})
	v.SetDefault("notify_unmatched_repos", true)
	v.SetDefault("closed_comment", "")
	v.SetDefault("project_placeholder", "PR sin Proyecto")
	v.SetDefault("display_timezone", "America/Mexico_City")
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 3000)
	v.SetDefault("webhook_path", "/api/webhook")
	v.SetDefault("http_timeout", 10*time.Second)
}

// MatchesRepo reports whether repository name qualifies for comments.
// An empty prefix list or a "*" entry matches every repository.
func (c *Config) MatchesRepo(name string) bool {
	if len(c.RepoPrefixes) == 0 {
		return true
	}
	for _, p := range c.RepoPrefixes {
		if p == "*" || strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// splitList accepts both "a,b" env values and already-split slices.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
