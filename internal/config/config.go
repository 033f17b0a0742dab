package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"sitehook/internal/security"
	"sitehook/pkg/cmdutil"

	"gopkg.in/yaml.v3"
)

const (
	DefaultHost             = "127.0.0.1"
	DefaultPort             = 18100
	DefaultDeployCommand    = "./deploy.sh"
	DefaultDeployArgs       = "update"
	DefaultDeployTimeout    = 300 * time.Second
	DefaultServiceName      = "sethstenzel-site"
	DefaultAllowedBranches  = "release"
	DefaultLogFile          = "./webhook_listener.log"
	DefaultGlobalRateLimit  = 120
	DefaultWebhookRateLimit = 30
)

// Environment variables read by Load. Values set here win over the YAML file.
const (
	EnvSecret           = "WEBHOOK_SECRET"
	EnvHost             = "WEBHOOK_HOST"
	EnvPort             = "WEBHOOK_PORT"
	EnvDeployCommand    = "DEPLOY_SCRIPT"
	EnvDeployArgs       = "DEPLOY_ARGS"
	EnvDeployTimeout    = "DEPLOY_TIMEOUT"
	EnvServiceName      = "SERVICE_NAME"
	EnvAllowedBranches  = "ALLOWED_BRANCHES"
	EnvLogFile          = "WEBHOOK_LOG_FILE"
	EnvGlobalRateLimit  = "GLOBAL_RATE_LIMIT"
	EnvWebhookRateLimit = "WEBHOOK_RATE_LIMIT"
	EnvGitHubToken      = "GITHUB_TOKEN"
)

// ErrMissingSecret is returned when no shared secret is configured. The
// listener must not start without one.
var ErrMissingSecret = errors.New(EnvSecret + " must be set")

// LookupFunc resolves an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Config is the listener configuration. It is built once by Load and must
// not be modified afterwards.
type Config struct {
	Secret           string
	Host             string
	Port             int
	DeployCommand    string
	DeployArgs       []string
	DeployTimeout    time.Duration
	ServiceName      string
	AllowedBranches  []string
	LogFile          string
	GlobalRateLimit  int // requests per minute per client, 0 disables
	WebhookRateLimit int // requests per minute per client, 0 disables
	GitHubToken      string
	Source           string // YAML file the values came from, if any
}

// FileConfig represents the optional YAML configuration file
type FileConfig struct {
	Secret           string      `yaml:"secret"`
	Host             string      `yaml:"host"`
	Port             int         `yaml:"port"`
	DeployCommand    string      `yaml:"deploy_command"`
	DeployArgs       interface{} `yaml:"deploy_args"` // string or list
	DeployTimeout    int         `yaml:"deploy_timeout"`
	ServiceName      string      `yaml:"service_name"`
	AllowedBranches  []string    `yaml:"allowed_branches"`
	LogFile          string      `yaml:"log_file"`
	GlobalRateLimit  *int        `yaml:"global_rate_limit"`
	WebhookRateLimit *int        `yaml:"webhook_rate_limit"`
	GitHubToken      string      `yaml:"github_token"`
}

// Default returns the configuration used when nothing is overridden. The
// secret is left empty and must be supplied.
func Default() *Config {
	return &Config{
		Host:             DefaultHost,
		Port:             DefaultPort,
		DeployCommand:    DefaultDeployCommand,
		DeployArgs:       []string{DefaultDeployArgs},
		DeployTimeout:    DefaultDeployTimeout,
		ServiceName:      DefaultServiceName,
		AllowedBranches:  ParseBranches(DefaultAllowedBranches),
		LogFile:          DefaultLogFile,
		GlobalRateLimit:  DefaultGlobalRateLimit,
		WebhookRateLimit: DefaultWebhookRateLimit,
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path (skipped when path is empty) and the environment, then validates it.
func Load(path string, lookup LookupFunc) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	c.Source = path
	if fc.Secret != "" {
		c.Secret = fc.Secret
	}
	if fc.Host != "" {
		c.Host = fc.Host
	}
	if fc.Port != 0 {
		c.Port = fc.Port
	}
	if fc.DeployCommand != "" {
		c.DeployCommand = fc.DeployCommand
	}
	if fc.DeployArgs != nil {
		args, err := cmdutil.ParseCommandList(fc.DeployArgs)
		if err != nil {
			return fmt.Errorf("invalid deploy_args in %s: %w", path, err)
		}
		c.DeployArgs = args
	}
	if fc.DeployTimeout != 0 {
		c.DeployTimeout = time.Duration(fc.DeployTimeout) * time.Second
	}
	if fc.ServiceName != "" {
		c.ServiceName = fc.ServiceName
	}
	if fc.AllowedBranches != nil {
		c.AllowedBranches = fc.AllowedBranches
	}
	if fc.LogFile != "" {
		c.LogFile = fc.LogFile
	}
	if fc.GlobalRateLimit != nil {
		c.GlobalRateLimit = *fc.GlobalRateLimit
	}
	if fc.WebhookRateLimit != nil {
		c.WebhookRateLimit = *fc.WebhookRateLimit
	}
	if fc.GitHubToken != "" {
		c.GitHubToken = fc.GitHubToken
	}

	return nil
}

func (c *Config) applyEnv(lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s %q: must be an integer", key, v)
		}
		*dst = n
		return nil
	}

	str(EnvSecret, &c.Secret)
	str(EnvHost, &c.Host)
	str(EnvDeployCommand, &c.DeployCommand)
	str(EnvServiceName, &c.ServiceName)
	str(EnvLogFile, &c.LogFile)
	str(EnvGitHubToken, &c.GitHubToken)

	if err := num(EnvPort, &c.Port); err != nil {
		return err
	}
	if err := num(EnvGlobalRateLimit, &c.GlobalRateLimit); err != nil {
		return err
	}
	if err := num(EnvWebhookRateLimit, &c.WebhookRateLimit); err != nil {
		return err
	}

	if v, ok := lookup(EnvDeployTimeout); ok && v != "" {
		var seconds int
		if err := num(EnvDeployTimeout, &seconds); err != nil {
			return err
		}
		c.DeployTimeout = time.Duration(seconds) * time.Second
	}

	if v, ok := lookup(EnvDeployArgs); ok && v != "" {
		args, err := cmdutil.ParseCommandString(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvDeployArgs, err)
		}
		c.DeployArgs = args
	}

	if v, ok := lookup(EnvAllowedBranches); ok && v != "" {
		c.AllowedBranches = ParseBranches(v)
	}

	return nil
}

// Validate checks the configuration and reports every problem at once.
// A missing secret is reported on its own as ErrMissingSecret.
func (c *Config) Validate() error {
	if c.Secret == "" {
		return ErrMissingSecret
	}

	var errs []string

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Sprintf("  - port must be between 1 and 65535, got %d", c.Port))
	}

	if c.DeployCommand == "" {
		errs = append(errs, "  - deploy command cannot be empty")
	}

	if c.DeployTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("  - deploy timeout must be positive, got %s", c.DeployTimeout))
	}

	if err := security.ValidateServiceName(c.ServiceName); err != nil {
		errs = append(errs, fmt.Sprintf("  - %v", err))
	}

	if len(c.AllowedBranches) == 0 {
		errs = append(errs, "  - at least one allowed branch is required")
	}
	for _, branch := range c.AllowedBranches {
		if err := security.ValidateBranchName(branch); err != nil {
			errs = append(errs, fmt.Sprintf("  - allowed branch '%s': %v", branch, err))
		}
	}

	if c.GlobalRateLimit < 0 {
		errs = append(errs, fmt.Sprintf("  - global rate limit cannot be negative, got %d", c.GlobalRateLimit))
	}
	if c.WebhookRateLimit < 0 {
		errs = append(errs, fmt.Sprintf("  - webhook rate limit cannot be negative, got %d", c.WebhookRateLimit))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n%s", strings.Join(errs, "\n"))
	}

	return nil
}

// IsAllowedBranch reports whether branch is on the allow-list. Comparison is
// exact and case-sensitive.
func (c *Config) IsAllowedBranch(branch string) bool {
	return slices.Contains(c.AllowedBranches, branch)
}

// DeployCommandLine returns the full argv for the deploy invocation.
func (c *Config) DeployCommandLine() []string {
	return append([]string{c.DeployCommand}, c.DeployArgs...)
}

// ParseBranches splits a comma-separated branch list, trimming whitespace
// and dropping empty entries.
func ParseBranches(list string) []string {
	var branches []string
	for _, b := range strings.Split(list, ",") {
		if b = strings.TrimSpace(b); b != "" {
			branches = append(branches, b)
		}
	}
	return branches
}
