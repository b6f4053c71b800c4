// ABOUTME: Configuration loading and parsing for localslackirc
// ABOUTME: YAML or TOML files with env var expansion, env overrides, secret files and validation

package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Built-in defaults.
const (
	DefaultIP            = "127.0.0.1"
	DefaultPort          = 9007
	DefaultPollInterval  = 2 * time.Second
	DefaultMPIMHideDelay = 50 * 24 * time.Hour
)

// Config is the complete localslackirc configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Slack     SlackConfig     `yaml:"slack" toml:"slack"`
	Rocket    RocketConfig    `yaml:"rocket" toml:"rocket"`
	Gateway   GatewayConfig   `yaml:"gateway" toml:"gateway"`
	Status    StatusConfig    `yaml:"status" toml:"status"`
	Health    HealthConfig    `yaml:"health" toml:"health"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the IRC listener configuration
type ServerConfig struct {
	IP   string `yaml:"ip" toml:"ip"`
	Port int    `yaml:"port" toml:"port"`
	// OverrideLocalIP allows listening on a non 127.x address.
	OverrideLocalIP bool `yaml:"override_local_ip" toml:"override_local_ip"`
	// PasswordHash is a bcrypt hash the client must match with PASS.
	PasswordHash string `yaml:"password_hash" toml:"password_hash"`

	PollInterval    time.Duration `yaml:"-" toml:"-"`
	PollIntervalRaw string        `yaml:"poll_interval" toml:"poll_interval"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// SlackConfig holds the credentials. The token is shared with Rocket.Chat
// unless rocket.token is set.
type SlackConfig struct {
	Token      string `yaml:"token" toml:"token"`
	TokenFile  string `yaml:"token_file" toml:"token_file"`
	Cookie     string `yaml:"cookie" toml:"cookie"`
	CookieFile string `yaml:"cookie_file" toml:"cookie_file"`
}

// RocketConfig selects the Rocket.Chat backend when URL is set
type RocketConfig struct {
	URL   string `yaml:"url" toml:"url"`
	Token string `yaml:"token" toml:"token"`
}

// GatewayConfig holds session behaviour
type GatewayConfig struct {
	AutoJoin   bool `yaml:"autojoin" toml:"autojoin"`
	NoUserList bool `yaml:"nouserlist" toml:"nouserlist"`

	MPIMHideDelay    time.Duration `yaml:"-" toml:"-"`
	MPIMHideDelayRaw string        `yaml:"mpim_hide_delay" toml:"mpim_hide_delay"`
}

// StatusConfig selects where the stream watermark is persisted
type StatusConfig struct {
	Driver    string `yaml:"driver" toml:"driver"`
	Path      string `yaml:"path" toml:"path"`
	RedisAddr string `yaml:"redis_addr" toml:"redis_addr"`
	RedisKey  string `yaml:"redis_key" toml:"redis_key"`
}

// HealthConfig enables the HTTP health endpoint when Addr is set
type HealthConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	// Suffix tags every log line with an instance name.
	Suffix string `yaml:"suffix" toml:"suffix"`
}

// Default returns a configuration holding only the built-in defaults.
func Default() *Config {
	tokenFile := ".localslackirc"
	if home, err := os.UserHomeDir(); err == nil {
		tokenFile = filepath.Join(home, ".localslackirc")
	}
	return &Config{
		Server: ServerConfig{
			IP:           DefaultIP,
			Port:         DefaultPort,
			PollInterval: DefaultPollInterval,
		},
		Slack:   SlackConfig{TokenFile: tokenFile},
		Gateway: GatewayConfig{MPIMHideDelay: DefaultMPIMHideDelay},
		Status:  StatusConfig{Driver: "file"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file over the defaults. Environment variables in
// the format ${VAR_NAME} are expanded. Files ending in .toml are parsed as
// TOML, everything else as YAML. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Server.PollIntervalRaw != "" {
		cfg.Server.PollInterval, err = time.ParseDuration(cfg.Server.PollIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing poll_interval %q: %w", cfg.Server.PollIntervalRaw, err)
		}
	}

	if cfg.Gateway.MPIMHideDelayRaw != "" {
		cfg.Gateway.MPIMHideDelay, err = time.ParseDuration(cfg.Gateway.MPIMHideDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing mpim_hide_delay %q: %w", cfg.Gateway.MPIMHideDelayRaw, err)
		}
	}

	return nil
}

// ApplyEnv overrides settings from the environment variables the classic
// localslackirc deployment uses. lookup is normally os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			*dst = strings.EqualFold(v, "true")
		}
	}

	if v, ok := lookup("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	str("IP_ADDRESS", &c.Server.IP)
	flag("OVERRIDE_LOCAL_IP", &c.Server.OverrideLocalIP)
	str("TOKEN", &c.Slack.Token)
	str("COOKIE", &c.Slack.Cookie)
	flag("AUTOJOIN", &c.Gateway.AutoJoin)
	flag("NOUSERLIST", &c.Gateway.NoUserList)
	str("RC_URL", &c.Rocket.URL)
	str("STATUS_FILE", &c.Status.Path)
	str("LOG_SUFFIX", &c.Logging.Suffix)
	return nil
}

// ResolveSecrets reads the token and cookie files when the values were not
// given directly. Only the first line of each file is used.
func (c *Config) ResolveSecrets() error {
	if c.Slack.Token == "" && c.Slack.TokenFile != "" {
		token, err := readFirstLine(c.Slack.TokenFile)
		if err != nil {
			return fmt.Errorf("token file: %w", err)
		}
		c.Slack.Token = token
	}
	if c.Slack.Cookie == "" && c.Slack.CookieFile != "" {
		cookie, err := readFirstLine(c.Slack.CookieFile)
		if err != nil {
			return fmt.Errorf("cookie file: %w", err)
		}
		c.Slack.Cookie = cookie
	}
	return nil
}

func readFirstLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("unable to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("not a file %s", path)
	}

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return strings.TrimSpace(line), nil
}

// IsRocket reports whether the Rocket.Chat backend is selected.
func (c *Config) IsRocket() bool { return c.Rocket.URL != "" }

// RocketToken returns the Rocket.Chat token, falling back to the shared token.
func (c *Config) RocketToken() string {
	if c.Rocket.Token != "" {
		return c.Rocket.Token
	}
	return c.Slack.Token
}

// ListenAddr is the IRC listener address.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.IP, strconv.Itoa(c.Server.Port))
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && !c.Server.OverrideLocalIP && !strings.HasPrefix(c.Server.IP, "127") {
		return fmt.Errorf("server.ip %s is not a local address (set override_local_ip to allow it)", c.Server.IP)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if c.Server.PollInterval <= 0 {
		return fmt.Errorf("server.poll_interval must be positive")
	}
	if c.Server.PasswordHash != "" {
		if _, err := bcrypt.Cost([]byte(c.Server.PasswordHash)); err != nil {
			return fmt.Errorf("server.password_hash is not a bcrypt hash: %w", err)
		}
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.IsRocket() {
		if c.RocketToken() == "" {
			return fmt.Errorf("a token is required")
		}
	} else {
		if c.Slack.Token == "" {
			return fmt.Errorf("a token is required")
		}
		if strings.HasPrefix(c.Slack.Token, "xoxc-") && c.Slack.Cookie == "" {
			return fmt.Errorf("the cookie is needed for this kind of slack token")
		}
	}

	switch c.Status.Driver {
	case "", "file":
	case "sqlite":
		if c.Status.Path == "" {
			return fmt.Errorf("status.path is required for the sqlite driver")
		}
	case "redis":
		if c.Status.RedisAddr == "" {
			return fmt.Errorf("status.redis_addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("status.driver %q is not one of file, sqlite, redis", c.Status.Driver)
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	return nil
}
