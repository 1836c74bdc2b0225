package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"omnigate/internal/domain"
	"omnigate/internal/lifecycle"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config is the root configuration for omnigate.
type Config struct {
	General   GeneralConfig   `json:"general" yaml:"general"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Reconnect ReconnectConfig `json:"reconnect" yaml:"reconnect"`
	Stream    StreamConfig    `json:"stream" yaml:"stream"`
	Typing    TypingConfig    `json:"typing" yaml:"typing"`
	Relay     RelayConfig     `json:"relay" yaml:"relay"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
	Instances []InstanceEntry `json:"instances" yaml:"instances"`
}

type GeneralConfig struct {
	DataDir   string `json:"dataDir" yaml:"dataDir"`
	LogLevel  string `json:"logLevel" yaml:"logLevel"`
	LogFormat string `json:"logFormat,omitempty" yaml:"logFormat,omitempty"` // "text" | "json"
	LogFile   string `json:"logFile,omitempty" yaml:"logFile,omitempty"`
	// HistoryCap bounds the per-instance buffer behind FetchHistory on
	// WhatsApp and Telegram.
	HistoryCap int `json:"historyCap,omitempty" yaml:"historyCap,omitempty"`
}

type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver"` // "sqlite" | "postgres" | "memory"
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

type ReconnectConfig struct {
	MaxRetries           int `json:"maxRetries" yaml:"maxRetries"`
	BaseDelayMs          int `json:"baseDelayMs" yaml:"baseDelayMs"`
	MaxDelayMs           int `json:"maxDelayMs" yaml:"maxDelayMs"`
	ConnectTimeoutMs     int `json:"connectTimeoutMs" yaml:"connectTimeoutMs"`
	MaxChallengeAttempts int `json:"maxChallengeAttempts" yaml:"maxChallengeAttempts"`
	MaxChallengeCycles   int `json:"maxChallengeCycles" yaml:"maxChallengeCycles"`
}

// StreamConfig holds the streaming edit interval per platform.
type StreamConfig struct {
	WhatsAppThrottleMs int `json:"whatsappThrottleMs" yaml:"whatsappThrottleMs"`
	DiscordThrottleMs  int `json:"discordThrottleMs" yaml:"discordThrottleMs"`
	TelegramThrottleMs int `json:"telegramThrottleMs" yaml:"telegramThrottleMs"`
}

type TypingConfig struct {
	AutoStopMs int `json:"autoStopMs" yaml:"autoStopMs"`
}

type RelayConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Host    string `json:"host" yaml:"host"`
	Port    int    `json:"port" yaml:"port"`
	Path    string `json:"path" yaml:"path"`
}

// MetricsConfig configures the Prometheus endpoint. It is served on the
// relay listener when the relay is enabled, otherwise on its own port.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	Port     int    `json:"port,omitempty" yaml:"port,omitempty"`
}

// InstanceEntry declares one platform account.
type InstanceEntry struct {
	ID          string         `json:"id" yaml:"id"`
	Platform    string         `json:"platform" yaml:"platform"`
	Token       string         `json:"token,omitempty" yaml:"token,omitempty"`
	PhoneNumber string         `json:"phoneNumber,omitempty" yaml:"phoneNumber,omitempty"`
	GuildID     string         `json:"guildId,omitempty" yaml:"guildId,omitempty"`
	AllowFrom   FlexStringList `json:"allowFrom,omitempty" yaml:"allowFrom,omitempty"`
	AutoConnect bool           `json:"autoConnect" yaml:"autoConnect"`
}

// InstanceConfig converts the entry for the plugin layer.
func (e InstanceEntry) InstanceConfig() domain.InstanceConfig {
	return domain.InstanceConfig{
		Token:       e.Token,
		PhoneNumber: e.PhoneNumber,
		GuildID:     e.GuildID,
		AllowFrom:   []string(e.AllowFrom),
	}
}

// Instance looks an entry up by id.
func (c *Config) Instance(id string) (InstanceEntry, bool) {
	for _, e := range c.Instances {
		if e.ID == id {
			return e, true
		}
	}
	return InstanceEntry{}, false
}

// Policy returns the reconnect policy.
func (c *Config) Policy() lifecycle.Policy {
	r := c.Reconnect
	return lifecycle.Policy{
		MaxRetries:             r.MaxRetries,
		BaseDelay:              ms(r.BaseDelayMs),
		MaxDelay:               ms(r.MaxDelayMs),
		UnauthenticatedRetries: 1,
		ConnectTimeout:         ms(r.ConnectTimeoutMs),
		MaxChallengeAttempts:   r.MaxChallengeAttempts,
		MaxChallengeCycles:     r.MaxChallengeCycles,
	}
}

// Throttle returns the streaming edit interval for p.
func (c *Config) Throttle(p domain.Platform) time.Duration {
	switch p {
	case domain.PlatformWhatsApp:
		return ms(c.Stream.WhatsAppThrottleMs)
	case domain.PlatformDiscord:
		return ms(c.Stream.DiscordThrottleMs)
	case domain.PlatformTelegram:
		return ms(c.Stream.TelegramThrottleMs)
	}
	return 0
}

// TypingAutoStop returns how long a typing indicator lasts.
func (c *Config) TypingAutoStop() time.Duration {
	return ms(c.Typing.AutoStopMs)
}

// AuthDBPath is the sqlite auth store file.
func (c *Config) AuthDBPath() string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	return filepath.Join(c.General.DataDir, "auth.db")
}

// DeviceDBPath is the WhatsApp device database.
func (c *Config) DeviceDBPath() string {
	return filepath.Join(c.General.DataDir, "whatsapp.db")
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []jsoniter.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.omnigate).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".omnigate"
	}
	return filepath.Join(home, ".omnigate")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Storage.Path = ExpandPath(cfg.Storage.Path)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

// Save writes cfg as JSON, or YAML when path ends in .yaml/.yml. The file
// holds bot tokens, so it is private to the user.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

var platforms = map[string]bool{
	string(domain.PlatformWhatsApp): true,
	string(domain.PlatformDiscord):  true,
	string(domain.PlatformTelegram): true,
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}

	switch cfg.Storage.Driver {
	case "sqlite", "memory":
	case "postgres":
		if cfg.Storage.DSN == "" {
			errs = append(errs, "storage.dsn is required for the postgres driver")
		}
	default:
		errs = append(errs, "storage.driver must be one of: sqlite, postgres, memory")
	}

	r := cfg.Reconnect
	if r.MaxRetries < 0 {
		errs = append(errs, "reconnect.maxRetries must be >= 0")
	}
	if r.BaseDelayMs < 1 || r.MaxDelayMs < r.BaseDelayMs {
		errs = append(errs, "reconnect.baseDelayMs must be >= 1 and <= reconnect.maxDelayMs")
	}
	if r.ConnectTimeoutMs < 0 {
		errs = append(errs, "reconnect.connectTimeoutMs must be >= 0")
	}
	if r.MaxChallengeAttempts < 1 || r.MaxChallengeCycles < 1 {
		errs = append(errs, "reconnect.maxChallengeAttempts and maxChallengeCycles must be >= 1")
	}

	s := cfg.Stream
	if s.WhatsAppThrottleMs < 0 || s.DiscordThrottleMs < 0 || s.TelegramThrottleMs < 0 {
		errs = append(errs, "stream throttles must be >= 0")
	}
	if cfg.Typing.AutoStopMs < 0 {
		errs = append(errs, "typing.autoStopMs must be >= 0")
	}

	if cfg.Relay.Port < 0 || cfg.Relay.Port > 65535 {
		errs = append(errs, "relay.port must be between 0 and 65535")
	}
	if cfg.Relay.Enabled && !strings.HasPrefix(cfg.Relay.Path, "/") {
		errs = append(errs, "relay.path must start with /")
	}
	if cfg.Metrics.Port < 0 || cfg.Metrics.Port > 65535 {
		errs = append(errs, "metrics.port must be between 0 and 65535")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	seen := make(map[string]bool)
	for i, e := range cfg.Instances {
		switch {
		case e.ID == "":
			errs = append(errs, fmt.Sprintf("instances[%d].id is required", i))
		case seen[e.ID]:
			errs = append(errs, fmt.Sprintf("instances[%d].id %q is duplicated", i, e.ID))
		}
		seen[e.ID] = true
		if !platforms[e.Platform] {
			errs = append(errs, fmt.Sprintf("instances[%d].platform must be one of: whatsapp, discord, telegram", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
