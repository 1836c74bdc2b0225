package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"omnigate/internal/domain"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mut  func(c *Config)
		want string
	}{
		{"log level", func(c *Config) { c.General.LogLevel = "loud" }, "general.logLevel"},
		{"log format", func(c *Config) { c.General.LogFormat = "xml" }, "general.logFormat"},
		{"driver", func(c *Config) { c.Storage.Driver = "redis" }, "storage.driver"},
		{"postgres dsn", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.dsn"},
		{"delays", func(c *Config) { c.Reconnect.MaxDelayMs = 10 }, "reconnect.baseDelayMs"},
		{"challenge", func(c *Config) { c.Reconnect.MaxChallengeCycles = 0 }, "maxChallengeCycles"},
		{"relay port", func(c *Config) { c.Relay.Port = 70000 }, "relay.port"},
		{"relay path", func(c *Config) { c.Relay.Enabled = true; c.Relay.Path = "events" }, "relay.path"},
		{"metrics endpoint", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Endpoint = "" }, "metrics.endpoint"},
		{"instance id", func(c *Config) { c.Instances = []InstanceEntry{{Platform: "discord"}} }, "instances[0].id"},
		{"duplicate id", func(c *Config) {
			c.Instances = []InstanceEntry{{ID: "a", Platform: "discord"}, {ID: "a", Platform: "telegram"}}
		}, "duplicated"},
		{"platform", func(c *Config) { c.Instances = []InstanceEntry{{ID: "a", Platform: "slack"}} }, "instances[0].platform"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mut(cfg)
			err := Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("got %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	for _, name := range []string{"config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)

			original := Defaults()
			original.Instances = []InstanceEntry{{ID: "wa-1", Platform: "whatsapp", PhoneNumber: "5511999", AutoConnect: true}}

			if err := Save(path, original); err != nil {
				t.Fatalf("save: %v", err)
			}
			if fi, err := os.Stat(path); err != nil || fi.Mode().Perm() != 0o600 {
				t.Errorf("config file mode = %v %v", fi.Mode(), err)
			}

			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			e, ok := loaded.Instance("wa-1")
			if !ok || e.PhoneNumber != "5511999" || !e.AutoConnect {
				t.Fatalf("instance = %+v %v", e, ok)
			}
		})
	}
}

func TestLoad_YAMLNumericAllowList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	content := `
instances:
  - id: tg
    platform: telegram
    token: abc
    allowFrom: [12345, "@ana"]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	ic := cfg.Instances[0].InstanceConfig()
	if len(ic.AllowFrom) != 2 || ic.AllowFrom[0] != "12345" || ic.Token != "abc" {
		t.Errorf("instance config = %+v", ic)
	}
	if cfg.Reconnect.MaxRetries != 5 {
		t.Error("defaults should fill unspecified sections")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte("{not json}"), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"instances": [{"id": "x", "platform": "irc"}]}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for unknown platform")
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_OMNIGATE_DISCORD_TOKEN", "bot-token")

	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"general": {"dataDir": "${TEST_OMNIGATE_DATA:-/tmp/omnigate}"},
		"instances": [{"id": "dc", "platform": "discord", "token": "${TEST_OMNIGATE_DISCORD_TOKEN}"}]
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.General.DataDir != "/tmp/omnigate" {
		t.Errorf("dataDir = %q", cfg.General.DataDir)
	}
	if cfg.Instances[0].Token != "bot-token" {
		t.Errorf("token = %q", cfg.Instances[0].Token)
	}
	if cfg.AuthDBPath() != "/tmp/omnigate/auth.db" {
		t.Errorf("auth db = %q", cfg.AuthDBPath())
	}
}

// --- Runtime views ---

func TestPolicyAndThrottle(t *testing.T) {
	cfg := Defaults()
	p := cfg.Policy()
	if p.MaxRetries != 5 || p.BaseDelay != time.Second || p.MaxDelay != 30*time.Second || p.ConnectTimeout != time.Minute {
		t.Errorf("policy = %+v", p)
	}
	if p.MaxChallengeAttempts != 3 || p.MaxChallengeCycles != 2 {
		t.Errorf("challenge limits = %+v", p)
	}
	for platform, want := range map[domain.Platform]time.Duration{
		domain.PlatformWhatsApp: 2500 * time.Millisecond,
		domain.PlatformDiscord:  1500 * time.Millisecond,
		domain.PlatformTelegram: 900 * time.Millisecond,
	} {
		if got := cfg.Throttle(platform); got != want {
			t.Errorf("%s throttle = %s", platform, got)
		}
	}
	if cfg.TypingAutoStop() != 5*time.Second {
		t.Errorf("typing = %s", cfg.TypingAutoStop())
	}
}

// --- Accessor ---

func TestGetByPath_ValidPaths(t *testing.T) {
	cfg := Defaults()
	val, err := GetByPath(cfg, "storage.driver")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "sqlite" {
		t.Fatalf("expected 'sqlite', got %v", val)
	}
}

func TestGetByPath_ArrayIndex(t *testing.T) {
	cfg := Defaults()
	cfg.Instances = []InstanceEntry{{ID: "dc", Platform: "discord"}}
	val, err := GetByPath(cfg, "instances.0.platform")
	if err != nil || val != "discord" {
		t.Fatalf("got %v %v", val, err)
	}
	if _, err := GetByPath(cfg, "instances.3.platform"); err == nil {
		t.Fatal("expected error for out-of-range index")
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	cfg := Defaults()
	_, err := GetByPath(cfg, "nonexistent.path")
	if err == nil {
		t.Fatal("expected error for nonexistent path")
	}
}

func TestSetByPath_Conversions(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "relay.enabled", "true"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if err := SetByPath(cfg, "typing.autoStopMs", "2000"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if err := SetByPath(cfg, "general.logLevel", "debug"); err != nil {
		t.Fatalf("set string: %v", err)
	}
	if !cfg.Relay.Enabled || cfg.Typing.AutoStopMs != 2000 || cfg.General.LogLevel != "debug" {
		t.Fatalf("config = %+v", cfg)
	}
}

func TestSetByPath_ListElements(t *testing.T) {
	cfg := Defaults()
	cfg.Instances = []InstanceEntry{
		{ID: "wa", Platform: "whatsapp"},
		{ID: "tg", Platform: "telegram"},
	}
	tests := []struct {
		path, value string
		check       func() bool
	}{
		{"instances.0.phoneNumber", "5511999990000", func() bool { return cfg.Instances[0].PhoneNumber == "5511999990000" }},
		{"instances.0.allowFrom", "5511, 5522", func() bool {
			return len(cfg.Instances[0].AllowFrom) == 2 && cfg.Instances[0].AllowFrom[1] == "5522"
		}},
		{"instances.1.autoConnect", "true", func() bool { return cfg.Instances[1].AutoConnect }},
		{"instances.1.token", "12345", func() bool { return cfg.Instances[1].Token == "12345" }},
	}
	for _, tt := range tests {
		if err := SetByPath(cfg, tt.path, tt.value); err != nil {
			t.Fatalf("set %s: %v", tt.path, err)
		}
		if !tt.check() {
			t.Errorf("%s not applied: %+v", tt.path, cfg.Instances)
		}
	}
	if cfg.Instances[1].ID != "tg" || cfg.Instances[0].Platform != "whatsapp" {
		t.Errorf("siblings changed: %+v", cfg.Instances)
	}
}

func TestSetByPath_Errors(t *testing.T) {
	cfg := Defaults()
	cfg.Instances = []InstanceEntry{{ID: "wa", Platform: "whatsapp"}}
	for _, tt := range []struct{ path, value string }{
		{"instances.4.phoneNumber", "1"},
		{"instances.x.phoneNumber", "1"},
		{"instances.0.nope", "1"},
		{"typing.autoStopMs", "soon"},
		{"relay.enabled", "maybe"},
		{"general.logLevel.deeper", "x"},
		{"", "x"},
	} {
		if err := SetByPath(cfg, tt.path, tt.value); err == nil {
			t.Errorf("SetByPath(%q, %q) should fail", tt.path, tt.value)
		}
	}
	if cfg.Instances[0].PhoneNumber != "" || cfg.Typing.AutoStopMs != Defaults().Typing.AutoStopMs {
		t.Errorf("failed sets changed config: %+v", cfg)
	}
}

// --- Sanitize ---

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Storage.DSN = "postgres://user:pass@db/omnigate"
	cfg.Instances = []InstanceEntry{
		{ID: "tg", Platform: "telegram", Token: "123456789:ABCdefGHIjklMNOpqrSTUvwxyz"},
		{ID: "dc", Platform: "discord", Token: "short"},
	}

	sanitized := Sanitize(cfg)

	if sanitized.Instances[0].Token != "1234****wxyz" {
		t.Errorf("telegram token = %q", sanitized.Instances[0].Token)
	}
	if sanitized.Instances[1].Token != "***" {
		t.Errorf("short token = %q", sanitized.Instances[1].Token)
	}
	if sanitized.Storage.DSN == cfg.Storage.DSN {
		t.Error("dsn should be masked")
	}
	if cfg.Instances[0].Token != "123456789:ABCdefGHIjklMNOpqrSTUvwxyz" {
		t.Fatal("original config should not be modified")
	}
}

// --- ListPaths ---

func TestListPaths_ReturnsAllLeaves(t *testing.T) {
	paths := ListPaths(Defaults())
	for _, expected := range []string{"general.dataDir", "reconnect.maxRetries", "stream.telegramThrottleMs", "relay.port"} {
		if _, ok := paths[expected]; !ok {
			t.Errorf("missing expected path: %s", expected)
		}
	}

	cfg := Defaults()
	cfg.Instances = []InstanceEntry{{ID: "wa", Platform: "whatsapp", PhoneNumber: "5511"}}
	paths = ListPaths(cfg)
	if paths["instances.0.phoneNumber"] != "5511" {
		t.Errorf("instances.0.phoneNumber = %v", paths["instances.0.phoneNumber"])
	}
}

// --- FlexStringList ---

func TestFlexStringList_MixedTypes(t *testing.T) {
	var list FlexStringList
	if err := json.Unmarshal([]byte(`["hello", 123, "world", 456.0]`), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list) != 4 || list[0] != "hello" || list[2] != "world" {
		t.Fatalf("string items mismatch: %v", list)
	}
	if list[1] != "123" || list[3] != "456" {
		t.Fatalf("number conversion mismatch: %v", list)
	}
}

func TestFlexStringList_InvalidJSON(t *testing.T) {
	var list FlexStringList
	if err := json.Unmarshal([]byte(`not json`), &list); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("OMNIGATE_TEST_TOKEN", "tok")
	t.Setenv("OMNIGATE_TEST_EMPTY", "")
	os.Unsetenv("OMNIGATE_TEST_UNSET")

	tests := []struct{ in, want string }{
		{`"${OMNIGATE_TEST_TOKEN}"`, `"tok"`},
		{`"${OMNIGATE_TEST_UNSET:-8787}"`, `"8787"`},
		{`"${OMNIGATE_TEST_TOKEN:-x}"`, `"tok"`},
		{`"${OMNIGATE_TEST_EMPTY:-fallback}"`, `"fallback"`},
		{`"${OMNIGATE_TEST_UNSET}"`, `"${OMNIGATE_TEST_UNSET}"`},
		{`"$HOME is not substituted"`, `"$HOME is not substituted"`},
	}
	for _, tt := range tests {
		if got := ExpandEnvVars(tt.in); got != tt.want {
			t.Errorf("ExpandEnvVars(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandPath("~/x/auth.db"); got != filepath.Join(home, "x/auth.db") {
		t.Errorf("got %q", got)
	}
	if got := ExpandPath("/abs"); got != "/abs" {
		t.Errorf("got %q", got)
	}
}
