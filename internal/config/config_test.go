package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Name != "go-shell" {
		t.Errorf("Expected server name 'go-shell', got '%s'", cfg.Server.Name)
	}

	if cfg.Shell.DefaultTimeout != 60 {
		t.Errorf("Expected default timeout 60, got %d", cfg.Shell.DefaultTimeout)
	}

	if !strings.HasSuffix(cfg.Shell.WorkspaceDir, "workspace") {
		t.Errorf("Expected workspace dir to end with 'workspace', got '%s'", cfg.Shell.WorkspaceDir)
	}

	if cfg.Shell.LogsDir != filepath.Join(cfg.Shell.WorkspaceDir, "logs") {
		t.Errorf("Expected logs dir under workspace, got '%s'", cfg.Shell.LogsDir)
	}

	if cfg.Background.GracePeriod != 3*time.Second {
		t.Errorf("Expected grace period 3s, got %v", cfg.Background.GracePeriod)
	}

	if cfg.Background.LogExcerptLimit != 500 {
		t.Errorf("Expected log excerpt limit 500, got %d", cfg.Background.LogExcerptLimit)
	}

	if err := validateConfig(cfg); err != nil {
		t.Errorf("Expected default config to be valid, got %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	tempDir := t.TempDir()

	testConfig := DefaultConfig()
	testConfig.Server.Debug = true
	testConfig.Shell.MaxSessions = 20

	testConfigFile := filepath.Join(tempDir, "test_config.json")
	if err := testConfig.SaveToFile(testConfigFile); err != nil {
		t.Fatalf("Failed to save test config: %v", err)
	}

	loadedConfig, err := LoadConfig(testConfigFile)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if !loadedConfig.Server.Debug {
		t.Error("Expected debug to be true")
	}

	if loadedConfig.Shell.MaxSessions != 20 {
		t.Errorf("Expected max sessions 20, got %d", loadedConfig.Shell.MaxSessions)
	}
}

func TestLoadConfigYAML(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "config.yaml")

	content := `
shell:
  workspace_dir: ` + tempDir + `
  default_timeout: 30
background:
  grace_period: 5s
  cleanup_delay: 1m
security:
  extra_dangerous_patterns:
    - "^shutdown"
logging:
  level: debug
  format: text
`
	if err := os.WriteFile(configFile, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(configFile)
	if err != nil {
		t.Fatalf("Failed to load YAML config: %v", err)
	}

	if cfg.Shell.WorkspaceDir != tempDir {
		t.Errorf("Expected workspace %s, got %s", tempDir, cfg.Shell.WorkspaceDir)
	}
	if cfg.Shell.DefaultTimeout != 30 {
		t.Errorf("Expected default timeout 30, got %d", cfg.Shell.DefaultTimeout)
	}
	if cfg.Background.GracePeriod != 5*time.Second {
		t.Errorf("Expected grace period 5s, got %v", cfg.Background.GracePeriod)
	}
	if cfg.Background.CleanupDelay != time.Minute {
		t.Errorf("Expected cleanup delay 1m, got %v", cfg.Background.CleanupDelay)
	}
	if len(cfg.Security.ExtraDangerousPatterns) != 1 || cfg.Security.ExtraDangerousPatterns[0] != "^shutdown" {
		t.Errorf("Unexpected extra dangerous patterns: %v", cfg.Security.ExtraDangerousPatterns)
	}
	// fields absent from the file keep their defaults
	if cfg.Background.LogExcerptLimit != 500 {
		t.Errorf("Expected default log excerpt limit, got %d", cfg.Background.LogExcerptLimit)
	}
}

func TestEnvironmentVariables(t *testing.T) {
	t.Setenv("SHELL_MCP_DEBUG", "true")
	t.Setenv("SHELL_MCP_MAX_SESSIONS", "15")
	t.Setenv("SHELL_MCP_LOG_LEVEL", "debug")
	t.Setenv("SHELL_MCP_SUDO_PASSWORD", "hunter2")
	t.Setenv("SHELL_MCP_GRACE_PERIOD", "1500ms")
	t.Setenv("SHELL_MCP_WRAPPER_DELAY", "500ms")
	t.Setenv("SHELL_MCP_EXTRA_SERVER_PATTERNS", "^rails\\s+server, ^hugo\\s+server")

	config, err := LoadConfig("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if !config.Server.Debug {
		t.Error("Expected debug to be true from environment")
	}

	if config.Shell.MaxSessions != 15 {
		t.Errorf("Expected max sessions 15 from environment, got %d", config.Shell.MaxSessions)
	}

	if config.Logging.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", config.Logging.Level)
	}

	if config.Shell.SudoPassword != "hunter2" {
		t.Errorf("Expected sudo password from environment, got %q", config.Shell.SudoPassword)
	}

	if config.Background.GracePeriod != 1500*time.Millisecond {
		t.Errorf("Expected grace period 1.5s, got %v", config.Background.GracePeriod)
	}

	if config.Background.WrapperDelay != 500*time.Millisecond {
		t.Errorf("Expected wrapper delay 500ms, got %v", config.Background.WrapperDelay)
	}

	if len(config.Security.ExtraServerPatterns) != 2 {
		t.Errorf("Expected 2 extra server patterns, got %v", config.Security.ExtraServerPatterns)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero default timeout", func(c *Config) { c.Shell.DefaultTimeout = 0 }},
		{"max below default", func(c *Config) { c.Shell.MaxTimeout = 10 }},
		{"negative sessions", func(c *Config) { c.Shell.MaxSessions = -1 }},
		{"zero grace period", func(c *Config) { c.Background.GracePeriod = 0 }},
		{"zero wrapper delay", func(c *Config) { c.Background.WrapperDelay = 0 }},
		{"grace period shorter than wrapper delay", func(c *Config) {
			c.Background.GracePeriod = time.Second
			c.Background.WrapperDelay = 2 * time.Second
		}},
		{"grace period equal to wrapper delay", func(c *Config) {
			c.Background.GracePeriod = 2 * time.Second
			c.Background.WrapperDelay = 2 * time.Second
		}},
		{"empty workspace", func(c *Config) { c.Shell.WorkspaceDir = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"bad events port", func(c *Config) {
			c.Events.HTTPEnable = true
			c.Events.HTTPPort = 70000
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			if err := validateConfig(config); err == nil {
				t.Errorf("Expected validation error for %s", tt.name)
			}
		})
	}
}

func TestSaveToFileYAML(t *testing.T) {
	tempDir := t.TempDir()

	config := DefaultConfig()
	config.Shell.WorkspaceDir = tempDir
	config.Background.CleanupDelay = 45 * time.Second

	configFile := filepath.Join(tempDir, "save_test.yml")
	if err := config.SaveToFile(configFile); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded, err := LoadConfig(configFile)
	if err != nil {
		t.Fatalf("Failed to reload config: %v", err)
	}

	if loaded.Background.CleanupDelay != 45*time.Second {
		t.Errorf("Expected cleanup delay 45s, got %v", loaded.Background.CleanupDelay)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	if got := ExpandHome("~/workspace"); got != filepath.Join(home, "workspace") {
		t.Errorf("Expected %s, got %s", filepath.Join(home, "workspace"), got)
	}
	if got := ExpandHome("~"); got != home {
		t.Errorf("Expected %s, got %s", home, got)
	}
	if got := ExpandHome("/tmp/x"); got != "/tmp/x" {
		t.Errorf("Expected absolute path untouched, got %s", got)
	}
}

func TestHelperFunctions(t *testing.T) {
	if !parseBool("true") {
		t.Error("Expected parseBool('true') to return true")
	}

	if parseBool("false") {
		t.Error("Expected parseBool('false') to return false")
	}

	if parseInt("123", 0) != 123 {
		t.Error("Expected parseInt('123', 0) to return 123")
	}

	if parseInt("invalid", 50) != 50 {
		t.Error("Expected parseInt('invalid', 50) to return default 50")
	}

	if got := splitList(" a, ,b "); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Unexpected splitList result: %v", got)
	}
}
