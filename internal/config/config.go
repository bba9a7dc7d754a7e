package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the shell MCP server
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server" yaml:"server"`

	// Shell execution configuration
	Shell ShellConfig `json:"shell" yaml:"shell"`

	// Background launch configuration
	Background BackgroundConfig `json:"background" yaml:"background"`

	// Security configuration
	Security SecurityConfig `json:"security" yaml:"security"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Database configuration
	Database DatabaseConfig `json:"database" yaml:"database"`

	// Event stream configuration
	Events EventsConfig `json:"events" yaml:"events"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
	Debug   bool   `json:"debug" yaml:"debug"`
}

// ShellConfig holds command execution configuration
type ShellConfig struct {
	WorkspaceDir     string `json:"workspace_dir" yaml:"workspace_dir"`
	LogsDir          string `json:"logs_dir" yaml:"logs_dir"`
	DefaultTimeout   int    `json:"default_timeout" yaml:"default_timeout"` // seconds
	MaxTimeout       int    `json:"max_timeout" yaml:"max_timeout"`         // seconds
	MaxCommandLength int    `json:"max_command_length" yaml:"max_command_length"`
	MaxSessions      int    `json:"max_sessions" yaml:"max_sessions"` // 0 keeps every session
	Shell            string `json:"shell" yaml:"shell"`
	SudoPassword     string `json:"sudo_password,omitempty" yaml:"sudo_password,omitempty"`
}

// BackgroundConfig holds the timings used by the background launcher
type BackgroundConfig struct {
	GracePeriod     time.Duration `json:"grace_period" yaml:"grace_period"`
	WrapperDelay    time.Duration `json:"wrapper_delay" yaml:"wrapper_delay"`
	CleanupDelay    time.Duration `json:"cleanup_delay" yaml:"cleanup_delay"`
	LogExcerptLimit int           `json:"log_excerpt_limit" yaml:"log_excerpt_limit"`
}

// SecurityConfig holds classifier patterns added on top of the built-in rules
type SecurityConfig struct {
	ExtraDangerousPatterns []string `json:"extra_dangerous_patterns" yaml:"extra_dangerous_patterns"`
	ExtraServerPatterns    []string `json:"extra_server_patterns" yaml:"extra_server_patterns"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // "json" or "text"
	Output string `json:"output" yaml:"output"` // "stderr", "stdout", "file", or file path
}

// DatabaseConfig holds the command history database configuration
type DatabaseConfig struct {
	Enable  bool   `json:"enable" yaml:"enable"`
	DataDir string `json:"data_dir" yaml:"data_dir"`
}

// EventsConfig holds event bus and event stream configuration
type EventsConfig struct {
	BufferSize   int  `json:"buffer_size" yaml:"buffer_size"`
	ClientBuffer int  `json:"client_buffer" yaml:"client_buffer"`
	HTTPEnable   bool `json:"http_enable" yaml:"http_enable"`
	HTTPPort     int  `json:"http_port" yaml:"http_port"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	workspace := filepath.Join(homeDir(), "workspace")

	return &Config{
		Server: ServerConfig{
			Name:    "go-shell",
			Version: "1.0.0",
			Debug:   false,
		},
		Shell: ShellConfig{
			WorkspaceDir:     workspace,
			LogsDir:          filepath.Join(workspace, "logs"),
			DefaultTimeout:   60,
			MaxTimeout:       3600,
			MaxCommandLength: 10000,
			MaxSessions:      0,
			Shell:            "/bin/bash",
		},
		Background: BackgroundConfig{
			GracePeriod:     3 * time.Second,
			WrapperDelay:    2 * time.Second,
			CleanupDelay:    30 * time.Second,
			LogExcerptLimit: 500,
		},
		Security: SecurityConfig{
			ExtraDangerousPatterns: []string{},
			ExtraServerPatterns:    []string{},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Database: DatabaseConfig{
			Enable:  true,
			DataDir: filepath.Join(workspace, ".go-shell"),
		},
		Events: EventsConfig{
			BufferSize:   256,
			ClientBuffer: 64,
			HTTPEnable:   false,
			HTTPPort:     8080,
		},
	}
}

// LoadConfig loads configuration from an optional config file and environment variables
func LoadConfig(configFile string) (*Config, error) {
	config := DefaultConfig()

	if configFile != "" {
		if err := loadFromFile(config, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	loadFromEnvironment(config)

	config.Shell.WorkspaceDir = ExpandHome(config.Shell.WorkspaceDir)
	config.Shell.LogsDir = ExpandHome(config.Shell.LogsDir)
	config.Database.DataDir = ExpandHome(config.Database.DataDir)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from a JSON or YAML file, chosen by extension
func loadFromFile(config *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	default:
		return json.Unmarshal(data, config)
	}
}

// loadFromEnvironment loads configuration from environment variables
func loadFromEnvironment(config *Config) {
	if val := os.Getenv("SHELL_MCP_DEBUG"); val != "" {
		config.Server.Debug = parseBool(val)
	}

	// Shell configuration
	if val := os.Getenv("SHELL_MCP_WORKSPACE_DIR"); val != "" {
		config.Shell.WorkspaceDir = val
	}
	if val := os.Getenv("SHELL_MCP_LOGS_DIR"); val != "" {
		config.Shell.LogsDir = val
	}
	if val := os.Getenv("SHELL_MCP_DEFAULT_TIMEOUT"); val != "" {
		config.Shell.DefaultTimeout = parseInt(val, config.Shell.DefaultTimeout)
	}
	if val := os.Getenv("SHELL_MCP_MAX_TIMEOUT"); val != "" {
		config.Shell.MaxTimeout = parseInt(val, config.Shell.MaxTimeout)
	}
	if val := os.Getenv("SHELL_MCP_MAX_COMMAND_LENGTH"); val != "" {
		config.Shell.MaxCommandLength = parseInt(val, config.Shell.MaxCommandLength)
	}
	if val := os.Getenv("SHELL_MCP_MAX_SESSIONS"); val != "" {
		config.Shell.MaxSessions = parseInt(val, config.Shell.MaxSessions)
	}
	if val := os.Getenv("SHELL_MCP_SHELL"); val != "" {
		config.Shell.Shell = val
	}
	if val := os.Getenv("SHELL_MCP_SUDO_PASSWORD"); val != "" {
		config.Shell.SudoPassword = val
	}

	// Background configuration
	if val := os.Getenv("SHELL_MCP_GRACE_PERIOD"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			config.Background.GracePeriod = duration
		}
	}
	if val := os.Getenv("SHELL_MCP_WRAPPER_DELAY"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			config.Background.WrapperDelay = duration
		}
	}
	if val := os.Getenv("SHELL_MCP_CLEANUP_DELAY"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			config.Background.CleanupDelay = duration
		}
	}

	// Security configuration
	if val := os.Getenv("SHELL_MCP_EXTRA_DANGEROUS_PATTERNS"); val != "" {
		config.Security.ExtraDangerousPatterns = splitList(val)
	}
	if val := os.Getenv("SHELL_MCP_EXTRA_SERVER_PATTERNS"); val != "" {
		config.Security.ExtraServerPatterns = splitList(val)
	}

	// Logging configuration
	if val := os.Getenv("SHELL_MCP_LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("SHELL_MCP_LOG_FORMAT"); val != "" {
		config.Logging.Format = val
	}
	if val := os.Getenv("SHELL_MCP_LOG_OUTPUT"); val != "" {
		config.Logging.Output = val
	}

	// Database configuration
	if val := os.Getenv("SHELL_MCP_DATABASE_ENABLE"); val != "" {
		config.Database.Enable = parseBool(val)
	}
	if val := os.Getenv("SHELL_MCP_DATA_DIR"); val != "" {
		config.Database.DataDir = val
	}

	// Events configuration
	if val := os.Getenv("SHELL_MCP_EVENTS_HTTP"); val != "" {
		config.Events.HTTPEnable = parseBool(val)
	}
	if val := os.Getenv("SHELL_MCP_EVENTS_PORT"); val != "" {
		config.Events.HTTPPort = parseInt(val, config.Events.HTTPPort)
	}
}

// validateConfig validates the configuration values
func validateConfig(config *Config) error {
	if config.Shell.WorkspaceDir == "" {
		return fmt.Errorf("workspace_dir must not be empty")
	}

	if config.Shell.DefaultTimeout <= 0 {
		return fmt.Errorf("default_timeout must be greater than 0")
	}

	if config.Shell.MaxTimeout < config.Shell.DefaultTimeout {
		return fmt.Errorf("max_timeout must be at least default_timeout")
	}

	if config.Shell.MaxCommandLength <= 0 {
		return fmt.Errorf("max_command_length must be greater than 0")
	}

	if config.Shell.MaxSessions < 0 {
		return fmt.Errorf("max_sessions must not be negative")
	}

	if config.Background.GracePeriod <= 0 {
		return fmt.Errorf("grace_period must be greater than 0")
	}

	if config.Background.WrapperDelay <= 0 {
		return fmt.Errorf("wrapper_delay must be greater than 0")
	}

	// the launcher reads the wrapper's pid and status files after the grace period
	if config.Background.GracePeriod <= config.Background.WrapperDelay {
		return fmt.Errorf("grace_period (%s) must be longer than wrapper_delay (%s)",
			config.Background.GracePeriod, config.Background.WrapperDelay)
	}

	if config.Background.CleanupDelay < 0 {
		return fmt.Errorf("cleanup_delay must not be negative")
	}

	if config.Background.LogExcerptLimit <= 0 {
		return fmt.Errorf("log_excerpt_limit must be greater than 0")
	}

	if config.Events.BufferSize <= 0 || config.Events.ClientBuffer <= 0 {
		return fmt.Errorf("event buffers must be greater than 0")
	}

	if config.Events.HTTPEnable && (config.Events.HTTPPort <= 0 || config.Events.HTTPPort > 65535) {
		return fmt.Errorf("invalid events http_port: %d", config.Events.HTTPPort)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true, "text": true,
	}
	if !validLogFormats[strings.ToLower(config.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s", config.Logging.Format)
	}

	return nil
}

// ExpandHome replaces a leading "~" with the user's home directory
func ExpandHome(path string) string {
	if path == "~" {
		return homeDir()
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return os.TempDir()
}

// Helper functions for parsing environment variables
func parseBool(s string) bool {
	val, _ := strconv.ParseBool(s)
	return val
}

func parseInt(s string, defaultVal int) int {
	if val, err := strconv.Atoi(s); err == nil {
		return val
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// SaveToFile saves the current configuration to a file, YAML when the extension asks for it
func (c *Config) SaveToFile(filename string) error {
	var (
		data []byte
		err  error
	)

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0o600)
}
