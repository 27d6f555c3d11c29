// Package config provides configuration management for the orchestrator
// daemon, following the teacher's viper-based loader: defaults, then
// config.yaml, then JAT_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/jpatrickfarrell/jat-sub014/internal/logging"
)

// Config holds all configuration sections for jatd.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   logging.Config  `mapstructure:"logging"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Session   SessionConfig   `mapstructure:"session"`
	TaskStore TaskStoreConfig `mapstructure:"taskStore"`
	MailBus   MailBusConfig   `mapstructure:"mailBus"`
	Rules     RulesConfig     `mapstructure:"rules"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`
	WriteTimeout int    `mapstructure:"writeTimeout"`
}

// CaptureConfig controls the Capture Engine cadence (spec §4.3).
type CaptureConfig struct {
	FocusedCadenceMS    int `mapstructure:"focusedCadenceMs"`
	BackgroundCadenceMS int `mapstructure:"backgroundCadenceMs"`
	WindowLines         int `mapstructure:"windowLines"`
	RingLines           int `mapstructure:"ringLines"`
}

// SessionConfig mirrors the `defaults` object of spec §6.5.
type SessionConfig struct {
	Model                 string `mapstructure:"model"`
	MaxSessions            int   `mapstructure:"maxSessions"`
	DefaultAgentCount      int   `mapstructure:"defaultAgentCount"`
	AgentStaggerSeconds    int   `mapstructure:"agentStagger"`
	ClaudeStartupTimeoutS  int   `mapstructure:"claudeStartupTimeout"`
	Terminal               string `mapstructure:"terminal"`
	Editor                 string `mapstructure:"editor"`
	ToolsPath              string `mapstructure:"toolsPath"`
	ClaudeFlags            string `mapstructure:"claudeFlags"`
	TmuxPrefix             string `mapstructure:"tmuxPrefix"`
	ServerSessionPrefix    string `mapstructure:"serverSessionPrefix"`
	SignalDecaySeconds     int    `mapstructure:"signalDecaySeconds"`
}

// TaskStoreConfig configures the opaque `bd` CLI collaborator.
type TaskStoreConfig struct {
	BinaryPath string `mapstructure:"binaryPath"`
}

// MailBusConfig configures the opaque agent-mail HTTP collaborator.
type MailBusConfig struct {
	BaseURL string `mapstructure:"baseUrl"`
}

// RulesConfig configures the persisted rule store and preset search path.
type RulesConfig struct {
	DBPath        string `mapstructure:"dbPath"`
	PresetsDir    string `mapstructure:"presetsDir"`
}

// Load reads configuration from defaults, config.yaml and JAT_ environment
// variables, in that precedence order (later wins).
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath is Load with an explicit extra search directory for config.yaml.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("JAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/jat/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := applyDefaultsFile(&cfg); err != nil {
		return nil, fmt.Errorf("applying defaults file: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 7890)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 0) // SSE streams must not be write-timed out

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("capture.focusedCadenceMs", 500)
	v.SetDefault("capture.backgroundCadenceMs", 2000)
	v.SetDefault("capture.windowLines", 500)
	v.SetDefault("capture.ringLines", 2000)

	v.SetDefault("session.model", "sonnet")
	v.SetDefault("session.maxSessions", 8)
	v.SetDefault("session.defaultAgentCount", 1)
	v.SetDefault("session.agentStagger", 10)
	v.SetDefault("session.claudeStartupTimeout", 20)
	v.SetDefault("session.tmuxPrefix", "jat-")
	v.SetDefault("session.serverSessionPrefix", "server-")
	v.SetDefault("session.signalDecaySeconds", 60)

	v.SetDefault("taskStore.binaryPath", "bd")
	v.SetDefault("mailBus.baseUrl", "http://localhost:8733")

	v.SetDefault("rules.dbPath", defaultRulesDBPath())
	v.SetDefault("rules.presetsDir", "presets")
}

func defaultRulesDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "jat-rules.db"
	}
	return filepath.Join(home, ".config", "jat", "rules.db")
}

func validate(cfg *Config) error {
	var errs []string
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.Session.MaxSessions < 1 || cfg.Session.MaxSessions > 20 {
		errs = append(errs, "session.maxSessions must be between 1 and 20")
	}
	if cfg.Session.DefaultAgentCount < 1 || cfg.Session.DefaultAgentCount > cfg.Session.MaxSessions {
		errs = append(errs, "session.defaultAgentCount must be between 1 and maxSessions")
	}
	if cfg.Session.AgentStaggerSeconds < 1 || cfg.Session.AgentStaggerSeconds > 120 {
		errs = append(errs, "session.agentStagger must be between 1 and 120")
	}
	if cfg.Session.ClaudeStartupTimeoutS < 5 || cfg.Session.ClaudeStartupTimeoutS > 120 {
		errs = append(errs, "session.claudeStartupTimeout must be between 5 and 120")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
