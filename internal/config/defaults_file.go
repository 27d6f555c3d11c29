package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// DefaultsFile is the shape of ~/.config/jat/projects.json's top-level
// "defaults" object (spec §6.5). It is read directly with encoding/json
// rather than through viper, since it is user-editable product state, not
// process configuration, and must round-trip byte-for-byte on rewrite by
// the (out-of-scope) authoring UI.
type DefaultsFile struct {
	Defaults struct {
		Model                string `json:"model"`
		MaxSessions          int    `json:"max_sessions"`
		DefaultAgentCount    int    `json:"default_agent_count"`
		AgentStagger         int    `json:"agent_stagger"`
		ClaudeStartupTimeout int    `json:"claude_startup_timeout"`
		Terminal             string `json:"terminal"`
		Editor               string `json:"editor"`
		ToolsPath            string `json:"tools_path"`
		ClaudeFlags          string `json:"claude_flags"`
	} `json:"defaults"`
}

// defaultProjectsPath returns ~/.config/jat/projects.json.
func defaultProjectsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "jat", "projects.json"), nil
}

// applyDefaultsFile overlays ~/.config/jat/projects.json's `defaults` object
// onto cfg.Session, when the file exists. A missing file is not an error:
// the process falls back to its own built-in defaults.
func applyDefaultsFile(cfg *Config) error {
	path, err := defaultProjectsPath()
	if err != nil {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var df DefaultsFile
	if err := json.Unmarshal(data, &df); err != nil {
		return err
	}

	d := df.Defaults
	if d.Model != "" {
		cfg.Session.Model = d.Model
	}
	if d.MaxSessions > 0 {
		cfg.Session.MaxSessions = d.MaxSessions
	}
	if d.DefaultAgentCount > 0 {
		cfg.Session.DefaultAgentCount = d.DefaultAgentCount
	}
	if d.AgentStagger > 0 {
		cfg.Session.AgentStaggerSeconds = d.AgentStagger
	}
	if d.ClaudeStartupTimeout > 0 {
		cfg.Session.ClaudeStartupTimeoutS = d.ClaudeStartupTimeout
	}
	if d.Terminal != "" {
		cfg.Session.Terminal = d.Terminal
	}
	if d.Editor != "" {
		cfg.Session.Editor = d.Editor
	}
	if d.ToolsPath != "" {
		cfg.Session.ToolsPath = d.ToolsPath
	}
	if d.ClaudeFlags != "" {
		cfg.Session.ClaudeFlags = d.ClaudeFlags
	}
	return nil
}
