package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jpatrickfarrell/jat-sub014/internal/orchestrator"
)

// projectEntry is one keyed entry of projects.json's (undocumented-by-spec,
// but necessary) per-project table: spec §6.5 only specifies the `defaults`
// object, but `POST /api/sessions/spawn`'s `projectKey` (spec §6.6) must
// resolve to a working directory and optional per-project overrides
// somewhere — the natural home is the same file, alongside `defaults`.
type projectEntry struct {
	Path           string `json:"path"`
	Model          string `json:"model,omitempty"`
	StartupCommand string `json:"startup_command,omitempty"`
	Cols           int    `json:"cols,omitempty"`
	Rows           int    `json:"rows,omitempty"`
}

// ProjectResolver implements orchestrator.ProjectResolver over projects.json.
type ProjectResolver struct {
	session SessionConfig
	entries map[string]projectEntry
}

// NewProjectResolver loads projects.json's `projects` table and pairs it
// with the already-resolved session defaults (for the model fallback;
// missing cols/rows default to 80x40).
func NewProjectResolver(cfg *Config) (*ProjectResolver, error) {
	path, err := defaultProjectsPath()
	if err != nil {
		return &ProjectResolver{session: cfg.Session, entries: map[string]projectEntry{}}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ProjectResolver{session: cfg.Session, entries: map[string]projectEntry{}}, nil
		}
		return nil, err
	}
	var raw struct {
		Projects map[string]projectEntry `json:"projects"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing projects.json: %w", err)
	}
	if raw.Projects == nil {
		raw.Projects = map[string]projectEntry{}
	}
	return &ProjectResolver{session: cfg.Session, entries: raw.Projects}, nil
}

// ResolveProject implements orchestrator.ProjectResolver.
func (r *ProjectResolver) ResolveProject(projectKey string) (orchestrator.Project, error) {
	entry, ok := r.entries[projectKey]
	if !ok {
		return orchestrator.Project{}, fmt.Errorf("unknown project key %q", projectKey)
	}
	model := entry.Model
	if model == "" {
		model = r.session.Model
	}
	cols, rows := entry.Cols, entry.Rows
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 40
	}
	return orchestrator.Project{
		WorkingDir:     entry.Path,
		Model:          model,
		StartupCommand: entry.StartupCommand,
		Width:          cols,
		Height:         rows,
	}, nil
}
