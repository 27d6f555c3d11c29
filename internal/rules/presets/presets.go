// Package presets loads the shipped, user-installable rule bundles (spec
// §3 GLOSSARY "Preset") from a directory of YAML files.
package presets

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	v1 "github.com/jpatrickfarrell/jat-sub014/pkg/jat/v1"
)

// Bundle is one YAML preset file's contents: a named group of rules.
type Bundle struct {
	ID    string    `yaml:"id"`
	Name  string    `yaml:"name"`
	Rules []v1.Rule `yaml:"rules"`
}

// Discover globs dir for *.yaml/*.yml bundle files and loads each.
func Discover(dir string) ([]Bundle, error) {
	fsys := os.DirFS(dir)
	var matches []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		m, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("glob presets dir: %w", err)
		}
		matches = append(matches, m...)
	}

	bundles := make([]Bundle, 0, len(matches))
	for _, m := range matches {
		b, err := loadBundle(dir + "/" + m)
		if err != nil {
			return nil, fmt.Errorf("load preset %s: %w", m, err)
		}
		for i := range b.Rules {
			b.Rules[i].PresetID = b.ID
			b.Rules[i].IsPreset = true
		}
		bundles = append(bundles, b)
	}
	return bundles, nil
}

func loadBundle(path string) (Bundle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Bundle{}, err
	}
	// v1.Rule carries only json tags, so the YAML is decoded generically and
	// re-encoded as JSON to honor its camelCase keys (cooldownSeconds,
	// caseSensitive, delayMs, ...).
	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Bundle{}, err
	}
	asJSON, err := json.Marshal(doc)
	if err != nil {
		return Bundle{}, err
	}
	var b Bundle
	if err := json.Unmarshal(asJSON, &b); err != nil {
		return Bundle{}, err
	}
	return b, nil
}
