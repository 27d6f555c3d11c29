package config

import (
	"encoding/json"
	"os"

	v1 "github.com/jpatrickfarrell/jat-sub014/pkg/jat/v1"
)

// LoadReviewPolicy reads projects.json's `reviewPolicy` array (spec §3
// "Static + user-editable; consulted on every review signal" — the natural
// home is the same user-editable file as `defaults`/`projects`). A missing
// file or key is not an error: the autopilot falls back to always-manual,
// which is the conservative default spec §4.7 describes when no row matches.
func LoadReviewPolicy() ([]v1.ReviewPolicyRule, error) {
	path, err := defaultProjectsPath()
	if err != nil {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var raw struct {
		ReviewPolicy []v1.ReviewPolicyRule `json:"reviewPolicy"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return raw.ReviewPolicy, nil
}
