package api

import v1 "github.com/jpatrickfarrell/jat-sub014/pkg/jat/v1"

// spawnRequest is POST /api/sessions/spawn's body (spec §6.6).
type spawnRequest struct {
	TaskID     string           `json:"taskId"`
	ProjectKey string           `json:"projectKey"`
	Epic       *v1.EpicContext  `json:"epic,omitempty"`
}

// renameRequest is POST /api/sessions/:name/rename's body.
type renameRequest struct {
	NewName string `json:"newName"`
}

// sendKeysRequest is POST /api/sessions/:name/send-keys's body.
type sendKeysRequest struct {
	Text string `json:"text"`
}

// answerRequest is POST /api/sessions/:name/answer's body. For an ordinary
// question exactly one of Choice, Confirmed, Text is meaningful, selected by
// the pending Question's kind (spec §4.6, §6.2); for a pending review
// decision only ChoiceValue is read.
type answerRequest struct {
	Choice      int    `json:"choice,omitempty"`
	ChoiceValue string `json:"choiceValue,omitempty"`
	Confirmed   bool   `json:"confirmed,omitempty"`
	Text        string `json:"text,omitempty"`
}

// reorderRequest is POST /api/rules/reorder's body.
type reorderRequest struct {
	OrderedIDs []string `json:"orderedIds"`
}

// serverSessionView is GET /api/servers/:name's response: a sidecar
// dev-server session plus its detected port (spec §4.3, §6.6).
type serverSessionView struct {
	v1.Session
	DetectedPort int `json:"detectedPort,omitempty"`
}
