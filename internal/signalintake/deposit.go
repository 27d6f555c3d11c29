package signalintake

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	v1 "github.com/jpatrickfarrell/jat-sub014/pkg/jat/v1"
)

// Deposit writes a signal into the inbox exactly as if an in-terminal hook
// had fired, used by the Rule Engine's `signal` action kind (spec §4.5
// action table: "deposit into Signal Intake as if the hook had fired").
//
// The file is written to a temp name in the same directory and renamed into
// place so a concurrent scan never observes a partially-written file.
func (in *Intake) Deposit(kind v1.SignalKind, session string, payload map[string]interface{}) error {
	env := envelope{Kind: kind, Session: session, Timestamp: time.Now(), Payload: payload}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}

	name := "rule-" + uuid.NewString() + ".json"
	tmp := filepath.Join(in.cfg.InboxDir, "."+name)
	dest := filepath.Join(in.cfg.InboxDir, name)

	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}
