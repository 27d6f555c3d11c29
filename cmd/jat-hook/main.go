// Package main is the entry point for jat-hook, the small CLI that agent
// hook scripts invoke to deposit a signal or question into jatd's inbox
// (spec §6.1, §6.2). It never talks to the daemon directly: both
// subcommands write files using the exact on-disk contracts
// internal/signalintake and internal/question already read, so a hook can
// fire from any shell without importing Go.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	v1 "github.com/jpatrickfarrell/jat-sub014/pkg/jat/v1"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(64)
	}

	var err error
	switch os.Args[1] {
	case "signal":
		err = runSignal(os.Args[2:])
	case "question":
		err = runQuestion(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		usage()
		os.Exit(64)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "jat-hook: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  jat-hook signal --session=<name> --kind=<kind> [--field key=value]...
  jat-hook question --session-id=<id> --display-name=<name> --kind=<choice|confirm|input> --question=<text> [--option label=value[:description]]... [--timeout <seconds>]`)
}

// defaultInboxDir mirrors internal/signalintake.DefaultConfig's layout
// (<home>/.config/jat/signals/inbox) so a hook and jatd agree on where a
// dropped file will be picked up without sharing a running process.
func defaultInboxDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "jat", "signals", "inbox"), nil
}

func defaultQuestionDir() string {
	return os.TempDir()
}

// fieldValue coerces a CLI-supplied string into bool/float64/string the way
// a human-edited --field flag is expected to read back out of the JSON
// envelope (spec §6.1's payload tables mix string, bool, and numeric fields).
func fieldValue(raw string) interface{} {
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

type signalEnvelope struct {
	Kind      v1.SignalKind          `json:"kind"`
	Session   string                 `json:"session"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

type fieldFlags map[string]interface{}

func (f fieldFlags) String() string { return fmt.Sprintf("%v", map[string]interface{}(f)) }
func (f fieldFlags) Set(kv string) error {
	k, v, ok := strings.Cut(kv, "=")
	if !ok {
		return fmt.Errorf("--field must be key=value, got %q", kv)
	}
	f[k] = fieldValue(v)
	return nil
}

// runSignal deposits a signal envelope into the inbox (spec §6.1, §4.2
// step 1). It writes to a temp name and renames into place, matching
// internal/signalintake/deposit.go's atomic-write contract so the watcher
// never observes a half-written file.
func runSignal(args []string) error {
	fs := flag.NewFlagSet("signal", flag.ExitOnError)
	kind := fs.String("kind", "", "signal kind: starting|working|idle|needs_input|review|completing|completed|compacting")
	session := fs.String("session", "", "session display name")
	inboxDir := fs.String("inbox-dir", "", "override the inbox directory (default ~/.config/jat/signals/inbox)")
	fields := make(fieldFlags)
	fs.Var(fields, "field", "payload field as key=value; may be repeated")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *kind == "" || *session == "" {
		return fmt.Errorf("--kind and --session are required")
	}

	dir := *inboxDir
	if dir == "" {
		var err error
		dir, err = defaultInboxDir()
		if err != nil {
			return err
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	var payload map[string]interface{}
	if len(fields) > 0 {
		payload = map[string]interface{}(fields)
	}
	env := signalEnvelope{Kind: v1.SignalKind(*kind), Session: *session, Timestamp: time.Now(), Payload: payload}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}

	name := "hook-" + uuid.NewString() + ".json"
	tmp := filepath.Join(dir, "."+name)
	dest := filepath.Join(dir, name)
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}

type optionFlags []v1.QuestionOption

func (o *optionFlags) String() string { return fmt.Sprintf("%v", *o) }
func (o *optionFlags) Set(raw string) error {
	labelValue, description, _ := strings.Cut(raw, ":")
	label, value, ok := strings.Cut(labelValue, "=")
	if !ok {
		return fmt.Errorf("--option must be label=value[:description], got %q", raw)
	}
	*o = append(*o, v1.QuestionOption{Label: label, Value: value, Description: description})
	return nil
}

type questionFile struct {
	SessionID      string              `json:"sessionId"`
	DisplayName    string              `json:"displayName"`
	QuestionID     string              `json:"questionId"`
	Kind           v1.QuestionKind     `json:"kind"`
	Question       string              `json:"question"`
	Options        []v1.QuestionOption `json:"options,omitempty"`
	TimeoutSeconds int                 `json:"timeoutSeconds,omitempty"`
	CreatedAt      time.Time           `json:"createdAt"`
}

// runQuestion deposits a question file at both well-known hook paths (spec
// §6.2: "two paths written per question so either lookup key works"),
// matching the schema internal/question.Surface.PollHookFiles reads.
func runQuestion(args []string) error {
	fs := flag.NewFlagSet("question", flag.ExitOnError)
	sessionID := fs.String("session-id", "", "session id")
	displayName := fs.String("display-name", "", "session display name")
	kind := fs.String("kind", "", "choice|confirm|input")
	question := fs.String("question", "", "question text")
	questionID := fs.String("question-id", "", "question id (default: generated)")
	timeout := fs.Int("timeout", 0, "timeout in seconds, 0 for none")
	tmpDir := fs.String("tmp-dir", "", "override the directory question files are written to")
	var options optionFlags
	fs.Var(&options, "option", "choice option as label=value[:description]; may be repeated")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sessionID == "" || *displayName == "" || *kind == "" || *question == "" {
		return fmt.Errorf("--session-id, --display-name, --kind, and --question are required")
	}

	id := *questionID
	if id == "" {
		id = uuid.NewString()
	}
	dir := *tmpDir
	if dir == "" {
		dir = defaultQuestionDir()
	}

	qf := questionFile{
		SessionID: *sessionID, DisplayName: *displayName, QuestionID: id,
		Kind: v1.QuestionKind(*kind), Question: *question, Options: options,
		TimeoutSeconds: *timeout, CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(qf)
	if err != nil {
		return err
	}

	paths := []string{
		filepath.Join(dir, fmt.Sprintf("claude-question-%s.json", *sessionID)),
		filepath.Join(dir, fmt.Sprintf("claude-question-tmux-%s.json", *displayName)),
	}
	for _, path := range paths {
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, raw, 0o644); err != nil {
			return err
		}
		if err := os.Rename(tmp, path); err != nil {
			return err
		}
	}
	return nil
}
