// Package classifier implements the Classifier (spec §4.4): a pure function
// deriving a session's lifecycle state from the most recent signal (high
// trust) or, absent a recent one, a regex-scored scan of the capture delta
// and tail.
package classifier

import (
	"regexp"
	"sort"
	"strings"
	"time"

	v1 "github.com/jpatrickfarrell/jat-sub014/pkg/jat/v1"
)

// Indicator is one per-state scoring regex (spec §4.4 step 2).
type Indicator struct {
	State  v1.LifecycleState
	Regex  *regexp.Regexp
	Weight int
}

// tieBreak implements the deterministic priority ordering used when two
// states score equally (spec §4.4: "needs-input > review > working >
// completing > idle").
var tieBreak = map[v1.LifecycleState]int{
	v1.StateNeedsInput:     4,
	v1.StateReadyForReview: 3,
	v1.StateWorking:        2,
	v1.StateCompleting:     1,
	v1.StateIdle:           0,
}

// DefaultIndicators returns the built-in indicator set. Callers may extend or
// replace it via Config.Indicators.
func DefaultIndicators() []Indicator {
	return []Indicator{
		{State: v1.StateNeedsInput, Weight: 3, Regex: regexp.MustCompile(`(?i)(do you want to proceed|\(y/n\)|\(yes/no\)|continue\?)`)},
		{State: v1.StateNeedsInput, Weight: 2, Regex: regexp.MustCompile(`❯\s*1\.`)},
		{State: v1.StateReadyForReview, Weight: 3, Regex: regexp.MustCompile(`(?i)(ready for review|please review|summary of changes)`)},
		{State: v1.StateWorking, Weight: 2, Regex: regexp.MustCompile(`(?i)(running|compiling|building|executing|in progress)`)},
		{State: v1.StateCompleting, Weight: 2, Regex: regexp.MustCompile(`(?i)(finishing up|wrapping up|final step)`)},
		{State: v1.StateIdle, Weight: 1, Regex: regexp.MustCompile(`(?i)(waiting for input|idle|\$\s*$)`)},
	}
}

// signalStateMap is the trivial kind→state map of spec §4.4 step 1.
var signalStateMap = map[v1.SignalKind]v1.LifecycleState{
	v1.SignalWorking:    v1.StateWorking,
	v1.SignalReview:     v1.StateReadyForReview,
	v1.SignalNeedsInput: v1.StateNeedsInput,
	v1.SignalCompleted:  v1.StateCompleted,
	v1.SignalCompacting: v1.StateCompacting,
	v1.SignalStarting:   v1.StateStarting,
	v1.SignalIdle:       v1.StateIdle,
	v1.SignalCompleting: v1.StateCompleting,
}

// Config controls the classifier's decay window and indicator set.
type Config struct {
	DecaySeconds int
	Indicators   []Indicator
}

// DefaultConfig returns the spec's suggested defaults (60s decay).
func DefaultConfig() Config {
	return Config{DecaySeconds: 60, Indicators: DefaultIndicators()}
}

// Classifier derives lifecycle state (spec §4.4). It is stateless and safe
// for concurrent use; cached-state comparison for emit-suppression is the
// caller's responsibility (spec §4.4 step 3), since it requires the
// session's previous state which lives in the Orchestrator's session table.
type Classifier struct {
	cfg Config
}

// New creates a Classifier.
func New(cfg Config) *Classifier {
	if len(cfg.Indicators) == 0 {
		cfg.Indicators = DefaultIndicators()
	}
	if cfg.DecaySeconds <= 0 {
		cfg.DecaySeconds = 60
	}
	return &Classifier{cfg: cfg}
}

// Classify implements spec §4.4 steps 1-2. lastSignal may be nil if no
// signal has ever arrived for this session. delta and tail are the capture
// engine's most recent new lines and last-100-line window respectively.
func (c *Classifier) Classify(now time.Time, lastSignal *v1.Signal, delta, tail []string) v1.LifecycleState {
	if lastSignal != nil {
		age := now.Sub(lastSignal.Timestamp)
		if age >= 0 && age <= time.Duration(c.cfg.DecaySeconds)*time.Second {
			if state, ok := signalStateMap[lastSignal.Kind]; ok {
				return state
			}
		}
	}
	return c.scanIndicators(delta, tail)
}

// scanIndicators runs the regex scoring pass of spec §4.4 step 2 against the
// delta and the tail, combined into one haystack (delta lines are the freshest
// evidence but the tail widens context for multi-line prompts).
func (c *Classifier) scanIndicators(delta, tail []string) v1.LifecycleState {
	haystack := strings.Join(append(append([]string{}, tail...), delta...), "\n")

	scores := make(map[v1.LifecycleState]int)
	for _, ind := range c.cfg.Indicators {
		if ind.Regex.MatchString(haystack) {
			scores[ind.State] += ind.Weight
		}
	}

	if len(scores) == 0 {
		return v1.StateIdle
	}

	type candidate struct {
		state v1.LifecycleState
		score int
	}
	var candidates []candidate
	for s, sc := range scores {
		if sc > 0 {
			candidates = append(candidates, candidate{s, sc})
		}
	}
	if len(candidates) == 0 {
		return v1.StateIdle
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return tieBreak[candidates[i].state] > tieBreak[candidates[j].state]
	})

	return candidates[0].state
}
