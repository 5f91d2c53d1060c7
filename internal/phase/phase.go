// Package phase enforces the workflow-phase capability table.
//
// A session moves through five phases (Research, Innovate, Plan,
// Execute, Review); each phase permits a declared set of tool
// categories. The validator is a pure decision function: it reads the
// resolved phase and the capability table and answers allow or deny,
// touching no durable state.
package phase

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Phase is one of the fixed workflow stages.
type Phase string

const (
	Research Phase = "research"
	Innovate Phase = "innovate"
	Plan     Phase = "plan"
	Execute  Phase = "execute"
	Review   Phase = "review"
)

// DefaultPhase applies when no phase is set or the set value does not
// parse. Execute is the most permissive phase; an unset phase must
// never block legitimate work.
const DefaultPhase = Execute

// All lists every declared phase. The capability table is validated
// against this set.
var All = []Phase{Research, Innovate, Plan, Execute, Review}

// Parse maps a raw phase string onto the declared set. Unrecognized
// input resolves to DefaultPhase with ok=false, never to an undefined
// state.
func Parse(raw string) (Phase, bool) {
	switch Phase(strings.ToLower(strings.TrimSpace(raw))) {
	case Research:
		return Research, true
	case Innovate:
		return Innovate, true
	case Plan:
		return Plan, true
	case Execute:
		return Execute, true
	case Review:
		return Review, true
	}
	return DefaultPhase, false
}

// EnvOverride is the environment variable carrying an explicit phase
// override, the highest-precedence source.
const EnvOverride = "GATEKIT_PHASE"

// SessionStateFile is the filename of the persisted session state
// inside the state directory.
const SessionStateFile = "current-session.json"

// sessionState is the durable session record the resolver consults.
// Written by the host or by a phase-transition command; the archiver
// removes it at session end.
type sessionState struct {
	Phase string `json:"phase"`
}

// Resolver determines the currently active phase.
//
// Precedence: explicit override (environment) > persisted session
// phase > DefaultPhase. Every failure along the way (unreadable file,
// unparseable JSON, unknown phase name) falls through to the next
// source rather than erroring: phase resolution must always produce a
// declared phase.
type Resolver struct {
	// StateDir holds SessionStateFile.
	StateDir string

	// lookupEnv is swappable for tests; nil means os.LookupEnv.
	lookupEnv func(string) (string, bool)
}

// NewResolver creates a resolver over the given state directory.
func NewResolver(stateDir string) *Resolver {
	return &Resolver{StateDir: stateDir, lookupEnv: os.LookupEnv}
}

// Resolve returns the active phase.
func (r *Resolver) Resolve() Phase {
	lookup := r.lookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}

	if raw, ok := lookup(EnvOverride); ok && raw != "" {
		if p, ok := Parse(raw); ok {
			return p
		}
	}

	data, err := os.ReadFile(r.statePath())
	if err == nil {
		var st sessionState
		if json.Unmarshal(data, &st) == nil {
			if p, ok := Parse(st.Phase); ok {
				return p
			}
		}
	}

	return DefaultPhase
}

func (r *Resolver) statePath() string {
	return r.StateDir + string(os.PathSeparator) + SessionStateFile
}

// ClearSessionState removes the persisted session phase. Called at
// session end; a missing file is fine.
func (r *Resolver) ClearSessionState() error {
	err := os.Remove(r.statePath())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clearing session state: %w", err)
	}
	return nil
}

// sortedNames renders a category set for deny reasons.
func sortedNames(cats []Category) string {
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = string(c)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
