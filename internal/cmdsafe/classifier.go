// Package cmdsafe classifies shell commands against destructive git
// operations before the host executes them.
//
// Classification is structural, not substring: the command is
// tokenized with shell quoting rules, split into pipeline segments,
// and matched as verb + subcommand + flag set + target. A commit
// message that merely mentions "--force" therefore never triggers,
// while `git push -f origin main` does regardless of spacing.
//
// This gate fails closed: a command that cannot be parsed is blocked,
// because the cost of missing a destructive command is irreversible
// data loss while the cost of over-blocking is a retry.
package cmdsafe

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/google/shlex"
	"go.uber.org/zap"
)

// Action classifies one command.
type Action string

const (
	ActionSafe        Action = "safe"
	ActionDestructive Action = "destructive"
	ActionAmbiguous   Action = "ambiguous"
)

// Classification is the result of classifying one command string.
type Classification struct {
	Action     Action
	Reason     string
	Suggestion string
}

// severity orders actions for aggregation across pipeline segments.
var severity = map[Action]int{
	ActionSafe:        0,
	ActionAmbiguous:   1,
	ActionDestructive: 2,
}

// rule is one structural pattern. All populated constraints must hold:
// verb (and subcommands) must match, allFlags must all be present,
// anyFlags needs at least one, notFlags excludes, args requires at
// least one remaining positional to equal one of its values, and
// argBase requires one whose final path element equals one of its
// values (so `repo/.git` and `.git/` both count as .git).
type rule struct {
	verb     string
	sub      string
	sub2     string
	allFlags []string
	anyFlags []string
	notFlags []string
	args     []string
	argBase  []string

	action     Action
	reason     string
	suggestion string
}

// Classifier evaluates commands against the built-in structural rules
// plus the configured protected-branch list.
type Classifier struct {
	rules  []rule
	logger *zap.Logger
}

// NewClassifier builds a classifier. protectedBranches are the targets
// force pushes are never allowed to touch.
func NewClassifier(protectedBranches []string, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}

	rules := []rule{
		{
			verb: "git", sub: "push",
			anyFlags: []string{"--force", "-f"},
			args:     protectedBranches,
			action:   ActionDestructive,
			reason:   "Force push to a protected branch can permanently destroy remote history",
		},
		{
			// Recursion alone is enough: `rm -r .git` destroys the
			// repository with or without -f.
			verb:     "rm",
			anyFlags: []string{"-r", "-R"},
			argBase:  []string{".git"},
			action:   ActionDestructive,
			reason:   "Deleting the .git directory destroys repository history",
		},
		{
			verb: "git", sub: "push",
			anyFlags:   []string{"--force", "-f"},
			action:     ActionAmbiguous,
			reason:     "Force push can overwrite remote history",
			suggestion: "Use `git push --force-with-lease` for a safer force push",
		},
		{
			verb: "git", sub: "reset",
			allFlags:   []string{"--hard"},
			action:     ActionAmbiguous,
			reason:     "Hard reset discards all uncommitted changes",
			suggestion: "`git stash` saves the changes; `git reset --soft` keeps them staged",
		},
		{
			verb: "git", sub: "clean",
			allFlags:   []string{"-f", "-d"},
			action:     ActionAmbiguous,
			reason:     "git clean -fd permanently removes untracked files and directories",
			suggestion: "Run `git clean -n` first to preview what would be deleted",
		},
		{
			verb: "git", sub: "checkout",
			args:       []string{"."},
			action:     ActionAmbiguous,
			reason:     "Checking out '.' discards all uncommitted changes in the working tree",
			suggestion: "`git stash` saves the changes first",
		},
		{
			verb: "git", sub: "stash", sub2: "drop",
			action:     ActionAmbiguous,
			reason:     "Stash drop permanently deletes stashed changes",
			suggestion: "Check `git stash show -p` before dropping",
		},
		{
			verb: "git", sub: "branch",
			allFlags:   []string{"-D"},
			action:     ActionAmbiguous,
			reason:     "branch -D force deletes a branch even when unmerged",
			suggestion: "`git branch -d` checks merge status before deleting",
		},
		{
			verb: "git", sub: "rebase",
			notFlags:   []string{"--abort"},
			action:     ActionAmbiguous,
			reason:     "Rebase rewrites commit history",
			suggestion: "Create a backup branch first: `git branch backup-before-rebase`",
		},
	}

	return &Classifier{rules: rules, logger: logger}
}

// Classify tokenizes and classifies one command string. Pipeline and
// list operators split the command into segments; the most severe
// segment classification wins. An unparseable command is an error the
// caller must treat as destructive.
func (c *Classifier) Classify(command string) (Classification, error) {
	if strings.TrimSpace(command) == "" {
		return Classification{Action: ActionSafe}, nil
	}

	words, err := shlex.Split(command)
	if err != nil {
		return Classification{}, fmt.Errorf("tokenizing command: %w", err)
	}

	worst := Classification{Action: ActionSafe}
	for _, segWords := range splitSegments(words) {
		seg := parseSegment(segWords)
		if seg == nil {
			continue
		}
		cl := c.classifySegment(seg)
		if severity[cl.Action] > severity[worst.Action] {
			worst = cl
		}
	}
	return worst, nil
}

func (c *Classifier) classifySegment(seg *segment) Classification {
	for _, r := range c.rules {
		if seg.matches(&r) {
			return Classification{
				Action:     r.action,
				Reason:     r.reason,
				Suggestion: r.suggestion,
			}
		}
	}
	return Classification{Action: ActionSafe}
}

// segmentSeparators are the shell operators that start a new command
// within one command line.
var segmentSeparators = map[string]bool{
	"&&": true, "||": true, ";": true, "|": true, "&": true,
}

func splitSegments(words []string) [][]string {
	var segs [][]string
	var cur []string
	for _, w := range words {
		if segmentSeparators[w] {
			if len(cur) > 0 {
				segs = append(segs, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, w)
	}
	if len(cur) > 0 {
		segs = append(segs, cur)
	}
	return segs
}

// segment is one parsed simple command.
type segment struct {
	verb        string
	flags       map[string]bool
	positionals []string
}

// envAssignment matches leading NAME=value words.
var envAssignment = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=`)

// wrapperVerbs are prefixes that run another command; the real verb
// follows them.
var wrapperVerbs = map[string]bool{"sudo": true, "env": true, "nohup": true, "command": true}

// parseSegment splits a simple command into verb, flags, and
// positional arguments. Combined short flags expand (-rf becomes -r
// and -f); long flags drop any =value; everything after a bare "--"
// is positional.
func parseSegment(words []string) *segment {
	i := 0
	for i < len(words) && (envAssignment.MatchString(words[i]) || wrapperVerbs[words[i]]) {
		i++
	}
	if i >= len(words) {
		return nil
	}

	seg := &segment{
		verb:  path.Base(words[i]),
		flags: make(map[string]bool),
	}

	terminated := false
	for _, w := range words[i+1:] {
		switch {
		case terminated:
			seg.positionals = append(seg.positionals, w)
		case w == "--":
			terminated = true
		case strings.HasPrefix(w, "--"):
			flag, _, _ := strings.Cut(w, "=")
			seg.flags[flag] = true
		case len(w) > 1 && w[0] == '-':
			for _, r := range w[1:] {
				seg.flags["-"+string(r)] = true
			}
		default:
			seg.positionals = append(seg.positionals, w)
		}
	}
	return seg
}

func (s *segment) matches(r *rule) bool {
	if s.verb != r.verb {
		return false
	}

	rest := s.positionals
	if r.sub != "" {
		if len(rest) == 0 || rest[0] != r.sub {
			return false
		}
		rest = rest[1:]
	}
	if r.sub2 != "" {
		if len(rest) == 0 || rest[0] != r.sub2 {
			return false
		}
		rest = rest[1:]
	}

	for _, f := range r.allFlags {
		if !s.flags[f] {
			return false
		}
	}
	if len(r.anyFlags) > 0 {
		found := false
		for _, f := range r.anyFlags {
			if s.flags[f] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, f := range r.notFlags {
		if s.flags[f] {
			return false
		}
	}

	if len(r.args) > 0 && !anyPositional(rest, r.args, func(a string) string { return a }) {
		return false
	}
	if len(r.argBase) > 0 && !anyPositional(rest, r.argBase, path.Base) {
		return false
	}
	return true
}

// anyPositional reports whether norm of any positional equals one of
// want.
func anyPositional(positionals, want []string, norm func(string) string) bool {
	for _, a := range positionals {
		n := norm(a)
		for _, w := range want {
			if n == w {
				return true
			}
		}
	}
	return false
}
