package phase

import (
	"fmt"
	"strings"
)

// Category is a coarse tool capability class.
type Category string

const (
	// CategoryReadOnly covers inspection tools that cannot mutate
	// the workspace.
	CategoryReadOnly Category = "read-only"

	// CategoryMemoryWrite covers tools that write files (plans,
	// notes, code).
	CategoryMemoryWrite Category = "memory-write"

	// CategoryFullExecute covers arbitrary execution: shell, and any
	// tool not otherwise classified.
	CategoryFullExecute Category = "full-execute"
)

// ParseCategory validates a raw category name. Unlike phases there is
// no safe default: an unrecognized category means the tool taxonomy
// itself is not understood, and validation fails closed.
func ParseCategory(raw string) (Category, bool) {
	switch Category(strings.ToLower(strings.TrimSpace(raw))) {
	case CategoryReadOnly:
		return CategoryReadOnly, true
	case CategoryMemoryWrite:
		return CategoryMemoryWrite, true
	case CategoryFullExecute:
		return CategoryFullExecute, true
	}
	return "", false
}

// toolCategories maps host tool names onto categories. Unknown tools
// are treated as full-execute: the most constrained class, so a tool
// this table has never heard of is only usable where arbitrary
// execution already is.
var toolCategories = map[string]Category{
	"Read":            CategoryReadOnly,
	"Grep":            CategoryReadOnly,
	"Glob":            CategoryReadOnly,
	"WebSearch":       CategoryReadOnly,
	"WebFetch":        CategoryReadOnly,
	"Task":            CategoryReadOnly,
	"AskUserQuestion": CategoryReadOnly,
	"Write":           CategoryMemoryWrite,
	"Edit":            CategoryMemoryWrite,
	"NotebookEdit":    CategoryMemoryWrite,
	"Bash":            CategoryFullExecute,
}

// CategoryFor classifies a host tool name. ok is false only for an
// empty name, which is a malformed event rather than an unknown tool.
func CategoryFor(toolName string) (Category, bool) {
	if toolName == "" {
		return "", false
	}
	if c, ok := toolCategories[toolName]; ok {
		return c, true
	}
	return CategoryFullExecute, true
}

// Table is the capability table: which categories each phase permits.
// Every declared phase must have an explicit non-empty entry; there is
// no implicit fallthrough and no phase that silently allows everything
// by omission.
type Table map[Phase][]Category

// DefaultTable returns the built-in capability table.
//
// Research and Innovate are read-only investigation. Plan adds memory
// writes for plan documents. Execute permits everything. Review allows
// reading plus execution for running tests, but not writes.
func DefaultTable() Table {
	return Table{
		Research: {CategoryReadOnly},
		Innovate: {CategoryReadOnly},
		Plan:     {CategoryReadOnly, CategoryMemoryWrite},
		Execute:  {CategoryReadOnly, CategoryMemoryWrite, CategoryFullExecute},
		Review:   {CategoryReadOnly, CategoryFullExecute},
	}
}

// TableFromConfig builds a Table from a raw configuration map, falling
// back to DefaultTable when the map is empty. A partial or invalid map
// is an error: capability tables are declared in full or not at all.
func TableFromConfig(raw map[string][]string) (Table, error) {
	if len(raw) == 0 {
		return DefaultTable(), nil
	}

	t := make(Table, len(raw))
	for name, cats := range raw {
		p, ok := Parse(name)
		if !ok {
			return nil, fmt.Errorf("capability table: unknown phase %q", name)
		}
		if len(cats) == 0 {
			return nil, fmt.Errorf("capability table: phase %q has no categories", name)
		}
		entry := make([]Category, 0, len(cats))
		for _, c := range cats {
			cat, ok := ParseCategory(c)
			if !ok {
				return nil, fmt.Errorf("capability table: unknown category %q for phase %q", c, name)
			}
			entry = append(entry, cat)
		}
		t[p] = entry
	}

	return t, t.Validate()
}

// Validate checks totality: every declared phase resolves to a
// non-empty entry.
func (t Table) Validate() error {
	for _, p := range All {
		entry, ok := t[p]
		if !ok {
			return fmt.Errorf("capability table: missing entry for phase %q", p)
		}
		if len(entry) == 0 {
			return fmt.Errorf("capability table: empty entry for phase %q", p)
		}
	}
	return nil
}

// permits reports whether the phase's entry contains the category.
func (t Table) permits(p Phase, c Category) bool {
	for _, allowed := range t[p] {
		if allowed == c {
			return true
		}
	}
	return false
}
