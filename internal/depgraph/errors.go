package depgraph

import (
	"fmt"
	"strings"
)

// ErrorKind names a per-module problem found while building the graph.
type ErrorKind string

const (
	// UnresolvedSpecifier: no file matches a specifier.
	UnresolvedSpecifier ErrorKind = "UnresolvedSpecifier"
	// UnreadableFile: a reachable file could not be read; it is treated as a leaf.
	UnreadableFile ErrorKind = "UnreadableFile"
	// CyclicButHandled: informational, one entry per import cycle.
	CyclicButHandled ErrorKind = "CyclicButHandled"
	// ComputedSpecifier: informational, an import whose target is computed at runtime.
	ComputedSpecifier ErrorKind = "ComputedSpecifier"
	// SyntaxError: the file did not parse cleanly; recovered imports were still used.
	SyntaxError ErrorKind = "SyntaxError"
)

// ResolutionError is a structured, non-fatal problem record. Which fields are
// set depends on Kind.
type ResolutionError struct {
	Kind      ErrorKind `json:"kind" yaml:"kind" toml:"kind"`
	Specifier string    `json:"specifier,omitempty" yaml:"specifier,omitempty" toml:"specifier,omitempty"`
	Importer  string    `json:"importer,omitempty" yaml:"importer,omitempty" toml:"importer,omitempty"`
	Path      string    `json:"path,omitempty" yaml:"path,omitempty" toml:"path,omitempty"`
	Line      int       `json:"line,omitempty" yaml:"line,omitempty" toml:"line,omitempty"`
	Cause     string    `json:"cause,omitempty" yaml:"cause,omitempty" toml:"cause,omitempty"`
	Members   []string  `json:"members,omitempty" yaml:"members,omitempty" toml:"members,omitempty"`
}

// Informational reports whether the record is a warning rather than a failure
// to follow an import.
func (e ResolutionError) Informational() bool {
	return e.Kind == CyclicButHandled || e.Kind == ComputedSpecifier
}

func (e ResolutionError) String() string {
	switch e.Kind {
	case UnresolvedSpecifier:
		return fmt.Sprintf("%s: cannot resolve %q from %s", e.Kind, e.Specifier, e.Importer)
	case UnreadableFile:
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Path, e.Cause)
	case CyclicButHandled:
		return fmt.Sprintf("%s: %s", e.Kind, strings.Join(e.Members, " -> "))
	case ComputedSpecifier:
		return fmt.Sprintf("%s: %s:%d: %s", e.Kind, e.Importer, e.Line, e.Specifier)
	case SyntaxError:
		return fmt.Sprintf("%s: %s:%d", e.Kind, e.Path, e.Line)
	default:
		return string(e.Kind)
	}
}

// Count tallies errors by kind.
func Count(errs []ResolutionError) map[ErrorKind]int {
	out := make(map[ErrorKind]int)
	for _, e := range errs {
		out[e.Kind]++
	}
	return out
}
