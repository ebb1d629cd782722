package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"affected/internal/depgraph"
)

var (
	graphCycles  bool
	graphNoCache bool
)

var graphCmd = &cobra.Command{
	Use:   "graph <entry> [entry...]",
	Short: "Show the import graph reachable from entry files",
	Long: `Build the import graph of the given files and print every reachable module
with the specifiers it imports and where each one resolved.

Examples:
  affected graph test/a.spec.ts             # Modules and imports
  affected graph test/a.spec.ts --cycles    # Also report import cycles
  affected graph test/a.spec.ts --format=list`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGraph,
}

func init() {
	graphCmd.Flags().BoolVar(&graphCycles, "cycles", false, "Report import cycles")
	graphCmd.Flags().BoolVar(&graphNoCache, "no-cache", false, "Do not use the persistent scan cache")
	rootCmd.AddCommand(graphCmd)
}

// GraphResponse is the output of the graph command.
type GraphResponse struct {
	Entries []string                   `json:"entries" yaml:"entries" toml:"entries"`
	Modules []GraphModule              `json:"modules" yaml:"modules" toml:"modules"`
	Edges   int                        `json:"edges" yaml:"edges" toml:"edges"`
	Errors  []depgraph.ResolutionError `json:"errors" yaml:"errors" toml:"errors"`
}

// GraphModule is one node of the graph.
type GraphModule struct {
	Path        string        `json:"path" yaml:"path" toml:"path"`
	Entry       bool          `json:"entry,omitempty" yaml:"entry,omitempty" toml:"entry,omitempty"`
	Scanned     bool          `json:"scanned" yaml:"scanned" toml:"scanned"`
	InModuleDir bool          `json:"inModuleDir,omitempty" yaml:"inModuleDir,omitempty" toml:"inModuleDir,omitempty"`
	Imports     []GraphImport `json:"imports,omitempty" yaml:"imports,omitempty" toml:"imports,omitempty"`
}

// GraphImport is one distinct specifier of a module.
type GraphImport struct {
	Specifier string `json:"specifier" yaml:"specifier" toml:"specifier"`
	Line      int    `json:"line" yaml:"line" toml:"line"`
	Kind      string `json:"kind" yaml:"kind" toml:"kind"`
	Outcome   string `json:"outcome" yaml:"outcome" toml:"outcome"`
	Resolved  string `json:"resolved,omitempty" yaml:"resolved,omitempty" toml:"resolved,omitempty"`
}

func runGraph(cmd *cobra.Command, args []string) error {
	a := current
	format, err := outputFormat(FormatJSON)
	if err != nil {
		return err
	}

	engine, err := a.newEngine(a.openCache(graphNoCache), "", graphCycles)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	entries := make([]string, 0, len(args))
	for _, arg := range args {
		entries = append(entries, a.absPath(arg))
	}
	g, _, err := engine.BuildGraph(ctx, entries, a.cfg.ResolverConfig(a.root), a.root)
	if err != nil {
		return err
	}

	resp := newGraphResponse(a, g)
	switch format {
	case FormatList:
		for _, m := range resp.Modules {
			fmt.Println(m.Path)
		}
		return nil
	case FormatHuman:
		writeGraphHuman(os.Stdout, resp)
		return nil
	default:
		return writeResponse(os.Stdout, resp, format)
	}
}

// newGraphResponse lists the modules reachable from the entries in BFS order.
func newGraphResponse(a *app, g *depgraph.Graph) *GraphResponse {
	resp := &GraphResponse{
		Entries: make([]string, 0, len(g.Entries())),
		Edges:   len(g.Edges()),
		Errors:  g.Errors(),
	}
	if resp.Errors == nil {
		resp.Errors = []depgraph.ResolutionError{}
	}

	isEntry := make(map[depgraph.NodeID]bool, len(g.Entries()))
	for _, e := range g.Entries() {
		isEntry[e] = true
		resp.Entries = append(resp.Entries, a.display(g.ID(e).String()))
	}

	seen := make(map[depgraph.NodeID]bool, g.Len())
	for _, e := range g.Entries() {
		for _, n := range g.Closure(e) {
			if seen[n] {
				continue
			}
			seen[n] = true
			m := GraphModule{
				Path:        a.display(g.ID(n).String()),
				Entry:       isEntry[n],
				Scanned:     g.Scanned(n),
				InModuleDir: g.InModuleDir(n),
			}
			for _, imp := range g.Imports(n) {
				gi := GraphImport{
					Specifier: imp.Specifier,
					Line:      imp.Line,
					Kind:      imp.Kind.String(),
					Outcome:   imp.Outcome,
				}
				if imp.Resolved != "" {
					gi.Resolved = a.display(imp.Resolved.String())
				}
				m.Imports = append(m.Imports, gi)
			}
			resp.Modules = append(resp.Modules, m)
		}
	}
	return resp
}

func writeGraphHuman(w io.Writer, resp *GraphResponse) {
	var b strings.Builder

	b.WriteString("Import Graph\n")
	b.WriteString(rule + "\n\n")
	fmt.Fprintf(&b, "%s modules, %s edges from %d entries\n\n",
		humanize.Comma(int64(len(resp.Modules))),
		humanize.Comma(int64(resp.Edges)),
		len(resp.Entries))

	for _, m := range resp.Modules {
		marker := " "
		if m.Entry {
			marker = "●"
		}
		note := ""
		switch {
		case m.InModuleDir && !m.Scanned:
			note = " (module directory, not followed)"
		case !m.Scanned:
			note = " (not scanned)"
		}
		fmt.Fprintf(&b, "%s %s%s\n", marker, m.Path, note)
		for _, imp := range m.Imports {
			target := imp.Outcome
			if imp.Resolved != "" {
				target = imp.Resolved
			}
			fmt.Fprintf(&b, "    %d: %s %q -> %s\n", imp.Line, imp.Kind, imp.Specifier, target)
		}
	}

	writeProblemsHuman(&b, resp.Errors)
	_, _ = io.WriteString(w, b.String())
}
