package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"affected/internal/paths"
	"affected/internal/resolver"
)

var resolveFrom string

var resolveCmd = &cobra.Command{
	Use:   "resolve <specifier>",
	Short: "Explain how one import specifier resolves",
	Long: `Resolve a specifier as if it were imported from a file in --from and print
the result together with every candidate path that was probed.

Examples:
  affected resolve ./util --from src
  affected resolve @app/config
  affected resolve lodash --format=json`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().StringVar(&resolveFrom, "from", ".", "Directory of the importing file, relative to the project root")
	rootCmd.AddCommand(resolveCmd)
}

// ResolveResponse is the output of the resolve command.
type ResolveResponse struct {
	Specifier   string   `json:"specifier" yaml:"specifier" toml:"specifier"`
	From        string   `json:"from" yaml:"from" toml:"from"`
	Resolved    bool     `json:"resolved" yaml:"resolved" toml:"resolved"`
	Kind        string   `json:"kind,omitempty" yaml:"kind,omitempty" toml:"kind,omitempty"`
	Path        string   `json:"path,omitempty" yaml:"path,omitempty" toml:"path,omitempty"`
	InModuleDir bool     `json:"inModuleDir,omitempty" yaml:"inModuleDir,omitempty" toml:"inModuleDir,omitempty"`
	Error       string   `json:"error,omitempty" yaml:"error,omitempty" toml:"error,omitempty"`
	Tried       []string `json:"tried" yaml:"tried" toml:"tried"`
}

func runResolve(cmd *cobra.Command, args []string) error {
	a := current
	format, err := outputFormat(FormatJSON)
	if err != nil {
		return err
	}

	norm := paths.NewNormalizer(paths.ParseCaseMode(a.cfg.Resolve.CaseSensitivity, a.root), a.root)
	res, err := resolver.New(a.cfg.ResolverConfig(a.root), norm, nil)
	if err != nil {
		return err
	}

	from := a.absPath(resolveFrom)
	r, tried, rerr := res.Explain(from, args[0])
	resp := &ResolveResponse{
		Specifier: args[0],
		From:      a.display(from),
		Resolved:  rerr == nil,
		Tried:     make([]string, 0, len(tried)),
	}
	for _, t := range tried {
		resp.Tried = append(resp.Tried, a.display(t))
	}
	if rerr != nil {
		resp.Error = rerr.Error()
	} else {
		resp.Kind = r.Kind.String()
		resp.InModuleDir = r.InModuleDir
		if r.Kind == resolver.KindFile {
			resp.Path = a.display(r.ID.String())
		}
	}

	switch format {
	case FormatList:
		if resp.Path != "" {
			fmt.Println(resp.Path)
		}
	case FormatHuman:
		writeResolveHuman(os.Stdout, resp)
	default:
		if err := writeResponse(os.Stdout, resp, format); err != nil {
			return err
		}
	}
	if rerr != nil {
		return fmt.Errorf("cannot resolve %q", args[0])
	}
	return nil
}

func writeResolveHuman(w io.Writer, resp *ResolveResponse) {
	var b strings.Builder
	fmt.Fprintf(&b, "%q from %s\n", resp.Specifier, resp.From)
	b.WriteString(rule + "\n")
	switch {
	case !resp.Resolved:
		fmt.Fprintf(&b, "✗ %s\n", resp.Error)
	case resp.Path != "":
		fmt.Fprintf(&b, "✓ %s\n", resp.Path)
		if resp.InModuleDir {
			b.WriteString("  (inside a module directory)\n")
		}
	default:
		fmt.Fprintf(&b, "✓ %s\n", resp.Kind)
	}
	if len(resp.Tried) > 0 {
		b.WriteString("\nCandidates:\n")
		for _, t := range resp.Tried {
			fmt.Fprintf(&b, "  %s\n", t)
		}
	}
	_, _ = io.WriteString(w, b.String())
}
