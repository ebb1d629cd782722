package main

import (
	"fmt"
	"io"
	"os"

	"affected/internal/errors"
)

func main() {
	err := rootCmd.Execute()
	closeApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		writeHints(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the process exit status. Usage and
// configuration problems exit with 2, everything else with 1.
func exitCode(err error) int {
	switch errors.CodeOf(err) {
	case errors.InvalidInput, errors.ConfigInvalid:
		return 2
	default:
		return 1
	}
}

// writeHints prints the suggested fixes registered for the error's code.
func writeHints(w io.Writer, err error) {
	for _, fix := range errors.GetSuggestedFixes(errors.CodeOf(err)) {
		if fix.Command != "" {
			fmt.Fprintf(w, "  hint: %s (%s)\n", fix.Description, fix.Command)
		} else {
			fmt.Fprintf(w, "  hint: %s\n", fix.Description)
		}
	}
}
