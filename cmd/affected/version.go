package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"affected/internal/scanner"
	"affected/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Full())
		backend := "lexical"
		if scanner.ParserAvailable() {
			backend = "tree-sitter"
		}
		fmt.Printf("Scanner: %s\n", backend)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
