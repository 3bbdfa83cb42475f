// Package main provides the entry point for the ctxmind CLI.
package main

import (
	"os"

	"github.com/ctxmind/ctxmind/cmd/ctxmind/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
