// Copyright (C) 2025 the yolo authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/yolo-cli/yolo/pkg/logging"
	"github.com/yolo-cli/yolo/pkg/ux"
)

// =============================================================================
// GLOBAL FLAGS
// =============================================================================

var (
	flagYes     bool // approve safe defaults, never prompt
	flagPlain   bool // disable styled output
	flagVerbose bool // debug logging
)

// =============================================================================
// ROOT COMMAND
// =============================================================================

var rootCmd = &cobra.Command{
	Use:   "yolo",
	Short: "Launch containerized coding-agent sessions",
	Long: `yolo launches containerized coding-agent sessions bound to the
current project. It resolves the project identity from the git remote,
manages authentication tokens, keeps the session image current, checks
container health, and attaches sessions to the project network.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagYes, "yes", "y", false,
		"Assume safe defaults instead of prompting; refuses destructive steps")
	rootCmd.PersistentFlags().BoolVar(&flagPlain, "plain", false,
		"Disable styled output (also implied by piped output)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false,
		"Enable debug logging")

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if flagPlain {
			ux.SetPlain(true)
		}

		level := logging.LevelInfo
		if flagVerbose {
			level = logging.LevelDebug
		}
		appLogger = logging.New(logging.Config{
			Level:   level,
			Service: "yolo",
		})
	}
}

// activePrompter picks the UserPrompter for this invocation.
//
// --yes approves confirmations and takes the first (always
// non-destructive) menu option but refuses free-form input, so it can
// never invent a credential. A non-terminal stdin gets the rejecting
// prompter so scripts fail fast instead of hanging.
func activePrompter() UserPrompter {
	if flagYes {
		return NewAutoApprovePrompter()
	}
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return NewNonInteractivePrompter()
	}
	return NewInteractivePrompter()
}
