// Copyright (C) 2025 the yolo authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/yolo-cli/yolo/pkg/ux"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	launchNetwork string // network name override
	launchToken   string // preferred credential name
	launchRebuild bool   // rebuild the image even when current
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// launchCmd runs the full launch sequence.
//
// # Description
//
// Resolves the project identity, loads the prior launch record, ensures
// a usable credential and a current image, checks runtime health,
// resolves the project network, and hands the terminal over to the
// session container. The command blocks until the session ends.
//
// # Examples
//
//	yolo launch                      # launch with remembered choices
//	yolo launch --token work         # prefer the "work" credential
//	yolo launch --network team-net   # skip network resolution
//	yolo launch --rebuild            # force an image rebuild first
var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Launch a coding-agent session for the current project",
	Args:  cobra.NoArgs,
	RunE:  runLaunchCommand,
}

func init() {
	launchCmd.Flags().StringVar(&launchNetwork, "network", "",
		"Join this network instead of resolving one by convention")
	launchCmd.Flags().StringVar(&launchToken, "token", "",
		"Prefer this stored credential name")
	launchCmd.Flags().BoolVar(&launchRebuild, "rebuild", false,
		"Rebuild the session image even if it is current")
	rootCmd.AddCommand(launchCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runLaunchCommand(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	ux.Title("yolo " + Version)

	// No timeout here: the interactive session runs as long as the
	// operator wants. Ctrl-C cancels through the context.
	ctx := context.Background()

	launcher := NewLauncher(cfg, activePrompter(), Version, appLogger.Slog())
	return launcher.Launch(ctx, LaunchOptions{
		NetworkOverride: launchNetwork,
		TokenName:       launchToken,
		ForceRebuild:    launchRebuild,
	})
}
