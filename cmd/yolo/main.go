// Copyright (C) 2025 the yolo authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/yolo-cli/yolo/cmd/yolo/config"
	"github.com/yolo-cli/yolo/pkg/logging"
	"github.com/yolo-cli/yolo/pkg/ux"
)

// Version is the tool version. Overridden at build time via
// -ldflags "-X main.Version=...". The image label check compares
// against this value.
var Version = "3.1.0"

// appLogger is shared by all commands, set up in the root PersistentPreRun.
var appLogger *logging.Logger

func main() {
	defer func() {
		if appLogger != nil {
			appLogger.Close()
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, renderLaunchFailure(err))
		os.Exit(1)
	}
}

// renderLaunchFailure formats an error for the operator, surfacing the
// stderr of a failed subprocess and the remedy of a classified failure
// when either is attached.
func renderLaunchFailure(err error) string {
	lines := []string{ux.Styles.Error.Render("Error: " + err.Error())}
	if stderr := ExtractStderr(err); stderr != "" && !strings.Contains(err.Error(), stderr) {
		lines = append(lines, ux.Styles.Muted.Render("  Runtime: "+stderr))
	}
	var launchErr *LaunchError
	if errors.As(err, &launchErr) && launchErr.Remedy != "" {
		lines = append(lines, ux.Styles.Muted.Render("  Fix: "+launchErr.Remedy))
	}
	return strings.Join(lines, "\n")
}

// loadConfig loads the global configuration, failing the command when it
// is unusable.
func loadConfig() *config.YoloConfig {
	if err := config.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Could not load configuration: %v\n", err)
		os.Exit(1)
	}
	return &config.Global
}
