// Copyright (C) 2025 the yolo authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yolo-cli/yolo/cmd/yolo/internal/identity"
	"github.com/yolo-cli/yolo/pkg/ux"
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var networkCmd = &cobra.Command{
	Use:   "network",
	Short: "Manage the project's container network",
}

// networkJoinCmd attaches this project's running sessions to a network.
//
// # Examples
//
//	yolo network join             # resolved by convention
//	yolo network join team-net    # explicit name
var networkJoinCmd = &cobra.Command{
	Use:   "join [NAME]",
	Short: "Attach running sessions to the project network",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runNetworkJoinCommand,
}

// networkShowCmd prints the resolved network and current attachments.
var networkShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved project network and attachments",
	Args:  cobra.NoArgs,
	RunE:  runNetworkShowCommand,
}

func init() {
	networkCmd.AddCommand(networkJoinCmd, networkShowCmd)
	rootCmd.AddCommand(networkCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATIONS
// =============================================================================

func runNetworkJoinCommand(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	ctx := context.Background()
	pm := NewDefaultProcessManager()
	prompter := activePrompter()

	id, err := resolveCurrentIdentity(ctx, cfg.StateRoot, pm)
	if err != nil {
		return err
	}

	manager := NewDefaultNetworkManager(pm, prompter, cfg.Runtime.Binary, appLogger.Slog())
	network := ""
	if len(args) > 0 {
		network = args[0]
	} else {
		network, err = manager.ResolveNetwork(ctx, id)
		if err != nil {
			return err
		}
	}

	checker := NewDefaultHealthChecker(pm, prompter, cfg.Runtime.Binary, appLogger.Slog())
	records, err := checker.ListProjectContainers(ctx, id.ContainerPrefix())
	if err != nil {
		return err
	}
	if len(records) == 0 {
		ux.Info("No running sessions for this project; nothing to join")
		return nil
	}

	names := make([]string, len(records))
	for i, rec := range records {
		names[i] = rec.Name
	}
	summary, err := manager.Join(ctx, id, network, names)
	for _, result := range summary.Results {
		switch result.Status {
		case JoinFailed:
			ux.Error(fmt.Sprintf("  %s: %s", result.Container, result.Status))
		default:
			ux.Info(fmt.Sprintf("  %s: %s", result.Container, result.Status))
		}
	}
	connected, already, failed := summary.Counts()
	ux.Summary(connected, already, failed)
	return err
}

func runNetworkShowCommand(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	ctx := context.Background()
	pm := NewDefaultProcessManager()
	prompter := activePrompter()

	id, err := resolveCurrentIdentity(ctx, cfg.StateRoot, pm)
	if err != nil {
		return err
	}

	manager := NewDefaultNetworkManager(pm, prompter, cfg.Runtime.Binary, appLogger.Slog())
	network, err := manager.ResolveNetwork(ctx, id)
	if err != nil {
		return err
	}
	ux.Info("Project network: " + network)

	checker := NewDefaultHealthChecker(pm, prompter, cfg.Runtime.Binary, appLogger.Slog())
	records, err := checker.ListProjectContainers(ctx, id.ContainerPrefix())
	if err != nil {
		return err
	}
	for _, rec := range records {
		networks, err := manager.ListNetworks(ctx, rec.Name)
		if err != nil {
			ux.Muted(fmt.Sprintf("  %s: (unreadable: %v)", rec.Name, err))
			continue
		}
		ux.Muted(fmt.Sprintf("  %s: %s", rec.Name, strings.Join(networks, ", ")))
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// newIdentityResolver builds the production identity resolver.
func newIdentityResolver(stateRoot string, pm ProcessManager) *identity.Resolver {
	return identity.NewResolver(stateRoot, pm, appLogger.Slog())
}

// resolveCurrentIdentity resolves the working directory's project,
// mapping failures to the fatal launch error kind.
func resolveCurrentIdentity(ctx context.Context, stateRoot string, pm ProcessManager) (*identity.Identity, error) {
	id, err := newIdentityResolver(stateRoot, pm).Resolve(ctx, ".")
	if err != nil {
		return nil, NewLaunchError(ErrIdentityUnresolvable, "resolving project identity").
			WithCause(err).
			WithRemedy("run yolo from inside a git checkout with an origin remote")
	}
	return id, nil
}
