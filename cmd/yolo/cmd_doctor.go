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

	"github.com/yolo-cli/yolo/pkg/ux"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var doctorAllProjects bool // scan sessions of every project, not just this one

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose container runtime problems",
}

// doctorZombiesCmd finds orphaned session containers and offers
// remediation.
//
// # Examples
//
//	yolo doctor zombies                  # this project's sessions
//	yolo doctor zombies --all-projects   # every yolo session on the host
var doctorZombiesCmd = &cobra.Command{
	Use:   "zombies",
	Short: "Find and remediate orphaned session containers",
	Args:  cobra.NoArgs,
	RunE:  runDoctorZombiesCommand,
}

// doctorStorageCmd advises on (and performs) the storage-driver
// migration.
var doctorStorageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Check the storage driver and migrate to the native one",
	Args:  cobra.NoArgs,
	RunE:  runDoctorStorageCommand,
}

func init() {
	doctorZombiesCmd.Flags().BoolVar(&doctorAllProjects, "all-projects", false,
		"Scan session containers of every project, not just the current one")
	doctorCmd.AddCommand(doctorZombiesCmd, doctorStorageCmd)
	rootCmd.AddCommand(doctorCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATIONS
// =============================================================================

func runDoctorZombiesCommand(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	ctx := context.Background()
	pm := NewDefaultProcessManager()
	prompter := activePrompter()
	checker := NewDefaultHealthChecker(pm, prompter, cfg.Runtime.Binary, appLogger.Slog())

	if err := checker.CheckRuntime(ctx); err != nil {
		return err
	}

	prefix, err := zombieScanPrefix(ctx, cfg.StateRoot, pm)
	if err != nil {
		return err
	}

	records, err := checker.ListProjectContainers(ctx, prefix)
	if err != nil {
		return err
	}
	// The all-projects scan lists every container; keep only sessions.
	if doctorAllProjects {
		var sessions []ContainerRecord
		for _, rec := range records {
			if strings.Contains(rec.Name, "_yolo") {
				sessions = append(sessions, rec)
			}
		}
		records = sessions
	}

	var zombies []ContainerRecord
	var names []string
	for _, rec := range records {
		names = append(names, rec.Name)
		if rec.Zombie() {
			zombies = append(zombies, rec)
		}
	}

	if len(records) > 0 {
		printUsageReport(ctx, checker, names)
	}
	if len(zombies) == 0 {
		ux.Success(fmt.Sprintf("No orphaned sessions (%d running)", len(records)))
		return nil
	}

	_, err = checker.RemediateZombies(ctx, zombies)
	return err
}

func runDoctorStorageCommand(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	ctx := context.Background()
	pm := NewDefaultProcessManager()
	prompter := activePrompter()

	advisor, err := NewDefaultStorageAdvisor(pm, prompter, cfg.Runtime.Binary, appLogger.Slog())
	if err != nil {
		return err
	}

	assessment, err := advisor.Assess(ctx)
	if err != nil {
		return err
	}

	switch assessment.Kind {
	case MigrationNone:
		if assessment.ActiveDriver == NativeStorageDriver {
			ux.Success("Storage driver is already " + NativeStorageDriver)
		} else {
			ux.Info(fmt.Sprintf("Storage driver is %s; this host cannot run %s",
				assessment.ActiveDriver, NativeStorageDriver))
		}
		return nil
	case MigrationClean:
		ux.Info(fmt.Sprintf("Driver %s in use but %s is supported; migrating (no data to lose)",
			assessment.ActiveDriver, NativeStorageDriver))
	case MigrationDataLoss:
		ux.Warning(fmt.Sprintf("Driver %s in use; migrating to %s would delete %d image(s) and %d container(s)",
			assessment.ActiveDriver, NativeStorageDriver,
			assessment.ImageCount, assessment.ContainerCount))
	}

	if err := advisor.Migrate(ctx, assessment); err != nil {
		return err
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// zombieScanPrefix picks the container-name prefix for the scan: the
// current project's, or empty for all projects.
func zombieScanPrefix(ctx context.Context, stateRoot string, pm ProcessManager) (string, error) {
	if doctorAllProjects {
		return "", nil
	}
	resolver := newIdentityResolver(stateRoot, pm)
	id, err := resolver.Resolve(ctx, ".")
	if err != nil {
		return "", NewLaunchError(ErrIdentityUnresolvable, "resolving project for zombie scan").
			WithCause(err).
			WithRemedy("run inside a project checkout, or pass --all-projects")
	}
	return id.ContainerPrefix(), nil
}

// printUsageReport renders the cpu/mem sample for the listed sessions.
func printUsageReport(ctx context.Context, checker HealthChecker, names []string) {
	usages, err := checker.UsageReport(ctx, names)
	if err != nil {
		ux.Muted("(resource usage unavailable: " + err.Error() + ")")
		return
	}
	for _, usage := range usages {
		ux.Muted(fmt.Sprintf("  %-30s cpu %-8s mem %s", usage.Name, usage.CPUPerc, usage.MemUsage))
	}
}
