// Copyright (C) 2025 the yolo authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package main: HealthChecker diagnoses the container runtime state before
a launch.

Two concerns live here: zombie detection (interactive containers whose
owning launcher process has died) and the project-scoped pre-launch
check. Both end in an interactive remediation menu whose default is never
destructive.

# Design Principles

  - Interface-first design for testability
  - Dependencies injected (ProcessManager, UserPrompter)
  - Diagnostics never mutate state without an explicit confirmation
*/
package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// =============================================================================
// TYPES
// =============================================================================

// ContainerRecord describes one running container of interest.
type ContainerRecord struct {
	// Name is the container name.
	Name string

	// Interactive reports whether the container was created with a TTY
	// and open stdin, i.e. it expects an attached operator.
	Interactive bool

	// StartedAt is the raw start timestamp from the runtime.
	StartedAt string

	// OwnerAlive reports whether a live launcher process owns the
	// container. Meaningful only for interactive containers.
	OwnerAlive bool
}

// Zombie reports whether the container is an orphaned interactive session.
//
// A container without an interactive session is never a zombie,
// regardless of host process state.
func (c ContainerRecord) Zombie() bool {
	return c.Interactive && !c.OwnerAlive
}

// ContainerUsage is a point-in-time resource sample for one container.
type ContainerUsage struct {
	Name     string
	CPUPerc  string
	MemUsage string
}

// RemediationOutcome is the operator's decision about problem containers.
type RemediationOutcome int

const (
	// RemediationContinue: leave everything running and proceed.
	RemediationContinue RemediationOutcome = iota

	// RemediationStopped: some or all containers were stopped; proceed.
	RemediationStopped

	// RemediationAbort: abandon the launch.
	RemediationAbort
)

// =============================================================================
// INTERFACES
// =============================================================================

// HealthChecker inspects and remediates project container state.
//
// # Description
//
// All queries go through the container runtime CLI. Re-querying is cheap
// and is the prescribed recovery for any concurrent external mutation, so
// nothing here caches runtime state.
type HealthChecker interface {
	// CheckRuntime verifies the container engine responds at all.
	CheckRuntime(ctx context.Context) error

	// ListProjectContainers returns running containers whose name starts
	// with the project prefix, with interactive and owner-liveness state
	// resolved.
	ListProjectContainers(ctx context.Context, prefix string) ([]ContainerRecord, error)

	// UsageReport samples CPU/memory for the named containers.
	UsageReport(ctx context.Context, names []string) ([]ContainerUsage, error)

	// RemediateZombies presents the remediation menu for orphaned
	// containers and applies the operator's choice.
	RemediateZombies(ctx context.Context, zombies []ContainerRecord) (RemediationOutcome, error)

	// PreLaunchCheck runs the project-scoped check: if containers with
	// the project prefix are already running, the operator chooses to
	// continue alongside, stop them, stop a subset, or abort.
	PreLaunchCheck(ctx context.Context, prefix string) (RemediationOutcome, error)
}

// =============================================================================
// STRUCTS
// =============================================================================

// DefaultHealthChecker is the production HealthChecker.
type DefaultHealthChecker struct {
	pm       ProcessManager
	prompter UserPrompter
	binary   string
	logger   *slog.Logger
}

var _ HealthChecker = (*DefaultHealthChecker)(nil)

// =============================================================================
// CONSTRUCTORS
// =============================================================================

// NewDefaultHealthChecker creates a HealthChecker using the given runtime
// binary.
func NewDefaultHealthChecker(pm ProcessManager, prompter UserPrompter, binary string, logger *slog.Logger) *DefaultHealthChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultHealthChecker{pm: pm, prompter: prompter, binary: binary, logger: logger}
}

// =============================================================================
// METHOD IMPLEMENTATIONS - DefaultHealthChecker
// =============================================================================

// CheckRuntime verifies the container engine responds.
func (h *DefaultHealthChecker) CheckRuntime(ctx context.Context) error {
	if _, err := h.pm.Run(ctx, h.binary, "version", "--format", "{{.Client.Version}}"); err != nil {
		return NewLaunchError(ErrRuntimeUnreachable, "checking container runtime").
			WithExpected(h.binary+" responding").
			WithCause(err).
			WithRemedy("install " + h.binary + " or start its service, then retry")
	}
	return nil
}

// ListProjectContainers returns running project containers.
//
// # Description
//
// Lists names with the project prefix, then inspects each for the
// interactive flags and ties interactive containers back to a live
// launcher process on the host. A container that disappears between the
// list and the inspect is skipped; concurrent external mutation is an
// expected, non-fatal race.
func (h *DefaultHealthChecker) ListProjectContainers(ctx context.Context, prefix string) ([]ContainerRecord, error) {
	output, err := h.pm.Run(ctx, h.binary, "ps",
		"--filter", "name=^"+prefix,
		"--format", "{{.Names}}")
	if err != nil {
		return nil, NewLaunchError(ErrRuntimeUnreachable, "listing containers").WithCause(err)
	}

	var records []ContainerRecord
	for _, name := range strings.Fields(string(output)) {
		rec, err := h.inspect(ctx, name)
		if err != nil {
			h.logger.Debug("container vanished during inspection", "container", name, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// inspect resolves interactive flags and owner liveness for one container.
func (h *DefaultHealthChecker) inspect(ctx context.Context, name string) (ContainerRecord, error) {
	output, err := h.pm.Run(ctx, h.binary, "inspect",
		"--format", "{{.Config.Tty}} {{.Config.OpenStdin}} {{.State.StartedAt}}", name)
	if err != nil {
		return ContainerRecord{}, err
	}

	fields := strings.Fields(strings.TrimSpace(string(output)))
	rec := ContainerRecord{Name: name}
	if len(fields) >= 2 {
		rec.Interactive = fields[0] == "true" && fields[1] == "true"
	}
	if len(fields) >= 3 {
		rec.StartedAt = fields[2]
	}

	if rec.Interactive {
		// The launcher invocation carries the container name, so a live
		// owner shows up in the host process table.
		alive, _, err := h.pm.IsRunning(ctx, h.binary+" run .*"+name)
		if err != nil {
			h.logger.Debug("owner process check failed", "container", name, "error", err)
		}
		rec.OwnerAlive = alive
	}
	return rec, nil
}

// UsageReport samples CPU/memory for the named containers.
func (h *DefaultHealthChecker) UsageReport(ctx context.Context, names []string) ([]ContainerUsage, error) {
	if len(names) == 0 {
		return nil, nil
	}
	args := append([]string{"stats", "--no-stream", "--format", "{{.Name}}\t{{.CPUPerc}}\t{{.MemUsage}}"}, names...)
	output, err := h.pm.Run(ctx, h.binary, args...)
	if err != nil {
		return nil, fmt.Errorf("sampling container stats: %w", err)
	}

	var usages []ContainerUsage
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		parts := strings.Split(line, "\t")
		if len(parts) < 3 {
			continue
		}
		usages = append(usages, ContainerUsage{
			Name:     strings.TrimSpace(parts[0]),
			CPUPerc:  strings.TrimSpace(parts[1]),
			MemUsage: strings.TrimSpace(parts[2]),
		})
	}
	return usages, nil
}

// RemediateZombies presents the remediation menu for orphaned containers.
//
// The first menu entry leaves everything running, so a non-answer or
// --yes never destroys state.
func (h *DefaultHealthChecker) RemediateZombies(ctx context.Context, zombies []ContainerRecord) (RemediationOutcome, error) {
	if len(zombies) == 0 {
		return RemediationContinue, nil
	}
	return h.remediationMenu(ctx, zombies,
		fmt.Sprintf("Found %d orphaned container(s) with no owning session:", len(zombies)))
}

// PreLaunchCheck runs the project-scoped check.
func (h *DefaultHealthChecker) PreLaunchCheck(ctx context.Context, prefix string) (RemediationOutcome, error) {
	records, err := h.ListProjectContainers(ctx, prefix)
	if err != nil {
		return RemediationAbort, err
	}
	if len(records) == 0 {
		return RemediationContinue, nil
	}
	return h.remediationMenu(ctx, records,
		fmt.Sprintf("%d container(s) for this project are already running:", len(records)))
}

// remediationMenu presents the shared continue/stop/selective/abort menu.
func (h *DefaultHealthChecker) remediationMenu(ctx context.Context, records []ContainerRecord, heading string) (RemediationOutcome, error) {
	var listing strings.Builder
	for i, rec := range records {
		kind := "detached"
		if rec.Interactive {
			kind = "interactive"
		}
		fmt.Fprintf(&listing, "  [%d] %s (%s, started %s)\n", i+1, rec.Name, kind, rec.StartedAt)
	}
	prompt := heading + "\n" + strings.TrimRight(listing.String(), "\n")

	options := []string{
		"Continue and leave them running",
		"Stop all of them",
		"Stop a selection",
		"Abort the launch",
	}
	choice, err := h.prompter.Select(ctx, prompt, options)
	if err != nil {
		return RemediationAbort, err
	}

	switch choice {
	case 0:
		return RemediationContinue, nil
	case 1:
		if err := h.stopContainers(ctx, names(records)); err != nil {
			return RemediationAbort, err
		}
		return RemediationStopped, nil
	case 2:
		selected, err := h.selectSubset(ctx, records)
		if err != nil {
			return RemediationAbort, err
		}
		if err := h.stopContainers(ctx, selected); err != nil {
			return RemediationAbort, err
		}
		return RemediationStopped, nil
	default:
		return RemediationAbort, NewLaunchError(ErrOrphanedContainer, "remediating containers").
			WithRemedy("stop the listed containers manually, then relaunch")
	}
}

// selectSubset asks for index numbers and maps them to container names.
func (h *DefaultHealthChecker) selectSubset(ctx context.Context, records []ContainerRecord) ([]string, error) {
	answer, err := h.prompter.Input(ctx, "Numbers to stop (e.g. 1 3)")
	if err != nil {
		return nil, err
	}

	var selected []string
	for _, tok := range strings.FieldsFunc(answer, func(r rune) bool { return r == ' ' || r == ',' }) {
		idx, err := strconv.Atoi(tok)
		if err != nil || idx < 1 || idx > len(records) {
			return nil, fmt.Errorf("%w: %q (expected 1-%d)", ErrInvalidSelection, tok, len(records))
		}
		selected = append(selected, records[idx-1].Name)
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: nothing selected", ErrInvalidSelection)
	}
	return selected, nil
}

// stopContainers stops each container, reporting a combined summary.
func (h *DefaultHealthChecker) stopContainers(ctx context.Context, containerNames []string) error {
	var failed []string
	stopped := 0
	for _, name := range containerNames {
		if _, err := h.pm.Run(ctx, h.binary, "stop", name); err != nil {
			h.logger.Warn("could not stop container", "container", name, "error", err)
			failed = append(failed, name)
			continue
		}
		stopped++
	}
	h.logger.Info("container stop summary", "stopped", stopped, "failed", len(failed))
	if len(failed) > 0 {
		return fmt.Errorf("could not stop: %s", strings.Join(failed, ", "))
	}
	return nil
}

func names(records []ContainerRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Name
	}
	return out
}
