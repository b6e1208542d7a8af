// Copyright (C) 2025 the yolo authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package main: NetworkManager attaches session containers to the
project's container network.

Network names are resolved by convention from the project's directory
layout and remote, with a persisted per-project preference taking
priority once a join has succeeded. The preference is verified against
the runtime before reuse so a deleted network never silently breaks a
launch.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/yolo-cli/yolo/cmd/yolo/internal/identity"
)

// =============================================================================
// TYPES
// =============================================================================

// genericParentDirs are directory names too generic to qualify a network
// name. A project under ~/src/myproj gets "myproj-network", not
// "src-myproj-network".
var genericParentDirs = map[string]struct{}{
	"projects":  {},
	"src":       {},
	"work":      {},
	"code":      {},
	"repos":     {},
	"dev":       {},
	"git":       {},
	"workspace": {},
	"home":      {},
}

// JoinStatus classifies one container's join outcome.
type JoinStatus int

const (
	// JoinConnected: the container was attached by this call.
	JoinConnected JoinStatus = iota

	// JoinAlreadyConnected: the container was attached before this call.
	// Not an error.
	JoinAlreadyConnected

	// JoinFailed: the runtime rejected the attach.
	JoinFailed
)

// String returns a short label for summaries.
func (s JoinStatus) String() string {
	switch s {
	case JoinConnected:
		return "connected"
	case JoinAlreadyConnected:
		return "already-connected"
	default:
		return "failed"
	}
}

// JoinResult is one container's join outcome.
type JoinResult struct {
	// Container is the container name.
	Container string

	// Status classifies the outcome.
	Status JoinStatus

	// Err is the runtime error for a failed join.
	Err error

	// CurrentNetworks lists the networks the container is attached to,
	// populated on failure for diagnosis.
	CurrentNetworks []string
}

// JoinSummary aggregates a batch join.
type JoinSummary struct {
	Network string
	Results []JoinResult
}

// Counts returns the per-status totals.
func (s JoinSummary) Counts() (connected, alreadyConnected, failed int) {
	for _, r := range s.Results {
		switch r.Status {
		case JoinConnected:
			connected++
		case JoinAlreadyConnected:
			alreadyConnected++
		default:
			failed++
		}
	}
	return connected, alreadyConnected, failed
}

// Err returns a combined error when any join failed, nil otherwise.
func (s JoinSummary) Err() error {
	var failures []string
	for _, r := range s.Results {
		if r.Status != JoinFailed {
			continue
		}
		detail := fmt.Sprintf("%s: %v", r.Container, r.Err)
		if len(r.CurrentNetworks) > 0 {
			detail += fmt.Sprintf(" (currently on: %s)", strings.Join(r.CurrentNetworks, ", "))
		}
		failures = append(failures, detail)
	}
	if len(failures) == 0 {
		return nil
	}
	return fmt.Errorf("joining network %s: %s", s.Network, strings.Join(failures, "; "))
}

// =============================================================================
// INTERFACES
// =============================================================================

// NetworkManager resolves the project network and attaches containers
// to it.
type NetworkManager interface {
	// ResolveNetwork determines the network name for the project. A
	// verified persisted preference wins; otherwise resolution follows
	// the naming convention, asking the operator to disambiguate when
	// more than one conventional network exists.
	ResolveNetwork(ctx context.Context, id *identity.Identity) (string, error)

	// Join attaches the named containers to the network, one outcome
	// per container. Any success persists the network preference.
	Join(ctx context.Context, id *identity.Identity, network string, containers []string) (JoinSummary, error)

	// ListNetworks returns the names of the networks a container is
	// attached to.
	ListNetworks(ctx context.Context, container string) ([]string, error)
}

// =============================================================================
// STRUCTS
// =============================================================================

// DefaultNetworkManager is the production NetworkManager.
type DefaultNetworkManager struct {
	pm       ProcessManager
	prompter UserPrompter
	binary   string
	logger   *slog.Logger
}

var _ NetworkManager = (*DefaultNetworkManager)(nil)

// =============================================================================
// CONSTRUCTORS
// =============================================================================

// NewDefaultNetworkManager creates a NetworkManager using the given
// runtime binary.
func NewDefaultNetworkManager(pm ProcessManager, prompter UserPrompter, binary string, logger *slog.Logger) *DefaultNetworkManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultNetworkManager{pm: pm, prompter: prompter, binary: binary, logger: logger}
}

// =============================================================================
// METHOD IMPLEMENTATIONS - DefaultNetworkManager
// =============================================================================

// ResolveNetwork determines the network name for the project.
//
// # Description
//
// Checks the persisted preference first, discarding it silently when the
// network no longer exists. Otherwise collects the conventional
// candidates in precedence order: "<project>-network", then
// "<parent>-<project>-network" when the parent directory is not a
// generic name, then a name derived from the remote. The first existing
// candidate wins; if several exist the operator picks one; if none exist
// the conventional name is returned anyway so downstream messages can
// state what was expected.
func (m *DefaultNetworkManager) ResolveNetwork(ctx context.Context, id *identity.Identity) (string, error) {
	if pref := m.readPreference(id); pref != "" {
		if m.networkExists(ctx, pref) {
			m.logger.Debug("using persisted network preference", "network", pref)
			return pref, nil
		}
		m.logger.Debug("persisted network preference is stale, discarding", "network", pref)
		m.discardPreference(id)
	}

	candidates := m.candidateNames(id)

	var existing []string
	for _, name := range candidates {
		if m.networkExists(ctx, name) {
			existing = append(existing, name)
		}
	}

	switch len(existing) {
	case 0:
		return candidates[0], nil
	case 1:
		return existing[0], nil
	}

	choice, err := m.prompter.Select(ctx, "Multiple project networks exist. Which one should sessions join?", existing)
	if err != nil {
		return "", NewLaunchError(ErrNetworkAmbiguous, "resolving project network").
			WithFound(strings.Join(existing, ", ")).
			WithCause(err).
			WithRemedy("rerun interactively, or remove the unused networks with '" + m.binary + " network rm'")
	}
	return existing[choice], nil
}

// Join attaches the named containers to the network.
//
// An already-attached container counts as success. A hard failure
// carries the runtime error and the container's current network list.
// Any success persists the preference for the next resolution.
func (m *DefaultNetworkManager) Join(ctx context.Context, id *identity.Identity, network string, containers []string) (JoinSummary, error) {
	summary := JoinSummary{Network: network}

	for _, container := range containers {
		result := JoinResult{Container: container}

		_, err := m.pm.Run(ctx, m.binary, "network", "connect", network, container)
		switch {
		case err == nil:
			result.Status = JoinConnected
		case isAlreadyConnected(err):
			result.Status = JoinAlreadyConnected
		default:
			result.Status = JoinFailed
			result.Err = err
			if networks, listErr := m.ListNetworks(ctx, container); listErr == nil {
				result.CurrentNetworks = networks
			}
		}
		summary.Results = append(summary.Results, result)
	}

	connected, already, failed := summary.Counts()
	m.logger.Info("network join summary",
		"network", network,
		"connected", connected,
		"already_connected", already,
		"failed", failed)

	if connected+already > 0 {
		if err := m.savePreference(id, network); err != nil {
			m.logger.Warn("could not persist network preference", "error", err)
		}
	}
	return summary, summary.Err()
}

// ListNetworks returns the networks a container is attached to.
func (m *DefaultNetworkManager) ListNetworks(ctx context.Context, container string) ([]string, error) {
	output, err := m.pm.Run(ctx, m.binary, "inspect",
		"--format", "{{range $net, $v := .NetworkSettings.Networks}}{{$net}} {{end}}", container)
	if err != nil {
		return nil, fmt.Errorf("inspecting networks of %s: %w", container, err)
	}
	return strings.Fields(string(output)), nil
}

// candidateNames builds the conventional network names in precedence
// order, deduplicated.
func (m *DefaultNetworkManager) candidateNames(id *identity.Identity) []string {
	project := filepath.Base(id.RepoRoot)
	parent := filepath.Base(filepath.Dir(id.RepoRoot))

	var candidates []string
	seen := map[string]struct{}{}
	add := func(name string) {
		if _, dup := seen[name]; !dup {
			seen[name] = struct{}{}
			candidates = append(candidates, name)
		}
	}

	add(project + "-network")
	if _, generic := genericParentDirs[strings.ToLower(parent)]; !generic && parent != "." && parent != string(filepath.Separator) {
		add(parent + "-" + project + "-network")
	}
	if _, repo, found := strings.Cut(id.CanonicalName, "_"); found && repo != "" {
		add(repo + "-network")
	}
	return candidates
}

// networkExists queries the runtime for the network.
func (m *DefaultNetworkManager) networkExists(ctx context.Context, name string) bool {
	if _, err := m.pm.Run(ctx, m.binary, "network", "exists", name); err != nil {
		return false
	}
	return true
}

// isAlreadyConnected recognizes the runtime's duplicate-attach error.
func isAlreadyConnected(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "already connected")
}

// =============================================================================
// PREFERENCE PERSISTENCE
// =============================================================================

// preferencePath is the per-project preference file.
func preferencePath(id *identity.Identity) string {
	return filepath.Join(id.StateDir, "network")
}

// readPreference returns the persisted network name, or "".
func (m *DefaultNetworkManager) readPreference(id *identity.Identity) string {
	data, err := os.ReadFile(preferencePath(id))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// savePreference persists the network name atomically. Rewriting an
// unchanged preference is skipped.
func (m *DefaultNetworkManager) savePreference(id *identity.Identity, network string) error {
	if m.readPreference(id) == network {
		return nil
	}

	path := preferencePath(id)
	tmp, err := os.CreateTemp(id.StateDir, "network.tmp-*")
	if err != nil {
		return fmt.Errorf("creating preference temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(network + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("writing preference: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting preference permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing preference file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("installing preference file: %w", err)
	}
	return nil
}

// discardPreference removes a stale preference. Missing is fine.
func (m *DefaultNetworkManager) discardPreference(id *identity.Identity) {
	if err := os.Remove(preferencePath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Warn("could not remove stale network preference", "error", err)
	}
}
