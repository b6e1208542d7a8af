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
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// NativeStorageDriver is the driver the advisor migrates towards.
const NativeStorageDriver = "overlay"

// Native overlay for rootless containers needs at least this kernel.
const (
	minKernelMajor = 5
	minKernelMinor = 11
)

// =============================================================================
// TYPES
// =============================================================================

// MigrationKind classifies what a storage-driver migration would cost.
type MigrationKind int

const (
	// MigrationNone: the native driver is already active, or the host
	// cannot support it. Nothing to do.
	MigrationNone MigrationKind = iota

	// MigrationClean: no images or containers exist, so switching the
	// driver destroys nothing.
	MigrationClean

	// MigrationDataLoss: existing images and containers would be
	// deleted by the switch. Requires explicit confirmation.
	MigrationDataLoss
)

// String returns a short label for logs.
func (k MigrationKind) String() string {
	switch k {
	case MigrationClean:
		return "clean"
	case MigrationDataLoss:
		return "data-loss"
	default:
		return "none"
	}
}

// StorageAssessment is the advisor's view of the host storage setup.
type StorageAssessment struct {
	// ActiveDriver is the driver the runtime currently uses.
	ActiveDriver string

	// NativeSupported reports whether the kernel can run the native
	// driver (version gate plus filesystem support).
	NativeSupported bool

	// Kind is the migration classification.
	Kind MigrationKind

	// ImageCount and ContainerCount size the data at risk.
	ImageCount     int
	ContainerCount int
}

// =============================================================================
// INTERFACES
// =============================================================================

// StorageAdvisor assesses and optionally performs a storage-driver
// migration to the native driver.
//
// # Description
//
// Slow storage drivers (vfs) are a silent tax on every image pull and
// container start. The advisor detects when the host could use the
// native overlay driver but does not, and walks the operator through
// the switch. A migration that would delete existing images or
// containers is never performed without an explicit confirmation, and
// the new driver is read back after the switch to prove it took effect.
type StorageAdvisor interface {
	// Assess inspects the active driver, kernel support, and existing
	// container data.
	Assess(ctx context.Context) (StorageAssessment, error)

	// Migrate applies the assessed migration. A MigrationNone
	// assessment and a declined confirmation are both no-ops.
	Migrate(ctx context.Context, assessment StorageAssessment) error
}

// =============================================================================
// STRUCTS
// =============================================================================

// DefaultStorageAdvisor is the production StorageAdvisor.
type DefaultStorageAdvisor struct {
	pm       ProcessManager
	prompter UserPrompter
	binary   string
	logger   *slog.Logger

	// confPath is where the storage driver override is written.
	confPath string

	// Host inspection paths, overridable in tests.
	kernelReleasePath string
	filesystemsPath   string
}

var _ StorageAdvisor = (*DefaultStorageAdvisor)(nil)

// =============================================================================
// CONSTRUCTORS
// =============================================================================

// NewDefaultStorageAdvisor creates a StorageAdvisor writing the driver
// override under the user's container config directory.
func NewDefaultStorageAdvisor(pm ProcessManager, prompter UserPrompter, binary string, logger *slog.Logger) (*DefaultStorageAdvisor, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultStorageAdvisor{
		pm:                pm,
		prompter:          prompter,
		binary:            binary,
		logger:            logger,
		confPath:          filepath.Join(home, ".config", "containers", "storage.conf"),
		kernelReleasePath: "/proc/sys/kernel/osrelease",
		filesystemsPath:   "/proc/filesystems",
	}, nil
}

// =============================================================================
// METHOD IMPLEMENTATIONS - DefaultStorageAdvisor
// =============================================================================

// Assess inspects the active driver and classifies the migration.
func (a *DefaultStorageAdvisor) Assess(ctx context.Context) (StorageAssessment, error) {
	driver, err := a.activeDriver(ctx)
	if err != nil {
		return StorageAssessment{}, err
	}

	assessment := StorageAssessment{
		ActiveDriver:    driver,
		NativeSupported: a.nativeSupported(),
	}
	if driver == NativeStorageDriver || !assessment.NativeSupported {
		assessment.Kind = MigrationNone
		return assessment, nil
	}

	assessment.ImageCount, err = a.countLines(ctx, "images", "-q")
	if err != nil {
		return StorageAssessment{}, err
	}
	assessment.ContainerCount, err = a.countLines(ctx, "ps", "-aq")
	if err != nil {
		return StorageAssessment{}, err
	}

	if assessment.ImageCount == 0 && assessment.ContainerCount == 0 {
		assessment.Kind = MigrationClean
	} else {
		assessment.Kind = MigrationDataLoss
	}
	a.logger.Debug("storage assessment",
		"active_driver", driver,
		"kind", assessment.Kind.String(),
		"images", assessment.ImageCount,
		"containers", assessment.ContainerCount)
	return assessment, nil
}

// Migrate applies the assessed migration.
//
// # Description
//
// A clean migration only rewrites the storage config. A data-loss
// migration first asks for explicit confirmation, then resets the
// runtime storage so the new driver starts from scratch. Either way the
// driver is read back afterwards and a mismatch is an error.
func (a *DefaultStorageAdvisor) Migrate(ctx context.Context, assessment StorageAssessment) error {
	if assessment.Kind == MigrationNone {
		return nil
	}

	if assessment.Kind == MigrationDataLoss {
		prompt := fmt.Sprintf(
			"Switching to the %s storage driver will DELETE %d image(s) and %d container(s). Continue?",
			NativeStorageDriver, assessment.ImageCount, assessment.ContainerCount)
		ok, err := a.prompter.Confirm(ctx, prompt)
		if err != nil {
			return err
		}
		if !ok {
			a.logger.Info("storage migration declined", "active_driver", assessment.ActiveDriver)
			return nil
		}
		if _, err := a.pm.Run(ctx, a.binary, "system", "reset", "--force"); err != nil {
			return fmt.Errorf("resetting container storage: %w", err)
		}
	}

	if err := a.writeDriverConfig(); err != nil {
		return err
	}

	driver, err := a.activeDriver(ctx)
	if err != nil {
		return fmt.Errorf("verifying storage driver after migration: %w", err)
	}
	if driver != NativeStorageDriver {
		return fmt.Errorf("storage driver is still %q after migration, expected %q", driver, NativeStorageDriver)
	}
	a.logger.Info("storage driver migrated", "driver", driver)
	return nil
}

// activeDriver queries the runtime for the driver in effect.
func (a *DefaultStorageAdvisor) activeDriver(ctx context.Context) (string, error) {
	output, err := a.pm.Run(ctx, a.binary, "info", "--format", "{{.Store.GraphDriverName}}")
	if err != nil {
		return "", NewLaunchError(ErrRuntimeUnreachable, "querying storage driver").WithCause(err)
	}
	return strings.TrimSpace(string(output)), nil
}

// nativeSupported checks the kernel version gate and overlay support.
func (a *DefaultStorageAdvisor) nativeSupported() bool {
	release, err := os.ReadFile(a.kernelReleasePath)
	if err != nil {
		a.logger.Debug("kernel release unreadable", "path", a.kernelReleasePath, "error", err)
		return false
	}
	major, minor, ok := parseKernelRelease(strings.TrimSpace(string(release)))
	if !ok {
		return false
	}
	if major < minKernelMajor || (major == minKernelMajor && minor < minKernelMinor) {
		return false
	}

	filesystems, err := os.ReadFile(a.filesystemsPath)
	if err != nil {
		a.logger.Debug("filesystem table unreadable", "path", a.filesystemsPath, "error", err)
		return false
	}
	for _, line := range strings.Split(string(filesystems), "\n") {
		if strings.TrimSpace(strings.TrimPrefix(line, "nodev")) == NativeStorageDriver {
			return true
		}
	}
	return false
}

// writeDriverConfig rewrites the storage config atomically.
func (a *DefaultStorageAdvisor) writeDriverConfig() error {
	dir := filepath.Dir(a.confPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	content := fmt.Sprintf("[storage]\ndriver = %q\n", NativeStorageDriver)
	tmp, err := os.CreateTemp(dir, "storage.conf.tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp config: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("writing storage config: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting storage config permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing storage config: %w", err)
	}
	if err := os.Rename(tmpPath, a.confPath); err != nil {
		return fmt.Errorf("installing storage config: %w", err)
	}
	return nil
}

// countLines counts non-empty output lines of a runtime query.
func (a *DefaultStorageAdvisor) countLines(ctx context.Context, args ...string) (int, error) {
	output, err := a.pm.Run(ctx, a.binary, args...)
	if err != nil {
		return 0, NewLaunchError(ErrRuntimeUnreachable, "listing container data").WithCause(err)
	}
	return len(strings.Fields(string(output))), nil
}

// parseKernelRelease extracts major.minor from an osrelease string such
// as "6.8.0-45-generic".
func parseKernelRelease(release string) (major, minor int, ok bool) {
	parts := strings.SplitN(release, ".", 3)
	if len(parts) < 2 {
		return 0, 0, false
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	minorStr, _, _ := strings.Cut(parts[1], "-")
	minor, err = strconv.Atoi(minorStr)
	if err != nil {
		return 0, 0, false
	}
	return major, minor, true
}
