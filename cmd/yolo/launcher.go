// Copyright (C) 2025 the yolo authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package main: Launcher composes the orchestration components into the
full launch sequence.

The sequence is: resolve the project identity, load (or invalidate) the
prior launch record, ensure a usable credential, ensure the image is
current, check runtime health and the project network, then hand the
terminal over to the session container. On success the launch record is
rewritten wholesale.

# Security Context

The credential secret is handed to the container through the launcher's
process environment and a pass-through --env flag, so it never appears
in a command line or in any log output.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/yolo-cli/yolo/cmd/yolo/config"
	"github.com/yolo-cli/yolo/cmd/yolo/internal/identity"
	"github.com/yolo-cli/yolo/cmd/yolo/internal/infra"
	"github.com/yolo-cli/yolo/cmd/yolo/internal/token"
	"github.com/yolo-cli/yolo/pkg/ux"
)

// =============================================================================
// TYPES
// =============================================================================

// secretEnvVar is the environment variable the session container reads
// its credential from.
const secretEnvVar = "CLAUDE_CODE_OAUTH_TOKEN"

// LaunchOptions are the operator-facing knobs of one launch.
type LaunchOptions struct {
	// Workdir is the directory the identity is resolved from. Empty
	// means the current working directory.
	Workdir string

	// NetworkOverride skips network resolution and uses this name.
	NetworkOverride string

	// TokenName prefers a specific stored credential.
	TokenName string

	// ForceRebuild rebuilds the image even when it is current.
	ForceRebuild bool
}

// LaunchChoices is what a successful launch persists for the next one.
type LaunchChoices struct {
	CredentialName string
	KeyPaths       []string
	NetworkName    string
}

// =============================================================================
// STRUCTS
// =============================================================================

// Launcher wires the orchestration components together for the CLI
// layer. One Launcher serves one session.
type Launcher struct {
	cfg         *config.YoloConfig
	pm          ProcessManager
	prompter    UserPrompter
	resolver    *identity.Resolver
	tokens      TokenManager
	images      infra.ImageValidator
	health      HealthChecker
	networks    NetworkManager
	toolVersion string
	sessionID   string
	logger      *slog.Logger
}

// =============================================================================
// CONSTRUCTORS
// =============================================================================

// NewLauncher builds a Launcher with production implementations of every
// component. Each launch carries a fresh session ID through all logs.
func NewLauncher(cfg *config.YoloConfig, prompter UserPrompter, toolVersion string, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	sessionID := uuid.NewString()
	logger = logger.With("session_id", sessionID)

	pm := NewDefaultProcessManager()
	store := token.NewStore(cfg.Tokens.Dir)
	validator := NewHTTPAPIValidator(cfg.API.BaseURL, time.Duration(cfg.API.TimeoutSeconds)*time.Second)
	minter := NewContainerTokenMinter(pm, cfg.Runtime.Binary, cfg.Build.Image, logger)

	return &Launcher{
		cfg:         cfg,
		pm:          pm,
		prompter:    prompter,
		resolver:    identity.NewResolver(cfg.StateRoot, pm, logger),
		tokens:      NewDefaultTokenManager(store, validator, minter, prompter, pm, logger),
		images:      infra.NewImageValidatorWithDeps(executorAdapter{pm}, logger),
		health:      NewDefaultHealthChecker(pm, prompter, cfg.Runtime.Binary, logger),
		networks:    NewDefaultNetworkManager(pm, prompter, cfg.Runtime.Binary, logger),
		toolVersion: toolVersion,
		sessionID:   sessionID,
		logger:      logger,
	}
}

// executorAdapter bridges ProcessManager to the image validator's
// executor seam.
type executorAdapter struct {
	pm ProcessManager
}

func (a executorAdapter) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	return a.pm.Run(ctx, name, args...)
}

var _ infra.CommandExecutor = executorAdapter{}

// =============================================================================
// ENTRY POINTS
// =============================================================================

// ResolveIdentity derives the project identity for the launch.
func (l *Launcher) ResolveIdentity(ctx context.Context, workdir string) (*identity.Identity, error) {
	if workdir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determining working directory: %w", err)
		}
		workdir = wd
	}

	id, err := l.resolver.Resolve(ctx, workdir)
	if err != nil {
		launchErr := NewLaunchError(ErrIdentityUnresolvable, "resolving project identity").WithCause(err)
		switch {
		case errors.Is(err, identity.ErrNotARepository):
			return nil, launchErr.
				WithExpected("a git repository").
				WithRemedy("run yolo from inside a git checkout")
		case errors.Is(err, identity.ErrNoRemoteConfigured):
			return nil, launchErr.
				WithExpected("an origin remote").
				WithRemedy("add one with 'git remote add origin <url>'")
		default:
			return nil, launchErr
		}
	}
	return id, nil
}

// EnsureCredential resolves or creates a usable credential.
func (l *Launcher) EnsureCredential(ctx context.Context, preferredName string) (string, string, error) {
	return l.tokens.EnsureCredential(ctx, preferredName)
}

// EnsureBuildCurrent validates the image against the tool version and
// the recipe, rebuilding when required. Returns whether a rebuild ran.
func (l *Launcher) EnsureBuildCurrent(ctx context.Context, force bool) (bool, error) {
	assessment, err := l.images.Check(ctx, l.cfg.Build.Image, l.toolVersion, l.cfg.Build.Recipe)
	if errors.Is(err, infra.ErrImageNotFound) {
		ux.Info(fmt.Sprintf("Image %s not built yet, building it now", l.cfg.Build.Image))
		return true, l.buildImage(ctx, assessment.RecipeHash)
	}
	if err != nil {
		return false, NewLaunchError(ErrBuildStale, "validating image build").WithCause(err)
	}

	switch assessment.State {
	case infra.BuildCurrent:
		if !force {
			return false, nil
		}
		ux.Info("Rebuilding the image at your request")
	case infra.BuildLegacyImage:
		ux.Info("Image predates recipe tracking, rebuilding once to record it")
	case infra.BuildRecipeDrift:
		// Loud on purpose: the recipe changed but the version did not,
		// which is a release-process defect, not a normal upgrade.
		ux.Warning(fmt.Sprintf(
			"Recipe changed without a version bump (image hash %s, recipe hash %s). Rebuilding, but this should be fixed upstream.",
			assessment.Image.RecipeHash, assessment.RecipeHash))
	case infra.BuildUpgrade:
		ux.Info(fmt.Sprintf("Image was built for version %s, upgrading to %s",
			assessment.Image.Version, l.toolVersion))
	}

	if err := l.buildImage(ctx, assessment.RecipeHash); err != nil {
		return false, err
	}
	return true, nil
}

// EnsureHealthyAndJoined verifies the runtime, remediates problem
// containers, and resolves the project network, joining any containers
// that are already running. Returns the resolved network name.
func (l *Launcher) EnsureHealthyAndJoined(ctx context.Context, id *identity.Identity, networkOverride string) (string, error) {
	if err := l.health.CheckRuntime(ctx); err != nil {
		return "", err
	}

	outcome, err := l.health.PreLaunchCheck(ctx, id.ContainerPrefix())
	if err != nil {
		return "", err
	}
	if outcome == RemediationAbort {
		return "", NewLaunchError(ErrOrphanedContainer, "pre-launch container check").
			WithRemedy("resolve the running containers, then relaunch")
	}

	network := networkOverride
	if network == "" {
		network, err = l.networks.ResolveNetwork(ctx, id)
		if err != nil {
			return "", err
		}
	}

	running, err := l.health.ListProjectContainers(ctx, id.ContainerPrefix())
	if err != nil {
		return "", err
	}
	if len(running) > 0 {
		names := make([]string, len(running))
		for i, rec := range running {
			names[i] = rec.Name
		}
		if _, err := l.networks.Join(ctx, id, network, names); err != nil {
			return "", err
		}
	}
	return network, nil
}

// FinalizeLaunch persists the session's choices as the launch record.
func (l *Launcher) FinalizeLaunch(id *identity.Identity, recipeHash string, choices LaunchChoices) error {
	store := NewLaunchConfigStore(id.StateDir, l.logger)
	return store.Save(&LaunchConfig{
		ToolVersion:    l.toolVersion,
		RecipeHash:     recipeHash,
		CredentialName: choices.CredentialName,
		KeyPaths:       choices.KeyPaths,
		NetworkName:    choices.NetworkName,
		LastLaunch:     time.Now(),
	})
}

// =============================================================================
// FULL SEQUENCE
// =============================================================================

// Launch runs the complete sequence and hands the terminal over to the
// session container.
func (l *Launcher) Launch(ctx context.Context, opts LaunchOptions) error {
	l.logger.Info("launch starting", "tool_version", l.toolVersion)

	ux.Step(1, 5, "Resolving project identity")
	id, err := l.ResolveIdentity(ctx, opts.Workdir)
	if err != nil {
		return err
	}
	ux.Muted("Project: " + id.CanonicalName)

	recipeHash, err := infra.HashRecipe(l.cfg.Build.Recipe)
	if err != nil {
		return NewLaunchError(ErrBuildStale, "hashing build recipe").
			WithCause(err).
			WithRemedy("check that " + l.cfg.Build.Recipe + " exists")
	}

	prior := l.loadPrior(id, recipeHash)
	preferredToken := opts.TokenName
	if preferredToken == "" && prior != nil {
		preferredToken = prior.CredentialName
	}
	preferredNetwork := opts.NetworkOverride
	if preferredNetwork == "" && prior != nil {
		preferredNetwork = prior.NetworkName
	}

	ux.Step(2, 5, "Resolving credential")
	secret, credentialName, err := l.EnsureCredential(ctx, preferredToken)
	if err != nil {
		return err
	}

	ux.Step(3, 5, "Validating image build")
	if _, err := l.EnsureBuildCurrent(ctx, opts.ForceRebuild); err != nil {
		return err
	}

	ux.Step(4, 5, "Checking runtime health and network")
	network, err := l.EnsureHealthyAndJoined(ctx, id, preferredNetwork)
	if err != nil {
		return err
	}

	keyPaths := l.keyPaths(prior)

	ux.Step(5, 5, "Starting session container")
	if err := l.startSession(ctx, id, secret, network, keyPaths); err != nil {
		return err
	}

	if err := l.FinalizeLaunch(id, recipeHash, LaunchChoices{
		CredentialName: credentialName,
		KeyPaths:       keyPaths,
		NetworkName:    network,
	}); err != nil {
		l.logger.Warn("could not persist launch record", "error", err)
	}
	ux.Success("Session finished")
	return nil
}

// =============================================================================
// INTERNALS
// =============================================================================

// loadPrior loads the usable prior launch record, reporting drift.
func (l *Launcher) loadPrior(id *identity.Identity, recipeHash string) *LaunchConfig {
	store := NewLaunchConfigStore(id.StateDir, l.logger)
	prior, drift, err := store.LoadUsable(l.toolVersion, recipeHash)
	if err != nil {
		l.logger.Warn("could not load launch record", "error", err)
		return nil
	}

	switch drift {
	case DriftRecipeChange:
		// Same loud distinction as the image check: a hash change at an
		// unchanged version is a process defect.
		ux.Warning("Previous launch record was built from a different recipe at the same version; starting fresh.")
	case DriftVersionUpgrade:
		ux.Info("Launch record is from an older version; starting fresh.")
	case DriftSchemaOutdated:
		l.logger.Info("launch record discarded", "reason", string(drift))
	}
	return prior
}

// buildImage rebuilds the session image, stamping the version and
// recipe-hash labels the next validation will read back.
func (l *Launcher) buildImage(ctx context.Context, recipeHash string) error {
	output, err := l.pm.Run(ctx, l.cfg.Runtime.Binary, "build",
		"-t", l.cfg.Build.Image,
		"-f", l.cfg.Build.Recipe,
		"--label", infra.LabelVersion+"="+l.toolVersion,
		"--label", infra.LabelRecipeHash+"="+recipeHash,
		filepath.Dir(l.cfg.Build.Recipe))
	if err != nil {
		return NewLaunchError(ErrBuildStale, "building image").
			WithCause(err).
			WithRemedy("inspect the build output and fix " + l.cfg.Build.Recipe)
	}
	l.logger.Info("image built",
		"image", l.cfg.Build.Image,
		"recipe_hash", recipeHash,
		"output_bytes", len(output))

	if err := l.images.PruneDanglingImages(ctx); err != nil {
		l.logger.Warn("could not prune dangling images", "error", err)
	}
	return nil
}

// keyPaths returns the SSH key files to mount into the session.
func (l *Launcher) keyPaths(prior *LaunchConfig) []string {
	if prior != nil && len(prior.KeyPaths) > 0 {
		var existing []string
		for _, path := range prior.KeyPaths {
			if _, err := os.Stat(path); err == nil {
				existing = append(existing, path)
			}
		}
		if len(existing) > 0 {
			return existing
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	var found []string
	for _, name := range []string{"id_ed25519", "id_rsa"} {
		path := filepath.Join(home, ".ssh", name)
		if _, err := os.Stat(path); err == nil {
			found = append(found, path)
		}
	}
	return found
}

// startSession runs the session container attached to the terminal.
func (l *Launcher) startSession(ctx context.Context, id *identity.Identity, secret, network string, keyPaths []string) error {
	name, err := l.nextContainerName(ctx, id)
	if err != nil {
		return err
	}

	args := []string{"run", "--rm", "-it",
		"--name", name,
		"-v", id.RepoRoot + ":/workspace:Z",
		"-w", "/workspace",
		"--env", secretEnvVar,
	}
	if network != "" {
		args = append(args, "--network", network)
	}
	for _, keyPath := range keyPaths {
		args = append(args, "-v", keyPath+":/home/agent/.ssh/"+filepath.Base(keyPath)+":ro")
	}
	args = append(args, l.cfg.Build.Image)

	// The secret travels via the inherited environment, not argv.
	if err := os.Setenv(secretEnvVar, secret); err != nil {
		return fmt.Errorf("preparing session environment: %w", err)
	}
	defer os.Unsetenv(secretEnvVar)

	l.logger.Info("session container starting", "container", name, "network", network)
	if err := l.pm.RunInteractive(ctx, l.cfg.Runtime.Binary, args...); err != nil {
		return fmt.Errorf("session container: %w", err)
	}
	return nil
}

// nextContainerName picks the first free name in the project's naming
// sequence: prefix, prefix_2, prefix_3, ...
func (l *Launcher) nextContainerName(ctx context.Context, id *identity.Identity) (string, error) {
	running, err := l.health.ListProjectContainers(ctx, id.ContainerPrefix())
	if err != nil {
		return "", err
	}
	taken := make(map[string]struct{}, len(running))
	for _, rec := range running {
		taken[rec.Name] = struct{}{}
	}

	prefix := id.ContainerPrefix()
	if _, used := taken[prefix]; !used {
		return prefix, nil
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s_%d", prefix, n)
		if _, used := taken[candidate]; !used {
			return candidate, nil
		}
	}
}
