// Copyright (C) 2025 the yolo authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yolo-cli/yolo/cmd/yolo/config"
	"github.com/yolo-cli/yolo/cmd/yolo/internal/identity"
	"github.com/yolo-cli/yolo/cmd/yolo/internal/infra"
)

// launcherRuntime simulates every runtime command a launch touches.
type launcherRuntime struct {
	labelsJSON string // image inspect output, "" means image missing
	psOutput   string
	inspect    map[string]string
	versionErr error
	commands   []string
}

func (f *launcherRuntime) manager() *MockProcessManager {
	return &MockProcessManager{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			joined := strings.Join(args, " ")
			f.commands = append(f.commands, name+" "+joined)
			switch {
			case strings.HasPrefix(joined, "image inspect"):
				if f.labelsJSON == "" {
					return nil, errors.New("no such image")
				}
				return []byte(f.labelsJSON + "\n"), nil
			case strings.HasPrefix(joined, "image prune"):
				return []byte(""), nil
			case strings.HasPrefix(joined, "build"):
				return []byte("built"), nil
			case strings.HasPrefix(joined, "version"):
				return []byte("5.0.0"), f.versionErr
			case strings.HasPrefix(joined, "ps"):
				return []byte(f.psOutput), nil
			case strings.HasPrefix(joined, "inspect"):
				target := args[len(args)-1]
				out, ok := f.inspect[target]
				if !ok {
					return nil, fmt.Errorf("no such container %s", target)
				}
				return []byte(out), nil
			case strings.HasPrefix(joined, "network exists"):
				return nil, errors.New("network not found")
			case strings.HasPrefix(joined, "network connect"):
				return []byte(""), nil
			default:
				return nil, fmt.Errorf("unexpected command: %s %s", name, joined)
			}
		},
		IsRunningFunc: func(ctx context.Context, pattern string) (bool, int, error) {
			return true, 1234, nil
		},
	}
}

func (f *launcherRuntime) sawCommand(fragment string) bool {
	for _, cmd := range f.commands {
		if strings.Contains(cmd, fragment) {
			return true
		}
	}
	return false
}

func newTestLauncher(t *testing.T, rt *launcherRuntime) (*Launcher, *config.YoloConfig) {
	t.Helper()
	dir := t.TempDir()

	recipe := filepath.Join(dir, "Containerfile.yolo")
	if err := os.WriteFile(recipe, []byte("FROM scratch\n"), 0644); err != nil {
		t.Fatalf("writing recipe fixture: %v", err)
	}

	cfg := &config.YoloConfig{
		StateRoot: filepath.Join(dir, "state"),
		Tokens:    config.TokensConfig{Dir: filepath.Join(dir, "tokens")},
		API:       config.APIConfig{BaseURL: "https://api.example.com", TimeoutSeconds: 5},
		Build:     config.BuildConfig{Image: "yolo-agent", Recipe: recipe},
		Runtime:   config.RuntimeConfig{Binary: "podman"},
	}

	pm := rt.manager()
	logger := discardLogger()
	return &Launcher{
		cfg:         cfg,
		pm:          pm,
		prompter:    &MockPrompter{},
		resolver:    identity.NewResolver(cfg.StateRoot, pm, logger),
		images:      infra.NewImageValidatorWithDeps(executorAdapter{pm}, logger),
		health:      NewDefaultHealthChecker(pm, &MockPrompter{}, "podman", logger),
		networks:    NewDefaultNetworkManager(pm, &MockPrompter{}, "podman", logger),
		toolVersion: "3.1.0",
		sessionID:   "test-session",
		logger:      logger,
	}, cfg
}

func launcherTestIdentity(t *testing.T, cfg *config.YoloConfig) *identity.Identity {
	t.Helper()
	repoRoot := filepath.Join(t.TempDir(), "teamA", "myproj")
	stateDir := filepath.Join(cfg.StateRoot, "projects", "acme_myproj")
	for _, dir := range []string{repoRoot, stateDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			t.Fatalf("creating %s: %v", dir, err)
		}
	}
	return &identity.Identity{
		CanonicalName: "acme_myproj",
		RepoRoot:      repoRoot,
		RemoteURL:     "git@example.com:acme/myproj.git",
		StateDir:      stateDir,
	}
}

// TestResolveIdentity_NotARepository maps the failure to the fatal kind.
func TestResolveIdentity_NotARepository(t *testing.T) {
	// Arrange
	pm := &MockProcessManager{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return nil, errors.New("fatal: not a git repository")
		},
	}
	l := &Launcher{
		resolver: identity.NewResolver(t.TempDir(), pm, discardLogger()),
		logger:   discardLogger(),
	}

	// Act
	_, err := l.ResolveIdentity(context.Background(), t.TempDir())

	// Assert
	if !errors.Is(err, ErrIdentityUnresolvable) {
		t.Errorf("error = %v, want ErrIdentityUnresolvable", err)
	}
	var launchErr *LaunchError
	if !errors.As(err, &launchErr) || launchErr.Remedy == "" {
		t.Errorf("error should carry a remedy: %v", err)
	}
}

// TestEnsureBuildCurrent_UpToDate skips the rebuild.
func TestEnsureBuildCurrent_UpToDate(t *testing.T) {
	// Arrange
	rt := &launcherRuntime{}
	l, cfg := newTestLauncher(t, rt)
	hash, err := infra.HashRecipe(cfg.Build.Recipe)
	if err != nil {
		t.Fatalf("hashing recipe: %v", err)
	}
	rt.labelsJSON = fmt.Sprintf(`{"%s":"3.1.0","%s":"%s"}`,
		infra.LabelVersion, infra.LabelRecipeHash, hash)

	// Act
	rebuilt, err := l.EnsureBuildCurrent(context.Background(), false)

	// Assert
	if err != nil {
		t.Fatalf("EnsureBuildCurrent() failed: %v", err)
	}
	if rebuilt {
		t.Error("current image should not be rebuilt")
	}
	if rt.sawCommand("build -t") {
		t.Error("no build command should run for a current image")
	}
}

// TestEnsureBuildCurrent_RecipeDriftRebuilds stamps fresh labels.
func TestEnsureBuildCurrent_RecipeDriftRebuilds(t *testing.T) {
	// Arrange
	rt := &launcherRuntime{}
	l, _ := newTestLauncher(t, rt)
	rt.labelsJSON = fmt.Sprintf(`{"%s":"3.1.0","%s":"000000000000"}`,
		infra.LabelVersion, infra.LabelRecipeHash)

	// Act
	rebuilt, err := l.EnsureBuildCurrent(context.Background(), false)

	// Assert
	if err != nil {
		t.Fatalf("EnsureBuildCurrent() failed: %v", err)
	}
	if !rebuilt {
		t.Error("recipe drift must rebuild")
	}
	if !rt.sawCommand("build -t yolo-agent") {
		t.Errorf("commands = %v, missing build", rt.commands)
	}
	if !rt.sawCommand(infra.LabelRecipeHash + "=") {
		t.Error("rebuild must stamp the recipe-hash label")
	}
}

// TestEnsureBuildCurrent_MissingImageBuilds treats absence as first build.
func TestEnsureBuildCurrent_MissingImageBuilds(t *testing.T) {
	// Arrange
	rt := &launcherRuntime{labelsJSON: ""}
	l, _ := newTestLauncher(t, rt)

	// Act
	rebuilt, err := l.EnsureBuildCurrent(context.Background(), false)

	// Assert
	if err != nil {
		t.Fatalf("EnsureBuildCurrent() failed: %v", err)
	}
	if !rebuilt || !rt.sawCommand("build -t yolo-agent") {
		t.Errorf("missing image must trigger a build, commands = %v", rt.commands)
	}
}

// TestEnsureBuildCurrent_ForceRebuild rebuilds a current image.
func TestEnsureBuildCurrent_ForceRebuild(t *testing.T) {
	// Arrange
	rt := &launcherRuntime{}
	l, cfg := newTestLauncher(t, rt)
	hash, _ := infra.HashRecipe(cfg.Build.Recipe)
	rt.labelsJSON = fmt.Sprintf(`{"%s":"3.1.0","%s":"%s"}`,
		infra.LabelVersion, infra.LabelRecipeHash, hash)

	// Act
	rebuilt, err := l.EnsureBuildCurrent(context.Background(), true)

	// Assert
	if err != nil {
		t.Fatalf("EnsureBuildCurrent() failed: %v", err)
	}
	if !rebuilt {
		t.Error("forced rebuild must run even when current")
	}
}

// TestEnsureHealthyAndJoined_RuntimeDown fails fast.
func TestEnsureHealthyAndJoined_RuntimeDown(t *testing.T) {
	// Arrange
	rt := &launcherRuntime{versionErr: errors.New("connection refused")}
	l, cfg := newTestLauncher(t, rt)
	id := launcherTestIdentity(t, cfg)

	// Act
	_, err := l.EnsureHealthyAndJoined(context.Background(), id, "")

	// Assert
	if !errors.Is(err, ErrRuntimeUnreachable) {
		t.Errorf("error = %v, want ErrRuntimeUnreachable", err)
	}
}

// TestEnsureHealthyAndJoined_OverrideSkipsResolution uses the given name.
func TestEnsureHealthyAndJoined_OverrideSkipsResolution(t *testing.T) {
	// Arrange
	rt := &launcherRuntime{psOutput: ""}
	l, cfg := newTestLauncher(t, rt)
	id := launcherTestIdentity(t, cfg)

	// Act
	network, err := l.EnsureHealthyAndJoined(context.Background(), id, "custom-network")

	// Assert
	if err != nil {
		t.Fatalf("EnsureHealthyAndJoined() failed: %v", err)
	}
	if network != "custom-network" {
		t.Errorf("network = %q, want the override", network)
	}
	if rt.sawCommand("network exists") {
		t.Error("override must skip network resolution")
	}
}

// TestEnsureHealthyAndJoined_JoinsRunningContainers attaches existing
// sessions to the resolved network.
func TestEnsureHealthyAndJoined_JoinsRunningContainers(t *testing.T) {
	// Arrange
	rt := &launcherRuntime{
		psOutput: "acme_myproj_yolo\n",
		inspect: map[string]string{
			"acme_myproj_yolo": "true true 2026-08-29T10:00:00Z",
		},
	}
	l, cfg := newTestLauncher(t, rt)
	id := launcherTestIdentity(t, cfg)

	// The pre-launch check lists the running session; continue alongside it.
	var menuSeen bool
	prompter := &MockPrompter{
		SelectFunc: func(ctx context.Context, prompt string, options []string) (int, error) {
			menuSeen = true
			return 0, nil
		},
	}
	l.health = NewDefaultHealthChecker(rt.manager(), prompter, "podman", discardLogger())

	// Act
	_, err := l.EnsureHealthyAndJoined(context.Background(), id, "custom-network")

	// Assert
	if err != nil {
		t.Fatalf("EnsureHealthyAndJoined() failed: %v", err)
	}
	if !menuSeen {
		t.Error("expected the pre-launch menu for the running container")
	}
	if !rt.sawCommand("network connect custom-network acme_myproj_yolo") {
		t.Errorf("commands = %v, missing network connect", rt.commands)
	}
}

// TestNextContainerName_Sequence picks the first free suffix.
func TestNextContainerName_Sequence(t *testing.T) {
	// Arrange
	rt := &launcherRuntime{
		psOutput: "acme_myproj_yolo\nacme_myproj_yolo_2\n",
		inspect: map[string]string{
			"acme_myproj_yolo":   "true true 2026-08-29T10:00:00Z",
			"acme_myproj_yolo_2": "true true 2026-08-29T11:00:00Z",
		},
	}
	l, cfg := newTestLauncher(t, rt)
	id := launcherTestIdentity(t, cfg)

	// Act
	name, err := l.nextContainerName(context.Background(), id)

	// Assert
	if err != nil {
		t.Fatalf("nextContainerName() failed: %v", err)
	}
	if name != "acme_myproj_yolo_3" {
		t.Errorf("name = %q, want acme_myproj_yolo_3", name)
	}
}

// TestFinalizeLaunch_Roundtrip persists a record the next launch loads.
func TestFinalizeLaunch_Roundtrip(t *testing.T) {
	// Arrange
	rt := &launcherRuntime{}
	l, cfg := newTestLauncher(t, rt)
	id := launcherTestIdentity(t, cfg)

	// Act
	err := l.FinalizeLaunch(id, "abc123def456", LaunchChoices{
		CredentialName: "work",
		KeyPaths:       []string{"/home/u/.ssh/id_ed25519"},
		NetworkName:    "myproj-network",
	})

	// Assert
	if err != nil {
		t.Fatalf("FinalizeLaunch() failed: %v", err)
	}
	store := NewLaunchConfigStore(id.StateDir, discardLogger())
	rec, drift, err := store.LoadUsable("3.1.0", "abc123def456")
	if err != nil {
		t.Fatalf("LoadUsable() failed: %v", err)
	}
	if drift != DriftNone || rec == nil {
		t.Fatalf("LoadUsable() = (%v, %v), want a usable record", rec, drift)
	}
	if rec.CredentialName != "work" || rec.NetworkName != "myproj-network" {
		t.Errorf("record = %+v, choices not preserved", rec)
	}
	if time.Since(rec.LastLaunch) > 48*time.Hour {
		t.Errorf("LastLaunch = %v, want today", rec.LastLaunch)
	}
}
