// Copyright (C) 2025 the yolo authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package identity derives a stable per-project identity from the working
directory's version-control metadata.

A session must be attributable to a specific upstream project, so a
resolvable remote is mandatory: a directory that is not a repository, or a
repository with no remote, is rejected rather than given a synthetic
identity. The canonical name is derived from the remote URL's owner and
repository segments and is deterministic across SSH/HTTPS remote forms,
path case, and the optional ".git" suffix.
*/
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrNotARepository is returned when the working directory is not inside
// a version-controlled repository.
var ErrNotARepository = errors.New("not a repository")

// ErrNoRemoteConfigured is returned when the repository has no remote URL.
// Session state must be attributable to an upstream project.
var ErrNoRemoteConfigured = errors.New("no remote configured")

// ErrUnparseableRemote is returned when the remote URL matches neither
// the SSH nor the HTTPS form.
var ErrUnparseableRemote = errors.New("unparseable remote URL")

// =============================================================================
// INTERFACES
// =============================================================================

// CommandRunner abstracts subprocess execution for testing.
//
// The production implementation shells out to the git CLI; tests inject
// a double that replays canned output.
type CommandRunner interface {
	// Run executes a command and returns its stdout.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// =============================================================================
// TYPES
// =============================================================================

// Identity is the resolved per-project identity. Immutable for the
// lifetime of a session.
type Identity struct {
	// CanonicalName is "<remote-owner>_<remote-repo>", lowercased.
	CanonicalName string

	// RepoRoot is the absolute path of the repository root.
	RepoRoot string

	// RemoteURL is the raw remote URL the identity was derived from.
	RemoteURL string

	// StateDir is the per-project state directory, created with
	// owner-only permissions on first resolution.
	StateDir string
}

// ContainerPrefix returns the naming prefix used for this project's
// session containers.
func (id *Identity) ContainerPrefix() string {
	return id.CanonicalName + "_yolo"
}

// Resolver resolves project identities and materializes their state
// directories.
type Resolver struct {
	stateRoot string
	runner    CommandRunner
	logger    *slog.Logger
}

// NewResolver creates a Resolver that places state directories under
// stateRoot/projects. A nil logger falls back to slog.Default().
func NewResolver(stateRoot string, runner CommandRunner, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{stateRoot: stateRoot, runner: runner, logger: logger}
}

// =============================================================================
// RESOLUTION
// =============================================================================

// Resolve derives the project identity for workdir.
//
// Fails with ErrNotARepository when no version-control root is found and
// ErrNoRemoteConfigured when the repository has no remote URL. On success
// the state directory and its .project-info metadata file exist with
// owner-only permissions; both are created idempotently.
func (r *Resolver) Resolve(ctx context.Context, workdir string) (*Identity, error) {
	rootOut, err := r.runner.Run(ctx, "git", "-C", workdir, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not inside a git repository", ErrNotARepository, workdir)
	}
	repoRoot := strings.TrimSpace(string(rootOut))

	remoteOut, err := r.runner.Run(ctx, "git", "-C", repoRoot, "remote", "get-url", "origin")
	if err != nil {
		return nil, fmt.Errorf("%w: repository %s has no origin remote", ErrNoRemoteConfigured, repoRoot)
	}
	remoteURL := strings.TrimSpace(string(remoteOut))
	if remoteURL == "" {
		return nil, fmt.Errorf("%w: repository %s has an empty origin remote", ErrNoRemoteConfigured, repoRoot)
	}

	canonical, err := CanonicalNameFromRemote(remoteURL)
	if err != nil {
		return nil, err
	}

	id := &Identity{
		CanonicalName: canonical,
		RepoRoot:      repoRoot,
		RemoteURL:     remoteURL,
		StateDir:      filepath.Join(r.stateRoot, "projects", canonical),
	}

	if err := r.materialize(id); err != nil {
		return nil, err
	}

	r.logger.Debug("project identity resolved",
		"canonical_name", id.CanonicalName,
		"state_dir", id.StateDir)
	return id, nil
}

// materialize creates the state directory and writes .project-info once.
func (r *Resolver) materialize(id *Identity) error {
	if err := os.MkdirAll(id.StateDir, 0700); err != nil {
		return fmt.Errorf("create state directory %s: %w", id.StateDir, err)
	}

	infoPath := filepath.Join(id.StateDir, ".project-info")
	if _, err := os.Stat(infoPath); err == nil {
		return nil // already written, keep the original creation record
	}

	info := fmt.Sprintf(
		"# yolo project metadata\nrepo_path=%s\nremote_url=%s\ncanonical_name=%s\ncreated=%s\n",
		id.RepoRoot, id.RemoteURL, id.CanonicalName, time.Now().UTC().Format(time.RFC3339))

	if err := os.WriteFile(infoPath, []byte(info), 0600); err != nil {
		return fmt.Errorf("write project info %s: %w", infoPath, err)
	}
	return nil
}

// =============================================================================
// REMOTE URL PARSING
// =============================================================================

// sshRemotePattern matches scp-like SSH remotes: git@host:owner/repo(.git)
var sshRemotePattern = regexp.MustCompile(`^[\w.-]+@[\w.-]+:([\w.-]+)/([\w.-]+?)(?:\.git)?/?$`)

// urlRemotePattern matches URL-form remotes (https://, ssh://, git://):
// scheme://[user@]host[:port]/owner/repo(.git)
var urlRemotePattern = regexp.MustCompile(`^(?:https?|ssh|git)://(?:[\w.-]+@)?[\w.-]+(?::\d+)?/([\w.-]+)/([\w.-]+?)(?:\.git)?/?$`)

// CanonicalNameFromRemote extracts "<owner>_<repo>" from an SSH or HTTPS
// remote URL. The result is lowercase and independent of a trailing
// ".git" suffix, so equal remotes always yield equal canonical names.
func CanonicalNameFromRemote(remoteURL string) (string, error) {
	trimmed := strings.TrimSpace(remoteURL)

	for _, pattern := range []*regexp.Regexp{sshRemotePattern, urlRemotePattern} {
		if m := pattern.FindStringSubmatch(trimmed); m != nil {
			owner := strings.ToLower(m[1])
			repo := strings.ToLower(m[2])
			return owner + "_" + repo, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnparseableRemote, remoteURL)
}
