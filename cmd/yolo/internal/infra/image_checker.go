// Copyright (C) 2025 the yolo authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package infra

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/mod/semver"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// LabelVersion is the image label recording the tool version the image
	// was built for.
	LabelVersion = "org.yolo.version"

	// LabelRecipeHash is the image label recording the content hash of the
	// build recipe the image was built from.
	LabelRecipeHash = "org.yolo.recipe-hash"

	// RecipeHashLength is the number of hex characters kept from the full
	// SHA-256 digest of the recipe file.
	RecipeHashLength = 12
)

// =============================================================================
// TYPES
// =============================================================================

// BuildState classifies a container image relative to the current tool
// version and build recipe.
//
// Version and recipe hash are validated together: a recipe change is never
// ignored just because the version was not bumped, and a legitimate version
// bump never produces an error-level message.
type BuildState int

const (
	// BuildCurrent means both the version and recipe-hash labels match.
	// No rebuild is needed.
	BuildCurrent BuildState = iota

	// BuildLegacyImage means the version matches but the image predates the
	// labeling scheme (no recipe-hash label). Rebuilt silently.
	BuildLegacyImage

	// BuildRecipeDrift means the version matches but the recipe content
	// changed without a version bump. This is a process violation and is
	// reported loudly, but still rebuilds automatically rather than blocking.
	BuildRecipeDrift

	// BuildUpgrade means the image was built for a different tool version.
	// The recipe hash is irrelevant in this case; a normal rebuild follows.
	BuildUpgrade
)

// String returns a short lowercase name for the state.
func (s BuildState) String() string {
	switch s {
	case BuildCurrent:
		return "current"
	case BuildLegacyImage:
		return "legacy-image"
	case BuildRecipeDrift:
		return "recipe-drift"
	case BuildUpgrade:
		return "upgrade"
	default:
		return fmt.Sprintf("BuildState(%d)", int(s))
	}
}

// ImageLabels holds the build-tracking labels read from an image.
type ImageLabels struct {
	Version    string
	RecipeHash string
}

// Assessment is the result of validating an image against the current tool
// version and recipe.
type Assessment struct {
	State      BuildState
	Image      ImageLabels
	RecipeHash string
}

// RebuildRequired reports whether the assessed state calls for a rebuild.
func (a Assessment) RebuildRequired() bool {
	return a.State != BuildCurrent
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrImageNotFound indicates the image does not exist in local storage.
// Callers treat this as a first build rather than a drift condition.
var ErrImageNotFound = fmt.Errorf("image not found")

// =============================================================================
// INTERFACES
// =============================================================================

// ImageValidator decides whether a container image must be rebuilt and why.
//
// # Description
//
// ImageValidator compares a required tool version and a content hash of the
// build recipe against labels recorded on the last built image. The
// classification distinguishes a normal upgrade from a recipe change that
// was made without a version bump.
//
// # Methods
//
//   - Check: Classifies an image against the current version and recipe.
//   - PruneDanglingImages: Removes unnamed images left behind by rebuilds.
//
// # Examples
//
//	validator := NewImageValidator()
//	a, err := validator.Check(ctx, "myproj_yolo", "3.1.0", "Containerfile")
//	if err == nil && a.RebuildRequired() {
//	    // Trigger rebuild
//	}
//
// # Limitations
//
//   - Assumes podman is available in PATH.
type ImageValidator interface {
	// Check classifies imageName against requiredVersion and the recipe
	// file at recipePath.
	//
	// # Inputs
	//
	//   - ctx: Context for the runtime query.
	//   - imageName: Name of the container image to inspect.
	//   - requiredVersion: Version the running tool expects.
	//   - recipePath: Path to the build recipe file.
	//
	// # Outputs
	//
	//   - Assessment: Classification plus the label values observed.
	//   - error: ErrImageNotFound if the image does not exist; non-nil
	//     otherwise only if the recipe file could not be read.
	Check(ctx context.Context, imageName, requiredVersion, recipePath string) (Assessment, error)

	// PruneDanglingImages removes unnamed/dangling images to free disk space.
	//
	// # Outputs
	//
	//   - error: Non-nil if pruning failed (non-fatal, can be ignored).
	PruneDanglingImages(ctx context.Context) error
}

// CommandExecutor abstracts command execution for testing.
//
// # Description
//
// Allows mocking of exec.CommandContext calls in unit tests.
type CommandExecutor interface {
	// Execute runs the given command and returns stdout.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation.
	//   - name: Command name.
	//   - args: Command arguments.
	//
	// # Outputs
	//
	//   - []byte: stdout output.
	//   - error: Non-nil if command failed.
	Execute(ctx context.Context, name string, args ...string) ([]byte, error)
}

// =============================================================================
// STRUCTS
// =============================================================================

// DefaultImageValidator is the production implementation of ImageValidator.
//
// # Description
//
// Reads build-tracking labels via podman image inspect and hashes the
// recipe file with SHA-256, truncated to RecipeHashLength hex characters.
//
// # Thread Safety
//
// Safe for concurrent use. No shared mutable state.
type DefaultImageValidator struct {
	executor CommandExecutor
	logger   *slog.Logger
}

// defaultCommandExecutor is the production CommandExecutor.
type defaultCommandExecutor struct{}

var _ ImageValidator = (*DefaultImageValidator)(nil)

// =============================================================================
// CONSTRUCTORS
// =============================================================================

// NewImageValidator creates an ImageValidator with production dependencies.
func NewImageValidator() ImageValidator {
	return &DefaultImageValidator{
		executor: &defaultCommandExecutor{},
		logger:   slog.Default(),
	}
}

// NewImageValidatorWithDeps creates an ImageValidator with injected
// dependencies for testing.
//
// # Inputs
//
//   - executor: CommandExecutor implementation.
//   - logger: Structured logger (can be nil for default).
//
// # Outputs
//
//   - *DefaultImageValidator: Configured validator (concrete type for testing).
func NewImageValidatorWithDeps(executor CommandExecutor, logger *slog.Logger) *DefaultImageValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultImageValidator{
		executor: executor,
		logger:   logger,
	}
}

// =============================================================================
// METHOD IMPLEMENTATIONS - DefaultImageValidator
// =============================================================================

// Check classifies imageName against requiredVersion and the recipe file.
//
// # Description
//
// Computes the recipe content hash, reads the image's build-tracking labels,
// and applies the classification in the following order: missing image
// (ErrImageNotFound), version mismatch (BuildUpgrade), missing labels
// (BuildLegacyImage), hash mismatch (BuildRecipeDrift), match (BuildCurrent).
//
// # Outputs
//
//   - Assessment: Classification plus observed label values.
//   - error: ErrImageNotFound if the image does not exist, or a read error
//     for the recipe file.
func (v *DefaultImageValidator) Check(ctx context.Context, imageName, requiredVersion, recipePath string) (Assessment, error) {
	recipeHash, err := HashRecipe(recipePath)
	if err != nil {
		return Assessment{}, fmt.Errorf("hashing recipe %s: %w", recipePath, err)
	}

	labels, err := v.imageLabels(ctx, imageName)
	if err != nil {
		v.logger.Debug("image not found, first build required",
			"image", imageName,
			"error", err)
		return Assessment{RecipeHash: recipeHash}, ErrImageNotFound
	}

	a := Assessment{
		State:      Classify(requiredVersion, recipeHash, labels),
		Image:      labels,
		RecipeHash: recipeHash,
	}

	v.logger.Debug("image build state assessed",
		"image", imageName,
		"state", a.State.String(),
		"image_version", labels.Version,
		"required_version", requiredVersion)

	return a, nil
}

// PruneDanglingImages removes unnamed/dangling images.
//
// # Description
//
// Runs "podman image prune -f" to clean up dangling images that accumulate
// during rebuilds. This is a non-critical operation.
func (v *DefaultImageValidator) PruneDanglingImages(ctx context.Context) error {
	_, err := v.executor.Execute(ctx, "podman", "image", "prune", "-f")
	return err
}

// imageLabels reads the build-tracking labels from an image.
func (v *DefaultImageValidator) imageLabels(ctx context.Context, imageName string) (ImageLabels, error) {
	output, err := v.executor.Execute(ctx, "podman", "image", "inspect",
		"--format", "{{json .Config.Labels}}", imageName)
	if err != nil {
		return ImageLabels{}, err
	}

	raw := strings.TrimSpace(string(output))
	labels := map[string]string{}
	if raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &labels); err != nil {
			return ImageLabels{}, fmt.Errorf("parsing image labels: %w", err)
		}
	}

	return ImageLabels{
		Version:    labels[LabelVersion],
		RecipeHash: labels[LabelRecipeHash],
	}, nil
}

// =============================================================================
// PURE FUNCTIONS
// =============================================================================

// Classify applies the build-state rules to observed image labels.
//
// # Description
//
// Version is compared first: any difference, including a downgrade, takes
// the upgrade path. Only when versions agree does the recipe hash matter,
// with a missing hash label treated as a pre-migration image rather than
// drift.
func Classify(requiredVersion, recipeHash string, labels ImageLabels) BuildState {
	if semver.Compare("v"+labels.Version, "v"+requiredVersion) != 0 {
		return BuildUpgrade
	}
	if labels.RecipeHash == "" {
		return BuildLegacyImage
	}
	if labels.RecipeHash != recipeHash {
		return BuildRecipeDrift
	}
	return BuildCurrent
}

// HashRecipe computes the short content hash of a recipe file.
//
// # Outputs
//
//   - string: First RecipeHashLength hex characters of the SHA-256 digest.
//   - error: Non-nil if the file could not be read.
func HashRecipe(recipePath string) (string, error) {
	data, err := os.ReadFile(recipePath)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:RecipeHashLength], nil
}

// =============================================================================
// METHOD IMPLEMENTATIONS - defaultCommandExecutor
// =============================================================================

// Execute runs a command and returns its stdout.
func (e *defaultCommandExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}
