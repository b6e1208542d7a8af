package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// CurrentSchemaVersion is the launch config schema this build reads and
// writes. Records with any other schema version force full reconfiguration.
const CurrentSchemaVersion = 2

// launchConfigRelPath is the record location inside a project state dir.
var launchConfigRelPath = filepath.Join(".claude", ".last-launch.conf")

// DriftType categorizes how a stored launch config relates to the
// running tool.
type DriftType string

const (
	// DriftNone indicates the record matches and is usable.
	DriftNone DriftType = "match"

	// DriftSchemaOutdated indicates the record was written by a different
	// schema. Always wins over the other classifications.
	DriftSchemaOutdated DriftType = "schema_outdated"

	// DriftRecipeChange indicates the tool version matches but the recipe
	// hash does not: the recipe changed without a version bump. Reported
	// loudly as a process defect, then handled like any other drift.
	DriftRecipeChange DriftType = "recipe_change"

	// DriftVersionUpgrade indicates the record was written by a different
	// tool version. The normal upgrade path.
	DriftVersionUpgrade DriftType = "version_upgrade"
)

// LaunchConfig is the persisted record of the last successful launch.
//
// Overwritten wholesale on every successful launch, never patched.
type LaunchConfig struct {
	// SchemaVersion is the file format version.
	SchemaVersion int

	// ToolVersion is the orchestrator version that wrote the record.
	ToolVersion string

	// RecipeHash is the recipe content hash at write time.
	RecipeHash string

	// CredentialName is the token used for the launch.
	CredentialName string

	// KeyPaths are host paths mounted into the session.
	KeyPaths []string

	// NetworkName is the network the session joined.
	NetworkName string

	// LastLaunch is the date of the last successful launch.
	LastLaunch time.Time
}

// ClassifyDrift compares a stored record against the running tool.
//
// Exactly one classification is produced. Schema mismatch dominates;
// otherwise version and hash are validated together so a recipe change is
// never ignored just because the version was not bumped.
func ClassifyDrift(rec *LaunchConfig, toolVersion, recipeHash string) DriftType {
	switch {
	case rec.SchemaVersion != CurrentSchemaVersion:
		return DriftSchemaOutdated
	case rec.ToolVersion != toolVersion:
		return DriftVersionUpgrade
	case rec.RecipeHash != recipeHash:
		return DriftRecipeChange
	default:
		return DriftNone
	}
}

// LaunchConfigStore persists LaunchConfig records, one per project.
//
// # Description
//
// The record is a key=value file with a header comment block, written
// atomically with owner-only permissions. Any drift deletes the record
// rather than attempting partial repair: configuration is all-or-nothing.
type LaunchConfigStore struct {
	stateDir string
	logger   *slog.Logger
}

// NewLaunchConfigStore creates a store rooted at a project state dir.
func NewLaunchConfigStore(stateDir string, logger *slog.Logger) *LaunchConfigStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &LaunchConfigStore{stateDir: stateDir, logger: logger}
}

// Path returns the record location.
func (s *LaunchConfigStore) Path() string {
	return filepath.Join(s.stateDir, launchConfigRelPath)
}

// LoadUsable returns the stored record if it matches the running tool.
//
// # Outputs
//
//   - *LaunchConfig: The record, or nil when absent or drifted.
//   - DriftType: The classification. DriftNone when the record is usable
//     or absent.
//   - error: Non-nil only for unexpected I/O failures.
//
// Any non-match deletes the stored record, forcing the interactive path
// on this launch and a clean slate for the next one. A record that fails
// to parse (load reports ErrConfigDrift) is handled as schema drift.
func (s *LaunchConfigStore) LoadUsable(toolVersion, recipeHash string) (*LaunchConfig, DriftType, error) {
	rec, err := s.load()
	if errors.Is(err, os.ErrNotExist) {
		return nil, DriftNone, nil
	}
	if errors.Is(err, ErrConfigDrift) {
		s.logger.Warn("unparseable launch config, discarding", "path", s.Path(), "error", err)
		return nil, DriftSchemaOutdated, s.Invalidate()
	}
	if err != nil {
		return nil, DriftNone, fmt.Errorf("reading launch config: %w", err)
	}

	drift := ClassifyDrift(rec, toolVersion, recipeHash)
	if drift == DriftNone {
		return rec, DriftNone, nil
	}

	s.logger.Info("launch config drift, discarding record",
		"drift", string(drift),
		"recorded_version", rec.ToolVersion,
		"current_version", toolVersion)
	if err := s.Invalidate(); err != nil {
		return nil, drift, err
	}
	return nil, drift, nil
}

// Save writes a fresh record, replacing any prior one atomically.
func (s *LaunchConfigStore) Save(rec *LaunchConfig) error {
	rec.SchemaVersion = CurrentSchemaVersion

	dir := filepath.Dir(s.Path())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	var b strings.Builder
	b.WriteString("# yolo launch configuration\n")
	b.WriteString("# Rewritten on every successful launch. Do not edit.\n")
	fmt.Fprintf(&b, "schema_version=%d\n", rec.SchemaVersion)
	fmt.Fprintf(&b, "tool_version=%s\n", rec.ToolVersion)
	fmt.Fprintf(&b, "recipe_hash=%s\n", rec.RecipeHash)
	fmt.Fprintf(&b, "credential_name=%s\n", rec.CredentialName)
	fmt.Fprintf(&b, "key_paths=%s\n", strings.Join(rec.KeyPaths, ":"))
	fmt.Fprintf(&b, "network_name=%s\n", rec.NetworkName)
	fmt.Fprintf(&b, "last_launch=%s\n", rec.LastLaunch.Format("2006-01-02"))

	tmp, err := os.CreateTemp(dir, ".last-launch.tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp config: %w", err)
	}
	tmpName := tmp.Name()
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("restricting config perms: %w", err)
	}
	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing config: %w", err)
	}
	if err := os.Rename(tmpName, s.Path()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("installing config: %w", err)
	}
	return nil
}

// Invalidate deletes the stored record. Missing records are not an error.
func (s *LaunchConfigStore) Invalidate() error {
	err := os.Remove(s.Path())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing launch config: %w", err)
	}
	return nil
}

// load parses the record file into a typed LaunchConfig. Parse failures
// wrap ErrConfigDrift so callers can tell a corrupt record apart from an
// I/O failure.
func (s *LaunchConfigStore) load() (*LaunchConfig, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		return nil, err
	}

	rec := &LaunchConfig{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, fmt.Errorf("%w: malformed line %q", ErrConfigDrift, line)
		}
		switch key {
		case "schema_version":
			v, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("%w: bad schema_version %q", ErrConfigDrift, value)
			}
			rec.SchemaVersion = v
		case "tool_version":
			rec.ToolVersion = value
		case "recipe_hash":
			rec.RecipeHash = value
		case "credential_name":
			rec.CredentialName = value
		case "key_paths":
			if value != "" {
				rec.KeyPaths = strings.Split(value, ":")
			}
		case "network_name":
			rec.NetworkName = value
		case "last_launch":
			t, err := time.Parse("2006-01-02", value)
			if err != nil {
				return nil, fmt.Errorf("%w: bad last_launch %q", ErrConfigDrift, value)
			}
			rec.LastLaunch = t
		default:
			// Unknown keys are ignored.
		}
	}
	return rec, nil
}
