package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func day2(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatalf("parsing day %q: %v", s, err)
	}
	return d
}

func sampleConfig(t *testing.T) *LaunchConfig {
	return &LaunchConfig{
		ToolVersion:    "3.0.0",
		RecipeHash:     "abc123def456",
		CredentialName: "work",
		KeyPaths:       []string{"/home/dev/.gitconfig", "/home/dev/.ssh"},
		NetworkName:    "myproj-network",
		LastLaunch:     day2(t, "2026-08-29"),
	}
}

// TestClassifyDrift covers the exhaustive four-way classification.
func TestClassifyDrift(t *testing.T) {
	tests := []struct {
		name    string
		rec     LaunchConfig
		version string
		hash    string
		want    DriftType
	}{
		{
			name:    "match",
			rec:     LaunchConfig{SchemaVersion: CurrentSchemaVersion, ToolVersion: "3.0.0", RecipeHash: "abc123"},
			version: "3.0.0", hash: "abc123",
			want: DriftNone,
		},
		{
			name:    "schema outdated",
			rec:     LaunchConfig{SchemaVersion: CurrentSchemaVersion - 1, ToolVersion: "3.0.0", RecipeHash: "abc123"},
			version: "3.0.0", hash: "abc123",
			want: DriftSchemaOutdated,
		},
		{
			name:    "schema outdated wins over version mismatch",
			rec:     LaunchConfig{SchemaVersion: CurrentSchemaVersion - 1, ToolVersion: "2.0.0", RecipeHash: "zzz"},
			version: "3.0.0", hash: "abc123",
			want: DriftSchemaOutdated,
		},
		{
			name:    "version upgrade",
			rec:     LaunchConfig{SchemaVersion: CurrentSchemaVersion, ToolVersion: "2.9.0", RecipeHash: "abc123"},
			version: "3.0.0", hash: "abc123",
			want: DriftVersionUpgrade,
		},
		{
			name:    "version differs and hash is irrelevant",
			rec:     LaunchConfig{SchemaVersion: CurrentSchemaVersion, ToolVersion: "2.9.0", RecipeHash: "zzz"},
			version: "3.0.0", hash: "abc123",
			want: DriftVersionUpgrade,
		},
		{
			name:    "recipe changed without version bump",
			rec:     LaunchConfig{SchemaVersion: CurrentSchemaVersion, ToolVersion: "3.0.0", RecipeHash: "abc123"},
			version: "3.0.0", hash: "def456",
			want: DriftRecipeChange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyDrift(&tt.rec, tt.version, tt.hash); got != tt.want {
				t.Errorf("ClassifyDrift() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestLaunchConfigStore_SaveLoadRoundtrip verifies persistence.
func TestLaunchConfigStore_SaveLoadRoundtrip(t *testing.T) {
	// Arrange
	store := NewLaunchConfigStore(t.TempDir(), nil)
	rec := sampleConfig(t)

	// Act
	if err := store.Save(rec); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	got, drift, err := store.LoadUsable("3.0.0", "abc123def456")

	// Assert
	if err != nil {
		t.Fatalf("LoadUsable() failed: %v", err)
	}
	if drift != DriftNone {
		t.Errorf("drift = %v, want DriftNone", drift)
	}
	if got == nil {
		t.Fatal("expected a usable record")
	}
	if got.CredentialName != "work" || got.NetworkName != "myproj-network" {
		t.Errorf("record fields lost: %+v", got)
	}
	if len(got.KeyPaths) != 2 || got.KeyPaths[1] != "/home/dev/.ssh" {
		t.Errorf("KeyPaths = %v, want two entries", got.KeyPaths)
	}
	if !got.LastLaunch.Equal(day2(t, "2026-08-29")) {
		t.Errorf("LastLaunch = %v, want 2026-08-29", got.LastLaunch)
	}
}

// TestLaunchConfigStore_FilePermissionsAndHeader verifies output format.
func TestLaunchConfigStore_FilePermissionsAndHeader(t *testing.T) {
	// Arrange
	store := NewLaunchConfigStore(t.TempDir(), nil)

	// Act
	if err := store.Save(sampleConfig(t)); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	// Assert
	info, err := os.Stat(store.Path())
	if err != nil {
		t.Fatalf("stat config: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("perms = %o, want 0600", info.Mode().Perm())
	}

	data, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatalf("reading config: %v", err)
	}
	content := string(data)
	if !strings.HasPrefix(content, "#") {
		t.Error("config should start with a header comment")
	}
	for _, line := range []string{"schema_version=2", "tool_version=3.0.0", "recipe_hash=abc123def456"} {
		if !strings.Contains(content, line) {
			t.Errorf("config missing line %q:\n%s", line, content)
		}
	}
}

// TestLaunchConfigStore_MissingRecordIsNotAnError verifies the cold start.
func TestLaunchConfigStore_MissingRecordIsNotAnError(t *testing.T) {
	store := NewLaunchConfigStore(t.TempDir(), nil)

	got, drift, err := store.LoadUsable("3.0.0", "abc123")
	if err != nil {
		t.Fatalf("LoadUsable() failed: %v", err)
	}
	if got != nil || drift != DriftNone {
		t.Errorf("LoadUsable() = (%v, %v), want (nil, DriftNone)", got, drift)
	}
}

// TestLaunchConfigStore_DriftDeletesRecord verifies all-or-nothing handling.
func TestLaunchConfigStore_DriftDeletesRecord(t *testing.T) {
	// Arrange
	store := NewLaunchConfigStore(t.TempDir(), nil)
	rec := sampleConfig(t)
	if err := store.Save(rec); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	// Act: current hash differs, version matches
	got, drift, err := store.LoadUsable("3.0.0", "def456def456")

	// Assert
	if err != nil {
		t.Fatalf("LoadUsable() failed: %v", err)
	}
	if got != nil {
		t.Error("drifted record must not be returned")
	}
	if drift != DriftRecipeChange {
		t.Errorf("drift = %v, want DriftRecipeChange", drift)
	}
	if _, err := os.Stat(store.Path()); !os.IsNotExist(err) {
		t.Error("drifted record should have been deleted")
	}
}

// TestLaunchConfigStore_MalformedRecordDiscarded verifies parse failures.
func TestLaunchConfigStore_MalformedRecordDiscarded(t *testing.T) {
	// Arrange
	stateDir := t.TempDir()
	store := NewLaunchConfigStore(stateDir, nil)
	path := store.Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("schema_version=banana\n"), 0o600); err != nil {
		t.Fatalf("writing corrupt record: %v", err)
	}

	// Act
	got, drift, err := store.LoadUsable("3.0.0", "abc123")

	// Assert
	if err != nil {
		t.Fatalf("LoadUsable() failed: %v", err)
	}
	if got != nil {
		t.Error("corrupt record must not be returned")
	}
	if drift != DriftSchemaOutdated {
		t.Errorf("drift = %v, want DriftSchemaOutdated", drift)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("corrupt record should have been deleted")
	}
}

// TestLaunchConfigStore_ParseFailureIsClassified verifies a corrupt
// record reads back as config drift, not as a bare I/O failure.
func TestLaunchConfigStore_ParseFailureIsClassified(t *testing.T) {
	// Arrange
	store := NewLaunchConfigStore(t.TempDir(), nil)
	path := store.Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("no separator here\n"), 0o600); err != nil {
		t.Fatalf("writing corrupt record: %v", err)
	}

	// Act
	_, err := store.load()

	// Assert
	if !errors.Is(err, ErrConfigDrift) {
		t.Errorf("error = %v, want ErrConfigDrift", err)
	}
}

// TestLaunchConfigStore_SaveOverwritesWholesale verifies no partial updates.
func TestLaunchConfigStore_SaveOverwritesWholesale(t *testing.T) {
	// Arrange
	store := NewLaunchConfigStore(t.TempDir(), nil)
	first := sampleConfig(t)
	if err := store.Save(first); err != nil {
		t.Fatalf("first Save() failed: %v", err)
	}

	second := sampleConfig(t)
	second.CredentialName = "personal"
	second.KeyPaths = nil

	// Act
	if err := store.Save(second); err != nil {
		t.Fatalf("second Save() failed: %v", err)
	}
	got, _, err := store.LoadUsable("3.0.0", "abc123def456")

	// Assert
	if err != nil || got == nil {
		t.Fatalf("LoadUsable() = (%v, %v)", got, err)
	}
	if got.CredentialName != "personal" {
		t.Errorf("CredentialName = %q, want %q", got.CredentialName, "personal")
	}
	if len(got.KeyPaths) != 0 {
		t.Errorf("KeyPaths = %v, want empty after wholesale overwrite", got.KeyPaths)
	}
}
