// Copyright (C) 2025 the yolo authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package token

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotFound is returned when no credential file exists for a name.
var ErrNotFound = errors.New("credential not found")

// Store manages the credential directory.
//
// All writes are whole-file replacements: the secret is written to a
// temporary file in the same directory and renamed into place, so an
// abort at any point leaves the previous file untouched. After a
// successful replacement, older files for the same name are removed,
// guaranteeing at most one active file per name at rest. (Two files may
// share a name only transiently, between the rename and the cleanup.)
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir. The directory is created with
// owner-only permissions on first use.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the credential directory path.
func (s *Store) Dir() string {
	return s.dir
}

// List enumerates all credential files and classifies each against now.
// Non-token files are ignored. Pure with respect to the filesystem: no
// side effects, not even directory creation.
func (s *Store) List(now time.Time) ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read credential directory %s: %w", s.dir, err)
	}

	var entries []Entry
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), Suffix) {
			continue
		}
		path := filepath.Join(s.dir, de.Name())
		cred, parseErr := ParseFilename(de.Name())
		if parseErr != nil {
			entries = append(entries, Entry{
				Credential: Credential{Name: strings.TrimSuffix(de.Name(), Suffix)},
				Status:     StatusMalformed,
				Path:       path,
			})
			continue
		}
		entries = append(entries, Entry{
			Credential: cred,
			Status:     cred.StatusAt(now),
			Path:       path,
		})
	}

	sortEntries(entries)
	return entries, nil
}

// Active returns the single at-rest credential for a name, preferring the
// newest expiry when cleanup has not yet collapsed duplicates. Returns
// ErrNotFound if no parseable file exists for the name.
func (s *Store) Active(name string, now time.Time) (Entry, error) {
	entries, err := s.List(now)
	if err != nil {
		return Entry{}, err
	}
	for _, e := range entries {
		if !e.Malformed() && e.Credential.Name == name {
			return e, nil // entries are sorted newest-first within a name
		}
	}
	return Entry{}, fmt.Errorf("%s: %w", name, ErrNotFound)
}

// Read returns the secret stored for a credential.
func (s *Store) Read(c Credential) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, c.Filename()))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s: %w", c.Filename(), ErrNotFound)
		}
		return "", fmt.Errorf("read credential %s: %w", c.Filename(), err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Replace atomically installs a new secret for name with the given expiry
// and removes any prior files for the same name. The new file is fully
// written and renamed into place before anything is deleted, so a failure
// at any step leaves the previous credential intact.
func (s *Store) Replace(name string, expiry time.Time, secret string) (Credential, error) {
	if name == "" {
		return Credential{}, fmt.Errorf("credential name cannot be empty")
	}
	if strings.TrimSpace(secret) == "" {
		return Credential{}, fmt.Errorf("credential secret cannot be empty")
	}

	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return Credential{}, fmt.Errorf("create credential directory %s: %w", s.dir, err)
	}

	cred := Credential{Name: name, Expiry: expiry}
	finalPath := filepath.Join(s.dir, cred.Filename())

	tmp, err := os.CreateTemp(s.dir, "."+name+".tmp-*")
	if err != nil {
		return Credential{}, fmt.Errorf("create temp credential file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after successful rename

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return Credential{}, fmt.Errorf("restrict temp credential permissions: %w", err)
	}
	if _, err := tmp.WriteString(secret); err != nil {
		tmp.Close()
		return Credential{}, fmt.Errorf("write credential: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Credential{}, fmt.Errorf("close temp credential file: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return Credential{}, fmt.Errorf("install credential %s: %w", cred.Filename(), err)
	}

	// Cleanup: collapse to one at-rest file per name. Best-effort; a
	// leftover duplicate is tolerated and resolved by Active().
	s.removeOthers(name, cred.Filename())

	return cred, nil
}

// Remove deletes a credential file.
func (s *Store) Remove(c Credential) error {
	if err := os.Remove(filepath.Join(s.dir, c.Filename())); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove credential %s: %w", c.Filename(), err)
	}
	return nil
}

// removeOthers deletes every parseable file for name except keep.
func (s *Store) removeOthers(name, keep string) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, de := range dirEntries {
		if de.IsDir() || de.Name() == keep {
			continue
		}
		cred, parseErr := ParseFilename(de.Name())
		if parseErr != nil || cred.Name != name {
			continue
		}
		_ = os.Remove(filepath.Join(s.dir, de.Name()))
	}
}
