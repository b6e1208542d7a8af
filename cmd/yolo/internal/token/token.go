// Copyright (C) 2025 the yolo authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package token owns the on-disk representation of named, expiry-dated
credential files.

A credential file is named "<name>.<YYYY-MM-DD>.token" and contains the
secret as its sole content, with owner-only permissions. This package is
the single parse boundary for that convention: raw filenames are converted
to typed Credential records exactly once, here, and all callers operate on
the typed records.

# Validity

A credential is valid iff its expiry date is strictly after today. A
credential expiring today is already invalid, which forces proactive
renewal instead of a same-day failure mid-session.

# Thread Safety

Credential values are immutable. Store is safe for a single operator
process; there is no cross-process locking (the design assumes one launch
sequence per project at a time).
*/
package token

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Suffix is the credential file extension.
const Suffix = ".token"

// dateLayout is the expiry date encoding used in filenames.
const dateLayout = "2006-01-02"

// ErrMalformedFilename is returned when a filename has no parseable
// expiry suffix. Malformed credentials are never classified as valid.
var ErrMalformedFilename = errors.New("malformed credential filename")

// Status classifies a credential file relative to a reference day.
type Status string

const (
	// StatusValid means the expiry date is strictly after today.
	StatusValid Status = "valid"

	// StatusExpiringToday means the expiry date equals today. Treated as
	// already invalid so renewal happens before the session, not during it.
	StatusExpiringToday Status = "expiring-today"

	// StatusExpired means the expiry date is in the past.
	StatusExpired Status = "expired"

	// StatusMalformed means the filename has no parseable expiry suffix.
	StatusMalformed Status = "malformed"
)

// Credential is the typed record for one credential file.
type Credential struct {
	// Name is the operator-chosen credential name (e.g. "work").
	Name string

	// Expiry is the expiry date encoded in the filename, at midnight UTC.
	Expiry time.Time
}

// ParseFilename converts a raw credential filename (no directory part)
// into a typed Credential. This is the only place filename conventions
// are interpreted.
//
// Accepted form: "<name>.<YYYY-MM-DD>.token" where name is non-empty and
// may itself contain dots. Returns ErrMalformedFilename for anything else.
func ParseFilename(filename string) (Credential, error) {
	if !strings.HasSuffix(filename, Suffix) {
		return Credential{}, fmt.Errorf("%w: %q missing %s suffix", ErrMalformedFilename, filename, Suffix)
	}
	stem := strings.TrimSuffix(filename, Suffix)

	// The expiry is the last dot-separated segment; the name is everything
	// before it and may contain further dots.
	idx := strings.LastIndex(stem, ".")
	if idx <= 0 {
		return Credential{}, fmt.Errorf("%w: %q has no expiry segment", ErrMalformedFilename, filename)
	}
	name := stem[:idx]
	dateStr := stem[idx+1:]

	expiry, err := time.ParseInLocation(dateLayout, dateStr, time.UTC)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %q has unparseable expiry %q", ErrMalformedFilename, filename, dateStr)
	}

	return Credential{Name: name, Expiry: expiry}, nil
}

// Filename returns the canonical filename for the credential.
func (c Credential) Filename() string {
	return fmt.Sprintf("%s.%s%s", c.Name, c.Expiry.Format(dateLayout), Suffix)
}

// StatusAt classifies the credential against the given reference day.
// The time-of-day portion of now is ignored; only dates are compared.
func (c Credential) StatusAt(now time.Time) Status {
	today := truncateToDay(now)
	expiry := truncateToDay(c.Expiry)
	switch {
	case expiry.After(today):
		return StatusValid
	case expiry.Equal(today):
		return StatusExpiringToday
	default:
		return StatusExpired
	}
}

// ValidAt reports whether the credential is usable on the given day.
// Strict: a credential expiring today is already invalid.
func (c Credential) ValidAt(now time.Time) bool {
	return c.StatusAt(now) == StatusValid
}

// DaysLeft returns the number of whole days until expiry. Zero means
// the credential expires today; negative means it has already expired.
func (c Credential) DaysLeft(now time.Time) int {
	return int(truncateToDay(c.Expiry).Sub(truncateToDay(now)).Hours() / 24)
}

// Entry is one classified credential file as found on disk.
type Entry struct {
	// Credential is the parsed record. Zero-valued except Name when the
	// file is malformed (Name then holds the filename stem as a best guess).
	Credential Credential

	// Status is the classification against the listing day.
	Status Status

	// Path is the absolute path of the underlying file.
	Path string
}

// Malformed reports whether the entry failed filename parsing.
func (e Entry) Malformed() bool {
	return e.Status == StatusMalformed
}

// sortEntries orders entries by name, newest expiry first within a name.
// Malformed entries sort last.
func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Malformed() != b.Malformed() {
			return !a.Malformed()
		}
		if a.Credential.Name != b.Credential.Name {
			return a.Credential.Name < b.Credential.Name
		}
		return a.Credential.Expiry.After(b.Credential.Expiry)
	})
}

// truncateToDay drops the time-of-day portion in UTC.
func truncateToDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
