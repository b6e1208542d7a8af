package main

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the failure kinds the launch sequence can surface.
// Each LaunchError matches exactly one of these via errors.Is.
var (
	// ErrIdentityUnresolvable: no repository or no remote. Fatal until the
	// operator fixes the repo.
	ErrIdentityUnresolvable = errors.New("project identity unresolvable")

	// ErrCredentialInvalid: expired, malformed, or failed the live check.
	// Recoverable via the create/renew flow.
	ErrCredentialInvalid = errors.New("credential invalid")

	// ErrCredentialCreationFailed: the authentication flow was aborted or
	// produced an unusable secret. Recoverable by retry.
	ErrCredentialCreationFailed = errors.New("credential creation failed")

	// ErrConfigDrift: schema/version/hash mismatch in the stored launch
	// config. Always recovered by discarding the record.
	ErrConfigDrift = errors.New("launch configuration drift")

	// ErrBuildStale: image labels do not match the current version/recipe.
	// Recovered by rebuild.
	ErrBuildStale = errors.New("container image stale")

	// ErrRuntimeUnreachable: container engine not installed or not
	// responding. Fatal until resolved externally.
	ErrRuntimeUnreachable = errors.New("container runtime unreachable")

	// ErrNetworkAmbiguous: multiple candidate networks and no persisted
	// preference. Recovered via interactive selection.
	ErrNetworkAmbiguous = errors.New("network resolution ambiguous")

	// ErrOrphanedContainer: zombie container detected. Recovered via
	// interactive remediation, defaulting to no destructive action.
	ErrOrphanedContainer = errors.New("orphaned container detected")
)

// LaunchError wraps a launch-sequence failure with enough context to print
// an actionable message: what was expected, what was found, and a remedy.
//
// # Example
//
//	err := NewLaunchError(ErrCredentialInvalid, "validating token").
//	    WithExpected("token accepted by API").
//	    WithFound("HTTP 401").
//	    WithRemedy("run 'yolo tokens renew' to create a fresh token")
//
//	if errors.Is(err, ErrCredentialInvalid) {
//	    // recoverable path
//	}
type LaunchError struct {
	// Kind is one of the sentinel errors above.
	Kind error

	// Op is a short description of the operation that failed.
	Op string

	// Expected describes the state the orchestrator required.
	Expected string

	// Found describes the state actually observed.
	Found string

	// Remedy tells the operator what to do next, when known.
	Remedy string

	// Internal marks a missing-prerequisite or sequencing defect, as
	// opposed to an operator decision within the same kind.
	Internal bool

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// NewLaunchError creates a LaunchError of the given kind.
func NewLaunchError(kind error, op string) *LaunchError {
	return &LaunchError{Kind: kind, Op: op}
}

// WithExpected sets the expected-state description.
func (e *LaunchError) WithExpected(s string) *LaunchError {
	e.Expected = s
	return e
}

// WithFound sets the observed-state description.
func (e *LaunchError) WithFound(s string) *LaunchError {
	e.Found = s
	return e
}

// WithRemedy sets the suggested remedy.
func (e *LaunchError) WithRemedy(s string) *LaunchError {
	e.Remedy = s
	return e
}

// WithCause attaches the underlying error.
func (e *LaunchError) WithCause(err error) *LaunchError {
	e.Wrapped = err
	return e
}

// WithInternal marks the failure as a prerequisite or sequencing defect.
func (e *LaunchError) WithInternal() *LaunchError {
	e.Internal = true
	return e
}

// Error returns a single-line message assembled from the populated fields.
func (e *LaunchError) Error() string {
	var b strings.Builder
	if e.Internal {
		b.WriteString("internal: ")
	}
	fmt.Fprintf(&b, "%s: %v", e.Op, e.Kind)
	if e.Expected != "" {
		fmt.Fprintf(&b, " (expected %s", e.Expected)
		if e.Found != "" {
			fmt.Fprintf(&b, ", found %s", e.Found)
		}
		b.WriteString(")")
	} else if e.Found != "" {
		fmt.Fprintf(&b, " (found %s)", e.Found)
	}
	if e.Wrapped != nil {
		fmt.Fprintf(&b, ": %v", e.Wrapped)
	}
	return b.String()
}

// Is matches against the error's kind so callers can branch with errors.Is
// without unwrapping manually.
func (e *LaunchError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// Unwrap returns the underlying cause.
func (e *LaunchError) Unwrap() error {
	return e.Wrapped
}

// Recoverable reports whether the failure kind has an in-tool recovery
// path. IdentityUnresolvable and RuntimeUnreachable require the operator
// to fix the environment first.
func (e *LaunchError) Recoverable() bool {
	switch {
	case errors.Is(e.Kind, ErrIdentityUnresolvable), errors.Is(e.Kind, ErrRuntimeUnreachable):
		return false
	default:
		return true
	}
}

// CommandError wraps a subprocess failure with stderr context.
//
// # Example
//
//	err := NewCommandError("podman ps", 125, "cannot connect", originalErr)
//	fmt.Println(err.Error()) // "podman ps (exit 125): cannot connect"
type CommandError struct {
	// Command is the command that was executed.
	Command string

	// ExitCode is the process exit code (-1 if unknown).
	ExitCode int

	// Stderr contains the standard error output.
	Stderr string

	// Wrapped is the underlying error.
	Wrapped error
}

// Error returns a formatted error message.
func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s (exit %d): %s", e.Command, e.ExitCode, e.Stderr)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s (exit %d): %v", e.Command, e.ExitCode, e.Wrapped)
	}
	return fmt.Sprintf("%s (exit %d)", e.Command, e.ExitCode)
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error {
	return e.Wrapped
}

// HasStderr returns true if stderr output is available.
func (e *CommandError) HasStderr() bool {
	return e.Stderr != ""
}

// NewCommandError creates a CommandError with full context.
func NewCommandError(cmd string, exitCode int, stderr string, wrapped error) *CommandError {
	return &CommandError{
		Command:  cmd,
		ExitCode: exitCode,
		Stderr:   strings.TrimSpace(stderr),
		Wrapped:  wrapped,
	}
}

// ExtractStderr walks the error chain looking for a CommandError with
// stderr. Returns the first stderr found, or empty string.
func ExtractStderr(err error) string {
	for err != nil {
		if cmdErr, ok := err.(*CommandError); ok && cmdErr.HasStderr() {
			return cmdErr.Stderr
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrapper.Unwrap()
	}
	return ""
}
