// Copyright (C) 2025 the yolo authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package main: UserPrompter abstracts interactive operator decisions.

Every decision point in the launch sequence (credential creation, zombie
remediation, storage migration, network selection) goes through this
interface so flows can be unit tested without a terminal, and so --yes can
swap in a non-interactive implementation with defined defaults.
*/
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/term"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNonInteractive indicates a prompt was required but the session
	// does not permit interaction.
	ErrNonInteractive = errors.New("interactive prompt required but running non-interactively")

	// ErrCancelled indicates the operator aborted at a decision point.
	ErrCancelled = errors.New("cancelled by user")

	// ErrInvalidSelection indicates the operator's menu choice was out of range.
	ErrInvalidSelection = errors.New("invalid selection")
)

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// UserPrompter handles interactive user prompts.
//
// # Description
//
// Abstracts all operator interaction so callers never read stdin directly.
// Implementations decide how (or whether) to obtain an answer.
//
// # Thread Safety
//
// Implementations need not be safe for concurrent use; the launch sequence
// is single-threaded and prompts never overlap.
type UserPrompter interface {
	// Confirm asks a yes/no question. Defaults to no: only an explicit
	// y/yes answer returns true. EOF is treated as no.
	Confirm(ctx context.Context, prompt string) (bool, error)

	// Select presents a numbered menu and returns the zero-based index of
	// the chosen option. Returns ErrInvalidSelection for out-of-range or
	// non-numeric input.
	Select(ctx context.Context, prompt string, options []string) (int, error)

	// Input reads a free-form line of text.
	Input(ctx context.Context, prompt string) (string, error)

	// Secret reads a line without echoing it to the terminal. The value
	// must never be logged by callers.
	Secret(ctx context.Context, prompt string) (string, error)

	// IsInteractive reports whether this prompter can actually ask.
	IsInteractive() bool
}

// -----------------------------------------------------------------------------
// InteractivePrompter
// -----------------------------------------------------------------------------

// InteractivePrompter reads answers from a terminal or injected reader.
type InteractivePrompter struct {
	reader io.Reader
	writer io.Writer
	bufIn  *bufio.Reader
}

// NewInteractivePrompter creates a prompter bound to the process terminal.
func NewInteractivePrompter() *InteractivePrompter {
	return NewInteractivePrompterWithIO(os.Stdin, os.Stderr)
}

// NewInteractivePrompterWithIO creates a prompter with injected streams
// for testing.
func NewInteractivePrompterWithIO(r io.Reader, w io.Writer) *InteractivePrompter {
	return &InteractivePrompter{
		reader: r,
		writer: w,
		bufIn:  bufio.NewReader(r),
	}
}

// Confirm asks a yes/no question, defaulting to no.
func (p *InteractivePrompter) Confirm(ctx context.Context, prompt string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	fmt.Fprintf(p.writer, "%s [y/N]: ", prompt)

	line, err := p.bufIn.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("reading confirmation: %w", err)
	}

	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// Select presents a numbered menu and returns the chosen index.
func (p *InteractivePrompter) Select(ctx context.Context, prompt string, options []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(options) == 0 {
		return 0, fmt.Errorf("no options to select from")
	}

	fmt.Fprintln(p.writer, prompt)
	for i, opt := range options {
		fmt.Fprintf(p.writer, "  %d. %s\n", i+1, opt)
	}
	fmt.Fprintf(p.writer, "Enter choice [1-%d]: ", len(options))

	line, err := p.bufIn.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("reading selection: %w", err)
		}
		// Closed stdin at a required decision point.
		if strings.TrimSpace(line) == "" {
			return 0, ErrCancelled
		}
	}

	choice, convErr := strconv.Atoi(strings.TrimSpace(line))
	if convErr != nil || choice < 1 || choice > len(options) {
		return 0, fmt.Errorf("%w: %q (expected 1-%d)", ErrInvalidSelection, strings.TrimSpace(line), len(options))
	}

	return choice - 1, nil
}

// Input reads a free-form line of text.
func (p *InteractivePrompter) Input(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	fmt.Fprintf(p.writer, "%s: ", prompt)

	line, err := p.bufIn.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("reading input: %w", err)
		}
		if strings.TrimSpace(line) == "" {
			return "", ErrCancelled
		}
	}
	return strings.TrimSpace(line), nil
}

// Secret reads a line without echo when attached to a real terminal.
// Falls back to a plain read for injected readers in tests.
func (p *InteractivePrompter) Secret(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	fmt.Fprintf(p.writer, "%s: ", prompt)

	if f, ok := p.reader.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(p.writer)
		if err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}

	line, err := p.bufIn.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("reading secret: %w", err)
		}
		if strings.TrimSpace(line) == "" {
			return "", ErrCancelled
		}
	}
	return strings.TrimSpace(line), nil
}

// IsInteractive reports true.
func (p *InteractivePrompter) IsInteractive() bool {
	return true
}

// -----------------------------------------------------------------------------
// NonInteractivePrompter
// -----------------------------------------------------------------------------

// NonInteractivePrompter refuses every prompt with ErrNonInteractive.
//
// Used when stdin is not a terminal and --yes was not given. Operations
// that would need an answer fail fast instead of hanging on a read.
type NonInteractivePrompter struct{}

// NewNonInteractivePrompter creates a prompter that rejects all prompts.
func NewNonInteractivePrompter() *NonInteractivePrompter {
	return &NonInteractivePrompter{}
}

// Confirm returns ErrNonInteractive.
func (p *NonInteractivePrompter) Confirm(ctx context.Context, prompt string) (bool, error) {
	return false, fmt.Errorf("%w: %s", ErrNonInteractive, prompt)
}

// Select returns ErrNonInteractive.
func (p *NonInteractivePrompter) Select(ctx context.Context, prompt string, options []string) (int, error) {
	return 0, fmt.Errorf("%w: %s", ErrNonInteractive, prompt)
}

// Input returns ErrNonInteractive.
func (p *NonInteractivePrompter) Input(ctx context.Context, prompt string) (string, error) {
	return "", fmt.Errorf("%w: %s", ErrNonInteractive, prompt)
}

// Secret returns ErrNonInteractive.
func (p *NonInteractivePrompter) Secret(ctx context.Context, prompt string) (string, error) {
	return "", fmt.Errorf("%w: %s", ErrNonInteractive, prompt)
}

// IsInteractive reports false.
func (p *NonInteractivePrompter) IsInteractive() bool {
	return false
}

// -----------------------------------------------------------------------------
// AutoApprovePrompter
// -----------------------------------------------------------------------------

// AutoApprovePrompter answers yes to confirmations and picks the first
// menu option. Backs the --yes flag.
//
// Free-form and secret input cannot be auto-approved and still fail with
// ErrNonInteractive, so --yes never invents a credential.
type AutoApprovePrompter struct{}

// NewAutoApprovePrompter creates a prompter that approves everything.
func NewAutoApprovePrompter() *AutoApprovePrompter {
	return &AutoApprovePrompter{}
}

// Confirm returns true.
func (p *AutoApprovePrompter) Confirm(ctx context.Context, prompt string) (bool, error) {
	return true, nil
}

// Select returns the first option.
func (p *AutoApprovePrompter) Select(ctx context.Context, prompt string, options []string) (int, error) {
	if len(options) == 0 {
		return 0, fmt.Errorf("no options to select from")
	}
	return 0, nil
}

// Input returns ErrNonInteractive.
func (p *AutoApprovePrompter) Input(ctx context.Context, prompt string) (string, error) {
	return "", fmt.Errorf("%w: %s", ErrNonInteractive, prompt)
}

// Secret returns ErrNonInteractive.
func (p *AutoApprovePrompter) Secret(ctx context.Context, prompt string) (string, error) {
	return "", fmt.Errorf("%w: %s", ErrNonInteractive, prompt)
}

// IsInteractive reports false.
func (p *AutoApprovePrompter) IsInteractive() bool {
	return false
}

// -----------------------------------------------------------------------------
// Mock Implementation for Testing
// -----------------------------------------------------------------------------

// MockPrompter is a test double for UserPrompter.
//
// Configure the mock by setting function fields before use. If a function
// field is nil and the corresponding method is called, it will panic.
type MockPrompter struct {
	// ConfirmFunc is called when Confirm is invoked
	ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

	// SelectFunc is called when Select is invoked
	SelectFunc func(ctx context.Context, prompt string, options []string) (int, error)

	// InputFunc is called when Input is invoked
	InputFunc func(ctx context.Context, prompt string) (string, error)

	// SecretFunc is called when Secret is invoked
	SecretFunc func(ctx context.Context, prompt string) (string, error)

	// IsInteractiveFunc overrides IsInteractive (defaults to true)
	IsInteractiveFunc func() bool

	// Calls records all method invocations for verification
	Calls []PrompterCall

	// mu protects Calls for concurrent access
	mu sync.Mutex
}

// PrompterCall records a single prompt invocation.
type PrompterCall struct {
	Method  string
	Prompt  string
	Options []string
}

// Confirm delegates to ConfirmFunc and records the call.
func (m *MockPrompter) Confirm(ctx context.Context, prompt string) (bool, error) {
	m.record(PrompterCall{Method: "Confirm", Prompt: prompt})
	if m.ConfirmFunc == nil {
		panic("MockPrompter.ConfirmFunc not set")
	}
	return m.ConfirmFunc(ctx, prompt)
}

// Select delegates to SelectFunc and records the call.
func (m *MockPrompter) Select(ctx context.Context, prompt string, options []string) (int, error) {
	m.record(PrompterCall{Method: "Select", Prompt: prompt, Options: options})
	if m.SelectFunc == nil {
		panic("MockPrompter.SelectFunc not set")
	}
	return m.SelectFunc(ctx, prompt, options)
}

// Input delegates to InputFunc and records the call.
func (m *MockPrompter) Input(ctx context.Context, prompt string) (string, error) {
	m.record(PrompterCall{Method: "Input", Prompt: prompt})
	if m.InputFunc == nil {
		panic("MockPrompter.InputFunc not set")
	}
	return m.InputFunc(ctx, prompt)
}

// Secret delegates to SecretFunc and records the call.
func (m *MockPrompter) Secret(ctx context.Context, prompt string) (string, error) {
	m.record(PrompterCall{Method: "Secret", Prompt: prompt})
	if m.SecretFunc == nil {
		panic("MockPrompter.SecretFunc not set")
	}
	return m.SecretFunc(ctx, prompt)
}

// IsInteractive delegates to IsInteractiveFunc, defaulting to true.
func (m *MockPrompter) IsInteractive() bool {
	if m.IsInteractiveFunc != nil {
		return m.IsInteractiveFunc()
	}
	return true
}

// Reset clears all recorded calls.
func (m *MockPrompter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

func (m *MockPrompter) record(c PrompterCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, c)
}

// Compile-time interface compliance check.
var (
	_ UserPrompter = (*InteractivePrompter)(nil)
	_ UserPrompter = (*NonInteractivePrompter)(nil)
	_ UserPrompter = (*AutoApprovePrompter)(nil)
	_ UserPrompter = (*MockPrompter)(nil)
)
