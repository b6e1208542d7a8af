// Copyright (C) 2025 the yolo authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package main contains unit tests for UserPrompter.

# Testing Strategy

These tests verify:
  - InteractivePrompter correctly handles various user inputs
  - NonInteractivePrompter and AutoApprovePrompter behave correctly for --yes
  - MockPrompter works correctly as a test double
  - Error handling for edge cases
*/
package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

// -----------------------------------------------------------------------------
// InteractivePrompter Tests
// -----------------------------------------------------------------------------

// TestInteractivePrompter_Confirm_Yes verifies yes responses.
func TestInteractivePrompter_Confirm_Yes(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"lowercase y", "y\n", true},
		{"uppercase Y", "Y\n", true},
		{"lowercase yes", "yes\n", true},
		{"uppercase YES", "YES\n", true},
		{"mixed Yes", "Yes\n", true},
		{"with spaces", "  y  \n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := strings.NewReader(tt.input)
			writer := &bytes.Buffer{}
			prompter := NewInteractivePrompterWithIO(reader, writer)

			ctx := context.Background()
			got, err := prompter.Confirm(ctx, "Continue?")
			if err != nil {
				t.Fatalf("Confirm() unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("Confirm() = %v, want %v", got, tt.expected)
			}
		})
	}
}

// TestInteractivePrompter_Confirm_No verifies no responses.
func TestInteractivePrompter_Confirm_No(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"lowercase n", "n\n", false},
		{"uppercase N", "N\n", false},
		{"lowercase no", "no\n", false},
		{"empty input", "\n", false},
		{"random text", "maybe\n", false},
		{"number", "1\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := strings.NewReader(tt.input)
			writer := &bytes.Buffer{}
			prompter := NewInteractivePrompterWithIO(reader, writer)

			ctx := context.Background()
			got, err := prompter.Confirm(ctx, "Continue?")
			if err != nil {
				t.Fatalf("Confirm() unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("Confirm() = %v, want %v", got, tt.expected)
			}
		})
	}
}

// TestInteractivePrompter_Confirm_Prompt verifies prompt is displayed.
func TestInteractivePrompter_Confirm_Prompt(t *testing.T) {
	reader := strings.NewReader("y\n")
	writer := &bytes.Buffer{}
	prompter := NewInteractivePrompterWithIO(reader, writer)

	ctx := context.Background()
	_, _ = prompter.Confirm(ctx, "Stop all containers?")

	output := writer.String()
	if !strings.Contains(output, "Stop all containers?") {
		t.Errorf("prompt not displayed in output: %q", output)
	}
	if !strings.Contains(output, "[y/N]") {
		t.Errorf("hint not displayed in output: %q", output)
	}
}

// TestInteractivePrompter_Confirm_EOF verifies EOF handling.
func TestInteractivePrompter_Confirm_EOF(t *testing.T) {
	reader := strings.NewReader("") // EOF
	writer := &bytes.Buffer{}
	prompter := NewInteractivePrompterWithIO(reader, writer)

	ctx := context.Background()
	got, err := prompter.Confirm(ctx, "Continue?")
	if err != nil {
		t.Fatalf("Confirm() unexpected error: %v", err)
	}
	if got != false {
		t.Errorf("Confirm() = %v, want false on EOF", got)
	}
}

// TestInteractivePrompter_Confirm_ContextCancelled verifies context handling.
func TestInteractivePrompter_Confirm_ContextCancelled(t *testing.T) {
	reader := strings.NewReader("y\n")
	writer := &bytes.Buffer{}
	prompter := NewInteractivePrompterWithIO(reader, writer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel before calling

	_, err := prompter.Confirm(ctx, "Continue?")
	if err == nil {
		t.Fatal("Confirm() expected error for cancelled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Confirm() error = %v, want context.Canceled", err)
	}
}

// TestInteractivePrompter_Select_ValidChoice verifies valid selections.
func TestInteractivePrompter_Select_ValidChoice(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		options  []string
		expected int
	}{
		{"first option", "1\n", []string{"A", "B", "C"}, 0},
		{"second option", "2\n", []string{"A", "B", "C"}, 1},
		{"last option", "3\n", []string{"A", "B", "C"}, 2},
		{"with spaces", "  2  \n", []string{"A", "B"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := strings.NewReader(tt.input)
			writer := &bytes.Buffer{}
			prompter := NewInteractivePrompterWithIO(reader, writer)

			ctx := context.Background()
			got, err := prompter.Select(ctx, "Choose:", tt.options)
			if err != nil {
				t.Fatalf("Select() unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("Select() = %d, want %d", got, tt.expected)
			}
		})
	}
}

// TestInteractivePrompter_Select_InvalidChoice verifies error for invalid selection.
func TestInteractivePrompter_Select_InvalidChoice(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		options []string
	}{
		{"zero", "0\n", []string{"A", "B"}},
		{"too high", "5\n", []string{"A", "B"}},
		{"negative", "-1\n", []string{"A", "B"}},
		{"text", "abc\n", []string{"A", "B"}},
		{"empty", "\n", []string{"A", "B"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := strings.NewReader(tt.input)
			writer := &bytes.Buffer{}
			prompter := NewInteractivePrompterWithIO(reader, writer)

			ctx := context.Background()
			_, err := prompter.Select(ctx, "Choose:", tt.options)
			if err == nil {
				t.Fatal("Select() expected error for invalid choice")
			}
			if !errors.Is(err, ErrInvalidSelection) {
				t.Errorf("Select() error = %v, want ErrInvalidSelection", err)
			}
		})
	}
}

// TestInteractivePrompter_Select_ClosedStdinCancels verifies that EOF
// before any answer reports cancellation, not an invalid selection.
func TestInteractivePrompter_Select_ClosedStdinCancels(t *testing.T) {
	reader := strings.NewReader("") // stdin closed at the decision point
	writer := &bytes.Buffer{}
	prompter := NewInteractivePrompterWithIO(reader, writer)

	ctx := context.Background()
	_, err := prompter.Select(ctx, "Choose:", []string{"A", "B"})
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("Select() error = %v, want ErrCancelled", err)
	}
}

// TestInteractivePrompter_Input_ClosedStdinCancels verifies the same for
// free-form input.
func TestInteractivePrompter_Input_ClosedStdinCancels(t *testing.T) {
	reader := strings.NewReader("")
	writer := &bytes.Buffer{}
	prompter := NewInteractivePrompterWithIO(reader, writer)

	ctx := context.Background()
	_, err := prompter.Input(ctx, "Token name")
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("Input() error = %v, want ErrCancelled", err)
	}
}

// TestInteractivePrompter_Select_DisplaysOptions verifies options are displayed.
func TestInteractivePrompter_Select_DisplaysOptions(t *testing.T) {
	reader := strings.NewReader("1\n")
	writer := &bytes.Buffer{}
	prompter := NewInteractivePrompterWithIO(reader, writer)

	ctx := context.Background()
	options := []string{"Stop all", "Stop selected", "Ignore and continue", "Abort"}
	_, _ = prompter.Select(ctx, "Choose action:", options)

	output := writer.String()
	if !strings.Contains(output, "Choose action:") {
		t.Errorf("prompt not displayed: %q", output)
	}
	if !strings.Contains(output, "1. Stop all") {
		t.Errorf("option 1 not displayed: %q", output)
	}
	if !strings.Contains(output, "4. Abort") {
		t.Errorf("option 4 not displayed: %q", output)
	}
}

// TestInteractivePrompter_Select_EmptyOptions verifies error for no options.
func TestInteractivePrompter_Select_EmptyOptions(t *testing.T) {
	reader := strings.NewReader("1\n")
	writer := &bytes.Buffer{}
	prompter := NewInteractivePrompterWithIO(reader, writer)

	ctx := context.Background()
	_, err := prompter.Select(ctx, "Choose:", []string{})
	if err == nil {
		t.Fatal("Select() expected error for empty options")
	}
}

// TestInteractivePrompter_Input verifies free-form input.
func TestInteractivePrompter_Input(t *testing.T) {
	reader := strings.NewReader("  my-token-name  \n")
	writer := &bytes.Buffer{}
	prompter := NewInteractivePrompterWithIO(reader, writer)

	ctx := context.Background()
	got, err := prompter.Input(ctx, "Token name")
	if err != nil {
		t.Fatalf("Input() unexpected error: %v", err)
	}
	if got != "my-token-name" {
		t.Errorf("Input() = %q, want %q", got, "my-token-name")
	}
	if !strings.Contains(writer.String(), "Token name") {
		t.Errorf("prompt not displayed: %q", writer.String())
	}
}

// TestInteractivePrompter_Secret_InjectedReader verifies the plain-read
// fallback used when the input is not a terminal.
func TestInteractivePrompter_Secret_InjectedReader(t *testing.T) {
	reader := strings.NewReader("sk-ant-oat-example\n")
	writer := &bytes.Buffer{}
	prompter := NewInteractivePrompterWithIO(reader, writer)

	ctx := context.Background()
	got, err := prompter.Secret(ctx, "Paste token")
	if err != nil {
		t.Fatalf("Secret() unexpected error: %v", err)
	}
	if got != "sk-ant-oat-example" {
		t.Errorf("Secret() = %q, want the trimmed input", got)
	}
}

// TestInteractivePrompter_IsInteractive verifies it returns true.
func TestInteractivePrompter_IsInteractive(t *testing.T) {
	prompter := NewInteractivePrompter()
	if !prompter.IsInteractive() {
		t.Error("IsInteractive() = false, want true")
	}
}

// -----------------------------------------------------------------------------
// NonInteractivePrompter Tests
// -----------------------------------------------------------------------------

// TestNonInteractivePrompter_Rejects verifies prompt rejection.
func TestNonInteractivePrompter_Rejects(t *testing.T) {
	prompter := NewNonInteractivePrompter()
	ctx := context.Background()

	if _, err := prompter.Confirm(ctx, "Continue?"); !errors.Is(err, ErrNonInteractive) {
		t.Errorf("Confirm() error = %v, want ErrNonInteractive", err)
	}
	if _, err := prompter.Select(ctx, "Choose:", []string{"A", "B"}); !errors.Is(err, ErrNonInteractive) {
		t.Errorf("Select() error = %v, want ErrNonInteractive", err)
	}
	if _, err := prompter.Input(ctx, "Name"); !errors.Is(err, ErrNonInteractive) {
		t.Errorf("Input() error = %v, want ErrNonInteractive", err)
	}
	if _, err := prompter.Secret(ctx, "Token"); !errors.Is(err, ErrNonInteractive) {
		t.Errorf("Secret() error = %v, want ErrNonInteractive", err)
	}
	if prompter.IsInteractive() {
		t.Error("IsInteractive() = true, want false")
	}
}

// -----------------------------------------------------------------------------
// AutoApprovePrompter Tests
// -----------------------------------------------------------------------------

// TestAutoApprovePrompter_Confirm_Approves verifies auto-approval.
func TestAutoApprovePrompter_Confirm_Approves(t *testing.T) {
	prompter := NewAutoApprovePrompter()

	ctx := context.Background()
	got, err := prompter.Confirm(ctx, "Rebuild image?")
	if err != nil {
		t.Fatalf("Confirm() unexpected error: %v", err)
	}
	if !got {
		t.Error("Confirm() = false, want true for auto-approve")
	}
}

// TestAutoApprovePrompter_Select_SelectsFirst verifies first option selection.
func TestAutoApprovePrompter_Select_SelectsFirst(t *testing.T) {
	prompter := NewAutoApprovePrompter()

	ctx := context.Background()
	got, err := prompter.Select(ctx, "Choose:", []string{"First", "Second", "Third"})
	if err != nil {
		t.Fatalf("Select() unexpected error: %v", err)
	}
	if got != 0 {
		t.Errorf("Select() = %d, want 0 for auto-approve", got)
	}
}

// TestAutoApprovePrompter_Select_EmptyOptions verifies error handling.
func TestAutoApprovePrompter_Select_EmptyOptions(t *testing.T) {
	prompter := NewAutoApprovePrompter()

	ctx := context.Background()
	_, err := prompter.Select(ctx, "Choose:", []string{})
	if err == nil {
		t.Fatal("Select() expected error for empty options")
	}
}

// TestAutoApprovePrompter_Secret_Rejects verifies secrets are never invented.
func TestAutoApprovePrompter_Secret_Rejects(t *testing.T) {
	prompter := NewAutoApprovePrompter()

	ctx := context.Background()
	if _, err := prompter.Secret(ctx, "Token"); !errors.Is(err, ErrNonInteractive) {
		t.Errorf("Secret() error = %v, want ErrNonInteractive", err)
	}
}

// -----------------------------------------------------------------------------
// MockPrompter Tests
// -----------------------------------------------------------------------------

// TestMockPrompter_Confirm verifies mock Confirm behavior.
func TestMockPrompter_Confirm(t *testing.T) {
	mock := &MockPrompter{
		ConfirmFunc: func(ctx context.Context, prompt string) (bool, error) {
			return prompt == "Stop container?", nil
		},
	}

	ctx := context.Background()

	got, err := mock.Confirm(ctx, "Stop container?")
	if err != nil || !got {
		t.Errorf("Confirm() = (%v, %v), want (true, nil)", got, err)
	}

	got, err = mock.Confirm(ctx, "Other prompt")
	if err != nil || got {
		t.Errorf("Confirm() = (%v, %v), want (false, nil)", got, err)
	}

	if len(mock.Calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(mock.Calls))
	}
	if mock.Calls[0].Method != "Confirm" || mock.Calls[0].Prompt != "Stop container?" {
		t.Errorf("call[0] = %+v, unexpected", mock.Calls[0])
	}
}

// TestMockPrompter_Select verifies mock Select behavior and call recording.
func TestMockPrompter_Select(t *testing.T) {
	mock := &MockPrompter{
		SelectFunc: func(ctx context.Context, prompt string, options []string) (int, error) {
			return 1, nil
		},
	}

	ctx := context.Background()
	got, err := mock.Select(ctx, "Choose:", []string{"A", "B", "C"})
	if err != nil {
		t.Fatalf("Select() unexpected error: %v", err)
	}
	if got != 1 {
		t.Errorf("Select() = %d, want 1", got)
	}

	if len(mock.Calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(mock.Calls))
	}
	if mock.Calls[0].Method != "Select" || len(mock.Calls[0].Options) != 3 {
		t.Errorf("call[0] = %+v, unexpected", mock.Calls[0])
	}
}

// TestMockPrompter_IsInteractive verifies default and custom behavior.
func TestMockPrompter_IsInteractive(t *testing.T) {
	mock := &MockPrompter{}
	if !mock.IsInteractive() {
		t.Error("IsInteractive() default = false, want true")
	}

	mock.IsInteractiveFunc = func() bool { return false }
	if mock.IsInteractive() {
		t.Error("IsInteractive() custom = true, want false")
	}
}

// TestMockPrompter_Reset verifies call history reset.
func TestMockPrompter_Reset(t *testing.T) {
	mock := &MockPrompter{
		ConfirmFunc: func(ctx context.Context, prompt string) (bool, error) {
			return true, nil
		},
	}

	ctx := context.Background()
	_, _ = mock.Confirm(ctx, "test1")
	_, _ = mock.Confirm(ctx, "test2")

	if len(mock.Calls) != 2 {
		t.Fatalf("expected 2 calls before reset, got %d", len(mock.Calls))
	}

	mock.Reset()

	if len(mock.Calls) != 0 {
		t.Errorf("expected 0 calls after reset, got %d", len(mock.Calls))
	}
}

// TestMockPrompter_NilFunc_Panics verifies panic on unconfigured mock.
func TestMockPrompter_NilFunc_Panics(t *testing.T) {
	mock := &MockPrompter{} // No functions set

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic when ConfirmFunc is nil")
		}
	}()

	ctx := context.Background()
	_, _ = mock.Confirm(ctx, "test")
}
