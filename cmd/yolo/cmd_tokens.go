// Copyright (C) 2025 the yolo authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yolo-cli/yolo/cmd/yolo/internal/token"
	"github.com/yolo-cli/yolo/pkg/ux"
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Manage stored authentication tokens",
}

// tokensListCmd renders the stored credentials with expiry countdowns.
//
// # Examples
//
//	yolo tokens list
var tokensListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored tokens and their expiry status",
	Args:  cobra.NoArgs,
	RunE:  runTokensListCommand,
}

// tokensCreateCmd mints a new named token through the authentication
// flow.
var tokensCreateCmd = &cobra.Command{
	Use:   "create [NAME]",
	Short: "Create a new named token",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTokensCreateCommand,
}

// tokensRenewCmd re-runs creation for an existing name.
var tokensRenewCmd = &cobra.Command{
	Use:   "renew NAME",
	Short: "Renew a token, keeping its name",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokensRenewCommand,
}

func init() {
	tokensCmd.AddCommand(tokensListCmd, tokensCreateCmd, tokensRenewCmd)
	rootCmd.AddCommand(tokensCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATIONS
// =============================================================================

func runTokensListCommand(cmd *cobra.Command, args []string) error {
	tm := newTokenManager()
	entries, err := tm.List(context.Background())
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		ux.Info("No tokens stored yet. Create one with 'yolo tokens create'.")
		return nil
	}

	fmt.Printf("%-20s %-12s %s\n",
		ux.Styles.Bold.Render("NAME"),
		ux.Styles.Bold.Render("STATUS"),
		ux.Styles.Bold.Render("EXPIRY"))
	now := time.Now()
	for _, entry := range entries {
		fmt.Printf("%-20s %-12s %s\n",
			entry.Credential.Name,
			renderTokenStatus(entry.Status),
			renderExpiry(entry, now))
	}
	return nil
}

func runTokensCreateCommand(cmd *cobra.Command, args []string) error {
	name := "default"
	if len(args) > 0 {
		name = args[0]
	}

	tm := newTokenManager()
	cred, err := tm.Create(context.Background(), name)
	if err != nil {
		return err
	}
	ux.Success(fmt.Sprintf("Token %q stored, expiry estimate %s",
		cred.Name, cred.Expiry.Format("2006-01-02")))
	return nil
}

func runTokensRenewCommand(cmd *cobra.Command, args []string) error {
	tm := newTokenManager()
	cred, err := tm.Renew(context.Background(), args[0])
	if err != nil {
		return err
	}
	ux.Success(fmt.Sprintf("Token %q renewed, expiry estimate %s",
		cred.Name, cred.Expiry.Format("2006-01-02")))
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// newTokenManager builds a TokenManager from the loaded config.
func newTokenManager() TokenManager {
	cfg := loadConfig()
	pm := NewDefaultProcessManager()
	store := token.NewStore(cfg.Tokens.Dir)
	validator := NewHTTPAPIValidator(cfg.API.BaseURL, time.Duration(cfg.API.TimeoutSeconds)*time.Second)
	minter := NewContainerTokenMinter(pm, cfg.Runtime.Binary, cfg.Build.Image, appLogger.Slog())
	return NewDefaultTokenManager(store, validator, minter, activePrompter(), pm, appLogger.Slog())
}

func renderTokenStatus(status token.Status) string {
	switch status {
	case token.StatusValid:
		return ux.Styles.Success.Render(string(status))
	case token.StatusExpired, token.StatusMalformed:
		return ux.Styles.Error.Render(string(status))
	default:
		return ux.Styles.Warning.Render(string(status))
	}
}

func renderExpiry(entry token.Entry, now time.Time) string {
	if entry.Malformed() {
		return ux.Styles.Muted.Render("unparseable filename")
	}
	days := entry.Credential.DaysLeft(now)
	date := entry.Credential.Expiry.Format("2006-01-02")
	switch {
	case days > 0:
		return fmt.Sprintf("%s (%d days left)", date, days)
	case days == 0:
		return ux.Styles.Warning.Render(date + " (today)")
	default:
		return ux.Styles.Error.Render(fmt.Sprintf("%s (%d days ago)", date, -days))
	}
}
