// Copyright (C) 2025 the yolo authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package main: TokenManager drives the credential lifecycle.

TokenManager discovers stored tokens, validates them against the live API,
and runs the interactive create/renew flow through a disposable
authentication container when no usable token exists.

# Security Context

This is a CRITICAL-RISK component because it handles authentication tokens
for the agent's API access. Improper handling could lead to credential
exposure.

# Security Features

  - Zero Value Logging: Token values are NEVER logged (even at debug level)
  - Owner-Only Storage: Token files are written 0600 inside a 0700 directory
  - Atomic Replacement: A failed write never corrupts an existing token
  - Fail-Secure: A token is only accepted after a live API round-trip

# Design Principles

  - Interface-first design for testability
  - Dependencies injected (ProcessManager, UserPrompter, APIValidator)
  - No automatic retry loops: every validation failure surfaces a
    retry-or-abort decision to the operator
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yolo-cli/yolo/cmd/yolo/internal/token"
	"github.com/yolo-cli/yolo/pkg/ux"
)

// -----------------------------------------------------------------------------
// Error Sentinel Values
// -----------------------------------------------------------------------------

// ErrExtractionFailed is returned when the authentication flow completed
// but no usable token could be retrieved from the disposable container.
var ErrExtractionFailed = errors.New("token extraction failed")

// ErrNoUsableToken is returned when the operator aborted without
// producing a valid token.
var ErrNoUsableToken = errors.New("no usable token")

// -----------------------------------------------------------------------------
// Token Format Constants
// -----------------------------------------------------------------------------

const (
	// TokenPrefix is the expected prefix of an OAuth access token.
	TokenPrefix = "sk-ant-oat"

	// TokenMinLength and TokenMaxLength bound plausible token lengths.
	// Tokens outside this band are rejected before any network call.
	TokenMinLength = 60
	TokenMaxLength = 240

	// DefaultTokenLifetime is the assumed validity of a freshly minted
	// token. The provider does not report an expiry, so this is an
	// estimate used only to schedule renewal prompts.
	DefaultTokenLifetime = 90 * 24 * time.Hour

	// apiVersionHeader is required by the validation endpoint.
	apiVersionHeader = "2023-06-01"
)

// -----------------------------------------------------------------------------
// Live Validation
// -----------------------------------------------------------------------------

// ValidationOutcome classifies a live token check.
type ValidationOutcome int

const (
	// ValidationPassed: the API accepted the token.
	ValidationPassed ValidationOutcome = iota

	// ValidationRejected: the API returned 401/403. The token is dead.
	ValidationRejected

	// ValidationInconclusive: transport failure or unexpected status.
	// The token may still be fine; the operator decides retry vs abort.
	ValidationInconclusive
)

// String returns a short name for the outcome.
func (o ValidationOutcome) String() string {
	switch o {
	case ValidationPassed:
		return "passed"
	case ValidationRejected:
		return "rejected"
	default:
		return "inconclusive"
	}
}

// APIValidator performs a live round-trip to verify a token works.
//
// # Security
//
// Implementations must never log the token value.
type APIValidator interface {
	// Validate checks the secret against the live API.
	//
	// # Outputs
	//
	//   - ValidationOutcome: passed, rejected, or inconclusive.
	//   - error: Populated only for inconclusive outcomes, describing
	//     the transport failure or unexpected status.
	Validate(ctx context.Context, secret string) (ValidationOutcome, error)
}

// HTTPAPIValidator validates tokens with a GET against the models endpoint.
type HTTPAPIValidator struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPAPIValidator creates a validator for the given API base URL.
func NewHTTPAPIValidator(baseURL string, timeout time.Duration) *HTTPAPIValidator {
	return &HTTPAPIValidator{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

// Validate performs the live check.
func (v *HTTPAPIValidator) Validate(ctx context.Context, secret string) (ValidationOutcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.BaseURL+"/v1/models", nil)
	if err != nil {
		return ValidationInconclusive, fmt.Errorf("building validation request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+secret)
	req.Header.Set("anthropic-version", apiVersionHeader)

	resp, err := v.Client.Do(req)
	if err != nil {
		return ValidationInconclusive, fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return ValidationPassed, nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return ValidationRejected, nil
	default:
		return ValidationInconclusive, fmt.Errorf("unexpected status %d from validation endpoint", resp.StatusCode)
	}
}

var _ APIValidator = (*HTTPAPIValidator)(nil)

// -----------------------------------------------------------------------------
// Format Validation and Manual Entry State Machine
// -----------------------------------------------------------------------------

// CheckTokenFormat rejects obviously unusable secrets before any network
// call is made.
func CheckTokenFormat(secret string) error {
	if secret == "" {
		return fmt.Errorf("token is empty")
	}
	if !strings.HasPrefix(secret, TokenPrefix) {
		return fmt.Errorf("token does not start with %q", TokenPrefix)
	}
	if len(secret) < TokenMinLength || len(secret) > TokenMaxLength {
		return fmt.Errorf("token length %d outside plausible range %d-%d",
			len(secret), TokenMinLength, TokenMaxLength)
	}
	return nil
}

// EntryState is the state of a manual token entry session.
type EntryState int

const (
	// EntryAwaitingInput: waiting for the operator to paste a token.
	EntryAwaitingInput EntryState = iota

	// EntryValidating: format checks passed, live validation pending.
	EntryValidating

	// EntryAccepted: the token passed live validation.
	EntryAccepted

	// EntryRejected: format or live validation failed. A new Offer
	// restarts the session.
	EntryRejected
)

// ManualEntrySession models manual token entry as an explicit state
// machine so the accept/reject logic is testable without a terminal.
type ManualEntrySession struct {
	state  EntryState
	secret string
	reason string
}

// NewManualEntrySession starts a session awaiting input.
func NewManualEntrySession() *ManualEntrySession {
	return &ManualEntrySession{state: EntryAwaitingInput}
}

// State returns the current state.
func (s *ManualEntrySession) State() EntryState { return s.state }

// Reason returns the rejection reason, if rejected.
func (s *ManualEntrySession) Reason() string { return s.reason }

// Secret returns the accepted token value. Empty unless EntryAccepted.
func (s *ManualEntrySession) Secret() string {
	if s.state != EntryAccepted {
		return ""
	}
	return s.secret
}

// Offer submits a pasted token. Format failures move straight to
// EntryRejected; otherwise the session moves to EntryValidating.
func (s *ManualEntrySession) Offer(secret string) EntryState {
	secret = strings.TrimSpace(secret)
	if err := CheckTokenFormat(secret); err != nil {
		s.state = EntryRejected
		s.reason = err.Error()
		s.secret = ""
		return s.state
	}
	s.state = EntryValidating
	s.secret = secret
	s.reason = ""
	return s.state
}

// CompleteValidation records the live check result for the offered token.
func (s *ManualEntrySession) CompleteValidation(outcome ValidationOutcome, err error) EntryState {
	if s.state != EntryValidating {
		return s.state
	}
	switch outcome {
	case ValidationPassed:
		s.state = EntryAccepted
	case ValidationRejected:
		s.state = EntryRejected
		s.reason = "the API rejected the token"
		s.secret = ""
	default:
		s.state = EntryRejected
		if err != nil {
			s.reason = err.Error()
		} else {
			s.reason = "validation inconclusive"
		}
		s.secret = ""
	}
	return s.state
}

// Retry returns the session to EntryAwaitingInput after a rejection.
func (s *ManualEntrySession) Retry() {
	s.state = EntryAwaitingInput
	s.secret = ""
	s.reason = ""
}

// -----------------------------------------------------------------------------
// Token Minting (disposable authentication container)
// -----------------------------------------------------------------------------

// TokenMinter produces a fresh token via the provider's interactive
// login flow.
type TokenMinter interface {
	// Mint runs the foreground authentication flow and returns the
	// resulting token, or ErrExtractionFailed if the flow completed
	// without yielding a usable secret.
	Mint(ctx context.Context) (string, error)
}

// ContainerTokenMinter runs the login flow inside a disposable container.
//
// # Description
//
// A uniquely named container is started attached to the operator's
// terminal for the provider's interactive login. Credential state lands
// in a scratch volume, from which a second non-interactive run retrieves
// the account-scoped token. Both the container and the volume are
// removed afterwards, so no credential state survives outside the token
// store.
type ContainerTokenMinter struct {
	pm     ProcessManager
	binary string
	image  string
	logger *slog.Logger
}

// NewContainerTokenMinter creates a minter using the given runtime binary
// and agent image.
func NewContainerTokenMinter(pm ProcessManager, binary, image string, logger *slog.Logger) *ContainerTokenMinter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContainerTokenMinter{pm: pm, binary: binary, image: image, logger: logger}
}

// Mint runs the interactive login and extracts the token.
func (m *ContainerTokenMinter) Mint(ctx context.Context) (string, error) {
	id := uuid.NewString()
	containerName := "yolo-auth-" + id
	volumeName := "yolo-auth-state-" + id

	defer func() {
		// Scratch volume must not outlive the flow.
		if _, err := m.pm.Run(context.WithoutCancel(ctx), m.binary, "volume", "rm", "-f", volumeName); err != nil {
			m.logger.Warn("could not remove auth scratch volume", "volume", volumeName, "error", err)
		}
	}()

	m.logger.Info("starting interactive authentication", "container", containerName)
	err := m.pm.RunInteractive(ctx, m.binary,
		"run", "--rm", "-it",
		"--name", containerName,
		"-v", volumeName+":/home/agent",
		m.image, "claude", "setup-token")
	if err != nil {
		return "", fmt.Errorf("%w: authentication flow did not complete: %v", ErrExtractionFailed, err)
	}

	output, err := m.pm.Run(ctx, m.binary,
		"run", "--rm",
		"-v", volumeName+":/home/agent",
		m.image, "claude", "token")
	if err != nil {
		return "", fmt.Errorf("%w: retrieving token from auth container: %v", ErrExtractionFailed, err)
	}

	secret := lastNonEmptyLine(string(output))
	if err := CheckTokenFormat(secret); err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	return secret, nil
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

var _ TokenMinter = (*ContainerTokenMinter)(nil)

// -----------------------------------------------------------------------------
// TokenManager
// -----------------------------------------------------------------------------

// TokenManager drives the credential lifecycle for launches.
type TokenManager interface {
	// EnsureCredential returns a live-validated secret, running the
	// create/renew flow as needed. preferredName may be empty.
	EnsureCredential(ctx context.Context, preferredName string) (secret, name string, err error)

	// List returns all stored tokens with their status.
	List(ctx context.Context) ([]token.Entry, error)

	// Create mints a token under the given name via the interactive flow.
	Create(ctx context.Context, name string) (token.Credential, error)

	// Renew replaces an existing token with a freshly minted one.
	Renew(ctx context.Context, name string) (token.Credential, error)
}

// DefaultTokenManager is the production TokenManager.
type DefaultTokenManager struct {
	store     *token.Store
	validator APIValidator
	minter    TokenMinter
	prompter  UserPrompter
	pm        ProcessManager
	logger    *slog.Logger
	now       func() time.Time
}

// NewDefaultTokenManager wires a TokenManager from its collaborators.
func NewDefaultTokenManager(store *token.Store, validator APIValidator, minter TokenMinter,
	prompter UserPrompter, pm ProcessManager, logger *slog.Logger) *DefaultTokenManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultTokenManager{
		store:     store,
		validator: validator,
		minter:    minter,
		prompter:  prompter,
		pm:        pm,
		logger:    logger,
		now:       time.Now,
	}
}

var _ TokenManager = (*DefaultTokenManager)(nil)

// List returns all stored tokens with their status.
func (tm *DefaultTokenManager) List(ctx context.Context) ([]token.Entry, error) {
	return tm.store.List(tm.now())
}

// EnsureCredential returns a live-validated secret.
//
// # Description
//
// Resolution order:
//  1. A stored, unexpired token (preferredName if given, else the newest
//     valid one) is read and live-validated.
//  2. On rejection the token is treated as dead and the create flow runs.
//  3. On an inconclusive check the operator chooses retry or abort; there
//     is no automatic retry loop.
//  4. With no usable stored token, the operator chooses between the
//     interactive authentication flow and manual entry.
func (tm *DefaultTokenManager) EnsureCredential(ctx context.Context, preferredName string) (string, string, error) {
	entry, err := tm.pickStored(preferredName)
	if err != nil {
		return "", "", err
	}

	if entry != nil {
		secret, err := tm.store.Read(entry.Credential)
		if err != nil {
			return "", "", fmt.Errorf("reading token %s: %w", entry.Credential.Name, err)
		}
		ok, err := tm.validateWithRetry(ctx, secret)
		if err != nil {
			return "", "", err
		}
		if ok {
			tm.logger.Info("stored token validated",
				"name", entry.Credential.Name, "expiry", entry.Credential.Expiry)
			return secret, entry.Credential.Name, nil
		}
		ux.Warning(fmt.Sprintf("Stored token %q was rejected by the API", entry.Credential.Name))
	}

	name := preferredName
	if name == "" && entry != nil {
		name = entry.Credential.Name
	}
	if name == "" {
		name, err = tm.expiredRenewChoice(ctx)
		if err != nil {
			return "", "", err
		}
	}
	if name == "" {
		name = "default"
	}

	cred, secret, err := tm.createFlow(ctx, name)
	if err != nil {
		return "", "", err
	}
	return secret, cred.Name, nil
}

// Create mints a token under the given name via the interactive flow.
func (tm *DefaultTokenManager) Create(ctx context.Context, name string) (token.Credential, error) {
	cred, _, err := tm.createFlow(ctx, name)
	return cred, err
}

// Renew replaces an existing token with a freshly minted one. The old
// file is untouched until the new secret has fully validated.
func (tm *DefaultTokenManager) Renew(ctx context.Context, name string) (token.Credential, error) {
	if _, err := tm.store.Active(name, tm.now()); err != nil {
		return token.Credential{}, fmt.Errorf("renewing %s: %w", name, err)
	}
	cred, _, err := tm.createFlow(ctx, name)
	return cred, err
}

// pickStored selects a stored valid token, or nil if none qualifies.
// Expired entries never qualify: a preferred name whose token has
// expired falls through to the create flow, which renews it under the
// same name instead of handing an expired secret to the session.
func (tm *DefaultTokenManager) pickStored(preferredName string) (*token.Entry, error) {
	now := tm.now()
	if preferredName != "" {
		entry, err := tm.store.Active(preferredName, now)
		if errors.Is(err, token.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if entry.Status != token.StatusValid {
			ux.Warning(fmt.Sprintf("Stored token %q is no longer valid (expiry %s), renewing it",
				preferredName, entry.Credential.Expiry.Format("2006-01-02")))
			return nil, nil
		}
		return &entry, nil
	}

	entries, err := tm.store.List(now)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].Status == token.StatusValid {
			return &entries[i], nil
		}
	}
	return nil, nil
}

// expiredRenewChoice offers renewal of an expired stored credential
// before minting under a fresh name, so an expired token keeps its name
// across renewals. Returns the chosen name, or "" to mint a new one.
func (tm *DefaultTokenManager) expiredRenewChoice(ctx context.Context) (string, error) {
	entries, err := tm.store.List(tm.now())
	if err != nil {
		return "", err
	}
	var expired []string
	seen := make(map[string]struct{})
	for _, e := range entries {
		if e.Status != token.StatusExpired && e.Status != token.StatusExpiringToday {
			continue
		}
		if _, dup := seen[e.Credential.Name]; dup {
			continue
		}
		seen[e.Credential.Name] = struct{}{}
		expired = append(expired, e.Credential.Name)
	}
	if len(expired) == 0 {
		return "", nil
	}

	options := make([]string, 0, len(expired)+1)
	for _, name := range expired {
		options = append(options, "Renew "+name)
	}
	options = append(options, "Create a credential under a new name")
	choice, err := tm.prompter.Select(ctx, "No valid credential found. What would you like to do?", options)
	if err != nil {
		return "", err
	}
	if choice < len(expired) {
		return expired[choice], nil
	}
	return "", nil
}

// validateWithRetry runs the live check, surfacing inconclusive results
// as an operator retry-or-abort decision.
func (tm *DefaultTokenManager) validateWithRetry(ctx context.Context, secret string) (bool, error) {
	for {
		outcome, err := tm.validator.Validate(ctx, secret)
		switch outcome {
		case ValidationPassed:
			return true, nil
		case ValidationRejected:
			return false, nil
		default:
			ux.Warning(fmt.Sprintf("Could not verify the token: %v", err))
			retry, perr := tm.prompter.Confirm(ctx, "Retry the validation?")
			if perr != nil {
				return false, perr
			}
			if !retry {
				return false, NewLaunchError(ErrCredentialInvalid, "validating token").
					WithExpected("a reachable validation endpoint").
					WithCause(err).
					WithRemedy("check network access and retry the launch")
			}
		}
	}
}

// createFlow obtains a fresh secret (auth container or manual entry),
// validates it, and installs it atomically.
func (tm *DefaultTokenManager) createFlow(ctx context.Context, name string) (token.Credential, string, error) {
	if err := tm.checkAuthPrerequisites(ctx); err != nil {
		return token.Credential{}, "", err
	}

	options := []string{
		"Sign in with the browser (recommended)",
		"Paste an existing token",
		"Abort",
	}
	choice, err := tm.prompter.Select(ctx, "No usable token found. How do you want to authenticate?", options)
	if err != nil {
		return token.Credential{}, "", err
	}

	var secret string
	switch choice {
	case 0:
		secret, err = tm.mintWithRetry(ctx)
	case 1:
		secret, err = tm.manualEntry(ctx)
	default:
		return token.Credential{}, "", fmt.Errorf("%w: aborted by operator", ErrNoUsableToken)
	}
	if err != nil {
		return token.Credential{}, "", err
	}

	expiry := tm.now().Add(DefaultTokenLifetime)
	cred, err := tm.store.Replace(name, expiry, secret)
	if err != nil {
		return token.Credential{}, "", fmt.Errorf("installing token %s: %w", name, err)
	}

	tm.logger.Info("token installed", "name", cred.Name, "expiry", cred.Expiry)
	ux.Success(fmt.Sprintf("Token %q stored (assumed valid until %s)", cred.Name, cred.Expiry.Format("2006-01-02")))
	return cred, secret, nil
}

// mintWithRetry runs the auth container flow, offering a retry when the
// flow aborts or extraction fails.
func (tm *DefaultTokenManager) mintWithRetry(ctx context.Context) (string, error) {
	for {
		secret, err := tm.minter.Mint(ctx)
		if err == nil {
			ok, verr := tm.validateWithRetry(ctx, secret)
			if verr != nil {
				return "", verr
			}
			if ok {
				return secret, nil
			}
			err = fmt.Errorf("%w: freshly minted token was rejected by the API", ErrExtractionFailed)
		}

		ux.Warning(err.Error())
		retry, perr := tm.prompter.Confirm(ctx, "Authentication did not produce a usable token. Try again?")
		if perr != nil {
			return "", perr
		}
		if !retry {
			return "", NewLaunchError(ErrCredentialCreationFailed, "minting token").
				WithCause(err).
				WithRemedy("re-run the launch and complete the sign-in flow")
		}
	}
}

// manualEntry drives the ManualEntrySession against the prompter and
// live validator.
func (tm *DefaultTokenManager) manualEntry(ctx context.Context) (string, error) {
	session := NewManualEntrySession()
	for {
		pasted, err := tm.prompter.Secret(ctx, "Paste the token")
		if err != nil {
			return "", err
		}

		if session.Offer(pasted) == EntryValidating {
			outcome, verr := tm.validator.Validate(ctx, pasted)
			session.CompleteValidation(outcome, verr)
		}

		if session.State() == EntryAccepted {
			return session.Secret(), nil
		}

		ux.Warning("Token rejected: " + session.Reason())
		retry, perr := tm.prompter.Confirm(ctx, "Paste a different token?")
		if perr != nil {
			return "", perr
		}
		if !retry {
			return "", NewLaunchError(ErrCredentialCreationFailed, "manual token entry").
				WithFound(session.Reason()).
				WithRemedy("mint a fresh token and try again")
		}
		session.Retry()
	}
}

// checkAuthPrerequisites fails fast when the browser sign-in cannot work.
// The auth container forwards the SSH agent for git access during login,
// so an empty agent is caught before the container ever starts.
func (tm *DefaultTokenManager) checkAuthPrerequisites(ctx context.Context) error {
	if _, err := tm.pm.Run(ctx, "ssh-add", "-l"); err != nil {
		return NewLaunchError(ErrCredentialCreationFailed, "checking authentication prerequisites").
			WithInternal().
			WithExpected("an SSH agent with at least one identity").
			WithCause(err).
			WithRemedy("run 'ssh-add' to load your key, then retry")
	}
	return nil
}
