// Gridwatch - Industrial Telemetry Console Client
// Copyright 2026 Gridwatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gridwatch-io/client-go

// Package keycloak implements the session provider against a Keycloak
// realm: OIDC discovery, the resource-owner password grant, refresh-token
// exchange, and end-session sign-out. Tokens are decoded without signature
// verification since the provider itself just issued them over TLS; the
// backend remains the enforcement point.
package keycloak

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/zitadel/oidc/v3/pkg/oidc"
	"golang.org/x/oauth2"

	"github.com/gridwatch-io/client-go/internal/logging"
	"github.com/gridwatch-io/client-go/session"
)

// DefaultTimeout bounds every provider HTTP call when the caller's context
// carries no deadline.
const DefaultTimeout = 15 * time.Second

// Config holds the realm connection settings.
type Config struct {
	// ServerURL is the Keycloak base URL, e.g. "https://sso.example.com".
	ServerURL string

	// Realm is the realm name.
	Realm string

	// ClientID and ClientSecret identify the confidential client.
	ClientID     string
	ClientSecret string

	// Username and Password are the resource-owner credentials.
	Username string
	Password string

	// Scopes requested on the password grant. Defaults to ["openid"].
	Scopes []string

	// Timeout bounds provider HTTP calls. Defaults to DefaultTimeout.
	Timeout time.Duration

	// HTTPClient overrides the transport used for provider calls.
	HTTPClient *http.Client
}

// Provider is the Keycloak-backed session.Provider.
type Provider struct {
	cfg    Config
	client *http.Client
	issuer string

	mu        sync.Mutex
	discovery *oidc.DiscoveryConfiguration
}

var _ session.Provider = (*Provider)(nil)

// New creates a Keycloak provider. Discovery runs lazily on first use.
func New(cfg Config) (*Provider, error) {
	if cfg.ServerURL == "" {
		return nil, errors.New("keycloak: server URL required")
	}
	if cfg.Realm == "" {
		return nil, errors.New("keycloak: realm required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("keycloak: client ID required")
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{oidc.ScopeOpenID}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Provider{
		cfg:    cfg,
		client: client,
		issuer: strings.TrimRight(cfg.ServerURL, "/") + "/realms/" + cfg.Realm,
	}, nil
}

// Issuer returns the realm issuer URL.
func (p *Provider) Issuer() string { return p.issuer }

// discover fetches and caches the realm's OIDC discovery document.
func (p *Provider) discover(ctx context.Context) (*oidc.DiscoveryConfiguration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.discovery != nil {
		return p.discovery, nil
	}

	wellKnown := p.issuer + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown, nil)
	if err != nil {
		return nil, fmt.Errorf("keycloak: build discovery request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("keycloak: discovery: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("keycloak: discovery returned %d", resp.StatusCode)
	}

	var doc oidc.DiscoveryConfiguration
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("keycloak: decode discovery document: %w", err)
	}
	if doc.TokenEndpoint == "" {
		return nil, errors.New("keycloak: discovery document missing token endpoint")
	}

	p.discovery = &doc
	logging.Debug().
		Str("issuer", doc.Issuer).
		Str("token_endpoint", doc.TokenEndpoint).
		Msg("realm discovery complete")
	return p.discovery, nil
}

// oauthConfig builds the grant configuration from the discovery document.
func (p *Provider) oauthConfig(doc *oidc.DiscoveryConfiguration) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		Scopes:       p.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  doc.AuthorizationEndpoint,
			TokenURL: doc.TokenEndpoint,
		},
	}
}

// withClient binds the provider transport into the oauth2 library's context.
func (p *Provider) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.client)
}

// Initialize performs the password grant and decodes the resulting tokens.
func (p *Provider) Initialize(ctx context.Context) (*session.Result, error) {
	doc, err := p.discover(ctx)
	if err != nil {
		return nil, err
	}

	tok, err := p.oauthConfig(doc).PasswordCredentialsToken(
		p.withClient(ctx), p.cfg.Username, p.cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("keycloak: password grant: %w", translateOAuthError(err))
	}
	return p.resultFromToken(tok)
}

// UpdateToken exchanges the refresh token for a fresh token pair. A rejected
// refresh token surfaces as session.ErrSessionInvalid.
func (p *Provider) UpdateToken(ctx context.Context, refreshToken string) (*session.Result, error) {
	doc, err := p.discover(ctx)
	if err != nil {
		return nil, err
	}

	// An already-expired token forces the source to run the exchange.
	seed := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Minute),
	}
	tok, err := p.oauthConfig(doc).TokenSource(p.withClient(ctx), seed).Token()
	if err != nil {
		return nil, fmt.Errorf("keycloak: refresh grant: %w", translateOAuthError(err))
	}
	return p.resultFromToken(tok)
}

// Logout posts the refresh token to the realm's end-session endpoint.
func (p *Provider) Logout(ctx context.Context, refreshToken string) error {
	doc, err := p.discover(ctx)
	if err != nil {
		return err
	}
	endpoint := doc.EndSessionEndpoint
	if endpoint == "" {
		endpoint = p.issuer + "/protocol/openid-connect/logout"
	}

	form := url.Values{
		"client_id":     {p.cfg.ClientID},
		"refresh_token": {refreshToken},
	}
	if p.cfg.ClientSecret != "" {
		form.Set("client_secret", p.cfg.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("keycloak: build logout request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("keycloak: logout: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("keycloak: logout returned %d", resp.StatusCode)
	}
	return nil
}

// resultFromToken decodes the access token's claims into the session shape.
func (p *Provider) resultFromToken(tok *oauth2.Token) (*session.Result, error) {
	claims, err := decodeClaims(tok.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("keycloak: decode access token: %w", err)
	}

	res := &session.Result{
		Authenticated: true,
		AccessToken:   tok.AccessToken,
		RefreshToken:  tok.RefreshToken,
		Claims:        *claims,
	}
	if res.Claims.ExpiresAt.IsZero() && !tok.Expiry.IsZero() {
		res.Claims.ExpiresAt = tok.Expiry
	}
	if rt := tok.Extra("refresh_expires_in"); rt != nil {
		if secs, ok := asSeconds(rt); ok {
			res.Claims.RefreshExpiresAt = time.Now().Add(secs)
		}
	}
	return res, nil
}

// asSeconds coerces the json-decoded refresh_expires_in value.
func asSeconds(v any) (time.Duration, bool) {
	switch n := v.(type) {
	case float64:
		return time.Duration(n) * time.Second, true
	case int64:
		return time.Duration(n) * time.Second, true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return time.Duration(f) * time.Second, true
	default:
		return 0, false
	}
}

// translateOAuthError maps invalid_grant responses onto the session-invalid
// sentinel so the manager terminates the session instead of retrying.
func translateOAuthError(err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		switch rerr.ErrorCode {
		case "invalid_grant", "invalid_token":
			return fmt.Errorf("%s: %s: %w", rerr.ErrorCode, rerr.ErrorDescription, session.ErrSessionInvalid)
		}
	}
	return err
}
