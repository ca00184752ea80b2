// Package strava talks to the Strava OAuth and activity endpoints.
package strava

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"example.com/fitsync/internal/domain"
)

const (
	DefaultAuthURL  = "https://www.strava.com/oauth/authorize"
	DefaultTokenURL = "https://www.strava.com/oauth/token"
	DefaultAPIURL   = "https://www.strava.com/api/v3"

	// Scope is sent verbatim; Strava expects a comma separated list.
	Scope = "read,activity:read"

	// maxGrantBody matches the read limit oauth2 applies to token responses.
	maxGrantBody = 1 << 20
)

// OAuthConfig describes the registered Strava application.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	HTTPClient   *http.Client
}

// Grant is the decoded answer of a token endpoint call.
type Grant struct {
	Tokens    domain.TokenTriple
	TokenType string
	ExpiresIn int64
	Athlete   *domain.Athlete
}

// OAuth wraps the oauth2 configuration for Strava.
type OAuth struct {
	config     oauth2.Config
	httpClient *http.Client
}

// NewOAuth builds an OAuth client, filling unset endpoints with Strava's defaults.
func NewOAuth(cfg OAuthConfig) *OAuth {
	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = DefaultAuthURL
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	return &OAuth{
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{Scope},
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
	}
}

// AuthCodeURL returns the authorize redirect carrying state.
func (o *OAuth) AuthCodeURL(state string) string {
	return o.config.AuthCodeURL(state, oauth2.SetAuthURLParam("approval_prompt", "auto"))
}

// Exchange runs the authorization_code grant. A provider answer carrying a
// message or errors yields an *domain.UpstreamError with status 400 and the
// provider's message, whatever status it was sent with.
func (o *OAuth) Exchange(ctx context.Context, code string) (Grant, error) {
	if strings.TrimSpace(code) == "" {
		return Grant{}, domain.NewValidationError("code", "Authorization code is required")
	}

	ctx, recorder := o.recordingContext(ctx)
	tok, err := o.config.Exchange(ctx, code)
	return finishGrant(tok, err, recorder.body, "Authorization failed")
}

// Refresh runs the refresh_token grant and implements token.Granter.
func (o *OAuth) Refresh(ctx context.Context, refreshToken string) (domain.TokenTriple, error) {
	grant, err := o.RefreshGrant(ctx, refreshToken)
	if err != nil {
		return domain.TokenTriple{}, err
	}
	return grant.Tokens, nil
}

// RefreshGrant is Refresh with the full decoded answer.
func (o *OAuth) RefreshGrant(ctx context.Context, refreshToken string) (Grant, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Grant{}, domain.NewValidationError("refresh_token", "Refresh token is required")
	}

	ctx, recorder := o.recordingContext(ctx)
	tok, err := o.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	return finishGrant(tok, err, recorder.body, "Token refresh failed")
}

// recordingContext hands oauth2 a per-call copy of the HTTP client whose
// transport keeps the token endpoint body. oauth2 only exposes the body of
// non-2xx answers.
func (o *OAuth) recordingContext(ctx context.Context) (context.Context, *bodyRecorder) {
	base := o.httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	recorder := &bodyRecorder{base: base}
	client := *o.httpClient
	client.Transport = recorder
	return context.WithValue(ctx, oauth2.HTTPClient, &client), recorder
}

type bodyRecorder struct {
	base http.RoundTripper
	body []byte
}

func (r *bodyRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := r.base.RoundTrip(req)
	if err != nil || resp.Body == nil {
		return resp, err
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxGrantBody))
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	r.body = body
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}

func finishGrant(tok *oauth2.Token, err error, body []byte, fallback string) (Grant, error) {
	if rejected := providerRejection(body, fallback); rejected != nil {
		return Grant{}, rejected
	}
	if err != nil {
		return Grant{}, grantError(err, fallback)
	}
	return decodeGrant(tok)
}

func decodeGrant(tok *oauth2.Token) (Grant, error) {
	if tok == nil || tok.AccessToken == "" {
		return Grant{}, &domain.UpstreamError{Status: http.StatusBadGateway, Message: "Invalid token response"}
	}

	grant := Grant{
		Tokens: domain.TokenTriple{
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			ExpiresAt:    int64Extra(tok.Extra("expires_at")),
		},
		TokenType: tok.TokenType,
		ExpiresIn: int64Extra(tok.Extra("expires_in")),
	}
	if grant.Tokens.ExpiresAt == 0 && !tok.Expiry.IsZero() {
		grant.Tokens.ExpiresAt = tok.Expiry.Unix()
	}

	if raw := tok.Extra("athlete"); raw != nil {
		athlete, err := decodeAthlete(raw)
		if err != nil {
			return Grant{}, &domain.UpstreamError{Status: http.StatusBadGateway, Message: "Invalid athlete in token response"}
		}
		grant.Athlete = athlete
	}
	return grant, nil
}

type athletePayload struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Profile   string `json:"profile"`
}

func decodeAthlete(raw any) (*domain.Athlete, error) {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var payload athletePayload
	if err := json.Unmarshal(encoded, &payload); err != nil {
		return nil, err
	}
	if payload.ID == 0 {
		return nil, nil
	}
	return &domain.Athlete{
		ID:        payload.ID,
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
		AvatarURL: payload.Profile,
	}, nil
}

func int64Extra(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}

type providerMessage struct {
	Message string          `json:"message"`
	Errors  json.RawMessage `json:"errors"`
}

// providerRejection reports a token endpoint body carrying a message or
// errors as a 400, even when Strava sent it with a 2xx status.
func providerRejection(body []byte, fallback string) *domain.UpstreamError {
	var payload providerMessage
	if len(body) == 0 || json.Unmarshal(body, &payload) != nil {
		return nil
	}
	if payload.Message == "" && !hasErrors(payload.Errors) {
		return nil
	}
	message := payload.Message
	if message == "" {
		message = fallback
	}
	return &domain.UpstreamError{
		Status:  http.StatusBadRequest,
		Message: message,
		Body:    truncate(string(body), maxErrorBody),
	}
}

func hasErrors(raw json.RawMessage) bool {
	switch string(bytes.TrimSpace(raw)) {
	case "", "null", "[]", "{}":
		return false
	}
	return true
}

// grantError maps token endpoint failures that carried no provider message.
// A provider status is proxied as is.
func grantError(err error, fallback string) error {
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		status := http.StatusBadRequest
		if retrieve.Response != nil && retrieve.Response.StatusCode >= http.StatusBadRequest {
			status = retrieve.Response.StatusCode
		}
		return &domain.UpstreamError{
			Status:  status,
			Message: fallback,
			Body:    truncate(string(retrieve.Body), maxErrorBody),
		}
	}
	if transport := transportError(err); transport != nil {
		return transport
	}
	return &domain.UpstreamError{Status: http.StatusBadGateway, Message: fmt.Sprintf("%s: %v", fallback, err)}
}
