package idp

import (
	"encoding/json"
	"strconv"
	"time"

	"golang.org/x/oauth2"
)

// TokenBundle is the result of a code exchange or refresh.
type TokenBundle struct {
	AccessToken  string
	RefreshToken string
	IDToken      string

	// ExpiresIn and RefreshExpiresIn are relative lifetimes in seconds as
	// reported by the provider. ExpiresAt is the absolute access token expiry.
	ExpiresIn        *int64
	RefreshExpiresIn *int64
	ExpiresAt        *time.Time
}

// CustomerIdentity holds the claims of a verified identity token.
type CustomerIdentity struct {
	Subject       string
	Email         string
	EmailVerified bool
	SessionID     string
	IssuedAt      time.Time
	ExpiresAt     time.Time
	Audience      []string
	Issuer        string
}

func bundleFromToken(tok *oauth2.Token) TokenBundle {
	b := TokenBundle{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if raw, ok := tok.Extra("id_token").(string); ok {
		b.IDToken = raw
	}
	if n, ok := int64Extra(tok.Extra("expires_in")); ok {
		b.ExpiresIn = &n
	}
	if n, ok := int64Extra(tok.Extra("refresh_token_expires_in")); ok {
		b.RefreshExpiresIn = &n
	}
	if !tok.Expiry.IsZero() {
		at := tok.Expiry
		b.ExpiresAt = &at
	}
	return b
}

// int64Extra converts a token response field that may arrive as a JSON
// number or as a form-encoded string.
func int64Extra(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		if n == "" {
			return 0, false
		}
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}
