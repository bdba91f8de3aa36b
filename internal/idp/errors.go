package idp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// ErrNoClientCredential means neither a client secret nor a code verifier is
// available for the code exchange.
var ErrNoClientCredential = errors.New("no client secret or code verifier available")

// TokenExchangeError is a failed call to the token endpoint.
type TokenExchangeError struct {
	StatusCode  int
	Code        string
	Description string
	Err         error
}

func (e *TokenExchangeError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("token exchange failed with status %d: %s", e.StatusCode, e.UserMessage())
	}
	return fmt.Sprintf("token exchange failed: %v", e.Err)
}

func (e *TokenExchangeError) Unwrap() error {
	return e.Err
}

// Unreachable reports whether the token endpoint never answered: the
// request failed in transport or timed out.
func (e *TokenExchangeError) Unreachable() bool {
	if e.StatusCode != 0 {
		return false
	}
	var urlErr *url.Error
	return errors.As(e.Err, &urlErr) || errors.Is(e.Err, context.DeadlineExceeded)
}

// UserMessage is the text shown on the login page. It is empty when the
// provider gave nothing better than a transport failure.
func (e *TokenExchangeError) UserMessage() string {
	switch {
	case e.Description != "":
		return e.Description
	case e.Code != "":
		return e.Code
	case e.StatusCode != 0:
		return fmt.Sprintf("Token exchange failed (%d)", e.StatusCode)
	}
	return ""
}

// DecodeError means an identity token could not be parsed or verified.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid identity token: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
