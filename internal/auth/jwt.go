// Tabularium - Real-Time Event Log Synchronization Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tabularium

// Package auth verifies handshake authorization payloads.
//
// The sync core never parses tokens itself; it consumes the Record a
// Verifier produces. Three schemes are supported, tried in order: JWT
// bearer tokens (soft failure, falls through), the legacy shared-secret
// token, and the admin secret.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// WorkspaceRoleAdmin is the workspace role that grants admin privileges
// for sessions bound to that workspace.
const WorkspaceRoleAdmin = "admin"

// accessTokenType is the required "type" claim value. Refresh or other
// token types are never accepted for sync sessions.
const accessTokenType = "access"

// WorkspaceClaim is one entry of a token's workspace membership list.
type WorkspaceClaim struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// Claims are the JWT claims Tabularium issues and verifies.
type Claims struct {
	Type       string           `json:"type"`
	Workspaces []WorkspaceClaim `json:"workspaces,omitempty"`
	jwt.RegisteredClaims
}

// JWTManager creates and validates HS256 access tokens.
type JWTManager struct {
	secret []byte
	expiry time.Duration
}

// NewJWTManager creates a manager signing with the given secret.
// An empty secret disables the JWT scheme entirely; callers should
// skip construction in that case.
func NewJWTManager(secret string, expiry time.Duration) (*JWTManager, error) {
	if secret == "" {
		return nil, fmt.Errorf("JWT secret is required but was empty")
	}
	if expiry <= 0 {
		expiry = 30 * time.Minute
	}
	return &JWTManager{secret: []byte(secret), expiry: expiry}, nil
}

// GenerateToken creates a signed access token for userID with the
// given workspace memberships.
func (m *JWTManager) GenerateToken(userID string, workspaces []WorkspaceClaim) (string, error) {
	now := time.Now()
	claims := &Claims{
		Type:       accessTokenType,
		Workspaces: workspaces,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken checks signature, expiry and token type, and returns
// the claims. Tokens signed with any non-HMAC algorithm are rejected
// to prevent algorithm confusion.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.Type != accessTokenType {
		return nil, fmt.Errorf("invalid token type %q", claims.Type)
	}
	return claims, nil
}
