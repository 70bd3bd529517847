// Tabularium - Real-Time Event Log Synchronization Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tabularium

package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/tomtom215/tabularium/internal/logging"
)

// ErrRejected marks a hard authorization failure. The handshake closes
// the channel with policy-violation code 1008 when it sees one; every
// other verification failure degrades to an anonymous session.
var ErrRejected = errors.New("authorization rejected")

// Payload is the decoded handshake authorization payload. Every field
// is optional; an empty payload yields an anonymous record.
type Payload struct {
	JWTToken    string `json:"jwtToken"`
	JWT         string `json:"jwt"`
	AuthToken   string `json:"authToken"`
	Auth        string `json:"auth"`
	AdminSecret string `json:"adminSecret"`
	UserID      string `json:"userId"`
	WorkspaceID string `json:"workspaceId"`
}

// bearerToken returns the JWT from its primary or alias field.
func (p *Payload) bearerToken() string {
	if p.JWTToken != "" {
		return p.JWTToken
	}
	return p.JWT
}

// legacyToken returns the shared-secret token from its primary or
// alias field.
func (p *Payload) legacyToken() string {
	if p.AuthToken != "" {
		return p.AuthToken
	}
	return p.Auth
}

// Record is a verified session authorization. The sync handler treats
// it as opaque facts: it never re-derives any of these fields.
type Record struct {
	Authenticated bool
	IsAdmin       bool
	UserID        string
	WorkspaceID   string
	Workspaces    []WorkspaceClaim
}

// AnonymousRecord is the authorization of a session that supplied no
// credentials: attached, unauthenticated, no admin rights.
func AnonymousRecord() Record {
	return Record{}
}

// Verifier validates a handshake payload for a store and produces the
// session's authorization record.
type Verifier interface {
	// VerifyPayload returns the record for the given payload (nil for
	// an absent payload). An error wrapping ErrRejected is a hard
	// failure; the caller must close the channel.
	VerifyPayload(payload *Payload, storeID string) (Record, error)
}

// PayloadVerifier implements the production verification precedence:
//
//  1. JWT (jwtToken, then jwt): signature, expiry and access type are
//     checked; when the token carries a non-empty workspace list the
//     session's workspace must appear in it. Signature or expiry
//     failures are soft: the verifier falls through to the next
//     scheme. Workspace denial is hard.
//  2. Legacy token (authToken, then auth): compared against the
//     configured shared secret. A wrong value is hard.
//  3. adminSecret: compared against the configured admin secret. A
//     wrong value is hard.
//  4. Nothing supplied: anonymous record.
type PayloadVerifier struct {
	jwt         *JWTManager // nil when the JWT scheme is disabled
	authToken   string
	adminSecret string
}

// NewPayloadVerifier builds a verifier. jwtManager may be nil, which
// disables the JWT scheme (tokens then fall through to the legacy
// schemes like any other soft failure).
func NewPayloadVerifier(jwtManager *JWTManager, authToken, adminSecret string) *PayloadVerifier {
	return &PayloadVerifier{
		jwt:         jwtManager,
		authToken:   authToken,
		adminSecret: adminSecret,
	}
}

// VerifyPayload implements Verifier.
func (v *PayloadVerifier) VerifyPayload(payload *Payload, storeID string) (Record, error) {
	if payload == nil {
		return AnonymousRecord(), nil
	}

	if token := payload.bearerToken(); token != "" {
		record, err := v.verifyJWT(token, payload.WorkspaceID, storeID)
		switch {
		case err == nil:
			return record, nil
		case errors.Is(err, ErrRejected):
			return Record{}, err
		default:
			// Soft failure: invalid or expired token falls through to
			// the legacy schemes.
			logging.Debug().Err(err).Str("store_id", storeID).Msg("JWT verification failed, trying fallback schemes")
		}
	}

	if token := payload.legacyToken(); token != "" {
		if subtle.ConstantTimeCompare([]byte(token), []byte(v.authToken)) != 1 {
			return Record{}, fmt.Errorf("%w: Invalid authentication token", ErrRejected)
		}
		userID := payload.UserID
		if userID == "" {
			userID = "anonymous"
		}
		return Record{Authenticated: true, UserID: userID}, nil
	}

	if payload.AdminSecret != "" {
		if subtle.ConstantTimeCompare([]byte(payload.AdminSecret), []byte(v.adminSecret)) != 1 {
			return Record{}, fmt.Errorf("%w: Invalid admin secret", ErrRejected)
		}
		userID := payload.UserID
		if userID == "" {
			userID = "admin"
		}
		return Record{Authenticated: true, IsAdmin: true, UserID: userID}, nil
	}

	return AnonymousRecord(), nil
}

// verifyJWT validates the token and resolves the session's workspace
// binding. The target workspace is the payload's workspaceId when
// given, otherwise the store id itself.
func (v *PayloadVerifier) verifyJWT(token, workspaceID, storeID string) (Record, error) {
	if v.jwt == nil {
		return Record{}, errors.New("JWT scheme disabled")
	}

	claims, err := v.jwt.ValidateToken(token)
	if err != nil {
		return Record{}, err
	}

	record := Record{
		Authenticated: true,
		UserID:        claims.Subject,
		Workspaces:    claims.Workspaces,
	}

	if len(claims.Workspaces) == 0 {
		record.WorkspaceID = workspaceID
		return record, nil
	}

	target := workspaceID
	if target == "" {
		target = storeID
	}
	for _, ws := range claims.Workspaces {
		if ws.ID == target {
			record.WorkspaceID = ws.ID
			record.IsAdmin = ws.Role == WorkspaceRoleAdmin
			return record, nil
		}
	}
	return Record{}, fmt.Errorf("%w: No access to specified workspace", ErrRejected)
}
