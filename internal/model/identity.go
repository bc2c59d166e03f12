// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for threads, messages, and
// quota identities.
package model

// =============================================================================
// IDENTITY TYPE
// =============================================================================

// IdentityKind distinguishes anonymous sessions from authenticated accounts.
// The two classes roll their quota windows at different cadences.
type IdentityKind string

const (
	IdentityAnonymous IdentityKind = "anonymous"
	IdentityAccount   IdentityKind = "account"
)

// Identity scopes quota records and persistence access. Key is the anonymous
// session token or the authenticated account ID.
type Identity struct {
	Kind IdentityKind `json:"kind"`
	Key  string       `json:"key"`
}

// AnonymousIdentity creates an identity for an anonymous session token.
func AnonymousIdentity(sessionToken string) Identity {
	return Identity{Kind: IdentityAnonymous, Key: sessionToken}
}

// AccountIdentity creates an identity for an authenticated account.
func AccountIdentity(accountID string) Identity {
	return Identity{Kind: IdentityAccount, Key: accountID}
}

// IsZero returns true for the empty identity.
func (id Identity) IsZero() bool {
	return id.Key == ""
}

// String returns a stable key suitable for map lookups and log fields.
func (id Identity) String() string {
	return string(id.Kind) + ":" + id.Key
}
