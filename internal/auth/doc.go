// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

// Package auth issues, validates and revokes credentials and sessions.
//
// # Components
//
//   - Argon2idHasher - password digests in PHC string format
//   - OTPService - six-digit, purpose-scoped, single-use passcodes
//   - Issuer and Verifier - HS256 access and refresh tokens signed with
//     distinct secrets
//   - Ledger - refresh-token deny list with a whole-account sentinel
//   - Authenticator - bearer-header identity resolution and role gates
//
// # Service
//
// Service composes the components above and is the only type callers invoke.
// It is created with NewService, which validates its dependencies.
//
// Access tokens are never checked against the Ledger; their short lifetime
// bounds how long a revoked session can keep making requests.
//
// # Errors
//
// Errors returned by Service carry an oops code. KindOf classifies them and
// PublicMessage yields the text safe to return to a client.
package auth
