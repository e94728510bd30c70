// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package errutil_test

import (
	"testing"

	"github.com/samber/oops"

	"github.com/gatekeeper/gatekeeper/pkg/errutil"
)

func TestAssertErrorCode_MatchingCode(t *testing.T) {
	err := oops.Code("AUTH_TOKEN_REVOKED").Errorf("refresh token has been revoked")
	errutil.AssertErrorCode(t, err, "AUTH_TOKEN_REVOKED")
}

func TestAssertErrorContext_MatchingKeyValue(t *testing.T) {
	err := oops.With("account_id", "01HZX").Errorf("account not found")
	errutil.AssertErrorContext(t, err, "account_id", "01HZX")
}

func TestAssertNoSecret_CleanError(t *testing.T) {
	err := oops.Code("AUTH_INVALID_CREDENTIALS").
		With("email", "alice@example.com").
		Errorf("invalid email or password")
	errutil.AssertNoSecret(t, err, "correct-horse", "")
}

type recordingTB struct {
	testing.TB
	failed bool
}

func (r *recordingTB) Helper()               {}
func (r *recordingTB) Errorf(string, ...any) { r.failed = true }
func (r *recordingTB) FailNow()              { r.failed = true }

func TestAssertNoSecret_DetectsLeak(t *testing.T) {
	rec := &recordingTB{TB: t}
	err := oops.With("password", "correct-horse").Errorf("login failed")
	errutil.AssertNoSecret(rec, err, "correct-horse")
	if !rec.failed {
		t.Fatal("expected the leaked password to fail the assertion")
	}
}
