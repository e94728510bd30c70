// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package errutil

import (
	"fmt"
	"strings"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertErrorCode asserts that err is an oops error with the given code.
func AssertErrorCode(t testing.TB, err error, code string) {
	t.Helper()
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	assert.Equal(t, code, oopsErr.Code(), "error: %v", err)
}

// AssertErrorContext asserts that err is an oops error with the given context key/value.
func AssertErrorContext(t testing.TB, err error, key string, value any) {
	t.Helper()
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	ctx := oopsErr.Context()
	assert.Contains(t, ctx, key)
	assert.Equal(t, value, ctx[key])
}

// AssertNoSecret asserts that neither the message nor the oops context of
// err mentions any of secrets. Errors end up in logs, so passwords, codes
// and tokens must never be attached to them.
func AssertNoSecret(t testing.TB, err error, secrets ...string) {
	t.Helper()
	require.Error(t, err)
	texts := []string{err.Error()}
	if oopsErr, ok := oops.AsOops(err); ok {
		for k, v := range oopsErr.Context() {
			texts = append(texts, k+"="+fmt.Sprint(v))
		}
	}
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		for _, text := range texts {
			assert.False(t, strings.Contains(text, secret), "error leaks %q in %q", secret, text)
		}
	}
}
