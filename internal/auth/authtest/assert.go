// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package authtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekeeper/gatekeeper/internal/auth"
)

// AssertKind asserts that err is non-nil and classifies as want.
func AssertKind(t testing.TB, err error, want auth.Kind) {
	t.Helper()
	require.Error(t, err, "expected a %s error", want)
	got := auth.KindOf(err)
	assert.Equal(t, want, got, "kind %s, want %s: %v", got, want, err)
}
