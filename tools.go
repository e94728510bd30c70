// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

//go:build tools

// Package main keeps the test runners gatekeeper's integration suites need in
// go.mod, so `go run github.com/onsi/ginkgo/v2/ginkgo -tags integration ./...`
// uses the same versions the suites compile against.
package main

import (
	// Runs the ginkgo suites under internal/store and test/integration.
	_ "github.com/onsi/ginkgo/v2/ginkgo"
	// Matchers for those suites and for the mocks in internal/reaper.
	_ "github.com/onsi/gomega"
	_ "github.com/stretchr/testify/mock"
)
