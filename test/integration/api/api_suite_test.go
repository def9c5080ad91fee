// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Campusauth Contributors

//go:build integration

// Package api_test drives the HTTP API end to end against real stores.
package api_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
)

func TestAPI(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "API Integration Suite")
}
