// Package testutil holds helpers shared by package tests.
package testutil

import (
	"os"
	"testing"
)

// SkipIfNoNetwork skips the test if ATELIER_TEST_SKIP_NETWORK is set.
// Tests that bind loopback listeners or dial websockets call it first.
func SkipIfNoNetwork(t *testing.T) {
	t.Helper()
	if os.Getenv("ATELIER_TEST_SKIP_NETWORK") != "" {
		t.Skip("skipping network test: ATELIER_TEST_SKIP_NETWORK is set")
	}
}
