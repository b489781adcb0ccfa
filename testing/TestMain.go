// Package testing is blank-imported by package tests. Its init flags test
// mode and defaults logs to text before any test runs.
package testing

import (
	"os"
	stdtesting "testing"

	"github.com/unigate/unigate/internal/app"
)

func init() {
	_ = os.Setenv(app.TestModeEnv, "1")
	if os.Getenv("LOG_FORMAT") == "" {
		_ = os.Setenv("LOG_FORMAT", "text")
	}
}

// TestMain can be delegated to from a package TestMain.
func TestMain(m *stdtesting.M) {
	os.Exit(m.Run())
}
