// Package testutil starts shared containers for integration tests.
package testutil

import (
	"os"
	"testing"
)

// IntegrationEnv enables container-backed tests when set to "1".
const IntegrationEnv = "TEANEKO_INTEGRATION"

// RequireIntegration skips t unless integration tests are enabled.
func RequireIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv(IntegrationEnv) != "1" {
		t.Skipf("set %s=1 to run integration tests", IntegrationEnv)
	}
}
