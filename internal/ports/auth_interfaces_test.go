package ports_test

import (
	"testing"

	"github.com/northwind-consulting/portal/internal/adapters/devauth"
	mocks "github.com/northwind-consulting/portal/internal/mocks/auth"
	"github.com/northwind-consulting/portal/internal/ports"
	"github.com/northwind-consulting/portal/internal/session"
)

// This test only verifies that our doubles and adapters conform to the ports at compile time.
func TestImplementationsSatisfyPorts(t *testing.T) {
	t.Helper()

	var _ ports.SessionVault = (*mocks.MemorySessionVault)(nil)
	var _ ports.ProfileCache = (*mocks.MemoryProfileCache)(nil)
	var _ ports.RateLimiter = (*mocks.CountingRateLimiter)(nil)
	var _ ports.IdentityBackend = (*mocks.StubIdentityBackend)(nil)
	var _ ports.IdentityBackend = (*devauth.Backend)(nil)
	var _ ports.SessionClient = (*session.Client)(nil)
}

func TestBackendErrorMessage(t *testing.T) {
	err := &ports.BackendError{Status: 400, Code: "invalid_credentials", Message: "Invalid login credentials"}
	if got := err.Error(); got != "identity backend: 400 invalid_credentials: Invalid login credentials" {
		t.Fatalf("unexpected message %q", got)
	}
	be, ok := ports.AsBackendError(err)
	if !ok || be != err {
		t.Fatalf("AsBackendError did not unwrap")
	}
}
