// Package mocks provides mock implementations for testing the portal services.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for our port interfaces.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	mockRepo := mocks.NewMockProfileRepository(ctrl)
//	mockRepo.EXPECT().GetByID(gomock.Any(), "user-1").Return(profile, nil)
package mocks

// Generate mock for ProfileRepository interface from internal/ports package.
// This creates MockProfileRepository with methods for all ProfileRepository interface methods:
// Create, GetByID, List, MarkPasswordChanged, RecordLogin, Update, UpdateAccess
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=profile_repository_mock.go github.com/northwind-consulting/portal/internal/ports ProfileRepository

// Generate mock for RateLimiter interface from internal/ports package.
// This creates MockRateLimiter with methods for all RateLimiter interface methods:
// Allow
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=rate_limiter_mock.go github.com/northwind-consulting/portal/internal/ports RateLimiter

// Generate mock for SessionClient interface from internal/ports package.
// This creates MockSessionClient with methods for all SessionClient interface methods:
// GetSession, OnAuthStateChange, ResetPasswordForEmail, SessionID, SetSession, SignInWithPassword, SignOut, SignUp, UpdateUser
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=session_client_mock.go github.com/northwind-consulting/portal/internal/ports SessionClient
