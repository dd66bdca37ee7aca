package httpx

// Page identifiers used by templates and navigation.
const (
	PageLogin              = "login"
	PageSignup             = "signup"
	PageForgotPassword     = "forgot-password"
	PageResetPassword      = "reset-password"
	PageVerifyEmail        = "verify-email"
	PageAccountDeactivated = "account-deactivated"
	PageUnauthorized       = "unauthorized"
	PageAccessDenied       = "access-denied"
	PageLoading            = "loading"
	PageDashboard          = "dashboard"
	PageProfile            = "profile"
	PageHRJobs             = "hr-jobs"
	PageAdminUsers         = "admin-users"
	PageError              = "error"
)

// Template paths used for loading templates in tests and production.
const (
	TemplatePathFromRoot = "web/templates"       // From project root
	TemplatePathFromTest = "../../web/templates" // From internal/http test files
)

const (
	// DefaultSessionCookieName carries the opaque session id.
	DefaultSessionCookieName = "session_id"

	// maxBodyBytes caps JSON and form bodies.
	maxBodyBytes = 1 << 20

	contentTypeJSON = "application/json"

	// loadingRetrySeconds is the Refresh interval of the loading page.
	loadingRetrySeconds = 2
)
