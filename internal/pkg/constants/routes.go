package constants

// API route paths
const (
	APIv1Prefix = "/api/v1"

	GeneratePath       = "/generate"
	GenerateStatusPath = "/generate/:request_id"
	GenerateImagesPath = "/generate/:request_id/images"

	UserProfilePath = "/user"
	UserCreditsPath = "/user/credits"
	RegisterPath    = "/auth/register"
	APIKeyPath      = "/user/api-key"

	AdminCachePath   = "/admin/cache"
	AdminCleanupPath = "/admin/cleanup"

	ProgressWebhookPath = "/internal/progress"
	ProxyImagePath      = "/proxy/image"
)
