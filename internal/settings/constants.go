package settings

// Defaults shared by the control plane components.
const (
	// LimiterClassUpload is the limiter class applied to upload requests.
	LimiterClassUpload = "upload"
	// LimiterClassAuth is the limiter class applied to authentication attempts.
	LimiterClassAuth = "auth"
	// LimiterClassAPI is the limiter class applied to read-only API calls.
	LimiterClassAPI = "api"
	// DefaultRateLimitRedisPrefix is the fallback Redis key prefix.
	DefaultRateLimitRedisPrefix = "ingest:rl"
	// DefaultCurrency is the fallback balance currency.
	DefaultCurrency = "USD"
	// DefaultServerPort is the fallback HTTP port.
	DefaultServerPort = 8318
	// DefaultProviderBackoffMillis is the fallback pause between provider attempts.
	DefaultProviderBackoffMillis = 1000
	// HeaderUserID carries the resolved caller identity when no JWT secret is configured.
	HeaderUserID = "X-User-ID"
)
