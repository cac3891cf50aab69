package domain

type ctxKey string

const (
	RequesterIdCtxKey ctxKey = "rc-requesterId"
)

const (
	// DefaultTimeframe is used when a request omits the timeframe.
	DefaultTimeframe = "all-time"

	// DefaultPrincipal is the user every request maps to when no identity provider is configured.
	DefaultPrincipal = "default-user"
)

// Summary sources reported to the dashboard.
const (
	SourceCache             = "firebase_cache"
	SourceBackgroundRefresh = "background_refresh"
	SourceForceRefresh      = "force_refresh"
	SourceEmpty             = "empty"
)
