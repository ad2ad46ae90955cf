package config

const (
	HCType        = "Content-Type"
	HCacheControl = "Cache-Control"

	CTypeJSON = "application/json"
)

const (
	HTTPErrUnauthorized   = "Unauthorized"
	HTTPErrSessionNotOpen = "Editing session is not open"
)
