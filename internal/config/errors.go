package config

const (
	// Database errors
	ErrInitializeDatabaseFmt = "Failed to initialize database: %v"
	ErrListPostsFmt          = "Failed to list posts: %v"

	// Storage errors
	ErrCreateMediaStoreFmt = "Failed to create media store: %v"

	// Config errors
	ErrLoadConfigFmt         = "Failed to load config: %v"
	ErrWriteConfigContentFmt = "Failed to write config content: %v"

	ErrInternalServerError = "Internal server error"
)
