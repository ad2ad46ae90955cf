// Package routes defines HTTP route constants for the application.
package routes

// API Routes
const (
	// Operations
	MetricsPath = "/metrics"
	HealthPath  = "/healthz"

	// Clients and posts. The agency is the authenticated user.
	APIClient      = "/api/clients/{client}"
	APIClientPosts = "/api/clients/{client}/posts"
	APIPost        = "/api/clients/{client}/posts/{post}"
	APIPostEvents  = APIPost + "/events"

	// Editing session of one post
	APISession           = APIPost + "/session"
	APISessionContent    = APISession + "/content"
	APISessionFormat     = APISession + "/format"
	APISessionEmoji      = APISession + "/emoji"
	APISessionUndo       = APISession + "/undo"
	APISessionRedo       = APISession + "/redo"
	APISessionPicker     = APISession + "/picker"
	APISessionPoll       = APISession + "/poll"
	APISessionMedia      = APISession + "/media"
	APISessionAttachment = APISession + "/attachment"
	APISessionPreview    = APISession + "/preview"
	APISessionVersions   = APISession + "/versions"

	// Footer actions
	APISessionQueue    = APISession + "/queue"
	APISessionSchedule = APISession + "/schedule"
	APISessionPublish  = APISession + "/publish"
)
