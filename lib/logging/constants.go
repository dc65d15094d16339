package logging

// Common log field keys used throughout the application
const (
	FieldContainerID = "container_id"
	FieldDesktopID   = "desktop_id"
	FieldError       = "error"
	FieldEvent       = "event"
	FieldLaunchID    = "launch_id"
	FieldMessageID   = "message_id"
	FieldMessageType = "message_type"
	FieldPluginID    = "plugin_id"
	FieldScope       = "scope"
	FieldUrl         = "url"
)
