package otel

// Common attribute keys used across services
const (
	HTTPMethod     = "http.method"
	HTTPURL        = "http.url"
	HTTPStatusCode = "http.status_code"

	FHIRResourceType = "fhir.resource_type"
	FHIRResourceID   = "fhir.resource_id"
	FHIRBaseURL      = "fhir.base_url"

	SmartMessageID   = "smart.message.id"
	SmartMessageType = "smart.message.type"
	SmartPluginID    = "smart.plugin.id"
	SmartScope       = "smart.context.scope"
	SmartLaunchID    = "smart.launch.id"
	SmartDesktopID   = "smart.desktop.id"
	SmartContainerID = "smart.container.id"
)
