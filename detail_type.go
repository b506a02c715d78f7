package gdexposure

// DetailType constants for EventBridge events.
const (
	DetailTypeExposureReport = "Public Exposure Report"
	DetailTypeFetchFailed    = "Audit Fetch Failed"
)
