package domain

const (
	PlatformAndroid = "android"
	PlatformIOS     = "ios"
	PlatformWindows = "windows"
	PlatformMacOS   = "macos"

	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"

	TierBudget   = "budget"
	TierMidRange = "mid_range"
	TierFlagship = "flagship"
)

// BrowsingProfile describes the identity attached to outgoing requests.
// Values are immutable once built; re-rolling produces a new profile.
type BrowsingProfile struct {
	Platform   string `json:"platform"`
	DeviceType string `json:"deviceType"`
	DeviceTier string `json:"deviceTier"`
	UserAgent  string `json:"userAgent"`
	Region     string `json:"region"`
}

func (p BrowsingProfile) IsMobile() bool {
	return p.DeviceType == DeviceMobile || p.DeviceType == DeviceTablet
}

// TransportMode selects the request executor.
type TransportMode string

const (
	TransportHTTP    TransportMode = "http"
	TransportBrowser TransportMode = "browser"
)

// ParseTransportMode accepts "http", "browser" and "webview"; anything else
// falls back to HTTP.
func ParseTransportMode(s string) TransportMode {
	switch s {
	case "browser", "webview", "Browser", "WebView":
		return TransportBrowser
	default:
		return TransportHTTP
	}
}
