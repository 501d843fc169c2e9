package observability

// Build metadata, set via -ldflags "-X simctl/internal/infrastructure/observability.Version=...".
var (
	Version = "dev"
	Commit  = "none"
	Date    = ""
)

// BuildInfo is served by /api/v1/version and printed by `simctl version`.
type BuildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date,omitempty"`
}

func Build() BuildInfo {
	return BuildInfo{Version: Version, Commit: Commit, Date: Date}
}
