package version

// Build-time variables (set via ldflags)
var (
	Version = "dev"
	Commit  = ""
)

// GetVersion returns the current version, with the commit when known
func GetVersion() string {
	if Commit == "" {
		return Version
	}
	return Version + "+" + Commit
}
