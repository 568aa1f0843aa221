package version

import "fmt"

// Overridden at build time via -ldflags -X.
var (
	Version = "dev"
	Commit  = ""
)

func GetInfo() string {
	if Commit != "" {
		return fmt.Sprintf("%s-%s", Version, Commit)
	}
	return Version
}
