// Package version reports the build revision for the startup banner and
// the health endpoint.
package version

import "runtime/debug"

// AppName is the service name used in version strings.
const AppName = "agentd"

// commit can be set for container builds where .git is unavailable:
//
//	-ldflags "-X github.com/openagentd/agentd/pkg/version.commit=<sha>"
var commit string

// GitCommit is the short revision backing this build, "dev" when neither
// the ldflags override nor VCS build info is present.
var GitCommit = resolveCommit()

func resolveCommit() string {
	c := commit
	if c == "" {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" {
					c = s.Value
					break
				}
			}
		}
	}
	if c == "" {
		return "dev"
	}
	if len(c) > 8 {
		c = c[:8]
	}
	return c
}

// Full returns "agentd/<commit>".
func Full() string {
	return AppName + "/" + GitCommit
}
