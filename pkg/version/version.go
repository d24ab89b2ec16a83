// Package version derives the running binary's identity from the build
// metadata the Go toolchain embeds (runtime/debug.BuildInfo) — no -ldflags
// stamping needed.
package version

import "runtime/debug"

// AppName identifies this service in version strings, MCP handshakes and
// user agents.
const AppName = "tarsy"

// GitCommit is the short (8-char) VCS revision, or "dev" when no build
// info is available — `go test` binaries and non-git builds.
var GitCommit = shortRevision()

func shortRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && setting.Value != "" {
			if len(setting.Value) > 8 {
				return setting.Value[:8]
			}
			return setting.Value
		}
	}
	return "dev"
}

// Full returns "tarsy/<commit>" for user-agent strings and log banners.
func Full() string {
	return AppName + "/" + GitCommit
}
