package samewatch

import "runtime/debug"

// Version is set at build time via -ldflags "-X samewatch.Version=...".
var Version = ""

// VersionString returns the build version, falling back to module build
// info for plain "go install" builds.
func VersionString() string {
	if Version != "" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "unknown"
}
