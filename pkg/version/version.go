package version

import "runtime/debug"

// version is overridable at link time with
// -ldflags "-X github.com/mcpsheets/mcpsheets/pkg/version.version=v1.2.3".
var version = "dev"

// Version reports the module version from build info when the binary was
// built as a module dependency, otherwise the linked (or default) value.
func Version() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Sum != "" {
		return info.Main.Version
	}
	return version
}

// Set overrides the reported version at runtime; empty input is ignored.
func Set(v string) {
	if v != "" {
		version = v
	}
}
