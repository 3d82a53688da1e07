package version

import "runtime/debug"

// version is overridden at link time:
//
//	go build -ldflags "-X github.com/vinodismyname/leadfunnel/pkg/version.version=v0.3.0" ./cmd/server
var version = "dev"

// Version returns the linked version, else the module version recorded in the build info,
// else "dev".
func Version() string {
	if version != "dev" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return version
}

// Revision returns the short VCS revision the binary was built from, or "" when unknown.
func Revision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			if len(s.Value) > 12 {
				return s.Value[:12]
			}
			return s.Value
		}
	}
	return ""
}
