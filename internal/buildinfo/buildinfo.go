// Package buildinfo reports what binary is running, for --version and the
// server health check.
package buildinfo

import (
	"fmt"
	"runtime/debug"
	"strings"
)

const devVersion = "dev"

var readBuildInfo = debug.ReadBuildInfo

// Version returns the module version, or "dev" for local builds.
func Version() string {
	info, ok := readBuildInfo()
	if !ok || info == nil {
		return devVersion
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		return v
	}
	return devVersion
}

func setting(key string) string {
	info, ok := readBuildInfo()
	if !ok || info == nil {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}

// Revision is the abbreviated VCS commit the binary was built from, with a
// "-dirty" suffix for modified trees. It is empty outside a checkout.
func Revision() string {
	rev := setting("vcs.revision")
	if rev == "" {
		return ""
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if setting("vcs.modified") == "true" {
		rev += "-dirty"
	}
	return rev
}

// Tags returns the build tags recorded at compile time.
func Tags() string {
	return setting("-tags")
}

// VersionWithTags describes the build in one line, e.g.
// "v1.2.0 (rev 0123456789ab, tags: netgo)".
func VersionWithTags() string {
	var extra []string
	if rev := Revision(); rev != "" {
		extra = append(extra, "rev "+rev)
	}
	if tags := Tags(); tags != "" {
		extra = append(extra, "tags: "+tags)
	}
	if len(extra) == 0 {
		return Version()
	}
	return fmt.Sprintf("%s (%s)", Version(), strings.Join(extra, ", "))
}
