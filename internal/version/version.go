package version

import (
	"runtime/debug"
	"strings"
	"time"
)

// buildVersion is set via -ldflags "-X pkt.systems/docsync/internal/version.buildVersion=...".
var buildVersion = ""

// Current returns the release tag, a VCS pseudo-version, or a placeholder.
func Current() string {
	if v := strings.TrimSpace(buildVersion); v != "" {
		return v
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "v0.0.0-unknown"
	}
	if v := strings.TrimSpace(info.Main.Version); v != "" && v != "(devel)" {
		return v
	}
	if v := pseudoVersion(info.Settings); v != "" {
		return v
	}
	return "v0.0.0-unknown"
}

func pseudoVersion(settings []debug.BuildSetting) string {
	vcs := make(map[string]string, len(settings))
	for _, s := range settings {
		vcs[s.Key] = s.Value
	}
	rev, stamp := vcs["vcs.revision"], vcs["vcs.time"]
	if rev == "" || stamp == "" {
		return ""
	}
	ts, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return ""
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	out := "v0.0.0-" + ts.UTC().Format("20060102150405") + "-" + rev
	if vcs["vcs.modified"] == "true" {
		out += "+dirty"
	}
	return out
}
