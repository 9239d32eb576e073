// Package misc keeps program identity.
package misc

import (
	"runtime/debug"
	"sync"
)

// Set at link time, for example
//
//	-ldflags "-X stylepipe/misc.version=1.2.0 -X stylepipe/misc.gitHash=abcdef"
var (
	appName = "stylepipe"
	version string
	gitHash string
)

var fromBuild = sync.OnceValue(func() (info struct{ version, hash string }) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	info.version = bi.Main.Version
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" {
			info.hash = s.Value
		}
	}
	return
})

func GetAppName() string {
	return appName
}

// GetVersion returns program version, "(devel)" for local builds.
func GetVersion() string {
	if len(version) > 0 {
		return version
	}
	if v := fromBuild().version; len(v) > 0 {
		return v
	}
	return "(devel)"
}

func GetGitHash() string {
	if len(gitHash) > 0 {
		return gitHash
	}
	if h := fromBuild().hash; len(h) > 0 {
		return h
	}
	return "unknown"
}
