// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Set via -ldflags at build time.
var (
	GitCommit = "unknown"
	GitDirty  = "false"
	BuildTime = "unknown"
	Version   = "0.1.0-dev"
)

type buildStamp struct {
	commit string
	dirty  bool
	time   string
}

var stamp = sync.OnceValue(func() buildStamp {
	result := buildStamp{commit: GitCommit, dirty: GitDirty == "true", time: BuildTime}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return result
	}
	return fromSettings(result, info.Settings)
})

// fromSettings fills fields still at their defaults from the toolchain
// VCS settings.
func fromSettings(result buildStamp, settings []debug.BuildSetting) buildStamp {
	injected := result.commit != "unknown"
	for _, setting := range settings {
		switch setting.Key {
		case "vcs.revision":
			if !injected {
				result.commit = setting.Value
				if len(result.commit) > 12 {
					result.commit = result.commit[:12]
				}
			}
		case "vcs.modified":
			if !injected {
				result.dirty = setting.Value == "true"
			}
		case "vcs.time":
			if result.time == "unknown" {
				result.time = setting.Value
			}
		}
	}
	return result
}

// Info returns the string printed by --version:
// "0.1.0-dev (abc1234, 2026-02-10T08:00:00Z)".
func Info() string {
	return format(Version, stamp())
}

func format(version string, s buildStamp) string {
	dirty := ""
	if s.dirty {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", version, s.commit, dirty, s.time)
}

// Full adds the Go version and platform to Info.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
