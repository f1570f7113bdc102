// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestFromSettingsFillsDefaults(t *testing.T) {
	settings := []debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef0123"},
		{Key: "vcs.modified", Value: "true"},
		{Key: "vcs.time", Value: "2026-06-01T10:00:00Z"},
	}
	got := fromSettings(buildStamp{commit: "unknown", time: "unknown"}, settings)
	if got.commit != "0123456789ab" || !got.dirty || got.time != "2026-06-01T10:00:00Z" {
		t.Errorf("fromSettings = %+v", got)
	}
	if info := format("1.2.0", got); info != "1.2.0 (0123456789ab-dirty, 2026-06-01T10:00:00Z)" {
		t.Errorf("format = %q", info)
	}
}

func TestFromSettingsKeepsInjectedValues(t *testing.T) {
	settings := []debug.BuildSetting{
		{Key: "vcs.revision", Value: "ffffffffffffffff"},
		{Key: "vcs.modified", Value: "true"},
	}
	got := fromSettings(buildStamp{commit: "abc1234", time: "2026-01-01"}, settings)
	if got.commit != "abc1234" || got.dirty || got.time != "2026-01-01" {
		t.Errorf("fromSettings = %+v", got)
	}
}

func TestFullIncludesPlatform(t *testing.T) {
	if full := Full(); !strings.Contains(full, "Platform:") || !strings.HasPrefix(full, Version) {
		t.Errorf("Full = %q", full)
	}
}
