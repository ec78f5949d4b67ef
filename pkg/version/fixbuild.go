package version

import "runtime/debug"

func init() {
	fixBuild = buildInfoFixBuild
}

func buildInfoFixBuild(v *Version) {
	if !isIdent(v.Build) {
		return
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		v.Build = "unknown"
		return
	}
	for _, key := range []string{"vcs.revision", "gitrevision"} {
		for i := range info.Settings {
			if info.Settings[i].Key == key {
				v.Build = info.Settings[i].Value
				if modified(info.Settings) {
					v.Build += "-dirty"
				}
				return
			}
		}
	}
	v.Build = "unknown"
}

func isIdent(build string) bool {
	return len(build) >= 4 && build[:4] == "$Id$"
}

func modified(settings []debug.BuildSetting) bool {
	for _, s := range settings {
		if s.Key == "vcs.modified" {
			return s.Value == "true"
		}
	}
	return false
}
