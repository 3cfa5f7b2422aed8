package version

import "runtime/debug"

// GetVersion returns the module version of the running binary, or "dev" when
// built from a working tree.
func GetVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}

	version := info.Main.Version
	if version == "" || version == "(devel)" {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && len(setting.Value) >= 12 {
				return "dev-" + setting.Value[:12]
			}
		}
		return "dev"
	}

	return version
}
