// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package guda

import (
	"fmt"
	"runtime/debug"
)

const modulePath = "github.com/LynnColeArt/guda-atomics"

// Version returns the version and checksum of this module as recorded in
// the running binary. Both are empty when the binary carries no build info
// or was built from a working tree without a version.
func Version() (version, sum string) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return moduleVersion(info)
}

// moduleVersion finds the runtime module in info. Binaries under cmd/ see
// it as the main module; other programs see it as a dependency.
func moduleVersion(info *debug.BuildInfo) (version, sum string) {
	if info.Main.Path == modulePath {
		return develVersion(info.Main.Version), info.Main.Sum
	}
	for _, dep := range info.Deps {
		if dep.Path != modulePath {
			continue
		}
		if r := dep.Replace; r != nil {
			target := r.Version
			if r.Path != "" {
				target = r.Path
				if r.Version != "" {
					target += " " + r.Version
				}
			}
			if target == "" {
				return dep.Version + "*", dep.Sum + "*"
			}
			return fmt.Sprintf("%s=>%s", dep.Version, target), r.Sum
		}
		return dep.Version, dep.Sum
	}
	return "", ""
}

// develVersion hides the placeholder the toolchain records for builds from
// a local checkout.
func develVersion(v string) string {
	if v == "(devel)" {
		return ""
	}
	return v
}
