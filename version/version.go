// Package version holds the hub's own build version, which IINF's VE
// field carries, and a helper comparing it against a minimum version
// string.
package version

import "github.com/blang/semver"

// raw is the hub's build version, overridable at link time with
// -ldflags "-X github.com/klondi/mimicmod-lan/version.raw=1.2.3".
var raw = "0.1.0"

// Parsed returns the current hub version, falling back to 0.0.0 if
// raw was set to something unparsable at link time.
func Parsed() semver.Version {
	v, err := semver.Parse(raw)
	if err != nil {
		return semver.Version{}
	}
	return v
}

// String returns the hub's version string for IINF's VE field.
func String() string {
	return Parsed().String()
}

// Satisfies reports whether the hub's version meets a minimum
// declared by configuration (e.g. an operator requiring clients to
// connect to a hub no older than a given release).
func Satisfies(min string) bool {
	minV, err := semver.Parse(min)
	if err != nil {
		return true
	}
	return Parsed().GE(minV)
}
