package version

import "runtime"

// Build holds the build identifier, injected via -ldflags. Default "dev".
var Build = "dev"

// UserAgent identifies the importer to exchange export servers.
func UserAgent() string {
	return "ixf-sync/" + Build
}

// String is the long form printed by the version command.
func String() string {
	return "ixf-sync " + Build + " " + runtime.Version() + " " + runtime.GOOS + "/" + runtime.GOARCH
}
