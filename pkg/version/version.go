package version

// Version is overridden at build time with -ldflags "-X github.com/elSilveira/gaser/pkg/version.Version=...".
var Version = "v0.1.0-dev"
