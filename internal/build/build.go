package build

// Version is the release version, overridden at build time via
// -ldflags="-X github.com/storacha/datadao/internal/build.Version=...".
var Version = "dev"
